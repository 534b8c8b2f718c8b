package types

import "strings"

// OrderStatus is the persisted payment status of an order. AwaitingPayment
// and Pending are the only states a payment event may transition out of;
// Paid, Cancelled and Failed are terminal.
type OrderStatus int32

const (
	OrderStatusUnspecified     OrderStatus = 0
	OrderStatusAwaitingPayment OrderStatus = 1
	OrderStatusPending         OrderStatus = 2
	OrderStatusPaid            OrderStatus = 10
	OrderStatusCancelled       OrderStatus = 20
	OrderStatusFailed          OrderStatus = 30
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusAwaitingPayment:
		return "awaiting_payment"
	case OrderStatusPending:
		return "pending"
	case OrderStatusPaid:
		return "paid"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusFailed:
		return "failed"
	default:
		return "unspecified"
	}
}

func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

func IsValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusAwaitingPayment, OrderStatusPending, OrderStatusPaid, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// EventKind is the canonical outcome of a provider webhook.
type EventKind int32

const (
	EventKindUnknown   EventKind = 0
	EventKindPending   EventKind = 1
	EventKindPaid      EventKind = 2
	EventKindCancelled EventKind = 3
	EventKindFailed    EventKind = 4
)

func (k EventKind) String() string {
	switch k {
	case EventKindPending:
		return "pending"
	case EventKindPaid:
		return "paid"
	case EventKindCancelled:
		return "cancelled"
	case EventKindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type ProviderType int32

const (
	ProviderTypeUnspecified ProviderType = 0
	ProviderTypeAbacatePay  ProviderType = 1
	ProviderTypeItau        ProviderType = 2
	ProviderTypeRede        ProviderType = 3
)

func (p ProviderType) Slug() string {
	switch p {
	case ProviderTypeAbacatePay:
		return "abacatepay"
	case ProviderTypeItau:
		return "itau"
	case ProviderTypeRede:
		return "rede"
	default:
		return ""
	}
}

func ParseProviderSlug(slug string) (ProviderType, bool) {
	switch strings.ToLower(strings.TrimSpace(slug)) {
	case "abacatepay", "1":
		return ProviderTypeAbacatePay, true
	case "itau", "2":
		return ProviderTypeItau, true
	case "rede", "3":
		return ProviderTypeRede, true
	default:
		return ProviderTypeUnspecified, false
	}
}
