package entity

import "time"

const (
	WebhookStatusProcessed int32 = 1
	WebhookStatusUnmatched int32 = 2
	WebhookStatusRejected  int32 = 3
	WebhookStatusIgnored   int32 = 4
)

// WebhookRecord stores every webhook delivery verbatim before any
// business decision is taken, so a replay is always possible.
type WebhookRecord struct {
	ID uint64

	RequestID string

	Provider  int32
	EventKind int32

	ProviderReference *string
	OrderID           *uint64

	SignatureValid bool
	Status         int32

	PayloadJSON string

	ReceivedAt time.Time
}
