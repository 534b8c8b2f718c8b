package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/luastore/ms-go-checkout/app/entity"
	"github.com/luastore/ms-go-checkout/app/factory"
	"github.com/luastore/ms-go-checkout/app/provider"
	"github.com/luastore/ms-go-checkout/app/repository"
	"github.com/luastore/ms-go-checkout/app/types"
	"github.com/luastore/ms-go-checkout/config"
)

const (
	defaultListLimit = int32(100)
	defaultBatchSize = int32(100)
)

type createCheckoutRequest interface {
	GetOrderRef() string
	GetAmountCents() int64
	GetCurrency() string
	GetCustomer() types.CheckoutCustomer
	GetItems() []types.CheckoutItem
	GetReturnUrl() string
	GetCancelUrl() string
	GetMetadata() map[string]string
}

type listOrdersRequest interface {
	GetOrderRef() string
	GetHasStatus() bool
	GetStatus() types.OrderStatus
	GetProvider() types.ProviderType
	GetLimit() int32
	GetOffset() int32
}

type cancelOrderRequest interface {
	GetId() uint64
	GetReason() string
}

type orderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	Update(ctx context.Context, order *entity.Order) error
	FindByID(ctx context.Context, id uint64) (*entity.Order, error)
	FindByOrderRef(ctx context.Context, orderRef string) (*entity.Order, error)
	FindByProviderReference(ctx context.Context, provider int32, providerReference string) (*entity.Order, error)
	List(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error)
	ListStaleAwaitingPayment(ctx context.Context, awaitingStatuses []int32, expiresBefore, createdBefore time.Time, limit int32) ([]*entity.Order, error)
	ListForReconcile(ctx context.Context, openStatuses []int32, before time.Time, limit int32) ([]*entity.Order, error)
	CompareAndSwapStatus(ctx context.Context, orderID uint64, from []int32, to int32, paidAt *time.Time) (bool, error)
}

type orderEventRepository interface {
	Create(ctx context.Context, event *entity.OrderEvent) error
	ListByOrderID(ctx context.Context, orderID uint64) ([]*entity.OrderEvent, error)
}

type webhookRepository interface {
	Create(ctx context.Context, record *entity.WebhookRecord) error
	UpdateResolution(ctx context.Context, recordID uint64, orderID *uint64, status int32) error
}

type stockRepository interface {
	Decrement(ctx context.Context, productRef string, quantity int32) error
	Restore(ctx context.Context, productRef string, quantity int32) error
}

type paymentGateway interface {
	ActiveSlug() string
	ActiveCode() int32
	CreateCharge(ctx context.Context, req *provider.ChargeRequest) (*provider.ChargeResult, error)
	ParseWebhook(ctx context.Context, slug string, payload []byte, header http.Header) (*provider.PaymentEvent, error)
	CheckCharge(ctx context.Context, providerCode int32, providerID string) (types.EventKind, error)
}

type mailer interface {
	OrderPaid(ctx context.Context, order *entity.Order) error
	OrderCancelled(ctx context.Context, order *entity.Order) error
}

type OrderService struct {
	orderRepo   orderRepository
	eventRepo   orderEventRepository
	webhookRepo webhookRepository
	stockRepo   stockRepository
	gateway     paymentGateway
	mailer      mailer
	paymentsCfg config.PaymentsConfig
	logger      logrus.FieldLogger
}

func NewOrderService(
	orderRepo orderRepository,
	eventRepo orderEventRepository,
	webhookRepo webhookRepository,
	stockRepo stockRepository,
	gateway paymentGateway,
	mailer mailer,
	paymentsCfg config.PaymentsConfig,
) *OrderService {
	return &OrderService{
		orderRepo:   orderRepo,
		eventRepo:   eventRepo,
		webhookRepo: webhookRepo,
		stockRepo:   stockRepo,
		gateway:     gateway,
		mailer:      mailer,
		paymentsCfg: paymentsCfg,
		logger:      factory.NewModuleLogger("order-service"),
	}
}

// CreateCheckout creates the order and its provider charge. The call is
// idempotent on order_ref: a retry for an already-created order returns
// the stored order without touching the provider again.
func (s *OrderService) CreateCheckout(ctx context.Context, req createCheckoutRequest) (*entity.Order, error) {
	orderRef := strings.TrimSpace(req.GetOrderRef())
	if orderRef == "" {
		return nil, ErrInvalidRequest
	}

	existing, err := s.orderRepo.FindByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	customer := req.GetCustomer()
	metadata := cloneMetadata(req.GetMetadata())
	metadata["order_ref"] = orderRef

	returnURL := strings.TrimSpace(req.GetReturnUrl())
	if returnURL == "" {
		returnURL = s.paymentsCfg.ReturnURL
	}
	cancelURL := strings.TrimSpace(req.GetCancelUrl())
	if cancelURL == "" {
		cancelURL = s.paymentsCfg.CancelURL
	}

	chargeItems := make([]provider.Item, 0, len(req.GetItems()))
	for _, item := range req.GetItems() {
		chargeItems = append(chargeItems, provider.Item{
			Name:           strings.TrimSpace(item.Name),
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	result, err := s.gateway.CreateCharge(ctx, &provider.ChargeRequest{
		OrderRef:    orderRef,
		AmountCents: req.GetAmountCents(),
		Currency:    strings.ToUpper(strings.TrimSpace(req.GetCurrency())),
		Customer: provider.Customer{
			Name:  customer.Name,
			Email: customer.Email,
			Phone: customer.Phone,
			TaxID: customer.TaxId,
		},
		Items:       chargeItems,
		Description: "Pedido " + orderRef,
		ReturnURL:   returnURL,
		CancelURL:   cancelURL,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &entity.Order{
		OrderRef:           orderRef,
		CustomerName:       customer.Name,
		CustomerEmail:      customer.Email,
		CustomerPhone:      normalizeOptionalString(customer.Phone),
		CustomerTaxID:      normalizeOptionalString(customer.TaxId),
		AmountCents:        req.GetAmountCents(),
		Currency:           strings.ToUpper(strings.TrimSpace(req.GetCurrency())),
		Status:             int32(types.OrderStatusAwaitingPayment),
		Provider:           s.gateway.ActiveCode(),
		ProviderReference:  normalizeOptionalString(result.ProviderID),
		CheckoutURL:        result.CheckoutURL,
		PixCode:            result.PixCode,
		PixCodeImageBase64: result.PixCodeImageBase64,
		CallbackHash:       uuid.NewString(),
		ExpiresAt:          result.ExpiresAt,
		Metadata:           metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, item := range req.GetItems() {
		order.Items = append(order.Items, entity.OrderItem{
			ProductRef:     strings.TrimSpace(item.ProductRef),
			Name:           strings.TrimSpace(item.Name),
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyExists) {
			// Lost a concurrent race on the same order_ref; the winner
			// holds the canonical charge.
			return s.orderRepo.FindByOrderRef(ctx, orderRef)
		}
		return nil, err
	}

	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		EventKind: "order_created",
		NewStatus: order.Status,
		CreatedAt: now,
	})

	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id uint64) (*entity.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListOrderEvents returns the audit trail for one order, oldest first.
func (s *OrderService) ListOrderEvents(ctx context.Context, orderID uint64) ([]*entity.OrderEvent, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return s.eventRepo.ListByOrderID(ctx, orderID)
}

func (s *OrderService) ListOrders(ctx context.Context, req listOrdersRequest) ([]*entity.Order, error) {
	limit := req.GetLimit()
	if limit <= 0 {
		limit = defaultListLimit
	}

	filter := repository.OrderFilter{
		OrderRef:  strings.TrimSpace(req.GetOrderRef()),
		HasStatus: req.GetHasStatus(),
		Status:    int32(req.GetStatus()),
		Provider:  int32(req.GetProvider()),
		Limit:     limit,
		Offset:    req.GetOffset(),
	}

	return s.orderRepo.List(ctx, filter)
}

// CancelOrder is a merchant-initiated cancellation. Paid orders cannot
// be cancelled here; cancelling an already-cancelled order is a no-op
// returning the stored row.
func (s *OrderService) CancelOrder(ctx context.Context, req cancelOrderRequest) (*entity.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, req.GetId())
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	if order.Status == int32(types.OrderStatusPaid) {
		return nil, ErrInvalidStatus
	}
	if order.Status == int32(types.OrderStatusCancelled) {
		return order, nil
	}

	swapped, err := s.orderRepo.CompareAndSwapStatus(ctx, order.ID, openStatuses(), int32(types.OrderStatusCancelled), nil)
	if err != nil {
		return nil, err
	}
	if !swapped {
		// The order changed under us, likely a webhook settling it.
		fresh, err := s.orderRepo.FindByID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, ErrOrderNotFound
		}
		if fresh.Status == int32(types.OrderStatusCancelled) {
			return fresh, nil
		}
		return nil, ErrInvalidStatus
	}

	now := time.Now().UTC()
	oldStatus := order.Status
	order.Status = int32(types.OrderStatusCancelled)
	order.UpdatedAt = now

	s.restoreStock(ctx, order)

	reason := strings.TrimSpace(req.GetReason())
	var payloadJSON *string
	if reason != "" {
		payloadJSON = &reason
	}

	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:     order.ID,
		EventKind:   "order_cancelled",
		OldStatus:   &oldStatus,
		NewStatus:   order.Status,
		PayloadJSON: payloadJSON,
		CreatedAt:   now,
	})

	return order, nil
}

func (s *OrderService) batchSize() int32 {
	if s.paymentsCfg.JobBatchSize > 0 {
		return s.paymentsCfg.JobBatchSize
	}
	return defaultBatchSize
}

// openStatuses are the statuses a payment event may transition out of.
func openStatuses() []int32 {
	return []int32{int32(types.OrderStatusAwaitingPayment), int32(types.OrderStatusPending)}
}

func normalizeOptionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func cloneMetadata(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
