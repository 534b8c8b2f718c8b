package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/luastore/ms-go-checkout/app/entity"
	"github.com/luastore/ms-go-checkout/app/provider"
	"github.com/luastore/ms-go-checkout/app/repository"
	"github.com/luastore/ms-go-checkout/app/service"
	"github.com/luastore/ms-go-checkout/app/types"
	"github.com/luastore/ms-go-checkout/config"
)

type controllerOrderRepo struct {
	createFn                   func(ctx context.Context, order *entity.Order) error
	updateFn                   func(ctx context.Context, order *entity.Order) error
	findByIDFn                 func(ctx context.Context, id uint64) (*entity.Order, error)
	findByOrderRefFn           func(ctx context.Context, orderRef string) (*entity.Order, error)
	findByProviderReferenceFn  func(ctx context.Context, providerCode int32, providerReference string) (*entity.Order, error)
	listFn                     func(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error)
	listStaleAwaitingPaymentFn func(ctx context.Context, statuses []int32, expiresBefore, createdBefore time.Time, limit int32) ([]*entity.Order, error)
	listForReconcileFn         func(ctx context.Context, statuses []int32, before time.Time, limit int32) ([]*entity.Order, error)
	compareAndSwapStatusFn     func(ctx context.Context, orderID uint64, from []int32, to int32, paidAt *time.Time) (bool, error)
}

func (r *controllerOrderRepo) Create(ctx context.Context, order *entity.Order) error {
	if r.createFn != nil {
		return r.createFn(ctx, order)
	}
	return nil
}

func (r *controllerOrderRepo) Update(ctx context.Context, order *entity.Order) error {
	if r.updateFn != nil {
		return r.updateFn(ctx, order)
	}
	return nil
}

func (r *controllerOrderRepo) FindByID(ctx context.Context, id uint64) (*entity.Order, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *controllerOrderRepo) FindByOrderRef(ctx context.Context, orderRef string) (*entity.Order, error) {
	if r.findByOrderRefFn != nil {
		return r.findByOrderRefFn(ctx, orderRef)
	}
	return nil, nil
}

func (r *controllerOrderRepo) FindByProviderReference(ctx context.Context, providerCode int32, providerReference string) (*entity.Order, error) {
	if r.findByProviderReferenceFn != nil {
		return r.findByProviderReferenceFn(ctx, providerCode, providerReference)
	}
	return nil, nil
}

func (r *controllerOrderRepo) List(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error) {
	if r.listFn != nil {
		return r.listFn(ctx, filter)
	}
	return []*entity.Order{}, nil
}

func (r *controllerOrderRepo) ListStaleAwaitingPayment(ctx context.Context, statuses []int32, expiresBefore, createdBefore time.Time, limit int32) ([]*entity.Order, error) {
	if r.listStaleAwaitingPaymentFn != nil {
		return r.listStaleAwaitingPaymentFn(ctx, statuses, expiresBefore, createdBefore, limit)
	}
	return []*entity.Order{}, nil
}

func (r *controllerOrderRepo) ListForReconcile(ctx context.Context, statuses []int32, before time.Time, limit int32) ([]*entity.Order, error) {
	if r.listForReconcileFn != nil {
		return r.listForReconcileFn(ctx, statuses, before, limit)
	}
	return []*entity.Order{}, nil
}

func (r *controllerOrderRepo) CompareAndSwapStatus(ctx context.Context, orderID uint64, from []int32, to int32, paidAt *time.Time) (bool, error) {
	if r.compareAndSwapStatusFn != nil {
		return r.compareAndSwapStatusFn(ctx, orderID, from, to, paidAt)
	}
	return true, nil
}

type controllerEventRepo struct {
	listByOrderIDFn func(ctx context.Context, orderID uint64) ([]*entity.OrderEvent, error)
}

func (r *controllerEventRepo) Create(context.Context, *entity.OrderEvent) error {
	return nil
}

func (r *controllerEventRepo) ListByOrderID(ctx context.Context, orderID uint64) ([]*entity.OrderEvent, error) {
	if r.listByOrderIDFn != nil {
		return r.listByOrderIDFn(ctx, orderID)
	}
	return []*entity.OrderEvent{}, nil
}

type controllerWebhookRepo struct{}

func (r *controllerWebhookRepo) Create(_ context.Context, record *entity.WebhookRecord) error {
	record.ID = 1
	return nil
}

func (r *controllerWebhookRepo) UpdateResolution(context.Context, uint64, *uint64, int32) error {
	return nil
}

type controllerStockRepo struct{}

func (r *controllerStockRepo) Decrement(context.Context, string, int32) error { return nil }
func (r *controllerStockRepo) Restore(context.Context, string, int32) error  { return nil }

type controllerGateway struct {
	chargeResult *provider.ChargeResult
	chargeErr    error
	parseEvent   *provider.PaymentEvent
	parseErr     error
}

func (g *controllerGateway) ActiveSlug() string { return "abacatepay" }
func (g *controllerGateway) ActiveCode() int32  { return int32(types.ProviderTypeAbacatePay) }

func (g *controllerGateway) CreateCharge(context.Context, *provider.ChargeRequest) (*provider.ChargeResult, error) {
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	if g.chargeResult != nil {
		return g.chargeResult, nil
	}
	url := "https://abacatepay.com/pay/bill_1"
	return &provider.ChargeResult{ProviderID: "bill_1", CheckoutURL: &url}, nil
}

func (g *controllerGateway) ParseWebhook(context.Context, string, []byte, http.Header) (*provider.PaymentEvent, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	if g.parseEvent != nil {
		return g.parseEvent, nil
	}
	return &provider.PaymentEvent{Kind: types.EventKindPaid, ProviderID: "bill_1", OccurredAt: time.Now().UTC(), SignatureValid: true}, nil
}

func (g *controllerGateway) CheckCharge(context.Context, int32, string) (types.EventKind, error) {
	return types.EventKindUnknown, nil
}

type controllerMailer struct{}

func (m *controllerMailer) OrderPaid(context.Context, *entity.Order) error      { return nil }
func (m *controllerMailer) OrderCancelled(context.Context, *entity.Order) error { return nil }

func newControllerForTest(repo *controllerOrderRepo, gw *controllerGateway) *OrderController {
	orderService := service.NewOrderService(
		repo,
		&controllerEventRepo{},
		&controllerWebhookRepo{},
		&controllerStockRepo{},
		gw,
		&controllerMailer{},
		config.PaymentsConfig{PendingTimeout: time.Hour, StaleAfter: 15 * time.Minute, JobBatchSize: 100},
	)
	return NewOrderController(orderService)
}

func TestCreateCheckoutBadBody(t *testing.T) {
	ctrl := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString("{bad"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := ctrl.CreateCheckout(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateCheckoutSuccess(t *testing.T) {
	repo := &controllerOrderRepo{createFn: func(_ context.Context, order *entity.Order) error {
		order.ID = 22
		return nil
	}}
	ctrl := newControllerForTest(repo, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(`{"order_ref":"ord_1","amount_cents":12990,"currency":"BRL","customer":{"name":"Ana","email":"ana@example.com"},"items":[{"product_ref":"pijama-luar","name":"Pijama Luar","quantity":2,"unit_price_cents":6495}]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.CreateCheckout(ctx)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.OrderEnvelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Order == nil || payload.Order.Id != 22 {
		t.Fatalf("unexpected order payload: %+v", payload.Order)
	}
	if payload.Order.CheckoutUrl != "https://abacatepay.com/pay/bill_1" {
		t.Fatalf("unexpected checkout url %q", payload.Order.CheckoutUrl)
	}
}

func TestCreateCheckoutProviderUnavailable(t *testing.T) {
	ctrl := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{chargeErr: provider.ErrUnavailable})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(`{"order_ref":"ord_1","amount_cents":12990,"currency":"BRL","customer":{"name":"Ana","email":"ana@example.com"},"items":[{"product_ref":"pijama-luar","name":"Pijama Luar","quantity":2,"unit_price_cents":6495}]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.CreateCheckout(ctx)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	ctrl := newControllerForTest(&controllerOrderRepo{findByIDFn: func(context.Context, uint64) (*entity.Order, error) { return nil, nil }}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/orders/9", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("9")

	_ = ctrl.GetOrder(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListOrderEventsNotFound(t *testing.T) {
	ctrl := newControllerForTest(&controllerOrderRepo{findByIDFn: func(context.Context, uint64) (*entity.Order, error) { return nil, nil }}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/orders/9/events", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("9")

	_ = ctrl.ListOrderEvents(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListOrderEventsSuccess(t *testing.T) {
	now := time.Now().UTC()
	repo := &controllerOrderRepo{findByIDFn: func(context.Context, uint64) (*entity.Order, error) {
		return &entity.Order{ID: 7, OrderRef: "ord_7", Status: int32(types.OrderStatusCancelled), CreatedAt: now, UpdatedAt: now}, nil
	}}
	events := &controllerEventRepo{listByOrderIDFn: func(_ context.Context, orderID uint64) ([]*entity.OrderEvent, error) {
		oldStatus := int32(types.OrderStatusAwaitingPayment)
		return []*entity.OrderEvent{{
			ID:        41,
			OrderID:   orderID,
			EventKind: "order_cancelled",
			OldStatus: &oldStatus,
			NewStatus: int32(types.OrderStatusCancelled),
			CreatedAt: now,
		}}, nil
	}}
	orderService := service.NewOrderService(
		repo,
		events,
		&controllerWebhookRepo{},
		&controllerStockRepo{},
		&controllerGateway{},
		&controllerMailer{},
		config.PaymentsConfig{PendingTimeout: time.Hour, StaleAfter: 15 * time.Minute, JobBatchSize: 100},
	)
	ctrl := NewOrderController(orderService)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/orders/7/events", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("7")

	_ = ctrl.ListOrderEvents(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.ListOrderEventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(payload.Events) != 1 || payload.Events[0].EventKind != "order_cancelled" {
		t.Fatalf("unexpected events payload: %+v", payload.Events)
	}
}

func TestListOrdersSuccess(t *testing.T) {
	now := time.Now().UTC()
	ctrl := newControllerForTest(&controllerOrderRepo{listFn: func(context.Context, repository.OrderFilter) ([]*entity.Order, error) {
		return []*entity.Order{{
			ID:            1,
			OrderRef:      "ord_1",
			CustomerName:  "Ana",
			CustomerEmail: "ana@example.com",
			AmountCents:   12990,
			Currency:      "BRL",
			Status:        int32(types.OrderStatusAwaitingPayment),
			Provider:      int32(types.ProviderTypeAbacatePay),
			CallbackHash:  "hash-1",
			Metadata:      map[string]string{},
			CreatedAt:     now,
			UpdatedAt:     now,
		}}, nil
	}}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/orders?limit=10&offset=0", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.ListOrders(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.ListOrdersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(payload.Orders) != 1 || payload.Orders[0].StatusLabel != "awaiting_payment" {
		t.Fatalf("unexpected list payload: %+v", payload.Orders)
	}
}

func TestCancelOrderNotFound(t *testing.T) {
	ctrl := newControllerForTest(&controllerOrderRepo{findByIDFn: func(context.Context, uint64) (*entity.Order, error) { return nil, nil }}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/orders/3/cancel", bytes.NewBufferString(`{"reason":"duplicate"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("3")

	_ = ctrl.CancelOrder(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancelOrderPaidConflict(t *testing.T) {
	now := time.Now().UTC()
	ctrl := newControllerForTest(&controllerOrderRepo{findByIDFn: func(context.Context, uint64) (*entity.Order, error) {
		return &entity.Order{ID: 3, Status: int32(types.OrderStatusPaid), CreatedAt: now, UpdatedAt: now}, nil
	}}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/orders/3/cancel", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("3")

	_ = ctrl.CancelOrder(ctx)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleProviderWebhookUnmatched(t *testing.T) {
	ctrl := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/providers/abacatepay", bytes.NewBufferString(`{"event":"billing.paid"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXRequestID, "req-webhook-1")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("provider")
	ctx.SetParamValues("abacatepay")

	_ = ctrl.HandleProviderWebhook(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.MessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Message != "Webhook recorded" {
		t.Fatalf("unexpected message %q", payload.Message)
	}
}

func TestHandleProviderWebhookRejected(t *testing.T) {
	ctrl := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{parseErr: errors.New("invalid signature")})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/providers/abacatepay", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("provider")
	ctx.SetParamValues("abacatepay")

	_ = ctrl.HandleProviderWebhook(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleProviderWebhookUnknownProvider(t *testing.T) {
	ctrl := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/providers/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("provider")
	ctx.SetParamValues("stripe")

	_ = ctrl.HandleProviderWebhook(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
