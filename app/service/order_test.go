package service

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/luastore/ms-go-checkout/app/entity"
	"github.com/luastore/ms-go-checkout/app/provider"
	"github.com/luastore/ms-go-checkout/app/repository"
	"github.com/luastore/ms-go-checkout/app/types"
	"github.com/luastore/ms-go-checkout/config"
)

type serviceOrderRepo struct {
	orders map[uint64]*entity.Order
	nextID uint64
}

func newServiceOrderRepo() *serviceOrderRepo {
	return &serviceOrderRepo{orders: map[uint64]*entity.Order{}, nextID: 1}
}

func (r *serviceOrderRepo) Create(_ context.Context, order *entity.Order) error {
	for _, item := range r.orders {
		if item.OrderRef == order.OrderRef {
			return repository.ErrOrderAlreadyExists
		}
	}
	id := r.nextID
	r.nextID++
	copyItem := *order
	copyItem.ID = id
	r.orders[id] = &copyItem
	order.ID = id
	return nil
}

func (r *serviceOrderRepo) Update(_ context.Context, order *entity.Order) error {
	if _, ok := r.orders[order.ID]; !ok {
		return repository.ErrOrderNotFound
	}
	copyItem := *order
	r.orders[order.ID] = &copyItem
	return nil
}

func (r *serviceOrderRepo) FindByID(_ context.Context, id uint64) (*entity.Order, error) {
	item, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *serviceOrderRepo) FindByOrderRef(_ context.Context, orderRef string) (*entity.Order, error) {
	for _, item := range r.orders {
		if item.OrderRef == orderRef {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *serviceOrderRepo) FindByProviderReference(_ context.Context, providerCode int32, providerReference string) (*entity.Order, error) {
	for _, item := range r.orders {
		if item.Provider == providerCode && item.ProviderReference != nil && *item.ProviderReference == providerReference {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *serviceOrderRepo) List(_ context.Context, filter repository.OrderFilter) ([]*entity.Order, error) {
	items := make([]*entity.Order, 0)
	for _, item := range r.orders {
		if filter.OrderRef != "" && item.OrderRef != filter.OrderRef {
			continue
		}
		if filter.HasStatus && item.Status != filter.Status {
			continue
		}
		if filter.Provider > 0 && item.Provider != filter.Provider {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items, nil
}

func (r *serviceOrderRepo) ListStaleAwaitingPayment(_ context.Context, awaitingStatuses []int32, expiresBefore, createdBefore time.Time, limit int32) ([]*entity.Order, error) {
	items := make([]*entity.Order, 0)
	for _, item := range r.orders {
		if !statusIn(item.Status, awaitingStatuses) {
			continue
		}
		stale := false
		if item.ExpiresAt != nil {
			stale = !item.ExpiresAt.After(expiresBefore)
		} else {
			stale = !item.CreatedAt.After(createdBefore)
		}
		if !stale {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
		if int32(len(items)) >= limit {
			break
		}
	}
	return items, nil
}

func (r *serviceOrderRepo) ListForReconcile(_ context.Context, openStatuses []int32, before time.Time, limit int32) ([]*entity.Order, error) {
	items := make([]*entity.Order, 0)
	for _, item := range r.orders {
		if !statusIn(item.Status, openStatuses) || item.ProviderReference == nil {
			continue
		}
		if item.UpdatedAt.After(before) {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
		if int32(len(items)) >= limit {
			break
		}
	}
	return items, nil
}

func (r *serviceOrderRepo) CompareAndSwapStatus(_ context.Context, orderID uint64, from []int32, to int32, paidAt *time.Time) (bool, error) {
	item, ok := r.orders[orderID]
	if !ok {
		return false, nil
	}
	if !statusIn(item.Status, from) {
		return false, nil
	}
	item.Status = to
	if paidAt != nil {
		item.PaidAt = paidAt
	}
	item.UpdatedAt = time.Now().UTC()
	return true, nil
}

func statusIn(status int32, set []int32) bool {
	for _, candidate := range set {
		if candidate == status {
			return true
		}
	}
	return false
}

type serviceEventRepo struct {
	events []*entity.OrderEvent
}

func (r *serviceEventRepo) Create(_ context.Context, event *entity.OrderEvent) error {
	copyItem := *event
	copyItem.ID = uint64(len(r.events) + 1)
	r.events = append(r.events, &copyItem)
	return nil
}

func (r *serviceEventRepo) ListByOrderID(_ context.Context, orderID uint64) ([]*entity.OrderEvent, error) {
	events := make([]*entity.OrderEvent, 0)
	for _, event := range r.events {
		if event.OrderID == orderID {
			copyItem := *event
			events = append(events, &copyItem)
		}
	}
	return events, nil
}

func (r *serviceEventRepo) kinds() []string {
	kinds := make([]string, 0, len(r.events))
	for _, event := range r.events {
		kinds = append(kinds, event.EventKind)
	}
	return kinds
}

type serviceWebhookRepo struct {
	records []*entity.WebhookRecord
}

func (r *serviceWebhookRepo) Create(_ context.Context, record *entity.WebhookRecord) error {
	record.ID = uint64(len(r.records) + 1)
	copyItem := *record
	r.records = append(r.records, &copyItem)
	return nil
}

func (r *serviceWebhookRepo) UpdateResolution(_ context.Context, recordID uint64, orderID *uint64, status int32) error {
	for _, record := range r.records {
		if record.ID == recordID {
			record.OrderID = orderID
			record.Status = status
			return nil
		}
	}
	return errors.New("webhook record not found")
}

type serviceStockRepo struct {
	decrements map[string]int32
	restores   map[string]int32
	failErr    error
}

func newServiceStockRepo() *serviceStockRepo {
	return &serviceStockRepo{decrements: map[string]int32{}, restores: map[string]int32{}}
}

func (r *serviceStockRepo) Decrement(_ context.Context, productRef string, quantity int32) error {
	if r.failErr != nil {
		return r.failErr
	}
	r.decrements[productRef] += quantity
	return nil
}

func (r *serviceStockRepo) Restore(_ context.Context, productRef string, quantity int32) error {
	r.restores[productRef] += quantity
	return nil
}

type serviceGateway struct {
	chargeResult *provider.ChargeResult
	chargeErr    error
	chargeCalls  int
	lastCharge   *provider.ChargeRequest

	parseEvent *provider.PaymentEvent
	parseErr   error

	checkKind types.EventKind
	checkErr  error
}

func (g *serviceGateway) ActiveSlug() string { return "abacatepay" }
func (g *serviceGateway) ActiveCode() int32  { return int32(types.ProviderTypeAbacatePay) }

func (g *serviceGateway) CreateCharge(_ context.Context, req *provider.ChargeRequest) (*provider.ChargeResult, error) {
	g.chargeCalls++
	g.lastCharge = req
	return g.chargeResult, g.chargeErr
}

func (g *serviceGateway) ParseWebhook(_ context.Context, slug string, payload []byte, _ http.Header) (*provider.PaymentEvent, error) {
	if slug != "abacatepay" && slug != "itau" && slug != "rede" {
		return nil, provider.ErrNotSupported
	}
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	event := *g.parseEvent
	event.RawPayload = payload
	return &event, nil
}

func (g *serviceGateway) CheckCharge(_ context.Context, _ int32, _ string) (types.EventKind, error) {
	return g.checkKind, g.checkErr
}

type serviceMailer struct {
	paid      int
	cancelled int
	err       error
}

func (m *serviceMailer) OrderPaid(_ context.Context, _ *entity.Order) error {
	m.paid++
	return m.err
}

func (m *serviceMailer) OrderCancelled(_ context.Context, _ *entity.Order) error {
	m.cancelled++
	return m.err
}

type serviceFixture struct {
	svc         *OrderService
	orderRepo   *serviceOrderRepo
	eventRepo   *serviceEventRepo
	webhookRepo *serviceWebhookRepo
	stockRepo   *serviceStockRepo
	gateway     *serviceGateway
	mailer      *serviceMailer
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		orderRepo:   newServiceOrderRepo(),
		eventRepo:   &serviceEventRepo{},
		webhookRepo: &serviceWebhookRepo{},
		stockRepo:   newServiceStockRepo(),
		gateway:     &serviceGateway{},
		mailer:      &serviceMailer{},
	}
	f.svc = NewOrderService(
		f.orderRepo,
		f.eventRepo,
		f.webhookRepo,
		f.stockRepo,
		f.gateway,
		f.mailer,
		config.PaymentsConfig{
			PendingTimeout: time.Hour,
			StaleAfter:     15 * time.Minute,
			JobBatchSize:   100,
		},
	)
	return f
}

func strPtr(s string) *string { return &s }

func seedOrder(f *serviceFixture, orderRef, providerRef string, status types.OrderStatus) *entity.Order {
	now := time.Now().UTC()
	order := &entity.Order{
		OrderRef:          orderRef,
		CustomerName:      "Ana",
		CustomerEmail:     "ana@example.com",
		AmountCents:       12990,
		Currency:          "BRL",
		Status:            int32(status),
		Provider:          int32(types.ProviderTypeAbacatePay),
		ProviderReference: strPtr(providerRef),
		CallbackHash:      "hash-" + orderRef,
		Items: []entity.OrderItem{
			{ProductRef: "pijama-luar", Name: "Pijama Luar", Quantity: 2, UnitPriceCents: 6495},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.orderRepo.Create(context.Background(), order); err != nil {
		panic(err)
	}
	return order
}

func checkoutRequest(orderRef string) *types.CreateCheckoutRequest {
	return &types.CreateCheckoutRequest{
		OrderRef:    orderRef,
		AmountCents: 12990,
		Currency:    "BRL",
		Customer:    types.CheckoutCustomer{Name: "Ana", Email: "ana@example.com", TaxId: "12345678901"},
		Items: []types.CheckoutItem{
			{ProductRef: "pijama-luar", Name: "Pijama Luar", Quantity: 2, UnitPriceCents: 6495},
		},
	}
}

func webhookRequest(slug string, payload string) *types.ProviderWebhookRequest {
	return &types.ProviderWebhookRequest{
		RequestId: "req-1",
		Provider:  slug,
		Payload:   []byte(payload),
		Header:    map[string][]string{},
	}
}

func paidEvent(providerRef string) *provider.PaymentEvent {
	return &provider.PaymentEvent{
		Kind:           types.EventKindPaid,
		ProviderID:     providerRef,
		OccurredAt:     time.Date(2026, 8, 28, 12, 30, 0, 0, time.UTC),
		SignatureValid: true,
	}
}

func TestCreateCheckout(t *testing.T) {
	f := newServiceFixture()
	checkoutURL := "https://abacatepay.com/pay/bill_1"
	f.gateway.chargeResult = &provider.ChargeResult{
		ProviderID:  "bill_1",
		CheckoutURL: &checkoutURL,
	}

	order, err := f.svc.CreateCheckout(context.Background(), checkoutRequest("ord_1"))
	if err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	if order.ID == 0 {
		t.Fatal("expected persisted order")
	}
	if order.Status != int32(types.OrderStatusAwaitingPayment) {
		t.Fatalf("unexpected status %d", order.Status)
	}
	if order.ProviderReference == nil || *order.ProviderReference != "bill_1" {
		t.Fatalf("unexpected provider reference %v", order.ProviderReference)
	}
	if order.CheckoutURL == nil || *order.CheckoutURL != checkoutURL {
		t.Fatalf("unexpected checkout url %v", order.CheckoutURL)
	}
	if len(order.Items) != 1 || order.Items[0].ProductRef != "pijama-luar" {
		t.Fatalf("unexpected items %+v", order.Items)
	}

	if f.gateway.lastCharge.Metadata["order_ref"] != "ord_1" {
		t.Fatalf("expected order_ref in charge metadata, got %v", f.gateway.lastCharge.Metadata)
	}
	if f.gateway.lastCharge.Description != "Pedido ord_1" {
		t.Fatalf("unexpected charge description %q", f.gateway.lastCharge.Description)
	}

	kinds := f.eventRepo.kinds()
	if len(kinds) != 1 || kinds[0] != "order_created" {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestCreateCheckoutIdempotentByOrderRef(t *testing.T) {
	f := newServiceFixture()
	f.gateway.chargeResult = &provider.ChargeResult{ProviderID: "bill_1"}

	first, err := f.svc.CreateCheckout(context.Background(), checkoutRequest("ord_1"))
	if err != nil {
		t.Fatalf("first CreateCheckout failed: %v", err)
	}
	second, err := f.svc.CreateCheckout(context.Background(), checkoutRequest("ord_1"))
	if err != nil {
		t.Fatalf("second CreateCheckout failed: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected same order, got %d and %d", first.ID, second.ID)
	}
	if f.gateway.chargeCalls != 1 {
		t.Fatalf("expected a single provider charge, got %d", f.gateway.chargeCalls)
	}
}

func TestCreateCheckoutAmountItemSumMismatchProceeds(t *testing.T) {
	f := newServiceFixture()
	f.gateway.chargeResult = &provider.ChargeResult{ProviderID: "bill_1"}

	req := checkoutRequest("ord_1")
	req.AmountCents = 99999

	order, err := f.svc.CreateCheckout(context.Background(), req)
	if err != nil {
		t.Fatalf("mismatched item sum must not block the charge: %v", err)
	}
	if order.AmountCents != 99999 {
		t.Fatalf("unexpected amount %d", order.AmountCents)
	}
	if f.gateway.lastCharge.AmountCents != 99999 {
		t.Fatalf("charge carried %d", f.gateway.lastCharge.AmountCents)
	}
}

func TestCreateCheckoutProviderFailure(t *testing.T) {
	f := newServiceFixture()
	f.gateway.chargeErr = provider.ErrUnavailable

	if _, err := f.svc.CreateCheckout(context.Background(), checkoutRequest("ord_1")); !errors.Is(err, provider.ErrUnavailable) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if len(f.orderRepo.orders) != 0 {
		t.Fatal("no order may exist when the charge failed")
	}
}

func TestCreateCheckoutRequiresOrderRef(t *testing.T) {
	f := newServiceFixture()
	req := checkoutRequest("  ")
	if _, err := f.svc.CreateCheckout(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	f := newServiceFixture()
	if _, err := f.svc.GetOrder(context.Background(), 42); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestListOrdersFiltersByStatus(t *testing.T) {
	f := newServiceFixture()
	seedOrder(f, "ord_1", "bill_1", types.OrderStatusAwaitingPayment)
	seedOrder(f, "ord_2", "bill_2", types.OrderStatusPaid)

	items, err := f.svc.ListOrders(context.Background(), &types.ListOrdersRequest{
		HasStatus: true,
		Status:    types.OrderStatusPaid,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(items) != 1 || items[0].OrderRef != "ord_2" {
		t.Fatalf("unexpected list result %+v", items)
	}
}

func TestCancelOrder(t *testing.T) {
	f := newServiceFixture()
	order := seedOrder(f, "ord_1", "bill_1", types.OrderStatusAwaitingPayment)

	cancelled, err := f.svc.CancelOrder(context.Background(), &types.CancelOrderRequest{Id: order.ID, Reason: "customer request"})
	if err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if cancelled.Status != int32(types.OrderStatusCancelled) {
		t.Fatalf("unexpected status %d", cancelled.Status)
	}
	if f.stockRepo.restores["pijama-luar"] != 2 {
		t.Fatalf("unexpected stock restores %v", f.stockRepo.restores)
	}

	kinds := f.eventRepo.kinds()
	if len(kinds) != 1 || kinds[0] != "order_cancelled" {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestListOrderEvents(t *testing.T) {
	f := newServiceFixture()
	order := seedOrder(f, "ord_1", "bill_1", types.OrderStatusAwaitingPayment)

	if _, err := f.svc.CancelOrder(context.Background(), &types.CancelOrderRequest{Id: order.ID, Reason: "customer request"}); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}

	events, err := f.svc.ListOrderEvents(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("ListOrderEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].EventKind != "order_cancelled" {
		t.Fatalf("unexpected events %+v", events)
	}

	if _, err := f.svc.ListOrderEvents(context.Background(), 999); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancelOrderPaidIsForbidden(t *testing.T) {
	f := newServiceFixture()
	order := seedOrder(f, "ord_1", "bill_1", types.OrderStatusPaid)

	if _, err := f.svc.CancelOrder(context.Background(), &types.CancelOrderRequest{Id: order.ID}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestCancelOrderIdempotent(t *testing.T) {
	f := newServiceFixture()
	order := seedOrder(f, "ord_1", "bill_1", types.OrderStatusCancelled)

	cancelled, err := f.svc.CancelOrder(context.Background(), &types.CancelOrderRequest{Id: order.ID})
	if err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if cancelled.Status != int32(types.OrderStatusCancelled) {
		t.Fatalf("unexpected status %d", cancelled.Status)
	}
	if len(f.eventRepo.events) != 0 {
		t.Fatal("cancelling a cancelled order must not append events")
	}
}
