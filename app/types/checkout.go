package types

import (
	"errors"
	"io"
	"net/mail"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

type CheckoutCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	TaxId string `json:"tax_id"`
}

type CheckoutItem struct {
	ProductRef     string `json:"product_ref"`
	Name           string `json:"name"`
	Quantity       int32  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// CreateCheckoutRequest is issued by the storefront backend after it has
// re-derived amount_cents and item prices from the persisted catalog.
// Client-supplied prices never reach this service. amount_cents is not
// required to equal the item sum; the provider is authoritative for the
// final charge amount.
type CreateCheckoutRequest struct {
	OrderRef    string            `json:"order_ref"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Customer    CheckoutCustomer  `json:"customer"`
	Items       []CheckoutItem    `json:"items"`
	ReturnUrl   string            `json:"return_url"`
	CancelUrl   string            `json:"cancel_url"`
	Metadata    map[string]string `json:"metadata"`
}

func NewCreateCheckoutRequestFromContext(ctx echo.Context) (*CreateCheckoutRequest, error) {
	var body CreateCheckoutRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.OrderRef = strings.TrimSpace(body.OrderRef)
	body.Currency = strings.ToUpper(strings.TrimSpace(body.Currency))
	if body.Currency == "" {
		body.Currency = "BRL"
	}
	body.Customer.Name = strings.TrimSpace(body.Customer.Name)
	body.Customer.Email = strings.TrimSpace(body.Customer.Email)
	body.Customer.Phone = strings.TrimSpace(body.Customer.Phone)
	body.Customer.TaxId = strings.TrimSpace(body.Customer.TaxId)
	body.ReturnUrl = strings.TrimSpace(body.ReturnUrl)
	body.CancelUrl = strings.TrimSpace(body.CancelUrl)

	return &body, nil
}

func (r *CreateCheckoutRequest) Validate() error {
	if strings.TrimSpace(r.GetOrderRef()) == "" {
		return errors.New("order_ref is required")
	}
	if r.GetAmountCents() <= 0 {
		return errors.New("amount_cents must be > 0")
	}
	if len(r.GetCurrency()) != 3 {
		return errors.New("currency must be 3 letters")
	}
	if strings.TrimSpace(r.Customer.Email) == "" {
		return errors.New("customer.email is required")
	}
	if _, err := mail.ParseAddress(r.Customer.Email); err != nil {
		return errors.New("customer.email is invalid")
	}
	if len(r.GetItems()) == 0 {
		return errors.New("items must not be empty")
	}
	for i, item := range r.GetItems() {
		if strings.TrimSpace(item.Name) == "" {
			return errors.New("items[" + strconv.Itoa(i) + "].name is required")
		}
		if item.Quantity <= 0 {
			return errors.New("items[" + strconv.Itoa(i) + "].quantity must be > 0")
		}
		if item.UnitPriceCents <= 0 {
			return errors.New("items[" + strconv.Itoa(i) + "].unit_price_cents must be > 0")
		}
	}
	return nil
}

func (r *CreateCheckoutRequest) GetOrderRef() string {
	if r == nil {
		return ""
	}
	return r.OrderRef
}

func (r *CreateCheckoutRequest) GetAmountCents() int64 {
	if r == nil {
		return 0
	}
	return r.AmountCents
}

func (r *CreateCheckoutRequest) GetCurrency() string {
	if r == nil {
		return ""
	}
	return r.Currency
}

func (r *CreateCheckoutRequest) GetCustomer() CheckoutCustomer {
	if r == nil {
		return CheckoutCustomer{}
	}
	return r.Customer
}

func (r *CreateCheckoutRequest) GetItems() []CheckoutItem {
	if r == nil {
		return nil
	}
	return r.Items
}

func (r *CreateCheckoutRequest) GetReturnUrl() string {
	if r == nil {
		return ""
	}
	return r.ReturnUrl
}

func (r *CreateCheckoutRequest) GetCancelUrl() string {
	if r == nil {
		return ""
	}
	return r.CancelUrl
}

func (r *CreateCheckoutRequest) GetMetadata() map[string]string {
	if r == nil {
		return nil
	}
	return r.Metadata
}

type GetOrderRequest struct {
	Id uint64
}

func NewGetOrderRequestFromContext(ctx echo.Context) (*GetOrderRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetOrderRequest{Id: id}, nil
}

func (r *GetOrderRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid order id")
	}
	return nil
}

func (r *GetOrderRequest) GetId() uint64 {
	if r == nil {
		return 0
	}
	return r.Id
}

type ListOrdersRequest struct {
	OrderRef  string
	HasStatus bool
	Status    OrderStatus
	Provider  ProviderType
	Limit     int32
	Offset    int32
}

func NewListOrdersRequestFromContext(ctx echo.Context) (*ListOrdersRequest, error) {
	req := &ListOrdersRequest{
		OrderRef: strings.TrimSpace(ctx.QueryParam("order_ref")),
		Limit:    100,
		Offset:   0,
	}

	statusRaw := strings.TrimSpace(ctx.QueryParam("status"))
	if statusRaw != "" {
		status, err := strconv.ParseInt(statusRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.HasStatus = true
		req.Status = OrderStatus(status)
	}

	providerRaw := strings.TrimSpace(ctx.QueryParam("provider"))
	if providerRaw != "" {
		providerType, ok := ParseProviderSlug(providerRaw)
		if !ok {
			return nil, errors.New("invalid provider")
		}
		req.Provider = providerType
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListOrdersRequest) Validate() error {
	if r.Limit == 0 {
		r.Limit = 100
	}
	if r.GetLimit() <= 0 || r.GetLimit() > 500 {
		return errors.New("limit must be between 1 and 500")
	}
	if r.GetOffset() < 0 {
		return errors.New("offset must be >= 0")
	}
	if r.GetHasStatus() && !IsValidOrderStatus(r.GetStatus()) {
		return errors.New("invalid status")
	}
	return nil
}

func (r *ListOrdersRequest) GetOrderRef() string {
	if r == nil {
		return ""
	}
	return r.OrderRef
}

func (r *ListOrdersRequest) GetHasStatus() bool {
	if r == nil {
		return false
	}
	return r.HasStatus
}

func (r *ListOrdersRequest) GetStatus() OrderStatus {
	if r == nil {
		return OrderStatusUnspecified
	}
	return r.Status
}

func (r *ListOrdersRequest) GetProvider() ProviderType {
	if r == nil {
		return ProviderTypeUnspecified
	}
	return r.Provider
}

func (r *ListOrdersRequest) GetLimit() int32 {
	if r == nil {
		return 0
	}
	return r.Limit
}

func (r *ListOrdersRequest) GetOffset() int32 {
	if r == nil {
		return 0
	}
	return r.Offset
}

type CancelOrderRequest struct {
	Id     uint64
	Reason string `json:"reason"`
}

func NewCancelOrderRequestFromContext(ctx echo.Context) (*CancelOrderRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body CancelOrderRequest
	if err = ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = id
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *CancelOrderRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid order id")
	}
	return nil
}

func (r *CancelOrderRequest) GetId() uint64 {
	if r == nil {
		return 0
	}
	return r.Id
}

func (r *CancelOrderRequest) GetReason() string {
	if r == nil {
		return ""
	}
	return r.Reason
}

// ProviderWebhookRequest carries a provider callback exactly as received:
// the raw body bytes (never re-encoded, signature verification depends on
// them) plus the full header map.
type ProviderWebhookRequest struct {
	RequestId string
	Provider  string
	Payload   []byte
	Header    map[string][]string
}

func NewProviderWebhookRequestFromContext(ctx echo.Context) (*ProviderWebhookRequest, error) {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	return &ProviderWebhookRequest{
		RequestId: strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID)),
		Provider:  strings.ToLower(strings.TrimSpace(ctx.Param("provider"))),
		Payload:   rawBody,
		Header:    ctx.Request().Header,
	}, nil
}

func (r *ProviderWebhookRequest) Validate() error {
	if strings.TrimSpace(r.GetProvider()) == "" {
		return errors.New("provider is required")
	}
	if len(r.GetPayload()) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

func (r *ProviderWebhookRequest) GetRequestId() string {
	if r == nil {
		return ""
	}
	return r.RequestId
}

func (r *ProviderWebhookRequest) GetProvider() string {
	if r == nil {
		return ""
	}
	return r.Provider
}

func (r *ProviderWebhookRequest) GetPayload() []byte {
	if r == nil {
		return nil
	}
	return r.Payload
}

func (r *ProviderWebhookRequest) GetHeader() map[string][]string {
	if r == nil {
		return nil
	}
	return r.Header
}
