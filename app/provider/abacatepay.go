package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luastore/ms-go-checkout/app/factory"
	"github.com/luastore/ms-go-checkout/app/types"
)

const (
	defaultAbacatePayBaseURL = "https://api.abacatepay.com"
	abacatePayFallbackPayURL = "https://abacatepay.com/pay/"
)

type AbacatePayConfig struct {
	APIKey                string
	WebhookSecret         string
	BaseURL               string
	AllowUnsignedWebhooks bool
	HTTPTimeout           time.Duration
}

type AbacatePayProvider struct {
	cfg    AbacatePayConfig
	client *http.Client
	logger logrus.FieldLogger
}

func NewAbacatePayProvider(cfg AbacatePayConfig) (*AbacatePayProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: abacatepay api key is required", ErrMisconfigured)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultAbacatePayBaseURL
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &AbacatePayProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: factory.NewModuleLogger("abacatepay-provider"),
	}, nil
}

func (p *AbacatePayProvider) Code() int32 {
	return int32(types.ProviderTypeAbacatePay)
}

func (p *AbacatePayProvider) Slug() string {
	return types.ProviderTypeAbacatePay.Slug()
}

func (p *AbacatePayProvider) CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	products := make([]map[string]interface{}, 0, len(req.Items))
	for i, item := range req.Items {
		products = append(products, map[string]interface{}{
			"externalId":  fmt.Sprintf("%s_%d", req.OrderRef, i),
			"name":        item.Name,
			"quantity":    item.Quantity,
			"price":       item.UnitPriceCents,
		})
	}
	if len(products) == 0 {
		products = append(products, map[string]interface{}{
			"externalId": fmt.Sprintf("%s_0", req.OrderRef),
			"name":       "Pedido " + req.OrderRef,
			"quantity":   1,
			"price":      req.AmountCents,
		})
	}

	metadata := map[string]string{"order_ref": req.OrderRef}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	body := map[string]interface{}{
		"frequency":     "ONE_TIME",
		"methods":       []string{"PIX"},
		"products":      products,
		"returnUrl":     req.CancelURL,
		"completionUrl": req.ReturnURL,
		"customer": map[string]string{
			"name":      req.Customer.Name,
			"email":     req.Customer.Email,
			"cellphone": req.Customer.Phone,
			"taxId":     req.Customer.TaxID,
		},
		"metadata": metadata,
	}

	respBody, err := p.postJSON(ctx, "/v1/billing/create", body)
	if err != nil {
		return nil, err
	}

	var root map[string]interface{}
	if err := json.Unmarshal(respBody, &root); err != nil {
		return nil, fmt.Errorf("%w: decode billing response: %v", ErrRejected, err)
	}
	billing := unwrapData(root)

	id, ok := probeString(billing, "id", "billing.id")
	if !ok {
		return nil, fmt.Errorf("%w: billing id missing from response", ErrRejected)
	}

	result := &ChargeResult{
		ProviderID: id,
		RawPayload: respBody,
	}

	checkoutURL, ok := probeString(billing, "url", "checkoutUrl", "billing.url")
	if !ok {
		checkoutURL = abacatePayFallbackPayURL + id
	}
	result.CheckoutURL = &checkoutURL

	if code, ok := probeString(billing, "brCode", "pix.brCode", "pixQrCode.brCode"); ok {
		result.PixCode = &code
	}
	if image, ok := probeString(billing, "brCodeBase64", "pix.brCodeBase64", "pixQrCode.brCodeBase64"); ok {
		result.PixCodeImageBase64 = &image
	}
	if expires, ok := probeTime(billing, "expiresAt", "pixQrCode.expiresAt"); ok {
		result.ExpiresAt = &expires
	}

	return result, nil
}

func (p *AbacatePayProvider) ParseWebhook(_ context.Context, payload []byte, header http.Header) (*PaymentEvent, error) {
	var root map[string]interface{}
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("webhook payload is not valid JSON: %w", err)
	}

	event := &PaymentEvent{
		Kind:           types.EventKindUnknown,
		OccurredAt:     time.Now().UTC(),
		SignatureValid: p.verifyWebhook(payload, header),
		RawPayload:     payload,
	}

	data := unwrapData(root)

	token, ok := probeString(root, "event")
	if !ok {
		token, _ = probeString(data, "status", "billing.status", "pixQrCode.status")
	}
	event.Kind = kindForToken(token)

	if id, ok := probeString(data, "id", "billing.id", "pixQrCode.id", "payment.id"); ok {
		event.ProviderID = id
	}
	if ref, ok := probeString(data, "metadata.order_ref", "billing.metadata.order_ref", "externalId"); ok {
		event.OrderRef = &ref
	}
	if amount, ok := probeNumber(data, "amount", "billing.amount", "pixQrCode.amount", "payment.amount"); ok {
		cents := int64(amount)
		event.AmountCents = &cents
	}
	if occurred, ok := probeTime(data, "paidAt", "billing.paidAt", "payment.paidAt", "createdAt"); ok {
		event.OccurredAt = occurred
	}

	return event, nil
}

func (p *AbacatePayProvider) CheckCharge(ctx context.Context, providerID string) (types.EventKind, error) {
	if strings.TrimSpace(providerID) == "" {
		return types.EventKindUnknown, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v1/pixQrCode/check?id="+url.QueryEscape(providerID), nil)
	if err != nil {
		return types.EventKindUnknown, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return types.EventKindUnknown, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.EventKindUnknown, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return types.EventKindUnknown, fmt.Errorf("%w: check charge status=%d body=%s", ErrRejected, resp.StatusCode, string(body))
	}

	var root map[string]interface{}
	if err := json.Unmarshal(body, &root); err != nil {
		return types.EventKindUnknown, fmt.Errorf("%w: decode check response: %v", ErrRejected, err)
	}

	token, _ := probeString(unwrapData(root), "status", "billing.status")
	return kindForToken(token), nil
}

func (p *AbacatePayProvider) verifyWebhook(payload []byte, header http.Header) bool {
	if strings.TrimSpace(p.cfg.WebhookSecret) == "" {
		return acceptUnsigned(p.logger, p.Slug(), p.cfg.AllowUnsignedWebhooks)
	}
	return verifyHMAC(payload, header.Get("X-Webhook-Signature"), p.cfg.WebhookSecret)
}

func (p *AbacatePayProvider) postJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: path=%s status=%d body=%s", ErrRejected, path, resp.StatusCode, string(body))
	}

	return body, nil
}
