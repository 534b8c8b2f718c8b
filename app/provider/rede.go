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
	defaultRedeBaseURL  = "https://api.userede.com.br/erede"
	defaultRedeTokenURL = "https://api.userede.com.br/redelabs/oauth2/token"

	redeQRExpirationSeconds = 3600
)

// redePixPaths are the create-charge endpoints tried in order. The
// gateway exposes the PIX resource under different prefixes depending
// on the merchant's API generation; a 404 means "not this one", any
// other response settles the call.
var redePixPaths = []string{
	"/v1/pix/qrcodes",
	"/desenvolvedores/v1/pix/qrcodes",
	"/v1/transactions/pix",
}

type RedeConfig struct {
	ClientID              string
	ClientSecret          string
	WebhookSecret         string
	BaseURL               string
	TokenURL              string
	PixKey                string
	MerchantName          string
	MerchantCity          string
	AllowUnsignedWebhooks bool
	HTTPTimeout           time.Duration
}

type RedeProvider struct {
	cfg    RedeConfig
	client *http.Client
	tokens *tokenSource
	logger logrus.FieldLogger
}

func NewRedeProvider(cfg RedeConfig) (*RedeProvider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: rede client credentials are required", ErrMisconfigured)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultRedeBaseURL
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = defaultRedeTokenURL
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	return &RedeProvider{
		cfg:    cfg,
		client: client,
		tokens: newTokenSource(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, client),
		logger: factory.NewModuleLogger("rede-provider"),
	}, nil
}

func (p *RedeProvider) Code() int32 {
	return int32(types.ProviderTypeRede)
}

func (p *RedeProvider) Slug() string {
	return types.ProviderTypeRede.Slug()
}

func (p *RedeProvider) CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	body := map[string]interface{}{
		"reference":            req.OrderRef,
		"amount":               req.AmountCents,
		"qrCodeExpirationTime": redeQRExpirationSeconds,
	}

	var respBody []byte
	settled := false
	for _, path := range redePixPaths {
		candidate, status, err := p.doAuthorized(ctx, http.MethodPost, path, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNotFound {
			p.logger.WithField("path", path).Warn("pix endpoint not found, trying next candidate")
			continue
		}
		if status >= http.StatusBadRequest {
			return nil, fmt.Errorf("%w: path=%s status=%d body=%s", ErrRejected, path, status, string(candidate))
		}
		respBody = candidate
		settled = true
		break
	}
	if !settled {
		return nil, fmt.Errorf("%w: no pix endpoint answered", ErrUnavailable)
	}

	var root map[string]interface{}
	if err := json.Unmarshal(respBody, &root); err != nil {
		return nil, fmt.Errorf("%w: decode pix response: %v", ErrRejected, err)
	}

	result := &ChargeResult{
		ProviderID: req.OrderRef,
		RawPayload: respBody,
	}
	if id, ok := probeString(root, "tid", "transactionId", "id", "pix.tid"); ok {
		result.ProviderID = id
	}
	if code, ok := probeString(root, "qrCode", "qrcode", "qr_code", "pix.qrCode", "pix.qrcode", "pix.copyAndPaste"); ok {
		result.PixCode = &code
	}
	if image, ok := probeString(root, "qrCodeImage", "qrcodeImage", "imageBase64", "pix.qrCodeImage"); ok {
		result.PixCodeImageBase64 = &image
	}
	if expires, ok := probeTime(root, "expirationDateTime", "qrCodeExpirationDateTime", "pix.expirationDateTime"); ok {
		result.ExpiresAt = &expires
	} else {
		expiresAt := time.Now().Add(redeQRExpirationSeconds * time.Second).UTC()
		result.ExpiresAt = &expiresAt
	}

	return result, nil
}

func (p *RedeProvider) ParseWebhook(_ context.Context, payload []byte, header http.Header) (*PaymentEvent, error) {
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

	token, _ := probeString(root, "status", "transaction.status", "pix.status", "payment.status")
	event.Kind = kindForToken(token)

	if id, ok := probeString(root, "tid", "transaction.tid", "transactionId", "id"); ok {
		event.ProviderID = id
	}
	if ref, ok := probeString(root, "reference", "transaction.reference"); ok {
		event.OrderRef = &ref
	}
	if amount, ok := probeNumber(root, "amount", "transaction.amount"); ok {
		cents := int64(amount)
		event.AmountCents = &cents
	}
	if occurred, ok := probeTime(root, "dateTime", "transaction.dateTime"); ok {
		event.OccurredAt = occurred
	}

	return event, nil
}

func (p *RedeProvider) CheckCharge(ctx context.Context, providerID string) (types.EventKind, error) {
	if strings.TrimSpace(providerID) == "" {
		return types.EventKindUnknown, nil
	}

	body, status, err := p.doAuthorized(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(providerID), nil)
	if err != nil {
		return types.EventKindUnknown, err
	}
	if status >= http.StatusBadRequest {
		return types.EventKindUnknown, fmt.Errorf("%w: check charge status=%d body=%s", ErrRejected, status, string(body))
	}

	var root map[string]interface{}
	if err := json.Unmarshal(body, &root); err != nil {
		return types.EventKindUnknown, fmt.Errorf("%w: decode transaction response: %v", ErrRejected, err)
	}

	token, _ := probeString(root, "status", "transaction.status", "pix.status")
	return kindForToken(token), nil
}

func (p *RedeProvider) verifyWebhook(payload []byte, header http.Header) bool {
	if strings.TrimSpace(p.cfg.WebhookSecret) == "" {
		return acceptUnsigned(p.logger, p.Slug(), p.cfg.AllowUnsignedWebhooks)
	}
	return verifyHMAC(payload, header.Get("X-Rede-Signature"), p.cfg.WebhookSecret)
}

// doAuthorized sends an authenticated JSON request and reports the
// status code to the caller, which decides whether a 404 means failure
// or the next candidate path. A 401 retries once with a fresh token.
func (p *RedeProvider) doAuthorized(ctx context.Context, method, path string, payload interface{}) ([]byte, int, error) {
	body, status, err := p.send(ctx, method, path, payload)
	if err != nil {
		return nil, 0, err
	}
	if status == http.StatusUnauthorized {
		p.tokens.Invalidate()
		body, status, err = p.send(ctx, method, path, payload)
		if err != nil {
			return nil, 0, err
		}
	}
	return body, status, nil
}

func (p *RedeProvider) send(ctx context.Context, method, path string, payload interface{}) ([]byte, int, error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return body, resp.StatusCode, nil
}
