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

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/luastore/ms-go-checkout/app/factory"
	"github.com/luastore/ms-go-checkout/app/money"
	"github.com/luastore/ms-go-checkout/app/pix"
	"github.com/luastore/ms-go-checkout/app/types"
)

const (
	defaultItauBaseURL  = "https://secure.api.itau/pix_recebimentos/v2"
	defaultItauTokenURL = "https://sts.itau.com.br/api/oauth/token"

	itauTxidPrefix        = "LUA"
	itauMaxTxidLen        = 35
	itauMaxDescriptionLen = 140
	itauChargeExpiration  = 3600
)

type ItauConfig struct {
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

type ItauProvider struct {
	cfg    ItauConfig
	client *http.Client
	tokens *tokenSource
	logger logrus.FieldLogger
}

func NewItauProvider(cfg ItauConfig) (*ItauProvider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: itau client credentials are required", ErrMisconfigured)
	}
	if strings.TrimSpace(cfg.PixKey) == "" {
		return nil, fmt.Errorf("%w: itau pix key is required", ErrMisconfigured)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultItauBaseURL
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = defaultItauTokenURL
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	return &ItauProvider{
		cfg:    cfg,
		client: client,
		tokens: newTokenSource(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, client),
		logger: factory.NewModuleLogger("itau-provider"),
	}, nil
}

func (p *ItauProvider) Code() int32 {
	return int32(types.ProviderTypeItau)
}

func (p *ItauProvider) Slug() string {
	return types.ProviderTypeItau.Slug()
}

func (p *ItauProvider) CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	txid := sanitizeTxid(req.TransactionID)
	if txid == "" {
		txid = newTxid()
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Pedido " + req.OrderRef
	}
	description = truncateRunes(description, itauMaxDescriptionLen)

	devedor := map[string]string{"nome": req.Customer.Name}
	taxID := digits(req.Customer.TaxID)
	switch len(taxID) {
	case 11:
		devedor["cpf"] = taxID
	case 14:
		devedor["cnpj"] = taxID
	}

	body := map[string]interface{}{
		"calendario":         map[string]int{"expiracao": itauChargeExpiration},
		"devedor":            devedor,
		"valor":              map[string]string{"original": money.DecimalString(req.AmountCents)},
		"chave":              p.cfg.PixKey,
		"solicitacaoPagador": description,
	}

	respBody, err := p.doAuthorized(ctx, http.MethodPut, "/cob/"+url.PathEscape(txid), body)
	if err != nil {
		return nil, err
	}

	var root map[string]interface{}
	if err := json.Unmarshal(respBody, &root); err != nil {
		return nil, fmt.Errorf("%w: decode cob response: %v", ErrRejected, err)
	}

	pixCode, ok := probeString(root, "pixCopiaECola", "pix_copia_e_cola", "location")
	if !ok {
		pixCode = pix.BuildPayload(p.cfg.PixKey, req.AmountCents, p.cfg.MerchantName, p.cfg.MerchantCity, description)
	}

	expiration := itauChargeExpiration
	if n, found := probeNumber(root, "calendario.expiracao"); found && n > 0 {
		expiration = int(n)
	}
	expiresAt := time.Now().Add(time.Duration(expiration) * time.Second).UTC()

	return &ChargeResult{
		ProviderID: txid,
		PixCode:    &pixCode,
		ExpiresAt:  &expiresAt,
		RawPayload: respBody,
	}, nil
}

// ParseWebhook handles the bank's pix received notification, which
// carries a "pix" array of settlements, and falls back to a cob status
// payload for charge lifecycle updates.
func (p *ItauProvider) ParseWebhook(_ context.Context, payload []byte, header http.Header) (*PaymentEvent, error) {
	var root map[string]interface{}
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("webhook payload is not valid JSON: %w", err)
	}

	event := &PaymentEvent{
		Kind:           types.EventKindUnknown,
		OccurredAt:     time.Now().UTC(),
		SignatureValid: p.verifyWebhook(header),
		RawPayload:     payload,
	}

	if entries, ok := root["pix"].([]interface{}); ok && len(entries) > 0 {
		if entry, ok := entries[0].(map[string]interface{}); ok {
			event.Kind = types.EventKindPaid
			if txid, ok := probeString(entry, "txid"); ok {
				event.ProviderID = txid
			}
			if raw, ok := probeString(entry, "valor"); ok {
				if cents, err := money.ParseDecimal(raw); err == nil {
					event.AmountCents = &cents
				}
			}
			if occurred, ok := probeTime(entry, "horario"); ok {
				event.OccurredAt = occurred
			}
			return event, nil
		}
	}

	token, _ := probeString(root, "status", "cob.status")
	event.Kind = kindForToken(token)
	if txid, ok := probeString(root, "txid", "cob.txid"); ok {
		event.ProviderID = txid
	}
	if raw, ok := probeString(root, "valor.original", "cob.valor.original"); ok {
		if cents, err := money.ParseDecimal(raw); err == nil {
			event.AmountCents = &cents
		}
	}

	return event, nil
}

func (p *ItauProvider) CheckCharge(ctx context.Context, providerID string) (types.EventKind, error) {
	if strings.TrimSpace(providerID) == "" {
		return types.EventKindUnknown, nil
	}

	respBody, err := p.doAuthorized(ctx, http.MethodGet, "/cob/"+url.PathEscape(providerID), nil)
	if err != nil {
		return types.EventKindUnknown, err
	}

	var root map[string]interface{}
	if err := json.Unmarshal(respBody, &root); err != nil {
		return types.EventKindUnknown, fmt.Errorf("%w: decode cob response: %v", ErrRejected, err)
	}

	token, _ := probeString(root, "status")
	return kindForToken(token), nil
}

// verifyWebhook compares the static webhook token the bank is
// registered to send. The body is not part of the scheme.
func (p *ItauProvider) verifyWebhook(header http.Header) bool {
	if strings.TrimSpace(p.cfg.WebhookSecret) == "" {
		return acceptUnsigned(p.logger, p.Slug(), p.cfg.AllowUnsignedWebhooks)
	}
	return verifySharedToken(header.Get("X-Webhook-Token"), p.cfg.WebhookSecret)
}

// doAuthorized sends an authenticated JSON request. A 401 invalidates
// the cached token and the request is retried once with a fresh one.
func (p *ItauProvider) doAuthorized(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	body, status, err := p.send(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		p.tokens.Invalidate()
		body, status, err = p.send(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: path=%s status=%d body=%s", ErrRejected, path, status, string(body))
	}
	return body, nil
}

func (p *ItauProvider) send(ctx context.Context, method, path string, payload interface{}) ([]byte, int, error) {
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

// newTxid builds a charge transaction id inside the bank's 26-35
// alphanumeric window: fixed prefix, unix timestamp, random suffix.
func newTxid() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16]
	return fmt.Sprintf("%s%d%s", itauTxidPrefix, time.Now().Unix(), suffix)
}

// sanitizeTxid keeps only [a-zA-Z0-9] and enforces the length cap; a
// caller-supplied id that sanitizes to empty falls back to a generated
// one.
func sanitizeTxid(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	txid := b.String()
	if len(txid) > itauMaxTxidLen {
		txid = txid[:itauMaxTxidLen]
	}
	return txid
}

// truncateRunes caps s at max characters without splitting a multibyte
// rune, so accented descriptions never reach the bank mangled.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
