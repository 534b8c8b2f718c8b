package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/luastore/ms-go-checkout/app/types"
)

var (
	ErrNotSupported  = errors.New("provider is not supported")
	ErrMisconfigured = errors.New("provider is misconfigured")
	ErrUnavailable   = errors.New("provider is unavailable")
	ErrRejected      = errors.New("provider rejected the request")
)

type Customer struct {
	Name  string
	Email string
	Phone string
	TaxID string
}

type Item struct {
	Name           string
	Quantity       int32
	UnitPriceCents int64
}

// ChargeRequest is the normalized intent to collect payment for one
// order. AmountCents is taken as-is: the caller is expected to have
// re-derived it from the catalog, and the provider is authoritative for
// the final charged amount, so no item-sum check happens here.
type ChargeRequest struct {
	OrderRef      string
	TransactionID string
	AmountCents   int64
	Currency      string
	Customer      Customer
	Items         []Item
	Description   string
	ReturnURL     string
	CancelURL     string
	Metadata      map[string]string
}

// ChargeResult is the normalized response to a created charge.
// RawPayload keeps the provider response verbatim for audit; downstream
// code never parses it.
type ChargeResult struct {
	ProviderID         string
	CheckoutURL        *string
	PixCode            *string
	PixCodeImageBase64 *string
	ExpiresAt          *time.Time
	RawPayload         json.RawMessage
}

// PaymentEvent is the canonical outcome of a provider webhook. It is
// produced even when the payload shape is unrecognized (Kind Unknown);
// SignatureValid is always set explicitly, never implied.
type PaymentEvent struct {
	Kind           types.EventKind
	ProviderID     string
	OrderRef       *string
	AmountCents    *int64
	OccurredAt     time.Time
	SignatureValid bool
	RawPayload     json.RawMessage
}

type Provider interface {
	Code() int32
	Slug() string
	CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*PaymentEvent, error)
	CheckCharge(ctx context.Context, providerID string) (types.EventKind, error)
}
