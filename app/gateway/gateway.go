// Package gateway fronts the configured payment providers with a single
// entry point. Charges always go to the active provider; webhooks are
// routed to whichever adapter the request path names, so events from a
// previously active provider keep flowing after a switch.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/luastore/ms-go-checkout/app/factory"
	"github.com/luastore/ms-go-checkout/app/provider"
	"github.com/luastore/ms-go-checkout/app/types"
)

// ChargeFailedError wraps a provider failure with enough context to log
// and map to an HTTP status without parsing error strings.
type ChargeFailedError struct {
	ProviderSlug string
	OrderRef     string
	Cause        error
}

func (e *ChargeFailedError) Error() string {
	return fmt.Sprintf("charge failed: provider=%s order_ref=%s: %v", e.ProviderSlug, e.OrderRef, e.Cause)
}

func (e *ChargeFailedError) Unwrap() error {
	return e.Cause
}

type Gateway struct {
	registry *provider.Registry
	active   provider.Provider
	logger   logrus.FieldLogger
}

func New(registry *provider.Registry, active provider.Provider) *Gateway {
	return &Gateway{
		registry: registry,
		active:   active,
		logger:   factory.NewModuleLogger("payment-gateway"),
	}
}

func (g *Gateway) ActiveSlug() string {
	return g.active.Slug()
}

func (g *Gateway) ActiveCode() int32 {
	return g.active.Code()
}

func (g *Gateway) CreateCharge(ctx context.Context, req *provider.ChargeRequest) (*provider.ChargeResult, error) {
	result, err := g.active.CreateCharge(ctx, req)
	if err != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{
			"provider":  g.active.Slug(),
			"order_ref": req.OrderRef,
		}).Error("charge creation failed")
		return nil, &ChargeFailedError{ProviderSlug: g.active.Slug(), OrderRef: req.OrderRef, Cause: err}
	}
	return result, nil
}

// ParseWebhook resolves the adapter by the slug from the webhook URL.
// An unknown slug is ErrNotSupported, never a guess.
func (g *Gateway) ParseWebhook(ctx context.Context, slug string, payload []byte, header http.Header) (*provider.PaymentEvent, error) {
	p, err := g.registry.BySlug(slug)
	if err != nil {
		return nil, err
	}
	return p.ParseWebhook(ctx, payload, header)
}

// CheckCharge queries the provider that issued the charge, which may
// not be the active one.
func (g *Gateway) CheckCharge(ctx context.Context, providerCode int32, providerID string) (types.EventKind, error) {
	p, err := g.registry.Get(providerCode)
	if err != nil {
		return types.EventKindUnknown, err
	}
	return p.CheckCharge(ctx, providerID)
}
