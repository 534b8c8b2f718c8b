package service

import (
	"context"
	"strings"
	"time"

	"github.com/luastore/ms-go-checkout/app/entity"
	"github.com/luastore/ms-go-checkout/app/provider"
	"github.com/luastore/ms-go-checkout/app/types"
)

// RunExpireStaleBatch cancels orders still waiting on payment whose
// charge expired, or that outlived the pending timeout without a
// provider expiry. The swap is conditional: a payment webhook landing
// mid-batch wins.
func (s *OrderService) RunExpireStaleBatch(ctx context.Context) error {
	now := time.Now().UTC()
	createdCutoff := now.Add(-s.paymentsCfg.PendingTimeout)

	items, err := s.orderRepo.ListStaleAwaitingPayment(ctx, openStatuses(), now, createdCutoff, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, order := range items {
		if order == nil {
			continue
		}

		swapped, err := s.orderRepo.CompareAndSwapStatus(ctx, order.ID, openStatuses(), int32(types.OrderStatusCancelled), nil)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if !swapped {
			continue
		}

		oldStatus := order.Status
		order.Status = int32(types.OrderStatusCancelled)
		order.UpdatedAt = now

		s.restoreStock(ctx, order)

		_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
			OrderID:   order.ID,
			EventKind: "order_expired",
			OldStatus: &oldStatus,
			NewStatus: order.Status,
			CreatedAt: now,
		})
	}

	return firstErr
}

// RunReconcileBatch polls the issuing provider for orders that have not
// moved in a while, covering webhooks that never arrived.
func (s *OrderService) RunReconcileBatch(ctx context.Context) error {
	now := time.Now().UTC()
	before := now.Add(-s.paymentsCfg.StaleAfter)

	items, err := s.orderRepo.ListForReconcile(ctx, openStatuses(), before, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, order := range items {
		if order == nil || order.ProviderReference == nil || strings.TrimSpace(*order.ProviderReference) == "" {
			continue
		}

		kind, err := s.gateway.CheckCharge(ctx, order.Provider, strings.TrimSpace(*order.ProviderReference))
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if kind == types.EventKindUnknown {
			continue
		}

		event := &provider.PaymentEvent{
			Kind:           kind,
			ProviderID:     strings.TrimSpace(*order.ProviderReference),
			OccurredAt:     now,
			SignatureValid: true,
		}
		if _, err := s.applyEvent(ctx, order, event, nil); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
