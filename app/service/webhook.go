package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luastore/ms-go-checkout/app/entity"
	"github.com/luastore/ms-go-checkout/app/provider"
	"github.com/luastore/ms-go-checkout/app/types"
)

type providerWebhookRequest interface {
	GetRequestId() string
	GetProvider() string
	GetPayload() []byte
	GetHeader() map[string][]string
}

// HandleProviderWebhook records the delivery durably, then decides what
// it means. The returned order is nil when the event was recorded but
// matched no order; callers treat that as accepted-not-applied.
func (s *OrderService) HandleProviderWebhook(ctx context.Context, req providerWebhookRequest) (*entity.Order, error) {
	slug := strings.ToLower(strings.TrimSpace(req.GetProvider()))
	providerCode, ok := types.ParseProviderSlug(slug)
	if !ok {
		return nil, ErrProviderUnsupported
	}

	event, err := s.gateway.ParseWebhook(ctx, slug, req.GetPayload(), http.Header(req.GetHeader()))
	if err != nil {
		if errors.Is(err, provider.ErrNotSupported) {
			return nil, ErrProviderUnsupported
		}
		s.recordWebhook(ctx, req, int32(providerCode), &provider.PaymentEvent{
			Kind:       types.EventKindUnknown,
			OccurredAt: time.Now().UTC(),
		}, entity.WebhookStatusRejected)
		return nil, ErrWebhookRejected
	}

	record := s.recordWebhook(ctx, req, int32(providerCode), event, entity.WebhookStatusProcessed)

	if !event.SignatureValid {
		s.resolveWebhook(ctx, record, nil, entity.WebhookStatusRejected)
		return nil, ErrUntrustedEvent
	}

	order, err := s.matchOrder(ctx, int32(providerCode), event)
	if err != nil {
		return nil, err
	}
	if order == nil {
		s.logger.WithFields(logrus.Fields{
			"provider":           slug,
			"provider_reference": event.ProviderID,
		}).Warn("webhook matched no order")
		s.resolveWebhook(ctx, record, nil, entity.WebhookStatusUnmatched)
		return nil, nil
	}

	applied, err := s.applyEvent(ctx, order, event, record)
	if err != nil {
		return nil, err
	}

	status := entity.WebhookStatusProcessed
	if !applied {
		status = entity.WebhookStatusIgnored
	}
	s.resolveWebhook(ctx, record, &order.ID, status)

	return order, nil
}

// applyEvent runs the order state machine for one canonical event. The
// transition is a conditional swap in the database; whichever delivery
// wins runs the side effects, every other delivery of the same outcome
// is a recorded no-op.
func (s *OrderService) applyEvent(ctx context.Context, order *entity.Order, event *provider.PaymentEvent, record *entity.WebhookRecord) (bool, error) {
	target, ok := targetStatus(event.Kind)
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"order_id": order.ID,
			"kind":     event.Kind.String(),
		}).Info("webhook kind carries no transition")
		s.recordOrderEvent(ctx, order, order.Status, order.Status, "webhook_"+event.Kind.String(), event, record)
		return false, nil
	}

	if event.AmountCents != nil && *event.AmountCents != order.AmountCents {
		s.logger.WithFields(logrus.Fields{
			"order_id":       order.ID,
			"order_amount":   order.AmountCents,
			"webhook_amount": *event.AmountCents,
		}).Warn("webhook amount differs from order amount")
	}

	if order.Status == target {
		s.recordOrderEvent(ctx, order, order.Status, order.Status, "webhook_duplicate", event, record)
		return false, nil
	}
	if types.OrderStatus(order.Status).Terminal() {
		s.logger.WithFields(logrus.Fields{
			"order_id": order.ID,
			"status":   types.OrderStatus(order.Status).String(),
			"kind":     event.Kind.String(),
		}).Warn("webhook arrived for terminal order, ignoring")
		s.recordOrderEvent(ctx, order, order.Status, order.Status, "webhook_after_terminal", event, record)
		return false, nil
	}

	var paidAt *time.Time
	if target == int32(types.OrderStatusPaid) {
		occurred := event.OccurredAt.UTC()
		paidAt = &occurred
	}

	swapped, err := s.orderRepo.CompareAndSwapStatus(ctx, order.ID, openStatuses(), target, paidAt)
	if err != nil {
		return false, err
	}
	if !swapped {
		s.recordOrderEvent(ctx, order, order.Status, order.Status, "webhook_lost_race", event, record)
		return false, nil
	}

	oldStatus := order.Status
	order.Status = target
	order.PaidAt = paidAt
	order.UpdatedAt = time.Now().UTC()
	s.backfillProviderReference(ctx, order, event)

	s.recordOrderEvent(ctx, order, oldStatus, target, "webhook_"+event.Kind.String(), event, record)

	if target == int32(types.OrderStatusPaid) {
		s.runPaidSideEffects(ctx, order)
	}
	if target == int32(types.OrderStatusCancelled) {
		s.restoreStock(ctx, order)
		if err := s.mailer.OrderCancelled(ctx, order); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("cancellation email failed")
		}
	}

	return true, nil
}

// runPaidSideEffects runs exactly once per order, guarded by the status
// swap. Failures are logged, never propagated: the payment already
// happened and the webhook must not be retried into a double-apply.
func (s *OrderService) runPaidSideEffects(ctx context.Context, order *entity.Order) {
	for _, item := range order.Items {
		if strings.TrimSpace(item.ProductRef) == "" {
			continue
		}
		if err := s.stockRepo.Decrement(ctx, item.ProductRef, item.Quantity); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"order_id":    order.ID,
				"product_ref": item.ProductRef,
			}).Error("stock decrement failed")
		}
	}
	if err := s.mailer.OrderPaid(ctx, order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("payment confirmation email failed")
	}
}

// restoreStock hands reserved quantities back on every cancellation
// this service performs. Failures are logged only, same as the paid
// side effects.
func (s *OrderService) restoreStock(ctx context.Context, order *entity.Order) {
	for _, item := range order.Items {
		if strings.TrimSpace(item.ProductRef) == "" {
			continue
		}
		if err := s.stockRepo.Restore(ctx, item.ProductRef, item.Quantity); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"order_id":    order.ID,
				"product_ref": item.ProductRef,
			}).Error("stock restore failed")
		}
	}
}

func (s *OrderService) matchOrder(ctx context.Context, providerCode int32, event *provider.PaymentEvent) (*entity.Order, error) {
	if ref := strings.TrimSpace(event.ProviderID); ref != "" {
		order, err := s.orderRepo.FindByProviderReference(ctx, providerCode, ref)
		if err != nil {
			return nil, err
		}
		if order != nil {
			return order, nil
		}
	}
	if event.OrderRef != nil && strings.TrimSpace(*event.OrderRef) != "" {
		return s.orderRepo.FindByOrderRef(ctx, strings.TrimSpace(*event.OrderRef))
	}
	return nil, nil
}

// backfillProviderReference fills the provider reference for orders
// whose charge response did not carry one, so later lookups match.
func (s *OrderService) backfillProviderReference(ctx context.Context, order *entity.Order, event *provider.PaymentEvent) {
	ref := strings.TrimSpace(event.ProviderID)
	if ref == "" || order.ProviderReference != nil {
		return
	}
	order.ProviderReference = &ref
	if err := s.orderRepo.Update(ctx, order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("provider reference backfill failed")
	}
}

func (s *OrderService) recordWebhook(ctx context.Context, req providerWebhookRequest, providerCode int32, event *provider.PaymentEvent, status int32) *entity.WebhookRecord {
	record := &entity.WebhookRecord{
		RequestID:         strings.TrimSpace(req.GetRequestId()),
		Provider:          providerCode,
		EventKind:         int32(event.Kind),
		ProviderReference: normalizeOptionalString(event.ProviderID),
		SignatureValid:    event.SignatureValid,
		Status:            status,
		PayloadJSON:       string(req.GetPayload()),
		ReceivedAt:        time.Now().UTC(),
	}
	if err := s.webhookRepo.Create(ctx, record); err != nil {
		s.logger.WithError(err).Error("webhook record persistence failed")
	}
	return record
}

func (s *OrderService) resolveWebhook(ctx context.Context, record *entity.WebhookRecord, orderID *uint64, status int32) {
	if record == nil || record.ID == 0 {
		return
	}
	record.OrderID = orderID
	record.Status = status
	if err := s.webhookRepo.UpdateResolution(ctx, record.ID, orderID, status); err != nil {
		s.logger.WithError(err).WithField("webhook_record_id", record.ID).Warn("webhook resolution update failed")
	}
}

func (s *OrderService) recordOrderEvent(ctx context.Context, order *entity.Order, oldStatus, newStatus int32, kind string, event *provider.PaymentEvent, record *entity.WebhookRecord) {
	var oldStatusPtr *int32
	if oldStatus != newStatus {
		oldStatusPtr = &oldStatus
	}

	var webhookRecordID *uint64
	if record != nil && record.ID != 0 {
		webhookRecordID = &record.ID
	}

	var payloadJSON *string
	if len(event.RawPayload) > 0 {
		payload := string(event.RawPayload)
		payloadJSON = &payload
	}

	_ = s.eventRepo.Create(ctx, &entity.OrderEvent{
		OrderID:         order.ID,
		EventKind:       kind,
		OldStatus:       oldStatusPtr,
		NewStatus:       newStatus,
		WebhookRecordID: webhookRecordID,
		PayloadJSON:     payloadJSON,
		CreatedAt:       time.Now().UTC(),
	})
}

// targetStatus maps a canonical event kind onto the order status it
// drives toward. Pending and Unknown carry no transition: Pending is a
// transient provider label, not a distinct state to move into.
func targetStatus(kind types.EventKind) (int32, bool) {
	switch kind {
	case types.EventKindPaid:
		return int32(types.OrderStatusPaid), true
	case types.EventKindCancelled:
		return int32(types.OrderStatusCancelled), true
	case types.EventKindFailed:
		return int32(types.OrderStatusFailed), true
	default:
		return 0, false
	}
}
