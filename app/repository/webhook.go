package repository

import (
	"context"

	"github.com/luastore/ms-go-checkout/app/entity"
)

type WebhookRepository struct {
	db DBTX
}

func NewWebhookRepository(db DBTX) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Create(ctx context.Context, record *entity.WebhookRecord) error {
	query := `
		INSERT INTO webhook_records (
			request_id, provider, event_kind, provider_reference, order_id,
			signature_valid, status, payload_json, received_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		record.RequestID,
		record.Provider,
		record.EventKind,
		nullableStringValue(record.ProviderReference),
		nullableUint64Value(record.OrderID),
		record.SignatureValid,
		record.Status,
		record.PayloadJSON,
		record.ReceivedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	record.ID = uint64(id)
	return nil
}

// UpdateResolution records the final decision for a received webhook:
// which order it was applied to, or why it was not.
func (r *WebhookRepository) UpdateResolution(ctx context.Context, recordID uint64, orderID *uint64, status int32) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_records SET order_id = ?, status = ? WHERE id = ?
	`, nullableUint64Value(orderID), status, recordID)
	return err
}

