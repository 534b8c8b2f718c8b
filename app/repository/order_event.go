package repository

import (
	"context"
	"database/sql"

	"github.com/luastore/ms-go-checkout/app/entity"
)

type OrderEventRepository struct {
	db DBTX
}

func NewOrderEventRepository(db DBTX) *OrderEventRepository {
	return &OrderEventRepository{db: db}
}

func (r *OrderEventRepository) Create(ctx context.Context, event *entity.OrderEvent) error {
	query := `
		INSERT INTO order_events (
			order_id, event_kind, old_status, new_status,
			webhook_record_id, payload_json, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var oldStatus interface{}
	if event.OldStatus != nil {
		oldStatus = *event.OldStatus
	}

	result, err := r.db.ExecContext(ctx, query,
		event.OrderID,
		event.EventKind,
		oldStatus,
		event.NewStatus,
		nullableUint64Value(event.WebhookRecordID),
		nullableStringValue(event.PayloadJSON),
		event.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)
	return nil
}

func (r *OrderEventRepository) ListByOrderID(ctx context.Context, orderID uint64) ([]*entity.OrderEvent, error) {
	query := `
		SELECT id, order_id, event_kind, old_status, new_status,
			webhook_record_id, payload_json, created_at
		FROM order_events
		WHERE order_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*entity.OrderEvent, 0)
	for rows.Next() {
		event := &entity.OrderEvent{}
		var oldStatus sql.NullInt32
		var webhookRecordID sql.NullInt64
		var payloadJSON sql.NullString
		if err := rows.Scan(
			&event.ID,
			&event.OrderID,
			&event.EventKind,
			&oldStatus,
			&event.NewStatus,
			&webhookRecordID,
			&payloadJSON,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		event.OldStatus = int32PtrFromNull(oldStatus)
		event.WebhookRecordID = uint64PtrFromNull(webhookRecordID)
		event.PayloadJSON = stringPtrFromNull(payloadJSON)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
