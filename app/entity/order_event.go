package entity

import "time"

// OrderEvent is an append-only audit line for every status decision
// taken against an order, including ignored duplicates.
type OrderEvent struct {
	ID uint64

	OrderID uint64

	EventKind string

	OldStatus *int32
	NewStatus int32

	WebhookRecordID *uint64
	PayloadJSON     *string

	CreatedAt time.Time
}
