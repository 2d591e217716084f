package domain

import "time"

type EventType string

const (
	EventTransactionCreated   EventType = "transaction.created"
	EventTransactionUpdated   EventType = "transaction.updated"
	EventTransactionCancelled EventType = "transaction.cancelled"
)

// TransactionEvent is emitted after a ledger mutation has been committed.
// Delta is the signed stock change (negative = consumed).
type TransactionEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	TransactionID int64     `json:"transaction_id"`
	ProductID     int64     `json:"product_id"`
	UserID        *int64    `json:"user_id,omitempty"`
	Quantity      int       `json:"quantity"`
	Delta         int       `json:"delta"`
	TotalAmount   string    `json:"total_amount"`
	OccurredAt    time.Time `json:"occurred_at"`
}
