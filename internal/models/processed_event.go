package models

import "time"

// Processed-event types recorded in the dedup ledger.
const (
	EventTypeTransactionCreated = "TRANSACTION_CREATED"
	EventTypeTransactionDeleted = "TRANSACTION_DELETED"
)

// ProcessedEvent is one row of the dedup ledger: an event identifier that has
// already been applied to a budget. The row is inserted in the same database
// transaction as the budget mutation it guards, so a redelivered message finds
// the identifier present and commits a no-op.
type ProcessedEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	EventID     string    `gorm:"uniqueIndex;not null" json:"event_id"`
	EventType   string    `gorm:"not null" json:"event_type"`
	ProcessedAt time.Time `gorm:"autoCreateTime;index" json:"processed_at"`
}
