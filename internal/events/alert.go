package events

import (
	"encoding/json"
	"time"
)

// AlertType classifies how far spending has progressed against the limit.
type AlertType string

const (
	AlertTypeInfo     AlertType = "INFO"     // crossed 50%
	AlertTypeWarning  AlertType = "WARNING"  // crossed 80%
	AlertTypeExceeded AlertType = "EXCEEDED" // reached or passed 100%
)

// BudgetAlertEvent is emitted after a spend mutation pushes a budget past a
// threshold. It is derived state, published best-effort after commit, and is
// never persisted by the budget service itself.
type BudgetAlertEvent struct {
	BudgetID            string    `json:"budget_id"`
	UserID              string    `json:"user_id"`
	UserEmail           string    `json:"user_email"`
	BudgetName          string    `json:"budget_name"`
	CategoryName        string    `json:"category_name"`
	BudgetLimitCents    int64     `json:"budget_limit_cents"`
	CurrentSpentCents   int64     `json:"current_spent_cents"`
	TransactionCents    int64     `json:"transaction_cents"`
	ThresholdPercentage int       `json:"threshold_percentage"`
	AlertType           AlertType `json:"alert_type"`
	AlertTime           time.Time `json:"alert_time"`
}

// Encode marshals the alert for publishing.
func (e *BudgetAlertEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}
