package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"coinsight/internal/events"
	"coinsight/internal/models"
	"coinsight/internal/pagination"
)

// CategoryDirectory maps category ids to display names for budget responses
// and alerts. It is constructed explicitly and injected; there is no
// process-wide category table.
type CategoryDirectory map[int]string

// Name returns the display name for a category id, with a generic fallback
// for ids the directory does not know.
func (d CategoryDirectory) Name(id int) string {
	if name, ok := d[id]; ok {
		return name
	}
	return fmt.Sprintf("Category %d", id)
}

// BudgetResponse is the read-side shape of a budget, with derived fields.
type BudgetResponse struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	CategoryID        int                 `json:"category_id"`
	CategoryName      string              `json:"category_name"`
	AmountCents       int64               `json:"amount_cents"`
	CurrentSpentCents int64               `json:"current_spent_cents"`
	RemainingCents    int64               `json:"remaining_cents"`
	PercentageUsed    float64             `json:"percentage_used"`
	Period            models.BudgetPeriod `json:"period"`
	StartDate         time.Time           `json:"start_date"`
	EndDate           time.Time           `json:"end_date"`
	IsActive          bool                `json:"is_active"`
	IsExceeded        bool                `json:"is_exceeded"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// BudgetServicer defines the contract for budget lifecycle operations.
type BudgetServicer interface {
	CreateBudget(userID string, categoryID int, name string, amountCents int64, period models.BudgetPeriod) (*BudgetResponse, error)
	GetUserBudgets(userID string, page pagination.PageRequest, activeOnly bool) (*pagination.PageResponse[BudgetResponse], error)
	GetBudget(userID, budgetID string) (*BudgetResponse, error)
	UpdateBudget(userID, budgetID string, name string, amountCents *int64, period *models.BudgetPeriod) (*BudgetResponse, error)
	DeactivateBudget(userID, budgetID string) error
}

// TrackerServicer applies transaction lifecycle events to budgets with
// effectively-once semantics. The partition and offset form the delivery
// coordinate of the message being processed.
type TrackerServicer interface {
	HandleTransactionCreated(ctx context.Context, ev *events.TransactionCreatedEvent, partition int32, offset int64) error
	HandleTransactionDeleted(ctx context.Context, ev *events.TransactionDeletedEvent, partition int32, offset int64) error
}

// LedgerServicer is the processed-event dedup ledger.
type LedgerServicer interface {
	// IsProcessed and MarkProcessed run against the caller's transaction so
	// the ledger write commits atomically with the budget mutation it guards.
	IsProcessed(tx *gorm.DB, eventID string) (bool, error)
	MarkProcessed(tx *gorm.DB, eventID, eventType string) error
	// Prune deletes ledger rows older than the retention window.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// AlertPublisher delivers budget alerts downstream, best-effort.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert *events.BudgetAlertEvent) error
}

// AuditServicer defines the contract for audit logging.
type AuditServicer interface {
	Log(userID, action, resourceType, resourceID, ipAddress string, changes map[string]interface{})
}
