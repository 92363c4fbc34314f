package models

import "time"

// BudgetPeriod represents the period type for a budget
type BudgetPeriod string

const (
	BudgetPeriodWeekly  BudgetPeriod = "weekly"
	BudgetPeriodMonthly BudgetPeriod = "monthly"
	BudgetPeriodYearly  BudgetPeriod = "yearly"
)

// Valid reports whether p is one of the known budget periods.
func (p BudgetPeriod) Valid() bool {
	switch p {
	case BudgetPeriodWeekly, BudgetPeriodMonthly, BudgetPeriodYearly:
		return true
	}
	return false
}

// EndDateFrom returns the window end for a window starting at start:
// the start date advanced by exactly one period unit.
func (p BudgetPeriod) EndDateFrom(start time.Time) time.Time {
	switch p {
	case BudgetPeriodWeekly:
		return start.AddDate(0, 0, 7)
	case BudgetPeriodMonthly:
		return start.AddDate(0, 1, 0)
	case BudgetPeriodYearly:
		return start.AddDate(1, 0, 0)
	}
	return start
}

// Budget represents a spending budget for one user and category. At most one
// active budget may exist per (user, category) pair at any time; the spend
// counter is mutated only by the transaction-event consumer.
type Budget struct {
	Base
	UserID            string       `gorm:"type:uuid;not null;index:idx_budgets_user_category" json:"user_id"`
	CategoryID        int          `gorm:"not null;index:idx_budgets_user_category" json:"category_id"`
	Name              string       `gorm:"not null" json:"name"`
	AmountCents       int64        `gorm:"type:bigint;not null" json:"amount_cents"`
	Period            BudgetPeriod `gorm:"not null" json:"period"`
	StartDate         time.Time    `gorm:"not null" json:"start_date"`
	EndDate           time.Time    `gorm:"not null" json:"end_date"`
	CurrentSpentCents int64        `gorm:"type:bigint;not null;default:0" json:"current_spent_cents"`
	IsActive          bool         `gorm:"default:true" json:"is_active"`
}

// RemainingCents returns the unspent portion of the budget. Negative when exceeded.
func (b *Budget) RemainingCents() int64 {
	return b.AmountCents - b.CurrentSpentCents
}

// IsExceeded reports whether spending has gone past the budget limit.
func (b *Budget) IsExceeded() bool {
	return b.CurrentSpentCents > b.AmountCents
}
