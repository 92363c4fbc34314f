package testutil

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"coinsight/internal/models"
	"coinsight/internal/uuid"
)

// NewUserID returns a fresh user ID for tests.
func NewUserID() string {
	return uuid.New()
}

// CreateTestBudget creates an active monthly budget with the given limit for tests.
func CreateTestBudget(t *testing.T, db *gorm.DB, userID string, categoryID int, amountCents int64) *models.Budget {
	t.Helper()

	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	budget := &models.Budget{
		UserID:      userID,
		CategoryID:  categoryID,
		Name:        "Test Budget",
		AmountCents: amountCents,
		Period:      models.BudgetPeriodMonthly,
		StartDate:   start,
		EndDate:     models.BudgetPeriodMonthly.EndDateFrom(start),
		IsActive:    true,
	}
	if err := db.Create(budget).Error; err != nil {
		t.Fatalf("failed to create test budget: %v", err)
	}
	return budget
}
