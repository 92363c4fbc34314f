package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"coinsight/internal/events"
	"coinsight/internal/models"
	"coinsight/internal/testutil"
)

// captureAlerts records published alerts in memory.
type captureAlerts struct {
	alerts []*events.BudgetAlertEvent
}

func (c *captureAlerts) PublishAlert(_ context.Context, alert *events.BudgetAlertEvent) error {
	c.alerts = append(c.alerts, alert)
	return nil
}

// failingAlerts always fails to publish.
type failingAlerts struct{}

func (f *failingAlerts) PublishAlert(_ context.Context, _ *events.BudgetAlertEvent) error {
	return errors.New("broker unavailable")
}

func newCreatedEvent(userID string, categoryID int, amountCents int64) *events.TransactionCreatedEvent {
	return &events.TransactionCreatedEvent{
		ID:              testutil.NewUserID(),
		UserID:          userID,
		UserEmail:       "user@example.com",
		AmountCents:     amountCents,
		CategoryID:      categoryID,
		CategoryName:    "Groceries",
		CategoryType:    events.CategoryTypeExpense,
		Description:     "weekly shop",
		TransactionDate: time.Now().UTC(),
	}
}

func newDeletedEvent(transactionID, userID string, categoryID int, amountCents int64) *events.TransactionDeletedEvent {
	return &events.TransactionDeletedEvent{
		TransactionID:   transactionID,
		UserID:          userID,
		UserEmail:       "user@example.com",
		AmountCents:     amountCents,
		CategoryID:      categoryID,
		CategoryName:    "Groceries",
		CategoryType:    events.CategoryTypeExpense,
		TransactionDate: time.Now().UTC(),
		DeletedAt:       time.Now().UTC(),
	}
}

func currentSpent(t *testing.T, db *gorm.DB, budgetID string) int64 {
	t.Helper()
	var budget models.Budget
	if err := db.First(&budget, "id = ?", budgetID).Error; err != nil {
		t.Fatalf("failed to reload budget: %v", err)
	}
	return budget.CurrentSpentCents
}

func ledgerCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&models.ProcessedEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count processed events: %v", err)
	}
	return count
}

func TestHandleTransactionCreated(t *testing.T) {
	ctx := context.Background()

	t.Run("applies_expense_to_budget", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		budget := testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		alerts := &captureAlerts{}
		svc := NewTrackerService(db, NewLedgerService(db), alerts)

		err := svc.HandleTransactionCreated(ctx, newCreatedEvent(userID, 1, 500000), 0, 1)
		testutil.AssertNoError(t, err)

		if got := currentSpent(t, db, budget.ID); got != 500000 {
			t.Errorf("expected spent 500000, got %d", got)
		}
		if len(alerts.alerts) != 1 {
			t.Fatalf("expected 1 alert, got %d", len(alerts.alerts))
		}
		if alerts.alerts[0].AlertType != events.AlertTypeInfo {
			t.Errorf("expected INFO alert at 50%%, got %s", alerts.alerts[0].AlertType)
		}
		if alerts.alerts[0].ThresholdPercentage != 50 {
			t.Errorf("expected threshold 50, got %d", alerts.alerts[0].ThresholdPercentage)
		}
	})

	t.Run("redelivery_is_no_op", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		budget := testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		alerts := &captureAlerts{}
		svc := NewTrackerService(db, NewLedgerService(db), alerts)

		ev := newCreatedEvent(userID, 1, 500000)
		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, ev, 0, 7))
		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, ev, 0, 7))
		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, ev, 0, 7))

		if got := currentSpent(t, db, budget.ID); got != 500000 {
			t.Errorf("expected spent counted once at 500000, got %d", got)
		}
		if len(alerts.alerts) != 1 {
			t.Errorf("expected 1 alert for the first delivery only, got %d", len(alerts.alerts))
		}
		if got := ledgerCount(t, db); got != 1 {
			t.Errorf("expected 1 ledger row, got %d", got)
		}
	})

	t.Run("distinct_deliveries_accumulate", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		budget := testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		alerts := &captureAlerts{}
		svc := NewTrackerService(db, NewLedgerService(db), alerts)

		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, newCreatedEvent(userID, 1, 500000), 0, 1))
		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, newCreatedEvent(userID, 1, 350000), 0, 2))

		if got := currentSpent(t, db, budget.ID); got != 850000 {
			t.Errorf("expected spent 850000, got %d", got)
		}
		if len(alerts.alerts) != 2 {
			t.Fatalf("expected 2 alerts, got %d", len(alerts.alerts))
		}
		if alerts.alerts[1].AlertType != events.AlertTypeWarning {
			t.Errorf("expected WARNING alert at 85%%, got %s", alerts.alerts[1].AlertType)
		}
	})

	t.Run("exceeded_alert_at_limit", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		alerts := &captureAlerts{}
		svc := NewTrackerService(db, NewLedgerService(db), alerts)

		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, newCreatedEvent(userID, 1, 1000000), 0, 1))

		if len(alerts.alerts) != 1 {
			t.Fatalf("expected 1 alert, got %d", len(alerts.alerts))
		}
		if alerts.alerts[0].AlertType != events.AlertTypeExceeded {
			t.Errorf("expected EXCEEDED alert at 100%%, got %s", alerts.alerts[0].AlertType)
		}
	})

	t.Run("single_mutation_fires_only_highest_threshold", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		alerts := &captureAlerts{}
		svc := NewTrackerService(db, NewLedgerService(db), alerts)

		// One transaction crosses 50, 80 and 100 at once.
		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, newCreatedEvent(userID, 1, 2000000), 0, 1))

		if len(alerts.alerts) != 1 {
			t.Fatalf("expected a single alert, got %d", len(alerts.alerts))
		}
		if alerts.alerts[0].AlertType != events.AlertTypeExceeded {
			t.Errorf("expected only the EXCEEDED alert, got %s", alerts.alerts[0].AlertType)
		}
	})

	t.Run("below_info_threshold_no_alert", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		alerts := &captureAlerts{}
		svc := NewTrackerService(db, NewLedgerService(db), alerts)

		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, newCreatedEvent(userID, 1, 100000), 0, 1))

		if len(alerts.alerts) != 0 {
			t.Errorf("expected no alert at 10%%, got %d", len(alerts.alerts))
		}
	})

	t.Run("percentage_rounds_half_up", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		testutil.CreateTestBudget(t, db, userID, 1, 200000)
		alerts := &captureAlerts{}
		svc := NewTrackerService(db, NewLedgerService(db), alerts)

		// 99990/200000 = 49.995% which rounds half-up to 50.00%.
		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, newCreatedEvent(userID, 1, 99990), 0, 1))

		if len(alerts.alerts) != 1 {
			t.Fatalf("expected INFO alert from rounded 50.00%%, got %d alerts", len(alerts.alerts))
		}
		if alerts.alerts[0].AlertType != events.AlertTypeInfo {
			t.Errorf("expected INFO alert, got %s", alerts.alerts[0].AlertType)
		}
	})

	t.Run("just_below_rounding_boundary_no_alert", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		testutil.CreateTestBudget(t, db, userID, 1, 200000)
		alerts := &captureAlerts{}
		svc := NewTrackerService(db, NewLedgerService(db), alerts)

		// 99989/200000 = 49.9945% which rounds to 49.99%.
		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, newCreatedEvent(userID, 1, 99989), 0, 1))

		if len(alerts.alerts) != 0 {
			t.Errorf("expected no alert at 49.99%%, got %d", len(alerts.alerts))
		}
	})

	t.Run("non_expense_marked_processed_without_mutation", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		budget := testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		alerts := &captureAlerts{}
		svc := NewTrackerService(db, NewLedgerService(db), alerts)

		ev := newCreatedEvent(userID, 1, 500000)
		ev.CategoryType = "income"
		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, ev, 0, 1))

		if got := currentSpent(t, db, budget.ID); got != 0 {
			t.Errorf("expected spend untouched, got %d", got)
		}
		if got := ledgerCount(t, db); got != 1 {
			t.Errorf("expected event marked processed, ledger has %d rows", got)
		}
		if len(alerts.alerts) != 0 {
			t.Errorf("expected no alerts, got %d", len(alerts.alerts))
		}
	})

	t.Run("no_matching_budget_is_processed_no_op", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		alerts := &captureAlerts{}
		svc := NewTrackerService(db, NewLedgerService(db), alerts)

		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, newCreatedEvent(testutil.NewUserID(), 1, 500000), 0, 1))

		if got := ledgerCount(t, db); got != 1 {
			t.Errorf("expected event marked processed, ledger has %d rows", got)
		}
	})

	t.Run("inactive_budget_not_mutated", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		budget := testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		if err := db.Model(budget).Update("is_active", false).Error; err != nil {
			t.Fatalf("failed to deactivate budget: %v", err)
		}
		alerts := &captureAlerts{}
		svc := NewTrackerService(db, NewLedgerService(db), alerts)

		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, newCreatedEvent(userID, 1, 500000), 0, 1))

		if got := currentSpent(t, db, budget.ID); got != 0 {
			t.Errorf("expected inactive budget untouched, got spend %d", got)
		}
	})

	t.Run("alert_publish_failure_does_not_fail_processing", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		budget := testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		svc := NewTrackerService(db, NewLedgerService(db), &failingAlerts{})

		err := svc.HandleTransactionCreated(ctx, newCreatedEvent(userID, 1, 900000), 0, 1)
		testutil.AssertNoError(t, err)

		if got := currentSpent(t, db, budget.ID); got != 900000 {
			t.Errorf("expected spend committed despite publish failure, got %d", got)
		}
	})
}

func TestHandleTransactionDeleted(t *testing.T) {
	ctx := context.Background()

	t.Run("reverses_expense", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		budget := testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		alerts := &captureAlerts{}
		svc := NewTrackerService(db, NewLedgerService(db), alerts)

		created := newCreatedEvent(userID, 1, 850000)
		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, created, 0, 1))
		testutil.AssertNoError(t, svc.HandleTransactionDeleted(ctx, newDeletedEvent(created.ID, userID, 1, 350000), 0, 2))

		if got := currentSpent(t, db, budget.ID); got != 500000 {
			t.Errorf("expected spent 500000 after reversal, got %d", got)
		}
	})

	t.Run("reversal_never_fires_alerts", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		alerts := &captureAlerts{}
		svc := NewTrackerService(db, NewLedgerService(db), alerts)

		created := newCreatedEvent(userID, 1, 900000)
		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, created, 0, 1))
		alertsBefore := len(alerts.alerts)

		testutil.AssertNoError(t, svc.HandleTransactionDeleted(ctx, newDeletedEvent(created.ID, userID, 1, 100000), 0, 2))

		if len(alerts.alerts) != alertsBefore {
			t.Errorf("expected no alerts from reversal, got %d new", len(alerts.alerts)-alertsBefore)
		}
	})

	t.Run("reversal_clamps_at_zero", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		budget := testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		svc := NewTrackerService(db, NewLedgerService(db), &captureAlerts{})

		created := newCreatedEvent(userID, 1, 200000)
		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, created, 0, 1))
		testutil.AssertNoError(t, svc.HandleTransactionDeleted(ctx, newDeletedEvent(created.ID, userID, 1, 500000), 0, 2))

		if got := currentSpent(t, db, budget.ID); got != 0 {
			t.Errorf("expected spend clamped at 0, got %d", got)
		}
	})

	t.Run("redelivery_is_no_op", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		budget := testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		svc := NewTrackerService(db, NewLedgerService(db), &captureAlerts{})

		created := newCreatedEvent(userID, 1, 600000)
		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, created, 0, 1))

		del := newDeletedEvent(created.ID, userID, 1, 200000)
		testutil.AssertNoError(t, svc.HandleTransactionDeleted(ctx, del, 0, 2))
		testutil.AssertNoError(t, svc.HandleTransactionDeleted(ctx, del, 0, 2))

		if got := currentSpent(t, db, budget.ID); got != 400000 {
			t.Errorf("expected reversal applied once, got spend %d", got)
		}
	})

	t.Run("create_and_delete_at_same_coordinate_do_not_collide", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		budget := testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		svc := NewTrackerService(db, NewLedgerService(db), &captureAlerts{})

		created := newCreatedEvent(userID, 1, 300000)
		testutil.AssertNoError(t, svc.HandleTransactionCreated(ctx, created, 3, 42))
		// Same partition and offset on the deletion queue; the event kind
		// keeps the ledger identifiers distinct.
		testutil.AssertNoError(t, svc.HandleTransactionDeleted(ctx, newDeletedEvent(created.ID, userID, 1, 300000), 3, 42))

		if got := currentSpent(t, db, budget.ID); got != 0 {
			t.Errorf("expected net zero spend, got %d", got)
		}
		if got := ledgerCount(t, db); got != 2 {
			t.Errorf("expected 2 ledger rows, got %d", got)
		}
	})

	t.Run("non_expense_deletion_marked_processed", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		userID := testutil.NewUserID()
		budget := testutil.CreateTestBudget(t, db, userID, 1, 1000000)
		svc := NewTrackerService(db, NewLedgerService(db), &captureAlerts{})

		del := newDeletedEvent(testutil.NewUserID(), userID, 1, 100000)
		del.CategoryType = "income"
		testutil.AssertNoError(t, svc.HandleTransactionDeleted(ctx, del, 0, 1))

		if got := currentSpent(t, db, budget.ID); got != 0 {
			t.Errorf("expected spend untouched, got %d", got)
		}
		if got := ledgerCount(t, db); got != 1 {
			t.Errorf("expected event marked processed, ledger has %d rows", got)
		}
	})
}

func TestSpentBasisPoints(t *testing.T) {
	cases := []struct {
		name        string
		spent, limit int64
		want        int64
	}{
		{"zero_spend", 0, 100000, 0},
		{"half", 50000, 100000, 5000},
		{"exactly_limit", 100000, 100000, 10000},
		{"over_limit", 150000, 100000, 15000},
		{"rounds_half_up", 99990, 200000, 5000},
		{"rounds_down_below_half", 99989, 200000, 4999},
		{"zero_limit", 50000, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := spentBasisPoints(tc.spent, tc.limit); got != tc.want {
				t.Errorf("spentBasisPoints(%d, %d) = %d, want %d", tc.spent, tc.limit, got, tc.want)
			}
		})
	}
}
