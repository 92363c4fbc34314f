package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coinsight/internal/events"
	"coinsight/internal/logger"
	"coinsight/internal/models"
)

// Alert thresholds in basis points of the budget limit.
const (
	thresholdInfoBP     = 5000  // 50%
	thresholdWarningBP  = 8000  // 80%
	thresholdExceededBP = 10000 // 100%
)

// trackerService applies transaction lifecycle events to budgets. Each event
// is handled inside one database transaction that covers the dedup check, the
// spend mutation, and the ledger insert; the caller acknowledges the message
// only after that transaction commits.
type trackerService struct {
	db     *gorm.DB
	ledger LedgerServicer
	alerts AlertPublisher
	now    func() time.Time
}

// NewTrackerService creates a new TrackerServicer.
func NewTrackerService(db *gorm.DB, ledger LedgerServicer, alerts AlertPublisher) TrackerServicer {
	return &trackerService{
		db:     db,
		ledger: ledger,
		alerts: alerts,
		now:    time.Now,
	}
}

// HandleTransactionCreated adds an expense to the matching active budget and
// evaluates alert thresholds against the post-mutation spend.
func (s *trackerService) HandleTransactionCreated(
	ctx context.Context,
	ev *events.TransactionCreatedEvent,
	partition int32,
	offset int64,
) error {
	eventID := events.ID(ev.ID, events.KindCreated, partition, offset)
	log := logger.Get()

	var alert *events.BudgetAlertEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		processed, err := s.ledger.IsProcessed(tx, eventID)
		if err != nil {
			return err
		}
		if processed {
			log.Infow("transaction creation event already processed", "event_id", eventID)
			return nil
		}

		if ev.CategoryType == events.CategoryTypeExpense {
			budget, err := s.lockActiveBudget(tx, ev.UserID, ev.CategoryID)
			if err != nil {
				return err
			}
			if budget != nil {
				if err := s.applyExpense(tx, budget, ev.AmountCents); err != nil {
					return err
				}
				alert = s.evaluateThresholds(budget, ev)
			} else {
				// A transaction need not have an active budget.
				log.Infow("no active budget for transaction",
					"user_id", ev.UserID, "category_id", ev.CategoryID)
			}
		}

		return s.ledger.MarkProcessed(tx, eventID, models.EventTypeTransactionCreated)
	})
	if err != nil {
		return err
	}

	// Publishing is outside the transaction: the mutation has already
	// durably committed, and losing an alert is acceptable degradation.
	if alert != nil {
		if err := s.alerts.PublishAlert(ctx, alert); err != nil {
			log.Errorw("failed to publish budget alert",
				"budget_id", alert.BudgetID, "error", err)
		}
	}
	return nil
}

// HandleTransactionDeleted reverses a previously counted expense. Reversal
// never drives spend below zero and never fires alerts.
func (s *trackerService) HandleTransactionDeleted(
	ctx context.Context,
	ev *events.TransactionDeletedEvent,
	partition int32,
	offset int64,
) error {
	eventID := events.ID(ev.TransactionID, events.KindDeleted, partition, offset)
	log := logger.Get()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		processed, err := s.ledger.IsProcessed(tx, eventID)
		if err != nil {
			return err
		}
		if processed {
			log.Infow("transaction deletion event already processed", "event_id", eventID)
			return nil
		}

		if ev.CategoryType == events.CategoryTypeExpense {
			budget, err := s.lockActiveBudget(tx, ev.UserID, ev.CategoryID)
			if err != nil {
				return err
			}
			if budget != nil {
				if err := s.reverseExpense(tx, budget, ev.AmountCents); err != nil {
					return err
				}
			} else {
				log.Infow("no active budget for deleted transaction",
					"user_id", ev.UserID, "category_id", ev.CategoryID)
			}
		}

		return s.ledger.MarkProcessed(tx, eventID, models.EventTypeTransactionDeleted)
	})
}

// lockActiveBudget loads the single active budget for (user, category) with a
// row lock, so concurrent events for the same budget serialize their
// read-modify-write. Returns nil without error when no active budget exists.
func (s *trackerService) lockActiveBudget(tx *gorm.DB, userID string, categoryID int) (*models.Budget, error) {
	q := tx.Where("user_id = ? AND category_id = ? AND is_active = ?", userID, categoryID, true)
	if tx.Dialector.Name() == "postgres" {
		// SQLite (used in tests) has no SELECT FOR UPDATE; its writes
		// serialize on the database lock instead.
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var budget models.Budget
	if err := q.First(&budget).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &budget, nil
}

// applyExpense adds the amount to the budget's current spend.
func (s *trackerService) applyExpense(tx *gorm.DB, budget *models.Budget, amountCents int64) error {
	oldSpent := budget.CurrentSpentCents
	budget.CurrentSpentCents = oldSpent + amountCents

	if err := tx.Model(budget).Update("current_spent_cents", budget.CurrentSpentCents).Error; err != nil {
		return err
	}

	logger.Get().Infow("updated budget spending",
		"budget_id", budget.ID,
		"old_spent_cents", oldSpent,
		"new_spent_cents", budget.CurrentSpentCents,
	)
	return nil
}

// reverseExpense subtracts the amount from the budget's current spend,
// clamping at zero. Going below zero means the spend was already adjusted
// between the create and delete events; it is worth a warning, not an error.
func (s *trackerService) reverseExpense(tx *gorm.DB, budget *models.Budget, amountCents int64) error {
	newSpent := budget.CurrentSpentCents - amountCents
	if newSpent < 0 {
		logger.Get().Warnw("budget reversal would go negative, clamping to zero",
			"budget_id", budget.ID,
			"current_spent_cents", budget.CurrentSpentCents,
			"reversal_cents", amountCents,
		)
		newSpent = 0
	}
	budget.CurrentSpentCents = newSpent

	if err := tx.Model(budget).Update("current_spent_cents", newSpent).Error; err != nil {
		return err
	}

	logger.Get().Infow("reversed budget spending",
		"budget_id", budget.ID,
		"reversal_cents", amountCents,
		"new_spent_cents", newSpent,
	)
	return nil
}

// evaluateThresholds classifies the post-mutation spend percentage and builds
// the alert for the single highest threshold reached, or nil below 50%.
func (s *trackerService) evaluateThresholds(budget *models.Budget, ev *events.TransactionCreatedEvent) *events.BudgetAlertEvent {
	bp := spentBasisPoints(budget.CurrentSpentCents, budget.AmountCents)

	var alertType events.AlertType
	var threshold int
	switch {
	case bp >= thresholdExceededBP:
		alertType, threshold = events.AlertTypeExceeded, 100
	case bp >= thresholdWarningBP:
		alertType, threshold = events.AlertTypeWarning, 80
	case bp >= thresholdInfoBP:
		alertType, threshold = events.AlertTypeInfo, 50
	default:
		return nil
	}

	return &events.BudgetAlertEvent{
		BudgetID:            budget.ID,
		UserID:              ev.UserID,
		UserEmail:           ev.UserEmail,
		BudgetName:          budget.Name,
		CategoryName:        ev.CategoryName,
		BudgetLimitCents:    budget.AmountCents,
		CurrentSpentCents:   budget.CurrentSpentCents,
		TransactionCents:    ev.AmountCents,
		ThresholdPercentage: threshold,
		AlertType:           alertType,
		AlertTime:           s.now(),
	}
}

// spentBasisPoints returns spent/limit in basis points (1% = 100), rounded
// half-up at the fourth decimal of the ratio. Zero or negative limits report
// zero rather than dividing by zero.
func spentBasisPoints(spentCents, limitCents int64) int64 {
	if limitCents <= 0 {
		return 0
	}
	return (spentCents*10000 + limitCents/2) / limitCents
}
