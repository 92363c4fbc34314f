package services

import (
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "coinsight/internal/errors"
	"coinsight/internal/logger"
	"coinsight/internal/models"
	"coinsight/internal/pagination"
)

// budgetService handles budget lifecycle operations. Spend mutation is not
// its job; that belongs to the tracker fed by transaction events.
type budgetService struct {
	db         *gorm.DB
	categories CategoryDirectory

	// resetSpentOnPeriodChange controls whether changing a budget's period
	// zeroes the accumulated spend or carries it into the new window.
	resetSpentOnPeriodChange bool
}

// NewBudgetService creates a new BudgetServicer.
func NewBudgetService(db *gorm.DB, categories CategoryDirectory, resetSpentOnPeriodChange bool) BudgetServicer {
	return &budgetService{
		db:                       db,
		categories:               categories,
		resetSpentOnPeriodChange: resetSpentOnPeriodChange,
	}
}

// CreateBudget creates a new active budget for a category. Only one active
// budget may exist per (user, category); a second attempt is rejected.
func (s *budgetService) CreateBudget(
	userID string,
	categoryID int,
	name string,
	amountCents int64,
	period models.BudgetPeriod,
) (*BudgetResponse, error) {
	if amountCents <= 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "amount must be greater than zero")
	}
	if !period.Valid() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "period must be weekly, monthly or yearly")
	}

	var created *models.Budget
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Budget{}).
			Where("user_id = ? AND category_id = ? AND is_active = ?", userID, categoryID, true).
			Count(&count).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		if count > 0 {
			return apperrors.ErrDuplicateBudget
		}

		startDate := today()
		budget := &models.Budget{
			UserID:            userID,
			CategoryID:        categoryID,
			Name:              name,
			AmountCents:       amountCents,
			Period:            period,
			StartDate:         startDate,
			EndDate:           period.EndDateFrom(startDate),
			CurrentSpentCents: 0,
			IsActive:          true,
		}
		if err := tx.Create(budget).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}

		created = budget
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Get().Infow("created budget", "budget_id", created.ID, "user_id", userID, "category_id", categoryID)
	return s.toResponse(created), nil
}

// GetUserBudgets returns a paginated list of the user's budgets. With
// activeOnly set, only budgets that are active and whose window contains
// today are returned.
func (s *budgetService) GetUserBudgets(
	userID string,
	page pagination.PageRequest,
	activeOnly bool,
) (*pagination.PageResponse[BudgetResponse], error) {
	page.Defaults()

	base := s.db.Model(&models.Budget{}).Where("user_id = ?", userID)
	if activeOnly {
		now := today()
		base = base.Where("is_active = ? AND start_date <= ? AND end_date >= ?", true, now, now)
	}

	var totalItems int64
	if err := base.Count(&totalItems).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var budgets []models.Budget
	if err := base.Scopes(pagination.Paginate(page)).
		Order("created_at DESC").
		Find(&budgets).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	responses := make([]BudgetResponse, 0, len(budgets))
	for i := range budgets {
		responses = append(responses, *s.toResponse(&budgets[i]))
	}

	result := pagination.NewPageResponse(responses, page.Page, page.PageSize, totalItems)
	return &result, nil
}

// GetBudget returns a budget by ID if it belongs to the user.
func (s *budgetService) GetBudget(userID, budgetID string) (*BudgetResponse, error) {
	budget, err := s.findOwned(s.db, userID, budgetID)
	if err != nil {
		return nil, err
	}
	return s.toResponse(budget), nil
}

// UpdateBudget applies a partial update. A name-only change is a plain
// metadata write. An amount change never touches accumulated spend. A period
// change recomputes the window end from the unchanged start date; whether it
// also resets spend is the configured policy.
func (s *budgetService) UpdateBudget(
	userID, budgetID string,
	name string,
	amountCents *int64,
	period *models.BudgetPeriod,
) (*BudgetResponse, error) {
	if amountCents != nil && *amountCents <= 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "amount must be greater than zero")
	}
	if period != nil && !period.Valid() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "period must be weekly, monthly or yearly")
	}

	var updated *models.Budget
	err := s.db.Transaction(func(tx *gorm.DB) error {
		budget, err := s.findOwned(tx, userID, budgetID)
		if err != nil {
			return err
		}

		updates := make(map[string]interface{})
		if name != "" && name != budget.Name {
			updates["name"] = name
		}
		if amountCents != nil && *amountCents != budget.AmountCents {
			updates["amount_cents"] = *amountCents
		}
		if period != nil && *period != budget.Period {
			updates["period"] = *period
			updates["end_date"] = period.EndDateFrom(budget.StartDate)
			if s.resetSpentOnPeriodChange {
				updates["current_spent_cents"] = int64(0)
			}
		}

		if len(updates) > 0 {
			if err := tx.Model(budget).Updates(updates).Error; err != nil {
				return apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
		}

		updated = budget
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Get().Infow("updated budget", "budget_id", budgetID, "user_id", userID)
	return s.toResponse(updated), nil
}

// DeactivateBudget flips the active flag off. The row and its spend history
// stay; the user may then create a new active budget for the same category.
func (s *budgetService) DeactivateBudget(userID, budgetID string) error {
	budget, err := s.findOwned(s.db, userID, budgetID)
	if err != nil {
		return err
	}

	if err := s.db.Model(budget).Update("is_active", false).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	logger.Get().Infow("deactivated budget", "budget_id", budgetID, "user_id", userID)
	return nil
}

// findOwned loads a budget scoped to its owner.
func (s *budgetService) findOwned(tx *gorm.DB, userID, budgetID string) (*models.Budget, error) {
	var budget models.Budget
	if err := tx.Where("id = ? AND user_id = ?", budgetID, userID).First(&budget).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrBudgetNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &budget, nil
}

func (s *budgetService) toResponse(b *models.Budget) *BudgetResponse {
	return &BudgetResponse{
		ID:                b.ID,
		Name:              b.Name,
		CategoryID:        b.CategoryID,
		CategoryName:      s.categories.Name(b.CategoryID),
		AmountCents:       b.AmountCents,
		CurrentSpentCents: b.CurrentSpentCents,
		RemainingCents:    b.RemainingCents(),
		PercentageUsed:    float64(spentBasisPoints(b.CurrentSpentCents, b.AmountCents)) / 100,
		Period:            b.Period,
		StartDate:         b.StartDate,
		EndDate:           b.EndDate,
		IsActive:          b.IsActive,
		IsExceeded:        b.IsExceeded(),
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

// today returns the current date truncated to midnight UTC. Budget windows
// are whole dates, not instants.
func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
