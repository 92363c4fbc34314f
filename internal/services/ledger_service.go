package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	apperrors "coinsight/internal/errors"
	"coinsight/internal/logger"
	"coinsight/internal/models"
)

// ledgerService is the processed-event dedup ledger backed by the
// processed_events table.
type ledgerService struct {
	db *gorm.DB
}

// NewLedgerService creates a new LedgerServicer.
func NewLedgerService(db *gorm.DB) LedgerServicer {
	return &ledgerService{db: db}
}

// IsProcessed reports whether the event identifier has already been applied.
func (s *ledgerService) IsProcessed(tx *gorm.DB, eventID string) (bool, error) {
	var count int64
	if err := tx.Model(&models.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error; err != nil {
		return false, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return count > 0, nil
}

// MarkProcessed records the event identifier in the caller's transaction.
// The unique index on event_id backstops concurrent duplicate processing:
// the second transaction fails to commit and its message is redelivered,
// where it then finds the identifier present.
func (s *ledgerService) MarkProcessed(tx *gorm.DB, eventID, eventType string) error {
	record := &models.ProcessedEvent{
		EventID:   eventID,
		EventType: eventType,
	}
	if err := tx.Create(record).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// Prune deletes ledger rows older than the retention window. Pruned
// identifiers can in principle be reprocessed, so the retention window must
// comfortably exceed the broker's maximum redelivery horizon.
func (s *ledgerService) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Where("processed_at < ?", cutoff).
		Delete(&models.ProcessedEvent{})
	if result.Error != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, result.Error)
	}

	if result.RowsAffected > 0 {
		logger.Get().Infow("pruned processed-event ledger",
			"deleted", result.RowsAffected,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return result.RowsAffected, nil
}
