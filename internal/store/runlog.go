package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"invoice-harvester-go/internal/models"
)

// RunLogRepository persists one row per run
type RunLogRepository struct {
	db *gorm.DB
}

// NewRunLogRepository creates a repository on db
func NewRunLogRepository(db *gorm.DB) *RunLogRepository {
	return &RunLogRepository{db: db}
}

// Create inserts a run log row
func (r *RunLogRepository) Create(ctx context.Context, log *models.RunLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to create run log: %w", err)
	}
	return nil
}

// Finish updates the counters and end state of a run
func (r *RunLogRepository) Finish(ctx context.Context, log *models.RunLog) error {
	if err := r.db.WithContext(ctx).Save(log).Error; err != nil {
		return fmt.Errorf("failed to update run log: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first
func (r *RunLogRepository) Recent(ctx context.Context, limit int) ([]models.RunLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var logs []models.RunLog
	result := r.db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(limit).Find(&logs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get run logs: %w", result.Error)
	}
	return logs, nil
}
