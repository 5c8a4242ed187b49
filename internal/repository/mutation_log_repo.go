package repository

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notification-sync/internal/domain"
	"gorm.io/gorm"
)

const defaultListRecentLimit = 50

type MutationLogRepository interface {
	Create(ctx context.Context, r *domain.MutationRecord) error
	ListRecent(ctx context.Context, userID string, limit int) ([]domain.MutationRecord, error)
}

type GormMutationLogRepo struct {
	db *gorm.DB
}

func NewGormMutationLogRepo(db *gorm.DB) *GormMutationLogRepo {
	return &GormMutationLogRepo{db: db}
}

func (r *GormMutationLogRepo) Create(ctx context.Context, record *domain.MutationRecord) error {
	if record == nil {
		return fmt.Errorf("%w: mutation record is required", domain.ErrValidation)
	}

	model, err := mutationLogModelFromDomain(record)
	if err != nil {
		return fmt.Errorf("failed to encode mutation record: %w", err)
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *GormMutationLogRepo) ListRecent(ctx context.Context, userID string, limit int) ([]domain.MutationRecord, error) {
	if limit <= 0 {
		limit = defaultListRecentLimit
	}

	var models []MutationLogModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("settled_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.MutationRecord, 0, len(models))
	for i := range models {
		records = append(records, *mutationLogModelToDomain(&models[i]))
	}

	return records, nil
}
