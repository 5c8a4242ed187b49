package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/domain"
)

// MutationLogModel is the persistence model for the mutation_log table.
type MutationLogModel struct {
	ID              string                 `gorm:"type:uuid;primaryKey"`
	CorrelationID   string                 `gorm:"type:varchar(36);not null"`
	UserID          string                 `gorm:"type:varchar(64);not null"`
	Kind            domain.MutationKind    `gorm:"type:varchar(20);not null"`
	NotificationIDs string                 `gorm:"type:text;not null;default:'[]'"`
	Outcome         domain.MutationOutcome `gorm:"type:varchar(20);not null"`
	Error           *string                `gorm:"type:text"`
	StartedAt       time.Time              `gorm:"type:timestamptz;not null"`
	SettledAt       time.Time              `gorm:"type:timestamptz;not null"`
	CreatedAt       time.Time
}

func (MutationLogModel) TableName() string {
	return "mutation_log"
}

func mutationLogModelFromDomain(r *domain.MutationRecord) (*MutationLogModel, error) {
	if r == nil {
		return nil, nil
	}

	ids := r.NotificationIDs
	if ids == nil {
		ids = []string{}
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}

	return &MutationLogModel{
		ID:              r.ID,
		CorrelationID:   r.CorrelationID,
		UserID:          r.UserID,
		Kind:            r.Kind,
		NotificationIDs: string(encoded),
		Outcome:         r.Outcome,
		Error:           r.Error,
		StartedAt:       r.StartedAt,
		SettledAt:       r.SettledAt,
	}, nil
}

func mutationLogModelToDomain(m *MutationLogModel) *domain.MutationRecord {
	if m == nil {
		return nil
	}

	var ids []string
	if m.NotificationIDs != "" {
		// A malformed column degrades to no ids; the row is still useful.
		_ = json.Unmarshal([]byte(m.NotificationIDs), &ids)
	}

	return &domain.MutationRecord{
		ID:              m.ID,
		CorrelationID:   m.CorrelationID,
		UserID:          m.UserID,
		Kind:            m.Kind,
		NotificationIDs: ids,
		Outcome:         m.Outcome,
		Error:           m.Error,
		StartedAt:       m.StartedAt,
		SettledAt:       m.SettledAt,
	}
}
