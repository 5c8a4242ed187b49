package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-sync/internal/domain"
)

const maxJournalLimit = 200

type MutationJournal interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]domain.MutationRecord, error)
}

type UserSource interface {
	IsAuthReady() bool
	UserID() string
}

type mutationRecordResponse struct {
	ID              string    `json:"id"`
	CorrelationID   string    `json:"correlationId"`
	Kind            string    `json:"kind"`
	NotificationIDs []string  `json:"notificationIds"`
	Outcome         string    `json:"outcome"`
	Error           *string   `json:"error,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	SettledAt       time.Time `json:"settledAt"`
}

func RegisterMutationLogRoutes(router fiber.Router, journal MutationJournal, users UserSource) error {
	if journal == nil {
		return fmt.Errorf("mutation journal is required")
	}
	if users == nil {
		return fmt.Errorf("user source is required")
	}

	router.Get("/v1/mutations", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 0)
		if limit < 0 || limit > maxJournalLimit {
			return fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxJournalLimit)
		}
		if !users.IsAuthReady() {
			return domain.ErrNotReady
		}

		records, err := journal.ListRecent(c.UserContext(), users.UserID(), limit)
		if err != nil {
			return err
		}

		data := make([]mutationRecordResponse, 0, len(records))
		for _, r := range records {
			ids := r.NotificationIDs
			if ids == nil {
				ids = []string{}
			}
			data = append(data, mutationRecordResponse{
				ID:              r.ID,
				CorrelationID:   r.CorrelationID,
				Kind:            r.Kind.String(),
				NotificationIDs: ids,
				Outcome:         string(r.Outcome),
				Error:           r.Error,
				StartedAt:       r.StartedAt,
				SettledAt:       r.SettledAt,
			})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
	})
	return nil
}
