package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/domain"
)

// EventReason says why a user's notifications changed.
type EventReason string

const (
	ReasonMutation EventReason = "mutation"
	ReasonCreated  EventReason = "created"
	ReasonUpdated  EventReason = "updated"
)

func (r EventReason) IsValid() bool {
	switch r {
	case ReasonMutation, ReasonCreated, ReasonUpdated:
		return true
	}
	return false
}

// InvalidationEvent is the broker payload announcing that a user's server-side
// notification state changed. Receivers only invalidate; the payload never
// carries notification bodies.
type InvalidationEvent struct {
	EventID         string              `json:"eventId"`
	UserID          string              `json:"userId"`
	Reason          EventReason         `json:"reason"`
	MutationKind    domain.MutationKind `json:"mutationKind,omitempty"`
	NotificationIDs []string            `json:"notificationIds,omitempty"`
	Origin          string              `json:"origin,omitempty"`
	CorrelationID   string              `json:"correlationId,omitempty"`
	OccurredAt      time.Time           `json:"occurredAt"`
}

func (e InvalidationEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("eventId is required")
	}
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	if !e.Reason.IsValid() {
		return fmt.Errorf("invalid reason %q", e.Reason)
	}
	if e.Reason == ReasonMutation && !e.MutationKind.IsValid() {
		return fmt.Errorf("invalid mutation kind %q", e.MutationKind)
	}
	return nil
}
