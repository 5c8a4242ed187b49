package domain

import (
	"fmt"
	"strings"
	"time"
)

// MutationKind names one of the optimistic write operations.
type MutationKind string

const (
	MutationMarkRead    MutationKind = "MARK_READ"
	MutationMarkAllRead MutationKind = "MARK_ALL_READ"
	MutationDelete      MutationKind = "DELETE"
	MutationDeleteMany  MutationKind = "DELETE_MANY"
	MutationDeleteAll   MutationKind = "DELETE_ALL"
)

func (k MutationKind) String() string { return string(k) }

func (k MutationKind) IsValid() bool {
	switch k {
	case MutationMarkRead, MutationMarkAllRead, MutationDelete, MutationDeleteMany, MutationDeleteAll:
		return true
	}
	return false
}

func ParseMutationKindFromString(s string) (MutationKind, error) {
	k := MutationKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid mutation kind %q", ErrValidation, s)
	}
	return k, nil
}

// MutationOutcome is the settled result of a mutation.
type MutationOutcome string

const (
	OutcomeCommitted  MutationOutcome = "COMMITTED"
	OutcomeRolledBack MutationOutcome = "ROLLED_BACK"
	OutcomeRejected   MutationOutcome = "REJECTED"
)

func (o MutationOutcome) String() string { return string(o) }

// MutationRecord is the journal entry written once a mutation settles.
// REJECTED means the mutation never reached the cache (session not ready or
// invalid input).
type MutationRecord struct {
	ID              string
	CorrelationID   string
	UserID          string
	Kind            MutationKind
	NotificationIDs []string
	Outcome         MutationOutcome
	Error           *string
	StartedAt       time.Time
	SettledAt       time.Time
}
