package repository

import (
	"testing"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/domain"
)

func TestMutationLogModelConversion(t *testing.T) {
	t.Parallel()

	msg := "gateway error: delete: status=502"
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	record := &domain.MutationRecord{
		ID:              "m1",
		CorrelationID:   "m1",
		UserID:          "u1",
		Kind:            domain.MutationDeleteMany,
		NotificationIDs: []string{"a", "b"},
		Outcome:         domain.OutcomeRolledBack,
		Error:           &msg,
		StartedAt:       started,
		SettledAt:       started.Add(time.Second),
	}

	model, err := mutationLogModelFromDomain(record)
	if err != nil {
		t.Fatalf("mutationLogModelFromDomain() error = %v", err)
	}
	if model.NotificationIDs != `["a","b"]` {
		t.Fatalf("NotificationIDs column = %s", model.NotificationIDs)
	}

	back := mutationLogModelToDomain(model)
	if back.Kind != record.Kind || back.Outcome != record.Outcome || back.UserID != "u1" {
		t.Fatalf("round trip = %+v", back)
	}
	if len(back.NotificationIDs) != 2 || back.NotificationIDs[1] != "b" {
		t.Fatalf("ids = %v", back.NotificationIDs)
	}
	if back.Error == nil || *back.Error != msg {
		t.Fatalf("error = %v", back.Error)
	}
}

func TestMutationLogModelWithoutIDs(t *testing.T) {
	t.Parallel()

	model, err := mutationLogModelFromDomain(&domain.MutationRecord{ID: "m2", Kind: domain.MutationDeleteAll})
	if err != nil {
		t.Fatalf("mutationLogModelFromDomain() error = %v", err)
	}
	if model.NotificationIDs != "[]" {
		t.Fatalf("NotificationIDs column = %s, want []", model.NotificationIDs)
	}

	if got := mutationLogModelToDomain(&MutationLogModel{NotificationIDs: "not json"}); len(got.NotificationIDs) != 0 {
		t.Fatalf("malformed ids = %v, want none", got.NotificationIDs)
	}
}
