package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/cache"
	"github.com/kursadbilgin/notification-sync/internal/queue"
	"go.uber.org/zap"
)

// InvalidationListener reconciles the cache when the server or another
// engine instance reports that the user's notifications changed.
type InvalidationListener struct {
	cache      *cache.Cache
	auth       cache.AuthGate
	instanceID string
	logger     *zap.Logger
}

func NewInvalidationListener(c *cache.Cache, auth cache.AuthGate, instanceID string, logger *zap.Logger) (*InvalidationListener, error) {
	if c == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if auth == nil {
		return nil, fmt.Errorf("auth gate is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InvalidationListener{
		cache:      c,
		auth:       auth,
		instanceID: strings.TrimSpace(instanceID),
		logger:     logger,
	}, nil
}

// Handle invalidates every cached entry for events addressed to the current
// user. Events this instance published itself are ignored; its own mutation
// already reconciled.
func (l *InvalidationListener) Handle(_ context.Context, event queue.InvalidationEvent) error {
	if !l.auth.IsAuthReady() {
		return nil
	}

	if event.UserID != l.auth.UserID() {
		l.logger.Debug("ignoring invalidation for another user", zap.String("eventId", event.EventID))
		return nil
	}
	if l.instanceID != "" && event.Origin == l.instanceID {
		return nil
	}

	l.cache.Refresh()
	if _, ok := l.cache.Peek(cache.UnreadCountKey()); !ok {
		l.cache.Get(cache.UnreadCountKey())
	}

	l.logger.Info("cache invalidated by event",
		zap.String("eventId", event.EventID),
		zap.String("reason", string(event.Reason)),
	)
	return nil
}

// HandlePush adapts a raw socket frame. Frames that are not invalidation
// events are treated as "something was created" for the current user.
func (l *InvalidationListener) HandlePush(ctx context.Context, payload []byte) error {
	var event queue.InvalidationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		event = queue.InvalidationEvent{}
	}

	if event.UserID == "" {
		event.UserID = l.auth.UserID()
	}
	if !event.Reason.IsValid() {
		event.Reason = queue.ReasonCreated
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	return l.Handle(ctx, event)
}
