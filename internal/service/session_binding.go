package service

import (
	"context"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/cache"
	"github.com/kursadbilgin/notification-sync/internal/session"
	"go.uber.org/zap"
)

const warmTimeout = 3 * time.Second

// BindSession keeps the cache in step with the session guard. A new or
// different user resets the cache, warms it from the snapshot store and
// refreshes it. Leaving Ready drops everything and cancels fetches.
func BindSession(guard *session.Guard, c *cache.Cache, logger *zap.Logger) (unbind func()) {
	if logger == nil {
		logger = zap.NewNop()
	}

	return guard.Subscribe(func(prev, next session.AuthState) {
		if !next.IsReady() {
			c.Reset()
			return
		}

		prevUser, _ := prev.User()
		nextUser, _ := next.User()
		if prevUser.ID != nextUser.ID {
			c.Reset()
		}

		ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
		defer cancel()
		if err := c.Warm(ctx); err != nil {
			logger.Warn("cache warm-up failed", zap.Error(err))
		}

		c.Refresh()
		c.Get(cache.UnreadCountKey())
	})
}

// RunPerUser runs fn for the signed-in user until ctx is done. fn is
// restarted with a fresh context whenever the user changes and stopped on
// logout. An error from fn is logged; fn runs again only on the next user
// change.
func RunPerUser(ctx context.Context, guard *session.Guard, name string, fn func(ctx context.Context, userID string) error, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	changed := make(chan struct{}, 1)
	signal := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	unsubscribe := guard.Subscribe(func(session.AuthState, session.AuthState) { signal() })
	defer unsubscribe()
	signal()

	var (
		current string
		cancel  context.CancelFunc
		done    chan struct{}
	)
	stop := func() {
		if cancel == nil {
			return
		}
		cancel()
		<-done
		cancel, done = nil, nil
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}

		userID := guard.UserID()
		if userID == current {
			continue
		}
		stop()
		current = userID
		if userID == "" {
			logger.Debug("per-user task stopped", zap.String("task", name))
			continue
		}

		runCtx, runCancel := context.WithCancel(ctx)
		cancel, done = runCancel, make(chan struct{})
		go func(finished chan struct{}) {
			defer close(finished)
			if err := fn(runCtx, userID); err != nil && runCtx.Err() == nil {
				logger.Warn("per-user task failed",
					zap.String("task", name),
					zap.String("userId", userID),
					zap.Error(err),
				)
			}
		}(done)
		logger.Debug("per-user task started", zap.String("task", name), zap.String("userId", userID))
	}
}
