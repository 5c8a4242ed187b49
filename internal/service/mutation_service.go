package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-sync/internal/cache"
	"github.com/kursadbilgin/notification-sync/internal/domain"
	"github.com/kursadbilgin/notification-sync/internal/gateway"
	"github.com/kursadbilgin/notification-sync/internal/observability"
	"github.com/kursadbilgin/notification-sync/internal/queue"
	"github.com/kursadbilgin/notification-sync/internal/repository"
	"go.uber.org/zap"
)

const sideEffectTimeout = 5 * time.Second

type MutationMetrics interface {
	ObserveMutation(kind, outcome string)
	ObserveRollback(kind string)
}

// MutationDeps are the optional collaborators of MutationService. Any of
// them may be nil.
type MutationDeps struct {
	Journal    repository.MutationLogRepository
	Publisher  queue.Publisher
	Metrics    MutationMetrics
	InstanceID string
	// Tokens pins the caller's bearer token to the gateway call so a session
	// change cannot hand the call another user's credentials.
	Tokens gateway.TokenSource
}

// MutationService applies writes optimistically to the cache, runs them
// against the gateway in the background and then commits or rolls back.
type MutationService struct {
	cache   *cache.Cache
	gateway gateway.Gateway
	auth    cache.AuthGate
	deps    MutationDeps
	logger  *zap.Logger
	now     func() time.Time

	// applyMu serializes snapshot/apply and commit/rollback across mutations.
	applyMu sync.Mutex
	wg      sync.WaitGroup
}

type snapshot struct {
	key     cache.Key
	before  cache.Entry
	after   cache.Entry
	version uint64
}

// flight is one issued mutation awaiting its gateway answer. Its cache writes
// are valid only while the cache is still in epoch and userID is signed in.
type flight struct {
	mutation  *Mutation
	plan      plan
	userID    string
	epoch     uint64
	startedAt time.Time
	snapshots []snapshot
	release   func()
	logger    *zap.Logger
}

type plan struct {
	kind      domain.MutationKind
	ids       []string
	transform func(entries []cache.Entry) transform
	call      func(ctx context.Context) error
}

func NewMutationService(
	c *cache.Cache,
	gw gateway.Gateway,
	auth cache.AuthGate,
	deps MutationDeps,
	logger *zap.Logger,
) (*MutationService, error) {
	if c == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if auth == nil {
		return nil, fmt.Errorf("auth gate is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MutationService{
		cache:   c,
		gateway: gw,
		auth:    auth,
		deps:    deps,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (s *MutationService) MarkRead(ctx context.Context, id string, opts ...MutationOption) *Mutation {
	id = strings.TrimSpace(id)
	ids := []string{id}
	return s.run(ctx, plan{
		kind: domain.MutationMarkRead,
		ids:  ids,
		transform: func(entries []cache.Entry) transform {
			set := idSet(ids)
			return markReadTransform(set, markReadHits(entries, set))
		},
		call: func(ctx context.Context) error { return s.gateway.MarkRead(ctx, id) },
	}, opts)
}

func (s *MutationService) MarkAllRead(ctx context.Context, opts ...MutationOption) *Mutation {
	return s.run(ctx, plan{
		kind:      domain.MutationMarkAllRead,
		transform: func([]cache.Entry) transform { return markAllReadTransform() },
		call:      s.gateway.MarkAllRead,
	}, opts)
}

func (s *MutationService) Delete(ctx context.Context, id string, opts ...MutationOption) *Mutation {
	id = strings.TrimSpace(id)
	ids := []string{id}
	return s.run(ctx, plan{
		kind: domain.MutationDelete,
		ids:  ids,
		transform: func(entries []cache.Entry) transform {
			set := idSet(ids)
			return deleteTransform(set, unreadAmong(entries, set))
		},
		call: func(ctx context.Context) error { return s.gateway.DeleteOne(ctx, id) },
	}, opts)
}

func (s *MutationService) DeleteMany(ctx context.Context, ids []string, opts ...MutationOption) *Mutation {
	ids = normalizeIDs(ids)
	return s.run(ctx, plan{
		kind: domain.MutationDeleteMany,
		ids:  ids,
		transform: func(entries []cache.Entry) transform {
			set := idSet(ids)
			return deleteTransform(set, unreadAmong(entries, set))
		},
		call: func(ctx context.Context) error { return s.gateway.DeleteMany(ctx, ids) },
	}, opts)
}

func (s *MutationService) DeleteAll(ctx context.Context, opts ...MutationOption) *Mutation {
	return s.run(ctx, plan{
		kind:      domain.MutationDeleteAll,
		transform: func([]cache.Entry) transform { return deleteAllTransform() },
		call:      s.gateway.DeleteAll,
	}, opts)
}

// Wait blocks until every mutation goroutine has finished.
func (s *MutationService) Wait() {
	s.wg.Wait()
}

func (s *MutationService) run(ctx context.Context, p plan, opts []MutationOption) *Mutation {
	if ctx == nil {
		ctx = context.Background()
	}

	m := newMutation(uuid.NewString(), p.kind, p.ids, opts)
	if _, ok := observability.CorrelationIDFromContext(ctx); !ok {
		ctx = observability.WithCorrelationID(ctx, m.ID)
	}
	if userID := s.auth.UserID(); userID != "" {
		ctx = observability.WithUserID(ctx, userID)
	}
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("mutationId", m.ID),
		zap.String("kind", p.kind.String()),
	)
	startedAt := s.now().UTC()

	if err := validatePlan(p); err != nil {
		s.reject(ctx, m, startedAt, err, logger)
		return m
	}
	if !s.auth.IsAuthReady() {
		s.reject(ctx, m, startedAt, domain.ErrNotReady, logger)
		return m
	}
	userID := s.auth.UserID()
	if s.deps.Tokens != nil {
		ctx = gateway.WithToken(ctx, s.deps.Tokens())
	}

	s.applyMu.Lock()
	epoch := s.cache.Epoch()
	touched := append(s.cache.KeysWhere(cache.Key.IsList), cache.UnreadCountKey())
	release := s.cache.Hold(touched...)

	present := make([]cache.Entry, 0, len(touched))
	for _, key := range touched {
		if entry, ok := s.cache.Peek(key); ok {
			present = append(present, entry)
		}
	}

	t := p.transform(present)
	now := s.now().UTC()
	snapshots := make([]snapshot, 0, len(present))
	for _, before := range present {
		after := t.apply(before, now)
		version, ok := s.cache.ReplaceInEpoch(epoch, before.Key, after)
		if !ok {
			break
		}
		snapshots = append(snapshots, snapshot{key: before.Key, before: before, after: after, version: version})
	}
	s.applyMu.Unlock()

	logger.Debug("optimistic mutation applied", zap.Int("entries", len(snapshots)))

	s.wg.Add(1)
	go s.execute(ctx, &flight{
		mutation:  m,
		plan:      p,
		userID:    userID,
		epoch:     epoch,
		startedAt: startedAt,
		snapshots: snapshots,
		release:   release,
		logger:    logger,
	})

	return m
}

func (s *MutationService) execute(ctx context.Context, f *flight) {
	defer s.wg.Done()

	// Mutations are never cancelled once issued.
	err := f.plan.call(context.WithoutCancel(ctx))

	s.applyMu.Lock()
	current := s.cache.Epoch() == f.epoch && s.auth.UserID() == f.userID
	if err != nil && current {
		s.rollbackLocked(f.epoch, f.snapshots)
	}
	f.release()
	s.applyMu.Unlock()

	logger := f.logger
	if !current {
		logger.Info("session changed while mutation was in flight, cache left untouched")
	}

	outcome := domain.OutcomeCommitted
	if err != nil {
		outcome = domain.OutcomeRolledBack
		if current {
			s.cache.InvalidateWhereInEpoch(f.epoch, isUnreadCount)
		}
		logger.Warn("mutation rolled back", zap.Error(err))
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveRollback(f.plan.kind.String())
		}
	} else {
		// Every entry, including lists first loaded while the call was in
		// flight, must reflect the committed write.
		if current {
			s.cache.InvalidateWhereInEpoch(f.epoch, nil)
		}
		logger.Info("mutation committed")
		s.publish(ctx, f.mutation, f.userID, logger)
	}

	s.record(ctx, f.mutation, f.userID, outcome, f.startedAt, err, logger)
	f.mutation.settle(err)
}

// rollbackLocked restores each touched entry. An entry nobody wrote since the
// optimistic apply is restored verbatim; otherwise only this mutation's diff
// is undone. Nothing is written once the cache has left epoch.
func (s *MutationService) rollbackLocked(epoch uint64, snapshots []snapshot) {
	for _, snap := range snapshots {
		current, version, ok := s.cache.PeekVersion(snap.key)
		if !ok {
			continue
		}
		restored := snap.before
		if version != snap.version {
			restored = revertEntry(snap.before, snap.after, current)
		}
		if _, ok := s.cache.ReplaceInEpoch(epoch, snap.key, restored); !ok {
			return
		}
	}
}

func (s *MutationService) reject(ctx context.Context, m *Mutation, startedAt time.Time, err error, logger *zap.Logger) {
	logger.Info("mutation rejected", zap.Error(err))
	s.record(ctx, m, s.auth.UserID(), domain.OutcomeRejected, startedAt, err, logger)
	m.settle(err)
}

func (s *MutationService) publish(ctx context.Context, m *Mutation, userID string, logger *zap.Logger) {
	if s.deps.Publisher == nil || userID == "" {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	event := queue.InvalidationEvent{
		EventID:         uuid.NewString(),
		UserID:          userID,
		Reason:          queue.ReasonMutation,
		MutationKind:    m.Kind,
		NotificationIDs: m.IDs,
		Origin:          s.deps.InstanceID,
		CorrelationID:   m.ID,
		OccurredAt:      s.now().UTC(),
	}
	if err := s.deps.Publisher.PublishInvalidation(pubCtx, event); err != nil {
		logger.Warn("failed to publish invalidation event", zap.Error(err))
	}
}

func (s *MutationService) record(
	ctx context.Context,
	m *Mutation,
	userID string,
	outcome domain.MutationOutcome,
	startedAt time.Time,
	err error,
	logger *zap.Logger,
) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveMutation(m.Kind.String(), string(outcome))
	}
	if s.deps.Journal == nil {
		return
	}

	record := &domain.MutationRecord{
		ID:              m.ID,
		CorrelationID:   m.ID,
		UserID:          userID,
		Kind:            m.Kind,
		NotificationIDs: m.IDs,
		Outcome:         outcome,
		StartedAt:       startedAt,
		SettledAt:       s.now().UTC(),
	}
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		record.CorrelationID = correlationID
	}
	if err != nil {
		msg := err.Error()
		record.Error = &msg
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if err := s.deps.Journal.Create(recCtx, record); err != nil {
		logger.Warn("failed to journal mutation", zap.Error(err))
	}
}

func isUnreadCount(key cache.Key) bool {
	return key.Scope == cache.ScopeUnreadCount
}

func validatePlan(p plan) error {
	switch p.kind {
	case domain.MutationMarkRead, domain.MutationDelete:
		if len(p.ids) != 1 || p.ids[0] == "" {
			return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
		}
	case domain.MutationDeleteMany:
		if len(p.ids) == 0 {
			return fmt.Errorf("%w: at least one notification id is required", domain.ErrValidation)
		}
	}
	return nil
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
