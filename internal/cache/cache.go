// Package cache holds the query-keyed notification entries shared by every
// consumer surface, and owns fetch dispatch, staleness and cancellation.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/domain"
	"github.com/kursadbilgin/notification-sync/internal/gateway"
	"github.com/kursadbilgin/notification-sync/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	DefaultListStaleAfter  = 30 * time.Second
	DefaultCountStaleAfter = 0
	DefaultMaxAttempts     = 2
	defaultRetryDelay      = time.Second
	persistTimeout         = 2 * time.Second
)

// AuthGate is the session signal. No fetch is dispatched while it is not ready.
type AuthGate interface {
	IsAuthReady() bool
	UserID() string
}

// SnapshotStore persists settled entries so a restarted engine can serve
// stale values while its first refresh is in flight.
type SnapshotStore interface {
	Save(ctx context.Context, userID string, entry Entry) error
	LoadAll(ctx context.Context, userID string) ([]Entry, error)
}

type Metrics interface {
	ObserveFetch(scope, outcome string)
	ObserveDiscardedFetch(scope string)
	SetUnreadCount(count int)
}

type Options struct {
	ListStaleAfter  time.Duration
	CountStaleAfter time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	Limiter         ratelimit.RateLimiter
	Store           SnapshotStore
	Metrics         Metrics
}

type slot struct {
	entry   Entry
	present bool
	version uint64
	gen     uint64
	fetch   *inflight
	holds   int
}

type inflight struct {
	gen    uint64
	cancel context.CancelFunc
}

// Cache is safe for concurrent use. Every operation on it is a short critical
// section; gateway calls run in background goroutines.
type Cache struct {
	gateway gateway.Gateway
	auth    AuthGate
	opts    Options
	metrics Metrics
	logger  *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu          sync.Mutex
	slots       map[Key]*slot
	epoch       uint64
	changed     chan struct{}
	subscribers map[int]func(Key)
	nextSubID   int
}

func New(gw gateway.Gateway, auth AuthGate, opts Options, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ListStaleAfter <= 0 {
		opts.ListStaleAfter = DefaultListStaleAfter
	}
	if opts.CountStaleAfter < 0 {
		opts.CountStaleAfter = DefaultCountStaleAfter
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Cache{
		gateway:     gw,
		auth:        auth,
		opts:        opts,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepWithContext,
		rootCtx:     ctx,
		rootCancel:  cancel,
		slots:       make(map[Key]*slot),
		changed:     make(chan struct{}),
		subscribers: make(map[int]func(Key)),
	}
}

// Get returns the entry for key. An absent or stale entry triggers one
// background fetch when auth is ready and the key is not held by a mutation.
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slotLocked(key)
	c.maybeDispatchLocked(key, s)
	if !s.present {
		return Entry{}, false
	}
	return s.entry.Clone(), true
}

// Peek returns the entry without triggering a fetch.
func (c *Cache) Peek(key Key) (Entry, bool) {
	entry, _, ok := c.PeekVersion(key)
	return entry, ok
}

// PeekVersion also returns the write version, which changes on every write.
func (c *Cache) PeekVersion(key Key) (Entry, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[key]
	if !ok || !s.present {
		return Entry{}, 0, false
	}
	return s.entry.Clone(), s.version, true
}

// Await behaves like Get and, when the entry is absent, waits for the fetch it
// dispatched. It returns an empty entry and false when nothing can be fetched.
func (c *Cache) Await(ctx context.Context, key Key) (Entry, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	for first := true; ; first = false {
		c.mu.Lock()
		s := c.slotLocked(key)
		if first || !s.present {
			c.maybeDispatchLocked(key, s)
		}
		if s.present {
			entry := s.entry.Clone()
			c.mu.Unlock()
			return entry, true
		}
		if s.fetch == nil && s.holds == 0 {
			c.mu.Unlock()
			return emptyEntry(key), false
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return emptyEntry(key), false
		case <-changed:
		}
	}
}

// Epoch identifies the current session generation. Reset starts a new one.
func (c *Cache) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Replace writes entry synchronously without touching the network and returns
// the new version.
func (c *Cache) Replace(key Key, entry Entry) uint64 {
	c.mu.Lock()
	entry, version := c.replaceLocked(key, entry)
	c.mu.Unlock()

	c.afterWrite(key, entry)
	return version
}

// ReplaceInEpoch is Replace limited to epoch. It writes nothing and returns
// false once Reset has moved the cache on.
func (c *Cache) ReplaceInEpoch(epoch uint64, key Key, entry Entry) (uint64, bool) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return 0, false
	}
	entry, version := c.replaceLocked(key, entry)
	c.mu.Unlock()

	c.afterWrite(key, entry)
	return version, true
}

// Invalidate marks entries stale. Present entries refresh in the background
// unless held; absent ones fetch on their next Get. A fetch already in flight
// is restarted so it cannot settle with data from before the invalidation.
func (c *Cache) Invalidate(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if s, ok := c.slots[key]; ok {
			c.invalidateLocked(key, s)
		}
	}
}

// InvalidateWhere invalidates every present or loading entry whose key
// matches. A nil match selects every entry.
func (c *Cache) InvalidateWhere(match func(Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateWhereLocked(match)
}

// InvalidateWhereInEpoch is InvalidateWhere limited to epoch.
func (c *Cache) InvalidateWhereInEpoch(epoch uint64, match func(Key) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		return false
	}
	c.invalidateWhereLocked(match)
	return true
}

// Cancel drops the in-flight fetch for key. Its result is discarded.
func (c *Cache) Cancel(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.slots[key]; ok {
		c.cancelLocked(key, s)
	}
}

// Hold cancels in-flight fetches for keys and suppresses new ones until the
// returned release func is called. Holds nest. A release after Reset is a
// no-op.
func (c *Cache) Hold(keys ...Key) (release func()) {
	c.mu.Lock()
	epoch := c.epoch
	for _, key := range keys {
		s := c.slotLocked(key)
		c.cancelLocked(key, s)
		s.holds++
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.epoch != epoch {
				return
			}
			for _, key := range keys {
				if s, ok := c.slots[key]; ok && s.holds > 0 {
					s.holds--
				}
			}
			c.broadcastLocked()
		})
	}
}

// Keys returns present keys in a stable order.
func (c *Cache) Keys() []Key {
	return c.KeysWhere(nil)
}

func (c *Cache) KeysWhere(match func(Key) bool) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]Key, 0, len(c.slots))
	for key, s := range c.slots {
		if !s.present {
			continue
		}
		if match != nil && !match(key) {
			continue
		}
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys
}

// Notifications returns every cached notification accepted by match,
// de-duplicated by id.
func (c *Cache) Notifications(match func(domain.Notification) bool) []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]Key, 0, len(c.slots))
	for key, s := range c.slots {
		if s.present && key.IsList() {
			keys = append(keys, key)
		}
	}
	sortKeys(keys)

	seen := make(map[string]struct{})
	out := make([]domain.Notification, 0)
	for _, key := range keys {
		for _, n := range c.slots[key].entry.Page.Notifications {
			if _, dup := seen[n.ID]; dup {
				continue
			}
			if match != nil && !match(n) {
				continue
			}
			seen[n.ID] = struct{}{}
			out = append(out, n.Clone())
		}
	}
	return out
}

// Subscribe registers fn to be called after any entry value changes.
func (c *Cache) Subscribe(fn func(Key)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// Refresh marks every present entry stale and refetches it.
func (c *Cache) Refresh() {
	c.Invalidate(c.Keys()...)
}

// Reset cancels every fetch, forgets every entry and starts a new epoch.
func (c *Cache) Reset() {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.slots))
	for key, s := range c.slots {
		c.cancelLocked(key, s)
		if s.present {
			keys = append(keys, key)
		}
	}
	c.slots = make(map[Key]*slot)
	c.epoch++
	c.broadcastLocked()
	c.mu.Unlock()

	c.metrics.SetUnreadCount(0)
	for _, key := range keys {
		c.emit(key)
	}
}

// Warm hydrates absent entries from the snapshot store. Loaded entries are
// stale so the next Get refreshes them.
func (c *Cache) Warm(ctx context.Context) error {
	if c.opts.Store == nil || c.auth == nil || !c.auth.IsAuthReady() {
		return nil
	}

	entries, err := c.opts.Store.LoadAll(ctx, c.auth.UserID())
	if err != nil {
		return err
	}

	loaded := make([]Key, 0, len(entries))
	c.mu.Lock()
	for _, entry := range entries {
		s := c.slotLocked(entry.Key)
		if s.present || s.fetch != nil {
			continue
		}
		entry.Stale = true
		s.entry = entry.Clone()
		s.present = true
		s.version++
		loaded = append(loaded, entry.Key)
	}
	c.broadcastLocked()
	c.mu.Unlock()

	for _, key := range loaded {
		c.emit(key)
	}
	c.logger.Debug("cache warmed", zap.Int("entries", len(loaded)))
	return nil
}

// WaitIdle blocks until no fetch is in flight.
func (c *Cache) WaitIdle(ctx context.Context) error {
	for {
		c.mu.Lock()
		busy := false
		for _, s := range c.slots {
			if s.fetch != nil {
				busy = true
				break
			}
		}
		changed := c.changed
		c.mu.Unlock()

		if !busy {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Close cancels all fetches and waits for their goroutines.
func (c *Cache) Close() {
	c.rootCancel()
	c.wg.Wait()
}

func (c *Cache) slotLocked(key Key) *slot {
	s, ok := c.slots[key]
	if !ok {
		s = &slot{entry: Entry{Key: key}}
		c.slots[key] = s
	}
	return s
}

func (c *Cache) replaceLocked(key Key, entry Entry) (Entry, uint64) {
	s := c.slotLocked(key)
	entry.Key = key
	entry.Count = clampCount(entry.Count)
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = c.now()
	}
	s.entry = entry.Clone()
	s.present = true
	s.version++
	c.broadcastLocked()
	return entry, s.version
}

func (c *Cache) invalidateLocked(key Key, s *slot) {
	switch {
	case s.fetch != nil:
		c.cancelLocked(key, s)
	case !s.present:
		return
	}
	s.entry.Stale = true
	c.maybeDispatchLocked(key, s)
}

func (c *Cache) invalidateWhereLocked(match func(Key) bool) {
	for key, s := range c.slots {
		if match != nil && !match(key) {
			continue
		}
		c.invalidateLocked(key, s)
	}
}

func (c *Cache) staleLocked(s *slot) bool {
	if s.entry.Stale {
		return true
	}
	window := c.opts.ListStaleAfter
	if s.entry.Key.Scope == ScopeUnreadCount {
		window = c.opts.CountStaleAfter
	}
	return c.now().Sub(s.entry.UpdatedAt) >= window
}

func (c *Cache) maybeDispatchLocked(key Key, s *slot) bool {
	if c.auth == nil || !c.auth.IsAuthReady() {
		return false
	}
	if s.holds > 0 || s.fetch != nil {
		return false
	}
	if s.present && !c.staleLocked(s) {
		return false
	}
	if c.rootCtx.Err() != nil {
		return false
	}

	ctx, cancel := context.WithCancel(c.rootCtx)
	s.gen++
	s.fetch = &inflight{gen: s.gen, cancel: cancel}

	c.wg.Add(1)
	go c.runFetch(ctx, key, s.gen, c.auth.UserID())
	return true
}

func (c *Cache) cancelLocked(key Key, s *slot) {
	s.gen++
	if s.fetch == nil {
		return
	}
	s.fetch.cancel()
	s.fetch = nil
	c.metrics.ObserveDiscardedFetch(key.Scope.String())
}

func (c *Cache) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Cache) afterWrite(key Key, entry Entry) {
	if key.Scope == ScopeUnreadCount {
		c.metrics.SetUnreadCount(entry.Count)
	}
	c.emit(key)
}

func (c *Cache) emit(key Key) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.subscribers))
	for id := range c.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Key), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subscribers[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(key)
	}
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}

type noopMetrics struct{}

func (noopMetrics) ObserveFetch(string, string)  {}
func (noopMetrics) ObserveDiscardedFetch(string) {}
func (noopMetrics) SetUnreadCount(int)           {}
