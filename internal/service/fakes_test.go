package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/cache"
	"github.com/kursadbilgin/notification-sync/internal/domain"
	"github.com/kursadbilgin/notification-sync/internal/queue"
)

// fakeServer is an in-memory notification API. beforeWrite runs ahead of every
// write and may block it or make it fail, in which case nothing is applied.
type fakeServer struct {
	mu    sync.Mutex
	items []domain.Notification

	beforeWrite func(ctx context.Context, op string, ids []string) error

	listCalls  atomic.Int32
	countCalls atomic.Int32
	writeCalls atomic.Int32
}

func newFakeServer(items ...domain.Notification) *fakeServer {
	return &fakeServer{items: items}
}

func (s *fakeServer) List(_ context.Context, filters domain.Filters) (domain.Page, error) {
	s.listCalls.Add(1)
	filters = filters.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]domain.Notification, 0, len(s.items))
	for _, n := range s.items {
		if filters.Matches(n) {
			matched = append(matched, n.Clone())
		}
	}

	page := domain.Page{Page: filters.Page, Limit: filters.Limit, Total: len(matched)}
	start := (filters.Page - 1) * filters.Limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filters.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Notifications = matched[start:end]
	return page, nil
}

// replaceItems swaps the server contents, as when another account signs in.
func (s *fakeServer) replaceItems(items ...domain.Notification) {
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

func (s *fakeServer) UnreadCount(context.Context) (int, error) {
	s.countCalls.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.items {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *fakeServer) MarkRead(ctx context.Context, id string) error {
	return s.write(ctx, "mark_read", []string{id}, func() {
		for i := range s.items {
			if s.items[i].ID == id {
				s.items[i] = s.items[i].MarkRead(time.Now())
			}
		}
	})
}

func (s *fakeServer) MarkAllRead(ctx context.Context) error {
	return s.write(ctx, "mark_all_read", nil, func() {
		for i := range s.items {
			s.items[i] = s.items[i].MarkRead(time.Now())
		}
	})
}

func (s *fakeServer) DeleteOne(ctx context.Context, id string) error {
	return s.DeleteMany(ctx, []string{id})
}

func (s *fakeServer) DeleteMany(ctx context.Context, ids []string) error {
	return s.write(ctx, "delete", ids, func() {
		drop := idSet(ids)
		kept := s.items[:0]
		for _, n := range s.items {
			if _, ok := drop[n.ID]; !ok {
				kept = append(kept, n)
			}
		}
		s.items = kept
	})
}

func (s *fakeServer) DeleteAll(ctx context.Context) error {
	return s.write(ctx, "delete_all", nil, func() {
		s.items = nil
	})
}

func (s *fakeServer) write(ctx context.Context, op string, ids []string, apply func()) error {
	s.writeCalls.Add(1)
	if s.beforeWrite != nil {
		if err := s.beforeWrite(ctx, op, ids); err != nil {
			return err
		}
	}

	s.mu.Lock()
	apply()
	s.mu.Unlock()
	return nil
}

type fakeAuth struct {
	ready atomic.Bool

	mu     sync.Mutex
	userID string
}

func readyAuth() *fakeAuth {
	a := &fakeAuth{userID: "u1"}
	a.ready.Store(true)
	return a
}

func (a *fakeAuth) IsAuthReady() bool { return a.ready.Load() }

func (a *fakeAuth) UserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID
}

func (a *fakeAuth) switchUser(id string) {
	a.mu.Lock()
	a.userID = id
	a.mu.Unlock()
}

type fakeJournal struct {
	mu      sync.Mutex
	records []domain.MutationRecord
	createFn func(ctx context.Context, record *domain.MutationRecord) error
}

func (j *fakeJournal) Create(ctx context.Context, record *domain.MutationRecord) error {
	j.mu.Lock()
	j.records = append(j.records, *record)
	j.mu.Unlock()
	if j.createFn != nil {
		return j.createFn(ctx, record)
	}
	return nil
}

func (j *fakeJournal) ListRecent(context.Context, string, int) ([]domain.MutationRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.MutationRecord(nil), j.records...), nil
}

func (j *fakeJournal) snapshot() []domain.MutationRecord {
	records, _ := j.ListRecent(context.Background(), "", 0)
	return records
}

type fakePublisher struct {
	mu        sync.Mutex
	events    []queue.InvalidationEvent
	publishFn func(ctx context.Context, event queue.InvalidationEvent) error
}

func (p *fakePublisher) PublishInvalidation(ctx context.Context, event queue.InvalidationEvent) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	if p.publishFn != nil {
		return p.publishFn(ctx, event)
	}
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func unread(id string, createdAt time.Time) domain.Notification {
	return domain.Notification{ID: id, Type: domain.TypeOrder, Title: id, CreatedAt: createdAt}
}

func read(id string, createdAt time.Time) domain.Notification {
	n := unread(id, createdAt)
	readAt := createdAt.Add(time.Minute)
	n.Read = true
	n.ReadAt = &readAt
	return n
}

// newTestCache returns a cache with the list and count keys for filters
// already loaded from server.
func newTestCache(t *testing.T, server *fakeServer, auth cache.AuthGate, filters ...domain.Filters) *cache.Cache {
	t.Helper()

	c := cache.New(server, auth, cache.Options{RetryDelay: time.Millisecond}, nil)
	t.Cleanup(c.Close)

	if len(filters) == 0 {
		filters = []domain.Filters{{}}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, f := range filters {
		if _, ok := c.Await(ctx, cache.ListKey(f)); !ok {
			t.Fatalf("list %v did not load", f)
		}
	}
	if _, ok := c.Await(ctx, cache.UnreadCountKey()); !ok {
		t.Fatal("unread count did not load")
	}
	return c
}

func waitIdle(t *testing.T, c *cache.Cache) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
}

func waitMutation(t *testing.T, m *Mutation) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := m.Wait(ctx)
	if err == context.DeadlineExceeded {
		t.Fatalf("mutation %s did not settle", m.Kind)
	}
	return err
}

func peekList(t *testing.T, c *cache.Cache, f domain.Filters) domain.Page {
	t.Helper()

	entry, ok := c.Peek(cache.ListKey(f))
	if !ok {
		t.Fatalf("list %v not cached", f)
	}
	return entry.Page
}

func peekCount(t *testing.T, c *cache.Cache) int {
	t.Helper()

	entry, ok := c.Peek(cache.UnreadCountKey())
	if !ok {
		t.Fatal("unread count not cached")
	}
	return entry.Count
}

func readState(page domain.Page) map[string]bool {
	state := make(map[string]bool, len(page.Notifications))
	for _, n := range page.Notifications {
		state[n.ID] = n.Read
	}
	return state
}

func idsOf(page domain.Page) []string {
	ids := make([]string, 0, len(page.Notifications))
	for _, n := range page.Notifications {
		ids = append(ids, n.ID)
	}
	return ids
}

// gate blocks writes until opened and then returns err.
type gate struct {
	open chan struct{}
	err  error
}

func newGate(err error) *gate {
	return &gate{open: make(chan struct{}), err: err}
}

func (g *gate) wait(ctx context.Context) error {
	select {
	case <-g.open:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) release() { close(g.open) }
