package cache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/domain"
	"github.com/kursadbilgin/notification-sync/internal/gateway"
)

type fakeGateway struct {
	listFn        func(ctx context.Context, filters domain.Filters) (domain.Page, error)
	unreadCountFn func(ctx context.Context) (int, error)

	listCalls  atomic.Int32
	countCalls atomic.Int32
}

func (f *fakeGateway) List(ctx context.Context, filters domain.Filters) (domain.Page, error) {
	f.listCalls.Add(1)
	if f.listFn == nil {
		return domain.EmptyPage(filters), nil
	}
	return f.listFn(ctx, filters)
}

func (f *fakeGateway) UnreadCount(ctx context.Context) (int, error) {
	f.countCalls.Add(1)
	if f.unreadCountFn == nil {
		return 0, nil
	}
	return f.unreadCountFn(ctx)
}

func (f *fakeGateway) MarkRead(context.Context, string) error     { return nil }
func (f *fakeGateway) MarkAllRead(context.Context) error          { return nil }
func (f *fakeGateway) DeleteOne(context.Context, string) error    { return nil }
func (f *fakeGateway) DeleteMany(context.Context, []string) error { return nil }
func (f *fakeGateway) DeleteAll(context.Context) error            { return nil }

type fakeAuth struct {
	ready atomic.Bool
}

func readyAuth() *fakeAuth {
	a := &fakeAuth{}
	a.ready.Store(true)
	return a
}

func (a *fakeAuth) IsAuthReady() bool { return a.ready.Load() }
func (a *fakeAuth) UserID() string    { return "u1" }

type fakeLimiter struct {
	mu     sync.Mutex
	scopes []string
}

func (l *fakeLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (l *fakeLimiter) Wait(_ context.Context, scope string) error {
	l.mu.Lock()
	l.scopes = append(l.scopes, scope)
	l.mu.Unlock()
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	saved   []Entry
	entries []Entry
}

func (s *fakeStore) Save(_ context.Context, _ string, entry Entry) error {
	s.mu.Lock()
	s.saved = append(s.saved, entry)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) LoadAll(context.Context, string) ([]Entry, error) {
	return s.entries, nil
}

func newTestCache(gw gateway.Gateway, auth AuthGate, opts Options) *Cache {
	c := New(gw, auth, opts, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func waitIdle(t *testing.T, c *Cache) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
}

func pageOf(ids ...string) domain.Page {
	page := domain.Page{Page: 1, Limit: domain.DefaultLimit, Total: len(ids)}
	for _, id := range ids {
		page.Notifications = append(page.Notifications, domain.Notification{ID: id})
	}
	return page
}

func TestGetDispatchesSingleFetchWhileInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	gw := &fakeGateway{
		listFn: func(context.Context, domain.Filters) (domain.Page, error) {
			<-release
			return pageOf("n1"), nil
		},
	}
	c := newTestCache(gw, readyAuth(), Options{})
	defer c.Close()

	key := ListKey(domain.Filters{})
	for i := 0; i < 5; i++ {
		if _, ok := c.Get(key); ok {
			t.Fatal("entry should be absent before the fetch resolves")
		}
	}
	close(release)
	waitIdle(t, c)

	if got := gw.listCalls.Load(); got != 1 {
		t.Fatalf("list calls = %d, want 1", got)
	}
	entry, ok := c.Get(key)
	if !ok || len(entry.Page.Notifications) != 1 {
		t.Fatalf("entry = %+v, %v", entry, ok)
	}
	waitIdle(t, c)
	if got := gw.listCalls.Load(); got != 1 {
		t.Fatalf("fresh entry refetched: list calls = %d", got)
	}
}

func TestGetDoesNotFetchUntilAuthReady(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	auth := &fakeAuth{}
	c := newTestCache(gw, auth, Options{})
	defer c.Close()

	c.Get(UnreadCountKey())
	if entry, ok := c.Await(context.Background(), ListKey(domain.Filters{})); ok || len(entry.Page.Notifications) != 0 {
		t.Fatalf("Await() = %+v, %v, want empty and false", entry, ok)
	}
	waitIdle(t, c)
	if gw.listCalls.Load() != 0 || gw.countCalls.Load() != 0 {
		t.Fatal("gateway called while auth not ready")
	}

	auth.ready.Store(true)
	entry, ok := c.Await(context.Background(), UnreadCountKey())
	if !ok || entry.Count != 0 {
		t.Fatalf("Await() = %+v, %v", entry, ok)
	}
	if gw.countCalls.Load() != 1 {
		t.Fatalf("count calls = %d, want 1", gw.countCalls.Load())
	}
}

func TestFetchFailurePolicy(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		err       error
		wantCalls int32
		wantKeep  bool
	}{
		{
			name:      "unauthenticated is not retried and empties",
			err:       &gateway.Error{Kind: gateway.KindUnauthenticated, StatusCode: http.StatusUnauthorized},
			wantCalls: 1,
		},
		{
			name:      "transport is retried once and empties",
			err:       &gateway.Error{Kind: gateway.KindTransport, Transient: true},
			wantCalls: 2,
		},
		{
			name:      "server error is retried and keeps previous value",
			err:       &gateway.Error{Kind: gateway.KindRejected, StatusCode: http.StatusBadGateway, Transient: true},
			wantCalls: 2,
			wantKeep:  true,
		},
		{
			name:      "permanent rejection is not retried and keeps previous value",
			err:       &gateway.Error{Kind: gateway.KindRejected, StatusCode: http.StatusBadRequest},
			wantCalls: 1,
			wantKeep:  true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var fail atomic.Bool
			gw := &fakeGateway{
				listFn: func(context.Context, domain.Filters) (domain.Page, error) {
					if fail.Load() {
						return domain.Page{}, tc.err
					}
					return pageOf("n1", "n2"), nil
				},
			}
			c := newTestCache(gw, readyAuth(), Options{})
			defer c.Close()

			key := ListKey(domain.Filters{})
			c.Await(context.Background(), key)
			gw.listCalls.Store(0)

			fail.Store(true)
			c.Invalidate(key)
			waitIdle(t, c)

			if got := gw.listCalls.Load(); got != tc.wantCalls {
				t.Fatalf("list calls = %d, want %d", got, tc.wantCalls)
			}

			entry, ok := c.Peek(key)
			if !ok {
				t.Fatal("entry should be present after a failed fetch")
			}
			if entry.Err == nil {
				t.Fatal("entry should record the fetch error")
			}
			if entry.Stale {
				t.Fatal("failed fetch should settle the entry")
			}
			wantLen := 0
			if tc.wantKeep {
				wantLen = 2
			}
			if len(entry.Page.Notifications) != wantLen {
				t.Fatalf("notifications = %d, want %d", len(entry.Page.Notifications), wantLen)
			}
		})
	}
}

func TestUnauthenticatedCountResolvesToZero(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		unreadCountFn: func(context.Context) (int, error) {
			return 0, &gateway.Error{Kind: gateway.KindUnauthenticated, StatusCode: http.StatusUnauthorized}
		},
	}
	c := newTestCache(gw, readyAuth(), Options{})
	defer c.Close()

	entry, ok := c.Await(context.Background(), UnreadCountKey())
	if !ok || entry.Count != 0 {
		t.Fatalf("Await() = %+v, %v", entry, ok)
	}
	if !gateway.IsUnauthenticated(entry.Err) {
		t.Fatalf("Err = %v, want unauthenticated", entry.Err)
	}
}

func TestHoldDiscardsLateFetchResult(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{
		listFn: func(context.Context, domain.Filters) (domain.Page, error) {
			close(started)
			<-release
			return pageOf("stale"), nil
		},
	}
	c := newTestCache(gw, readyAuth(), Options{})

	key := ListKey(domain.Filters{})
	c.Get(key)
	<-started

	unhold := c.Hold(key)
	c.Replace(key, Entry{Page: pageOf("optimistic")})
	close(release)
	c.Close()

	entry, ok := c.Peek(key)
	if !ok || entry.Page.Notifications[0].ID != "optimistic" {
		t.Fatalf("entry = %+v, want optimistic value to survive", entry)
	}
	unhold()
}

func TestHeldKeyDoesNotRefetchUntilReleased(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		unreadCountFn: func(context.Context) (int, error) { return 3, nil },
	}
	c := newTestCache(gw, readyAuth(), Options{CountStaleAfter: time.Hour})
	defer c.Close()

	key := UnreadCountKey()
	c.Await(context.Background(), key)

	release := c.Hold(key)
	c.Replace(key, Entry{Count: 2})
	c.Invalidate(key)
	c.Get(key)
	waitIdle(t, c)
	if got := gw.countCalls.Load(); got != 1 {
		t.Fatalf("count calls while held = %d, want 1", got)
	}

	release()
	release()
	c.Invalidate(key)
	waitIdle(t, c)
	if got := gw.countCalls.Load(); got != 2 {
		t.Fatalf("count calls after release = %d, want 2", got)
	}
	if entry, _ := c.Peek(key); entry.Count != 3 {
		t.Fatalf("count = %d, want 3", entry.Count)
	}
}

func TestStaleWindowTriggersRefresh(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	c := newTestCache(gw, readyAuth(), Options{ListStaleAfter: 30 * time.Second})
	defer c.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	key := ListKey(domain.Filters{})
	c.Await(context.Background(), key)
	c.Get(key)
	waitIdle(t, c)
	if got := gw.listCalls.Load(); got != 1 {
		t.Fatalf("list calls = %d, want 1", got)
	}

	mu.Lock()
	now = now.Add(31 * time.Second)
	mu.Unlock()

	c.Get(key)
	waitIdle(t, c)
	if got := gw.listCalls.Load(); got != 2 {
		t.Fatalf("list calls after window = %d, want 2", got)
	}
}

func TestReplaceClampsCountAndNotifiesSubscribers(t *testing.T) {
	t.Parallel()

	c := newTestCache(&fakeGateway{}, &fakeAuth{}, Options{})
	defer c.Close()

	var seen []Key
	unsubscribe := c.Subscribe(func(key Key) { seen = append(seen, key) })

	v1 := c.Replace(UnreadCountKey(), Entry{Count: -4})
	entry, _ := c.Peek(UnreadCountKey())
	if entry.Count != 0 {
		t.Fatalf("count = %d, want clamped 0", entry.Count)
	}

	unsubscribe()
	v2 := c.Replace(UnreadCountKey(), Entry{Count: 1})
	if v2 <= v1 {
		t.Fatalf("version did not advance: %d -> %d", v1, v2)
	}
	if len(seen) != 1 || seen[0] != UnreadCountKey() {
		t.Fatalf("seen = %v, want one unread-count change", seen)
	}
}

func TestNotificationsDeduplicatesAcrossEntries(t *testing.T) {
	t.Parallel()

	c := newTestCache(&fakeGateway{}, &fakeAuth{}, Options{})
	defer c.Close()

	c.Replace(ListKey(domain.Filters{Limit: 5}), Entry{Page: pageOf("a", "b")})
	c.Replace(ListKey(domain.Filters{Limit: 50}), Entry{Page: pageOf("b", "c")})

	got := c.Notifications(nil)
	if len(got) != 3 {
		t.Fatalf("notifications = %d, want 3", len(got))
	}

	onlyC := c.Notifications(func(n domain.Notification) bool { return n.ID == "c" })
	if len(onlyC) != 1 {
		t.Fatalf("filtered = %d, want 1", len(onlyC))
	}
}

func TestLimiterAndStoreAreUsedOnFetch(t *testing.T) {
	t.Parallel()

	limiter := &fakeLimiter{}
	store := &fakeStore{}
	gw := &fakeGateway{
		unreadCountFn: func(context.Context) (int, error) { return 4, nil },
	}
	c := newTestCache(gw, readyAuth(), Options{Limiter: limiter, Store: store})

	c.Await(context.Background(), UnreadCountKey())
	c.Close()

	limiter.mu.Lock()
	scopes := append([]string(nil), limiter.scopes...)
	limiter.mu.Unlock()
	if len(scopes) != 1 || scopes[0] != "u1:unread_count" {
		t.Fatalf("limiter scopes = %v", scopes)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saved) != 1 || store.saved[0].Count != 4 {
		t.Fatalf("saved = %+v", store.saved)
	}
}

func TestWarmLoadsStaleEntriesAndReset(t *testing.T) {
	t.Parallel()

	key := ListKey(domain.Filters{})
	store := &fakeStore{entries: []Entry{{Key: key, Page: pageOf("warm")}}}
	release := make(chan struct{})
	gw := &fakeGateway{
		listFn: func(context.Context, domain.Filters) (domain.Page, error) {
			<-release
			return pageOf("fresh"), nil
		},
	}
	c := newTestCache(gw, readyAuth(), Options{Store: store})
	defer c.Close()

	if err := c.Warm(context.Background()); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}

	entry, ok := c.Get(key)
	if !ok || !entry.Stale || entry.Page.Notifications[0].ID != "warm" {
		t.Fatalf("warm entry = %+v, %v", entry, ok)
	}

	c.Reset()
	close(release)
	waitIdle(t, c)

	if _, ok := c.Peek(key); ok {
		t.Fatal("reset cache must not keep entries or late fetch results")
	}
}

func TestWaitIdleHonoursContext(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		listFn: func(ctx context.Context, _ domain.Filters) (domain.Page, error) {
			<-ctx.Done()
			return domain.Page{}, ctx.Err()
		},
	}
	c := newTestCache(gw, readyAuth(), Options{})
	defer c.Close()

	c.Get(ListKey(domain.Filters{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.WaitIdle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitIdle() error = %v, want deadline exceeded", err)
	}
}

func TestKeyString(t *testing.T) {
	t.Parallel()

	if got := UnreadCountKey().String(); got != "unread_count" {
		t.Fatalf("String() = %q", got)
	}
	got := ListKey(domain.Filters{Type: domain.TypeOrder, Read: domain.UnreadOnly, Limit: 5}).String()
	if got != "list:type=order:read=unread:page=1:limit=5" {
		t.Fatalf("String() = %q", got)
	}
}

func TestInvalidateRestartsInFlightFetch(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	gw := &fakeGateway{
		listFn: func(context.Context, domain.Filters) (domain.Page, error) {
			if calls.Add(1) == 1 {
				close(started)
				<-release
				return pageOf("before"), nil
			}
			return pageOf("after"), nil
		},
	}
	c := newTestCache(gw, readyAuth(), Options{})
	defer c.Close()

	key := ListKey(domain.Filters{Type: domain.TypeOrder})
	c.Get(key)
	<-started

	c.InvalidateWhere(Key.IsList)
	close(release)
	waitIdle(t, c)

	entry, ok := c.Peek(key)
	if !ok || len(entry.Page.Notifications) != 1 || entry.Page.Notifications[0].ID != "after" {
		t.Fatalf("entry = %+v, %v, want the restarted fetch's result", entry, ok)
	}
	if got := gw.listCalls.Load(); got != 2 {
		t.Fatalf("list calls = %d, want 2", got)
	}
}

func TestResetStartsNewEpoch(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		unreadCountFn: func(context.Context) (int, error) { return 5, nil },
	}
	c := newTestCache(gw, readyAuth(), Options{CountStaleAfter: time.Hour})
	defer c.Close()

	key := UnreadCountKey()
	epoch := c.Epoch()
	oldRelease := c.Hold(key)

	c.Reset()
	if c.Epoch() == epoch {
		t.Fatal("Reset() should start a new epoch")
	}
	if _, ok := c.ReplaceInEpoch(epoch, key, Entry{Count: 9}); ok {
		t.Fatal("ReplaceInEpoch() wrote into a newer epoch")
	}
	if _, ok := c.Peek(key); ok {
		t.Fatal("stale epoch write should leave the entry absent")
	}
	if c.InvalidateWhereInEpoch(epoch, nil) {
		t.Fatal("InvalidateWhereInEpoch() ran in a newer epoch")
	}

	release := c.Hold(key)
	oldRelease()
	c.Get(key)
	waitIdle(t, c)
	if got := gw.countCalls.Load(); got != 0 {
		t.Fatalf("count calls = %d, a release from the old epoch freed the new hold", got)
	}

	release()
	if entry, ok := c.Await(context.Background(), key); !ok || entry.Count != 5 {
		t.Fatalf("Await() = %+v, %v", entry, ok)
	}
	if _, ok := c.ReplaceInEpoch(c.Epoch(), key, Entry{Count: 2}); !ok {
		t.Fatal("ReplaceInEpoch() refused the current epoch")
	}
}
