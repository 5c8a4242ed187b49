package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/cache"
	"github.com/kursadbilgin/notification-sync/internal/domain"
	"github.com/kursadbilgin/notification-sync/internal/queue"
	"github.com/kursadbilgin/notification-sync/internal/session"
	"go.uber.org/zap"
)

func TestNewPollerAppliesDefaults(t *testing.T) {
	t.Parallel()

	server := newFakeServer()
	auth := readyAuth()
	c := cache.New(server, auth, cache.Options{}, nil)
	t.Cleanup(c.Close)

	poller, err := NewPoller(c, auth, 0, nil)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	if poller.interval != defaultPollInterval {
		t.Fatalf("interval = %s, want %s", poller.interval, defaultPollInterval)
	}

	if _, err := NewPoller(nil, auth, 0, nil); err == nil {
		t.Fatal("expected error without cache")
	}
}

func TestPollerRefreshesCountOnlyWhenReady(t *testing.T) {
	t.Parallel()

	server := newFakeServer(unread("n1", base))
	auth := &fakeAuth{userID: "u1"}
	c := cache.New(server, auth, cache.Options{}, nil)
	t.Cleanup(c.Close)

	poller, err := NewPoller(c, auth, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	if poller.poll() {
		t.Fatal("poll() should be a no-op before auth is ready")
	}
	if server.countCalls.Load() != 0 {
		t.Fatal("count fetched before auth was ready")
	}

	auth.ready.Store(true)
	for i := 0; i < 2; i++ {
		if !poller.poll() {
			t.Fatal("poll() = false, want true")
		}
		waitIdle(t, c)
	}

	if got := server.countCalls.Load(); got != 2 {
		t.Fatalf("count calls = %d, want 2", got)
	}
	if got := peekCount(t, c); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
}

func TestPollerStartReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	server := newFakeServer()
	auth := readyAuth()
	c := cache.New(server, auth, cache.Options{}, nil)
	t.Cleanup(c.Close)

	poller, err := NewPoller(c, auth, time.Second, nil)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := poller.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func TestInvalidationListenerHandle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		event       queue.InvalidationEvent
		wantRefresh bool
	}{
		{
			name:        "event for current user",
			event:       queue.InvalidationEvent{UserID: "u1", Reason: queue.ReasonCreated, Origin: "server"},
			wantRefresh: true,
		},
		{
			name:  "event for another user",
			event: queue.InvalidationEvent{UserID: "u2", Reason: queue.ReasonCreated},
		},
		{
			name:  "event published by this instance",
			event: queue.InvalidationEvent{UserID: "u1", Reason: queue.ReasonMutation, MutationKind: domain.MutationDelete, Origin: "instance-a"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newFakeServer(unread("n1", base))
			auth := readyAuth()
			c := newTestCache(t, server, auth)
			listCalls := server.listCalls.Load()

			listener, err := NewInvalidationListener(c, auth, "instance-a", nil)
			if err != nil {
				t.Fatalf("NewInvalidationListener() error = %v", err)
			}

			// A new notification arrives on the server.
			server.mu.Lock()
			server.items = append([]domain.Notification{unread("n0", base.Add(time.Minute))}, server.items...)
			server.mu.Unlock()

			if err := listener.Handle(context.Background(), tt.event); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			waitIdle(t, c)

			refreshed := server.listCalls.Load() > listCalls
			if refreshed != tt.wantRefresh {
				t.Fatalf("refreshed = %v, want %v", refreshed, tt.wantRefresh)
			}
			if tt.wantRefresh {
				if got := idsOf(peekList(t, c, domain.Filters{})); len(got) != 2 || got[0] != "n0" {
					t.Fatalf("ids = %v, want n0 first", got)
				}
			}
		})
	}
}

func TestInvalidationListenerHandlePush(t *testing.T) {
	t.Parallel()

	server := newFakeServer(unread("n1", base))
	auth := readyAuth()
	c := newTestCache(t, server, auth)
	listCalls := server.listCalls.Load()

	listener, err := NewInvalidationListener(c, auth, "instance-a", nil)
	if err != nil {
		t.Fatalf("NewInvalidationListener() error = %v", err)
	}

	if err := listener.HandlePush(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("HandlePush() error = %v", err)
	}
	waitIdle(t, c)
	if server.listCalls.Load() == listCalls {
		t.Fatal("non-JSON frame should still refresh")
	}

	listCalls = server.listCalls.Load()
	payload, _ := json.Marshal(queue.InvalidationEvent{UserID: "someone-else", Reason: queue.ReasonCreated})
	if err := listener.HandlePush(context.Background(), payload); err != nil {
		t.Fatalf("HandlePush() error = %v", err)
	}
	waitIdle(t, c)
	if server.listCalls.Load() != listCalls {
		t.Fatal("frame for another user should be ignored")
	}
}

func TestBindSessionFollowsAuthTransitions(t *testing.T) {
	t.Parallel()

	server := newFakeServer(unread("n1", base))
	guard := session.NewGuard(nil)
	c := cache.New(server, guard, cache.Options{}, nil)
	t.Cleanup(c.Close)

	unbind := BindSession(guard, c, nil)
	defer unbind()

	if _, ok := c.Get(cache.UnreadCountKey()); ok || server.countCalls.Load() != 0 {
		t.Fatal("no fetch expected while loading")
	}

	guard.Set(session.Ready(session.User{ID: "u1", Email: "u1@example.com"}))
	waitIdle(t, c)
	if got := peekCount(t, c); got != 1 {
		t.Fatalf("count after login = %d, want 1", got)
	}

	guard.Set(session.Unauthenticated())
	if keys := c.Keys(); len(keys) != 0 {
		t.Fatalf("cache should be empty after logout, got %v", keys)
	}
}

func TestQueryServiceReadsThroughCache(t *testing.T) {
	t.Parallel()

	server := newFakeServer(unread("n1", base), read("n2", base.Add(-time.Minute)))
	auth := readyAuth()
	c := cache.New(server, auth, cache.Options{}, nil)
	t.Cleanup(c.Close)

	q, err := NewQueryService(c, time.Second)
	if err != nil {
		t.Fatalf("NewQueryService() error = %v", err)
	}

	if _, ok := q.Find("n1"); ok {
		t.Fatal("Find() should miss before anything is cached")
	}

	list := q.List(context.Background(), domain.Filters{Read: domain.UnreadOnly})
	if got := idsOf(list.Page); len(got) != 1 || got[0] != "n1" {
		t.Fatalf("unread list = %v, want [n1]", got)
	}
	if count := q.UnreadCount(context.Background()); count.Count != 1 {
		t.Fatalf("count = %d, want 1", count.Count)
	}

	n, ok := q.Find("n1")
	if !ok || n.ID != "n1" {
		t.Fatalf("Find() = %+v, %v", n, ok)
	}

	preview := q.Preview(context.Background(), domain.Filters{}, 5)
	if got := idsOf(domain.Page{Notifications: preview}); len(got) != 1 || got[0] != "n1" {
		t.Fatalf("Preview() = %v, want [n1]", got)
	}
}

func TestQueryServiceDegradesWhenNotReady(t *testing.T) {
	t.Parallel()

	server := newFakeServer(unread("n1", base))
	c := cache.New(server, &fakeAuth{}, cache.Options{}, nil)
	t.Cleanup(c.Close)

	q, err := NewQueryService(c, 0)
	if err != nil {
		t.Fatalf("NewQueryService() error = %v", err)
	}

	list := q.List(context.Background(), domain.Filters{})
	if len(list.Page.Notifications) != 0 {
		t.Fatalf("list = %+v, want empty", list.Page)
	}
	if count := q.UnreadCount(context.Background()); count.Count != 0 {
		t.Fatalf("count = %d, want 0", count.Count)
	}
	if server.listCalls.Load() != 0 {
		t.Fatal("gateway called while not ready")
	}
}

func TestRunPerUserRestartsOnUserChange(t *testing.T) {
	t.Parallel()

	guard := session.NewGuard(nil)
	started := make(chan string, 4)
	stopped := make(chan string, 4)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- RunPerUser(ctx, guard, "test", func(ctx context.Context, userID string) error {
			started <- userID
			<-ctx.Done()
			stopped <- userID
			return nil
		}, nil)
	}()

	expect := func(ch chan string, want string) {
		t.Helper()
		select {
		case got := <-ch:
			if got != want {
				t.Fatalf("user = %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	guard.Set(session.Ready(session.User{ID: "u1", Email: "u1@example.com"}))
	expect(started, "u1")

	guard.Set(session.Ready(session.User{ID: "u2", Email: "u2@example.com"}))
	expect(stopped, "u1")
	expect(started, "u2")

	guard.Set(session.Unauthenticated())
	expect(stopped, "u2")

	select {
	case userID := <-started:
		t.Fatalf("unexpected start for %q while logged out", userID)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("RunPerUser() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunPerUser did not return after cancel")
	}
}
