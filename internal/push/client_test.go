package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestNewClientValidatesURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "empty", url: " ", wantErr: true},
		{name: "http scheme", url: "http://example.com/ws", wantErr: true},
		{name: "ws", url: "ws://example.com/ws"},
		{name: "wss", url: "wss://example.com/ws"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewClient(tt.url, nil, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientDeliversFramesAndReconnects(t *testing.T) {
	t.Parallel()

	var connections atomic.Int32
	var authHeader atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := connections.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"reason":"created"}`))
		if n == 1 {
			// Drop the first connection to force a reconnect.
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := NewClient(wsURL(server), func() string { return "tok" }, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	client.minBackoff = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frames := make(chan string, 4)
	runDone := make(chan error, 1)
	go func() {
		runDone <- client.Run(ctx, func(_ context.Context, payload []byte) error {
			frames <- string(payload)
			return nil
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case got := <-frames:
			if got != `{"reason":"created"}` {
				t.Fatalf("frame = %s", got)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for frame %d", i+1)
		}
	}

	if connections.Load() < 2 {
		t.Fatalf("connections = %d, want reconnect", connections.Load())
	}
	if got, _ := authHeader.Load().(string); got != "Bearer tok" {
		t.Fatalf("Authorization = %q", got)
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRunRequiresHandler(t *testing.T) {
	t.Parallel()

	client, err := NewClient("ws://example.com/ws", nil, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := client.Run(context.Background(), nil); err == nil {
		t.Fatal("expected Run() error")
	}
}
