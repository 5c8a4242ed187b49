// Package push listens on the notification socket and turns every frame into
// a cache invalidation.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	pongWait                = 60 * time.Second
	pingPeriod              = 54 * time.Second
	writeWait               = 10 * time.Second
	minBackoff              = time.Second
	maxBackoff              = 30 * time.Second
)

// Handler receives the raw payload of every data frame.
type Handler func(ctx context.Context, payload []byte) error

type Client struct {
	url    string
	tokens func() string
	dialer *websocket.Dialer
	logger *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewClient(rawURL string, tokens func() string, logger *zap.Logger) (*Client, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("push url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid push url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("push url must use ws or wss, got %q", parsed.Scheme)
	}
	if tokens == nil {
		tokens = func() string { return "" }
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		url:        trimmed,
		tokens:     tokens,
		dialer:     &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger:     logger,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}, nil
}

// Run blocks until ctx is done, reconnecting with backoff whenever the
// connection drops. Handler errors are logged and never close the socket.
func (c *Client) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("push handler is required")
	}

	backoff := c.minBackoff
	for {
		connected, err := c.runOnce(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = c.minBackoff
		}

		c.logger.Warn("push connection lost",
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// runOnce reports whether the handshake succeeded.
func (c *Client) runOnce(ctx context.Context, handler Handler) (bool, error) {
	header := http.Header{}
	if token := strings.TrimSpace(c.tokens()); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("push dial failed: %w", err)
	}
	defer conn.Close() //nolint:errcheck // best-effort close

	c.logger.Info("push connection established")

	done := make(chan struct{})
	defer close(done)
	go c.keepAlive(ctx, conn, done)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, nil
			}
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := handler(ctx, payload); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("push handler failed", zap.Error(err))
		}
	}
}

// keepAlive pings the server and closes the socket once ctx is done so the
// blocked read returns.
func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
