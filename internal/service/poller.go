package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/cache"
	"go.uber.org/zap"
)

const defaultPollInterval = 30 * time.Second

// Poller refreshes the unread count in the background, the way the badge
// polls while it is mounted.
type Poller struct {
	cache    *cache.Cache
	auth     cache.AuthGate
	interval time.Duration
	logger   *zap.Logger
}

func NewPoller(c *cache.Cache, auth cache.AuthGate, interval time.Duration, logger *zap.Logger) (*Poller, error) {
	if c == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if auth == nil {
		return nil, fmt.Errorf("auth gate is required")
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Poller{cache: c, auth: auth, interval: interval, logger: logger}, nil
}

func (p *Poller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll reports whether a refresh was requested.
func (p *Poller) poll() bool {
	if !p.auth.IsAuthReady() {
		return false
	}

	key := cache.UnreadCountKey()
	if _, ok := p.cache.Peek(key); ok {
		p.cache.Invalidate(key)
	} else {
		p.cache.Get(key)
	}
	p.logger.Debug("unread count poll")
	return true
}
