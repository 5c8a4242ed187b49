package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-sync/internal/cache"
	"github.com/kursadbilgin/notification-sync/internal/domain"
	"github.com/kursadbilgin/notification-sync/internal/wire"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix          = "notifsync:"
	defaultSnapshotTTL = 24 * time.Hour
)

var _ cache.SnapshotStore = (*SnapshotStore)(nil)

type snapshotFilters struct {
	Type  string `json:"type,omitempty"`
	Read  string `json:"read,omitempty"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

type snapshotRecord struct {
	Scope     string          `json:"scope"`
	Filters   snapshotFilters `json:"filters"`
	Page      *wire.Page      `json:"page,omitempty"`
	Count     int             `json:"count"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// SnapshotStore keeps the last settled cache entries of each user in one
// Redis hash, keyed by cache key.
type SnapshotStore struct {
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewSnapshotStore(client *goredis.Client, ttl time.Duration, logger *zap.Logger) (*SnapshotStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SnapshotStore{client: client, ttl: ttl, logger: logger}, nil
}

func snapshotKey(userID string) string {
	return fmt.Sprintf("%ssnapshot:%s", keyPrefix, strings.TrimSpace(userID))
}

func (s *SnapshotStore) Save(ctx context.Context, userID string, entry cache.Entry) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	payload, err := json.Marshal(recordFromEntry(entry))
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	key := snapshotKey(userID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, entry.Key.String(), payload)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}

	return nil
}

// LoadAll skips fields it cannot decode rather than failing the warm-up.
func (s *SnapshotStore) LoadAll(ctx context.Context, userID string) ([]cache.Entry, error) {
	fields, err := s.client.HGetAll(ctx, snapshotKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entries: %w", err)
	}

	entries := make([]cache.Entry, 0, len(fields))
	for field, raw := range fields {
		var record snapshotRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			s.logger.Warn("skipping malformed cache snapshot", zap.String("field", field), zap.Error(err))
			continue
		}

		entry, ok := record.toEntry()
		if !ok {
			s.logger.Warn("skipping unknown cache snapshot scope", zap.String("field", field))
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Delete drops a user's snapshots, e.g. on logout.
func (s *SnapshotStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, snapshotKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return nil
}

func recordFromEntry(entry cache.Entry) snapshotRecord {
	record := snapshotRecord{
		Scope: entry.Key.Scope.String(),
		Filters: snapshotFilters{
			Type:  entry.Key.Filters.Type.String(),
			Read:  string(entry.Key.Filters.Read),
			Page:  entry.Key.Filters.Page,
			Limit: entry.Key.Filters.Limit,
		},
		Count:     entry.Count,
		UpdatedAt: entry.UpdatedAt.UTC(),
	}
	if entry.Key.IsList() {
		page := wire.PageFromDomain(entry.Page)
		record.Page = &page
	}
	return record
}

func (r snapshotRecord) toEntry() (cache.Entry, bool) {
	switch r.Scope {
	case cache.ScopeUnreadCount.String():
		return cache.Entry{
			Key:       cache.UnreadCountKey(),
			Count:     r.Count,
			UpdatedAt: r.UpdatedAt,
		}, true
	case cache.ScopeList.String():
		filters := domain.Filters{
			Type:  domain.Type(r.Filters.Type),
			Read:  domain.ReadFilter(r.Filters.Read),
			Page:  r.Filters.Page,
			Limit: r.Filters.Limit,
		}
		key := cache.ListKey(filters)
		page := domain.EmptyPage(key.Filters)
		if r.Page != nil {
			page = r.Page.ToDomain(key.Filters)
		}
		return cache.Entry{Key: key, Page: page, UpdatedAt: r.UpdatedAt}, true
	}
	return cache.Entry{}, false
}
