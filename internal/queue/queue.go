package queue

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Publisher announces invalidation events to other engine instances.
type Publisher interface {
	PublishInvalidation(ctx context.Context, event InvalidationEvent) error
	Close() error
}

// EventHandler handles a consumed invalidation event.
type EventHandler func(ctx context.Context, event InvalidationEvent) error

// Consumer consumes invalidation events addressed to one user.
type Consumer interface {
	Consume(ctx context.Context, userID string, handler EventHandler) error
	Close() error
}

const (
	// ExchangeName is the topic exchange all invalidation events go through.
	ExchangeName    = "notifications.events"
	dlxExchangeName = "notifications.dlx"

	// instanceQueueTTL drops queues of instances that went away.
	instanceQueueTTL = time.Hour
)

func normalizeSegment(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// RoutingKey returns the routing key of a user's events, e.g. user.42.
func RoutingKey(userID string) string {
	return fmt.Sprintf("user.%s", normalizeSegment(userID))
}

// QueueName returns the queue one instance consumes a user's events from,
// e.g. notifications.42.api-1. Every instance gets its own copy of each event.
func QueueName(userID, instanceID string) string {
	return fmt.Sprintf("notifications.%s.%s", normalizeSegment(userID), normalizeSegment(instanceID))
}

// DLQName returns the dead-letter queue for a user's poison events.
func DLQName(userID string) string {
	return fmt.Sprintf("dlq.notifications.%s", normalizeSegment(userID))
}
