package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notification-sync/internal/domain"
	"go.uber.org/zap"
)

// Navigator performs the navigation to a resolved target path.
type Navigator func(target string)

// MarkReader is the slice of MutationService the opener needs.
type MarkReader interface {
	MarkRead(ctx context.Context, id string, opts ...MutationOption) *Mutation
}

// Opener turns a click on a notification into navigation. Navigation only
// uses data already held locally and never waits on the network.
type Opener struct {
	mutations MarkReader
	logger    *zap.Logger
}

func NewOpener(mutations MarkReader, logger *zap.Logger) (*Opener, error) {
	if mutations == nil {
		return nil, fmt.Errorf("mark reader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Opener{mutations: mutations, logger: logger}, nil
}

// Open navigates to n's target first. Only afterwards, and only if n was
// unread, it dispatches MarkRead without waiting for it. The returned
// mutation is nil when no write was needed.
func (o *Opener) Open(ctx context.Context, n domain.Notification, navigate Navigator) (string, *Mutation) {
	target := n.TargetOrHome()
	if navigate != nil {
		navigate(target)
	}

	if n.Read {
		return target, nil
	}

	id := n.ID
	m := o.mutations.MarkRead(ctx, id, OnError(func(err error) {
		o.logger.Warn("background mark-read failed after navigation",
			zap.String("notificationId", id),
			zap.Error(err),
		)
	}))
	return target, m
}
