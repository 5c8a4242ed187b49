package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kursadbilgin/notification-sync/internal/domain"
)

// MutationStatus is the caller-visible state of a mutation.
type MutationStatus int32

const (
	MutationPending MutationStatus = iota
	MutationSucceeded
	MutationFailed
)

func (s MutationStatus) String() string {
	switch s {
	case MutationPending:
		return "pending"
	case MutationSucceeded:
		return "success"
	case MutationFailed:
		return "error"
	}
	return "unknown"
}

// Mutation is the handle of one optimistic write. Its result is only ever
// reported through Status, Err, Wait and the registered callbacks.
type Mutation struct {
	ID   string
	Kind domain.MutationKind
	IDs  []string

	status atomic.Int32
	done   chan struct{}
	once   sync.Once
	err    error

	onSuccess []func()
	onError   []func(error)
}

type MutationOption func(*Mutation)

// OnSuccess registers fn to run after the mutation commits.
func OnSuccess(fn func()) MutationOption {
	return func(m *Mutation) {
		if fn != nil {
			m.onSuccess = append(m.onSuccess, fn)
		}
	}
}

// OnError registers fn to run after the mutation is rolled back or rejected.
func OnError(fn func(error)) MutationOption {
	return func(m *Mutation) {
		if fn != nil {
			m.onError = append(m.onError, fn)
		}
	}
}

func newMutation(id string, kind domain.MutationKind, ids []string, opts []MutationOption) *Mutation {
	m := &Mutation{
		ID:   id,
		Kind: kind,
		IDs:  ids,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Mutation) Status() MutationStatus {
	return MutationStatus(m.status.Load())
}

// Done is closed once the mutation settled and its callbacks ran.
func (m *Mutation) Done() <-chan struct{} {
	return m.done
}

// Err is nil while pending and after success.
func (m *Mutation) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// Wait blocks until the mutation settles or ctx is done. Giving up on the
// wait does not cancel the mutation.
func (m *Mutation) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-m.done:
		return m.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mutation) settle(err error) {
	m.once.Do(func() {
		m.err = err
		if err != nil {
			m.status.Store(int32(MutationFailed))
			for _, fn := range m.onError {
				fn(err)
			}
		} else {
			m.status.Store(int32(MutationSucceeded))
			for _, fn := range m.onSuccess {
				fn()
			}
		}
		close(m.done)
	})
}
