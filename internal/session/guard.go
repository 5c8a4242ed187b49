package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Listener observes auth transitions.
type Listener func(prev, next AuthState)

// Guard owns the current AuthState and bearer token. It starts in Loading.
type Guard struct {
	mu        sync.RWMutex
	state     AuthState
	token     string
	listeners map[int]Listener
	nextID    int
	now       func() time.Time
	logger    *zap.Logger
}

func NewGuard(logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Guard{
		state:     Loading(),
		listeners: make(map[int]Listener),
		now:       time.Now,
		logger:    logger,
	}
}

// Set replaces the state. Listeners run only when the status or user changes.
func (g *Guard) Set(state AuthState) {
	g.mu.Lock()
	prev := g.state
	g.state = state
	if state.Status() != StatusReady {
		g.token = ""
	}
	listeners := g.snapshotListeners()
	g.mu.Unlock()

	if sameIdentity(prev, state) {
		return
	}

	g.logger.Info("auth state changed",
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
	for _, fn := range listeners {
		fn(prev, state)
	}
}

// SetToken adopts a bearer token and derives the state from its claims.
// An unusable token moves the guard to Unauthenticated.
func (g *Guard) SetToken(raw string) (AuthState, error) {
	state, err := StateFromToken(raw, g.now())
	if err != nil {
		g.logger.Warn("session token rejected", zap.Error(err))
		g.Set(Unauthenticated())
		return state, err
	}

	g.mu.Lock()
	g.token = bearer(raw)
	g.mu.Unlock()

	g.Set(state)
	return state, nil
}

// Clear logs the session out.
func (g *Guard) Clear() {
	g.Set(Unauthenticated())
}

func (g *Guard) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

func (g *Guard) State() AuthState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Guard) IsAuthReady() bool {
	return g.State().IsReady()
}

func (g *Guard) UserID() string {
	user, _ := g.State().User()
	return user.ID
}

// Subscribe registers fn and returns a function that removes it.
func (g *Guard) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}

	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.listeners, id)
		g.mu.Unlock()
	}
}

func (g *Guard) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(g.listeners))
	for i := 0; i < g.nextID; i++ {
		if fn, ok := g.listeners[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}
