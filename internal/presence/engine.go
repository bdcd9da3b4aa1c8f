package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/lifecycle"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
	"github.com/Achen718/socket-chat-ui-sub000/internal/repo"
)

const (
	// DefaultInactivityTimeout is how long without activity before a user
	// drops to away.
	DefaultInactivityTimeout = 10 * time.Second

	// DefaultHeartbeatInterval refreshes last-seen without changing state.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultWriteCooldown suppresses identical non-offline writes.
	DefaultWriteCooldown = 2 * time.Second
)

// Engine drives one user's presence state machine: activity signals and
// visibility transitions force online/away, network loss forces offline,
// and teardown always writes offline. Exactly one engine may exist per
// user process-wide; Manager.Setup enforces that through the registry.
type Engine struct {
	userID string
	store  repo.PresenceRepository
	logger *zap.Logger

	mu               sync.Mutex
	state            string
	lastWrittenState string
	lastWriteAt      time.Time
	writeInFlight    bool

	inactivity *time.Timer
	stopOnce   sync.Once
	done       chan struct{}

	inactivityTimeout time.Duration
	heartbeatInterval time.Duration
	writeCooldown     time.Duration
	now               func() time.Time
}

func newEngine(userID string, store repo.PresenceRepository, logger *zap.Logger) *Engine {
	return &Engine{
		userID:            userID,
		store:             store,
		logger:            logger,
		state:             model.PresenceOffline,
		done:              make(chan struct{}),
		inactivityTimeout: DefaultInactivityTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		writeCooldown:     DefaultWriteCooldown,
		now:               time.Now,
	}
}

func (e *Engine) start() {
	e.UpdatePresence(model.PresenceOnline)
	e.resetInactivityTimer()
	go e.heartbeatLoop()
}

// Activity handles a user-activity signal (pointer, key, scroll, touch):
// the inactivity timer restarts and the user is forced online if not
// already.
func (e *Engine) Activity() {
	e.resetInactivityTimer()

	e.mu.Lock()
	needsWrite := e.state != model.PresenceOnline
	e.mu.Unlock()

	if needsWrite {
		e.UpdatePresence(model.PresenceOnline)
	}
}

// SetVisible maps page-visibility transitions directly onto presence.
func (e *Engine) SetVisible(visible bool) {
	if visible {
		e.resetInactivityTimer()
		e.UpdatePresence(model.PresenceOnline)
	} else {
		e.UpdatePresence(model.PresenceAway)
	}
}

// SetNetworkOnline maps connectivity transitions directly onto presence.
func (e *Engine) SetNetworkOnline(online bool) {
	if online {
		e.UpdatePresence(model.PresenceOnline)
	} else {
		e.UpdatePresence(model.PresenceOffline)
	}
}

// State returns the engine's current in-memory state.
func (e *Engine) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// UpdatePresence transitions to state and writes it to the store, subject
// to the rate limiter: an identical non-offline state within the cooldown
// is suppressed, and a non-offline write is dropped while another is in
// flight. Offline always writes — it must win races at teardown.
func (e *Engine) UpdatePresence(state string) {
	now := e.now()

	e.mu.Lock()
	offline := state == model.PresenceOffline

	if !offline {
		if e.writeInFlight {
			e.mu.Unlock()
			e.logger.Debug("presence write dropped, one in flight",
				zap.String("user_id", e.userID),
				zap.String("state", state),
			)
			return
		}
		if state == e.lastWrittenState && now.Sub(e.lastWriteAt) < e.writeCooldown {
			e.state = state
			e.mu.Unlock()
			return
		}
	}

	e.state = state
	e.lastWrittenState = state
	e.lastWriteAt = now
	e.writeInFlight = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.writeInFlight = false
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.store.WriteTransition(ctx, e.userID, state, now); err != nil {
		e.logger.Warn("presence transition write failed",
			zap.String("user_id", e.userID),
			zap.String("state", state),
			zap.Error(err),
		)
	}
}

// Stop forces offline and halts the timers. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.mu.Lock()
		if e.inactivity != nil {
			e.inactivity.Stop()
		}
		e.mu.Unlock()
		e.UpdatePresence(model.PresenceOffline)
	})
}

func (e *Engine) resetInactivityTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inactivity != nil {
		e.inactivity.Stop()
	}
	e.inactivity = time.AfterFunc(e.inactivityTimeout, func() {
		select {
		case <-e.done:
			return
		default:
		}
		e.UpdatePresence(model.PresenceAway)
	})
}

// heartbeatLoop refreshes only the last-seen timestamp so observers can
// tell a silently connected client from a crashed one by staleness.
func (e *Engine) heartbeatLoop() {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := e.store.TouchLastSeen(ctx, e.userID); err != nil {
				e.logger.Warn("heartbeat failed",
					zap.String("user_id", e.userID),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}

// Manager owns one engine per user and enforces the singleton through the
// resource registry: two overlapping Setup calls for the same user share
// one engine and one heartbeat.
type Manager struct {
	store    repo.PresenceRepository
	registry *lifecycle.Registry
	logger   *zap.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewManager(store repo.PresenceRepository, registry *lifecycle.Registry, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		logger:   logger,
		engines:  make(map[string]*Engine),
	}
}

// Setup returns the engine for userID, starting one on first call.
// Idempotent: concurrent or repeated calls observe the same engine.
func (m *Manager) Setup(userID string) *Engine {
	key := "presence:" + userID

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registry.Has(key) {
		return m.engines[userID]
	}

	engine := newEngine(userID, m.store, m.logger)
	m.engines[userID] = engine

	m.registry.Register(key, func() {
		engine.Stop()
		m.mu.Lock()
		delete(m.engines, userID)
		m.mu.Unlock()
	})

	engine.start()
	m.logger.Info("presence engine started", zap.String("user_id", userID))
	return engine
}

// Teardown stops the engine for userID, writing offline.
func (m *Manager) Teardown(userID string) {
	m.registry.Remove("presence:" + userID)
}
