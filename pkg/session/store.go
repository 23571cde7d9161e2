// Package session holds the bounded per-session conversation history used
// for reference resolution and context seeding.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultMaxHistory    = 10
	defaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = 5 * time.Minute
)

// Turn is one completed (question, answer) exchange.
type Turn struct {
	QueryID   string
	Question  string
	Answer    string
	Statement string
	At        time.Time
}

// Config configures a Store.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// MaxHistory bounds the turns kept per session; the oldest are evicted
	// first.
	MaxHistory int
	// IdleTTL is how long an inactive session survives a sweep.
	IdleTTL time.Duration
	// SweepInterval is the idle-session sweep cadence.
	SweepInterval time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.MaxHistory == 0 {
		c.MaxHistory = defaultMaxHistory
	}
	if c.IdleTTL == 0 {
		c.IdleTTL = defaultIdleTTL
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = defaultSweepInterval
	}
	return nil
}

type sessionState struct {
	mu           sync.Mutex
	turns        []Turn
	lastActivity time.Time
}

// Store owns all sessions. Each session's history is mutated only after a
// response is finalized, under that session's lock.
type Store struct {
	cfg *Config
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionState
}

// NewStore creates an empty store.
func NewStore(cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate session store config: %w", err)
	}
	return &Store{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[string]*sessionState),
	}, nil
}

// Append records a finished turn, evicting the oldest entry when the history
// bound is reached.
func (s *Store) Append(sessionID string, turn Turn) {
	state := s.state(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	state.turns = append(state.turns, turn)
	if len(state.turns) > s.cfg.MaxHistory {
		state.turns = state.turns[len(state.turns)-s.cfg.MaxHistory:]
	}
	state.lastActivity = s.cfg.Clock.Now()
}

// History returns a copy of the session's turns, oldest first. Unknown
// sessions return nil.
func (s *Store) History(sessionID string) []Turn {
	s.mu.RLock()
	state, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	out := make([]Turn, len(state.turns))
	copy(out, state.turns)
	return out
}

// Touch refreshes a session's last-activity time, creating it if needed.
func (s *Store) Touch(sessionID string) {
	state := s.state(sessionID)
	state.mu.Lock()
	state.lastActivity = s.cfg.Clock.Now()
	state.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StartSweeper evicts idle sessions until ctx is canceled.
func (s *Store) StartSweeper(ctx context.Context) {
	go func() {
		ticker := s.cfg.Clock.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				s.sweep()
			}
		}
	}()
}

func (s *Store) sweep() {
	cutoff := s.cfg.Clock.Now().Add(-s.cfg.IdleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, state := range s.sessions {
		state.mu.Lock()
		idle := state.lastActivity.Before(cutoff)
		state.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.log.Debug("session: swept idle sessions", "evicted", evicted, "remaining", len(s.sessions))
	}
}

func (s *Store) state(sessionID string) *sessionState {
	s.mu.RLock()
	state, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return state
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok = s.sessions[sessionID]; ok {
		return state
	}
	state = &sessionState{lastActivity: s.cfg.Clock.Now()}
	s.sessions[sessionID] = state
	return state
}
