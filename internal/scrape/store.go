package scrape

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxIdentityLength = 128

// Release reasons, used for logs and metrics.
const (
	ReasonCompleted = "completed"
	ReasonFailed    = "failed"
	ReasonIdle      = "idle"
	ReasonExplicit  = "explicit"
	ReasonShutdown  = "shutdown"
)

// Store owns the identity -> session table. It is the only place sessions are
// created or destroyed.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates an empty session store.
func NewStore(logger *slog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeIdentity trims and validates an identity.
func NormalizeIdentity(identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	switch {
	case identity == "":
		return "", validationError(PhaseCreated, "identity is required")
	case utf8.RuneCountInString(identity) > maxIdentityLength:
		return "", validationError(PhaseCreated, "identity exceeds %d characters", maxIdentityLength)
	case strings.ContainsAny(identity, "\r\n\t"):
		return "", validationError(PhaseCreated, "identity contains control characters")
	}
	return identity, nil
}

// Acquire returns the live session for identity, creating one in Created on
// behalf of owner if there is none. Concurrent callers for the same identity
// get the same *Session; callers check OwnedBy before driving it.
func (st *Store) Acquire(identity, owner string) (*Session, error) {
	identity, err := NormalizeIdentity(identity)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	if s, ok := st.sessions[identity]; ok {
		st.mu.Unlock()
		return s, nil
	}
	s := newSession(uuid.NewString(), identity, owner, st.now())
	st.sessions[identity] = s
	st.mu.Unlock()

	st.metrics.sessionCreated()
	st.logger.Info("scrape.session created",
		slog.String("identity", identity),
		slog.String("session_id", s.id),
		slog.String("client_id", owner),
	)
	return s, nil
}

// Lookup returns the live session for identity without creating one.
func (st *Store) Lookup(identity string) (*Session, bool) {
	identity = strings.TrimSpace(identity)
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[identity]
	return s, ok
}

// Release closes the session for identity and forgets it. It waits for any
// in-flight step to finish (bounded by ctx, else ErrSessionBusy). Releasing an
// absent identity is a no-op; a session opened by another owner yields
// ErrNotOwner and stays open.
func (st *Store) Release(ctx context.Context, identity, owner string) error {
	s, ok := st.Lookup(identity)
	if !ok {
		return nil
	}
	if !s.OwnedBy(owner) {
		return newStepError(ErrNotOwner, s.Phase(), "release", nil)
	}
	if err := s.Lock(ctx); err != nil {
		return newStepError(ErrSessionBusy, s.Phase(), "release", err)
	}
	defer s.Unlock()
	st.release(s, ReasonExplicit)
	return nil
}

// release closes s and removes it from the table if it is still the entry for
// its identity. Callers hold the session lock. Safe to call repeatedly.
func (st *Store) release(s *Session, reason string) {
	st.mu.Lock()
	if cur, ok := st.sessions[s.identity]; ok && cur == s {
		delete(st.sessions, s.identity)
	}
	st.mu.Unlock()

	phase := s.Phase()
	closed, err := s.close()
	if !closed {
		return
	}
	st.metrics.sessionReleased(reason)
	attrs := []any{
		slog.String("identity", s.identity),
		slog.String("session_id", s.id),
		slog.String("phase", string(phase)),
		slog.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
		st.logger.Warn("scrape.session released with driver error", attrs...)
		return
	}
	st.logger.Info("scrape.session released", attrs...)
}

// ListIdle returns identities whose last activity is older than olderThan,
// sorted for stable iteration.
func (st *Store) ListIdle(olderThan time.Duration) []string {
	cutoff := st.now().Add(-olderThan)
	st.mu.Lock()
	candidates := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		candidates = append(candidates, s)
	}
	st.mu.Unlock()

	var idle []string
	for _, s := range candidates {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, s.identity)
		}
	}
	sort.Strings(idle)
	return idle
}

// SnapshotOwned lists the live sessions opened by owner.
func (st *Store) SnapshotOwned(owner string) []Info {
	return st.snapshot(func(s *Session) bool { return s.OwnedBy(owner) })
}

func (st *Store) snapshot(keep func(*Session) bool) []Info {
	st.mu.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		if keep(s) {
			sessions = append(sessions, s)
		}
	}
	st.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Close releases every session, waiting for in-flight steps up to ctx.
func (st *Store) Close(ctx context.Context) {
	st.mu.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.mu.Unlock()

	for _, s := range sessions {
		if err := s.Lock(ctx); err != nil {
			// Shutting down regardless; the browser must not outlive the process.
			st.release(s, ReasonShutdown)
			continue
		}
		st.release(s, ReasonShutdown)
		s.Unlock()
	}
}
