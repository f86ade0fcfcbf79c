package scrape

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sahl-financial/sahl_api/internal/driver"
)

// Phase is the position of a session in the login protocol.
type Phase string

const (
	PhaseCreated       Phase = "Created"
	PhaseAwaitingOtp   Phase = "AwaitingOtp"
	PhaseAuthenticated Phase = "Authenticated"
	PhaseFailed        Phase = "Failed"
	PhaseClosed        Phase = "Closed"
)

// Live reports whether the phase still counts as an open session.
func (p Phase) Live() bool { return p != PhaseClosed }

// canAdvance encodes the forward-only transition table.
func canAdvance(from, to Phase) bool {
	if to == PhaseClosed {
		return from != PhaseClosed
	}
	switch from {
	case PhaseCreated:
		return to == PhaseAwaitingOtp || to == PhaseFailed
	case PhaseAwaitingOtp:
		return to == PhaseAuthenticated || to == PhaseFailed
	case PhaseAuthenticated:
		return to == PhaseFailed
	default:
		return false
	}
}

// BalanceReading is the balance text exactly as shown by the portal, trimmed.
type BalanceReading struct {
	Raw string
}

// Info is a point-in-time copy of a session's observable state.
type Info struct {
	ID           string
	Identity     string
	Owner        string
	Phase        Phase
	CreatedAt    time.Time
	LastActivity time.Time
	LastError    string
}

// Session is one automation attempt for an identity. Steps against it must
// hold its lock; the driver is owned exclusively by the session.
type Session struct {
	id        string
	identity  string
	owner     string
	createdAt time.Time

	// step is a one-slot semaphore serializing steps; a channel so waits can
	// be bounded by a context and the reaper can try without blocking.
	step chan struct{}

	mu           sync.Mutex
	phase        Phase
	drv          driver.Driver
	lastActivity time.Time
	lastError    error

	closeOnce sync.Once
}

func newSession(id, identity, owner string, now time.Time) *Session {
	return &Session{
		id:           id,
		identity:     identity,
		owner:        owner,
		createdAt:    now,
		step:         make(chan struct{}, 1),
		phase:        PhaseCreated,
		lastActivity: now,
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Identity returns the bank login the session automates.
func (s *Session) Identity() string { return s.identity }

// Owner returns the API client that opened the session.
func (s *Session) Owner() string { return s.owner }

// OwnedBy reports whether client may drive the session.
func (s *Session) OwnedBy(client string) bool { return s.owner == client }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// LastError returns the last classified failure, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// LastActivity returns the time of the last successful step.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Lock acquires exclusive step access, waiting until ctx is done.
func (s *Session) Lock(ctx context.Context) error {
	select {
	case s.step <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock acquires step access only if nobody holds it.
func (s *Session) TryLock() bool {
	select {
	case s.step <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases step access.
func (s *Session) Unlock() {
	select {
	case <-s.step:
	default:
		panic("scrape: unlock of unlocked session")
	}
}

// Info snapshots the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:           s.id,
		Identity:     s.identity,
		Owner:        s.owner,
		Phase:        s.phase,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
	if s.lastError != nil {
		info.LastError = Code(s.lastError)
	}
	return info
}

func (s *Session) handle() driver.Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv
}

func (s *Session) bindDriver(d driver.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drv != nil {
		return fmt.Errorf("session %s already has a driver", s.id)
	}
	if s.phase == PhaseClosed {
		return fmt.Errorf("session %s is closed", s.id)
	}
	s.drv = d
	return nil
}

func (s *Session) advance(to Phase, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canAdvance(s.phase, to) {
		return fmt.Errorf("illegal phase transition %s -> %s", s.phase, to)
	}
	s.phase = to
	s.lastActivity = at
	return nil
}

func (s *Session) touch(at time.Time) {
	s.mu.Lock()
	s.lastActivity = at
	s.mu.Unlock()
}

// fail moves the session to Failed and records err. Returns err for chaining.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if canAdvance(s.phase, PhaseFailed) {
		s.phase = PhaseFailed
	}
	s.lastError = err
	return err
}

// close marks the session Closed and releases the driver exactly once.
// Reports whether this call performed the close.
func (s *Session) close() (closed bool, err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.phase = PhaseClosed
		drv := s.drv
		s.mu.Unlock()
		closed = true
		if drv != nil {
			err = drv.Close()
		}
	})
	return closed, err
}
