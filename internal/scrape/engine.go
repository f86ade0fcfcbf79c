package scrape

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/sahl-financial/sahl_api/internal/attempt"
	"github.com/sahl-financial/sahl_api/internal/notification"
)

// Response statuses.
const (
	StatusOtpRequired = "OTP_REQUIRED"
	StatusBalance     = "BALANCE"
)

const defaultLockWait = 60 * time.Second

// Request is one call into the engine. A request without a code starts a
// login; a request with a code completes it. Client is the authenticated API
// client; only the client that opened a session may drive or release it.
type Request struct {
	Client   string
	Identity string
	Password string
	Code     string
}

// Result is the successful outcome of a request.
type Result struct {
	Status    string
	Balance   string
	SessionID string
}

// Recorder journals executed steps.
type Recorder interface {
	Record(ctx context.Context, e attempt.Entry) (attempt.Attempt, error)
}

// Engine routes requests to the right session and step and guarantees every
// session is released once its cycle ends.
type Engine struct {
	store    *Store
	machine  *Machine
	recorder Recorder
	notifier notification.Notifier
	logger   *slog.Logger
	lockWait time.Duration
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithRecorder journals every step.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithNotifier emits an otp_required event after each successful login.
func WithNotifier(n notification.Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithLockWait bounds how long a request waits for a busy session.
func WithLockWait(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.lockWait = d
		}
	}
}

// NewEngine wires a store and a machine together.
func NewEngine(store *Store, machine *Machine, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		machine:  machine,
		logger:   logger,
		lockWait: defaultLockWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the session table.
func (e *Engine) Store() *Store { return e.store }

// Scrape executes the step the request calls for.
func (e *Engine) Scrape(ctx context.Context, req Request) (Result, error) {
	identity, err := NormalizeIdentity(req.Identity)
	if err != nil {
		return Result{}, err
	}
	code := strings.TrimSpace(req.Code)
	if code != "" {
		return e.verify(ctx, req.Client, identity, code)
	}
	if req.Password == "" {
		return Result{}, validationError(PhaseCreated, "password is required")
	}
	return e.login(ctx, req.Client, identity, req.Password)
}

func (e *Engine) login(ctx context.Context, client, identity, password string) (Result, error) {
	for {
		s, err := e.store.Acquire(identity, client)
		if err != nil {
			return Result{}, err
		}
		if !s.OwnedBy(client) {
			return Result{}, newStepError(ErrNotOwner, s.Phase(), "submit password", nil)
		}
		if err := e.lock(ctx, s); err != nil {
			return Result{}, err
		}

		switch s.Phase() {
		case PhaseClosed:
			// Released while we waited; the table already forgot it.
			s.Unlock()
			continue
		case PhaseAwaitingOtp:
			s.Unlock()
			return Result{Status: StatusOtpRequired, SessionID: s.id}, nil
		case PhaseFailed, PhaseAuthenticated:
			e.store.release(s, ReasonFailed)
			s.Unlock()
			continue
		}

		stepCtx := context.WithoutCancel(ctx)
		started := time.Now()
		err = e.machine.SubmitPassword(stepCtx, s, password)
		e.record(stepCtx, s, StepPassword, started, err)
		if err != nil {
			e.store.release(s, ReasonFailed)
			s.Unlock()
			return Result{}, err
		}
		s.Unlock()

		e.notify(stepCtx, s)
		return Result{Status: StatusOtpRequired, SessionID: s.id}, nil
	}
}

func (e *Engine) verify(ctx context.Context, client, identity, code string) (Result, error) {
	for {
		s, ok := e.store.Lookup(identity)
		if !ok {
			return Result{}, newStepError(ErrNotAuthenticated, PhaseClosed, "submit code", nil)
		}
		if !s.OwnedBy(client) {
			return Result{}, newStepError(ErrNotOwner, s.Phase(), "submit code", nil)
		}
		if err := e.lock(ctx, s); err != nil {
			return Result{}, err
		}
		phase := s.Phase()
		if phase == PhaseClosed {
			s.Unlock()
			continue
		}
		if phase != PhaseAwaitingOtp {
			s.Unlock()
			return Result{}, newStepError(ErrNotAuthenticated, phase, "submit code", nil)
		}

		stepCtx := context.WithoutCancel(ctx)
		started := time.Now()
		reading, err := e.machine.SubmitCode(stepCtx, s, code)
		e.record(stepCtx, s, StepCode, started, err)
		reason := ReasonCompleted
		if err != nil {
			reason = ReasonFailed
		}
		e.store.release(s, reason)
		s.Unlock()
		if err != nil {
			return Result{}, err
		}
		return Result{Status: StatusBalance, Balance: reading.Raw, SessionID: s.id}, nil
	}
}

func (e *Engine) lock(ctx context.Context, s *Session) error {
	wait, cancel := context.WithTimeout(ctx, e.lockWait)
	defer cancel()
	if err := s.Lock(wait); err != nil {
		return newStepError(ErrSessionBusy, s.Phase(), "wait for session", err)
	}
	return nil
}

func (e *Engine) record(ctx context.Context, s *Session, step string, started time.Time, stepErr error) {
	if e.recorder == nil {
		return
	}
	entry := attempt.Entry{
		ClientID:  s.owner,
		Identity:  s.identity,
		SessionID: s.id,
		Step:      step,
		Phase:     string(s.Phase()),
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if stepErr != nil {
		entry.Outcome = Code(stepErr)
	}
	if _, err := e.recorder.Record(ctx, entry); err != nil {
		e.logger.Warn("scrape.attempt record failed",
			slog.String("identity", s.identity),
			slog.String("session_id", s.id),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) notify(ctx context.Context, s *Session) {
	if e.notifier == nil {
		return
	}
	msg := notification.Message{
		Kind:        notification.KindOTPRequired,
		Destination: s.identity,
		Body:        "enter the one-time code sent by your bank",
	}
	if err := e.notifier.Send(ctx, msg); err != nil {
		e.logger.Warn("scrape.notify failed", slog.String("identity", s.identity), slog.Any("error", err))
	}
}
