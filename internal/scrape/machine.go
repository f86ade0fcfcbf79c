package scrape

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sahl-financial/sahl_api/internal/driver"
)

// Step names, used for logs, metrics and the attempt journal.
const (
	StepPassword = "password"
	StepCode     = "code"
)

// Machine drives one session through the password then OTP login protocol.
// Callers must hold the session lock for the whole call. No step is retried.
type Machine struct {
	launcher  driver.Launcher
	portal    Portal
	timing    Timing
	extractor *Extractor
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

// MachineOption customizes a Machine.
type MachineOption func(*Machine)

// WithMachineClock overrides the time source used for activity stamps.
func WithMachineClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// WithMachineMetrics attaches a metrics collector.
func WithMachineMetrics(metrics *Metrics) MachineOption {
	return func(m *Machine) { m.metrics = metrics }
}

// NewMachine builds a state machine for the given portal.
func NewMachine(launcher driver.Launcher, portal Portal, timing Timing, logger *slog.Logger, opts ...MachineOption) *Machine {
	m := &Machine{
		launcher: launcher,
		portal:   portal,
		timing:   timing,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.extractor = &Extractor{portal: portal, timing: timing, now: m.now}
	return m
}

// SubmitPassword launches the session's browser, logs in with the identity and
// password and waits for the one-time-code prompt. On success the session is
// AwaitingOtp; on any portal or driver failure it is Failed.
func (m *Machine) SubmitPassword(ctx context.Context, s *Session, password string) error {
	start := time.Now()
	err := m.submitPassword(ctx, s, password)
	m.finish(s, StepPassword, err, time.Since(start))
	return err
}

func (m *Machine) submitPassword(ctx context.Context, s *Session, password string) error {
	if phase := s.Phase(); phase != PhaseCreated {
		return validationError(phase, "password can only be submitted to a new session")
	}
	if password == "" {
		return validationError(PhaseCreated, "password is required")
	}

	drv, err := m.launcher.Launch(ctx)
	if err != nil {
		return s.fail(newStepError(ErrDriverFault, PhaseCreated, "launch browser", err))
	}
	if err := s.bindDriver(drv); err != nil {
		if cerr := drv.Close(); cerr != nil {
			m.logger.Warn("scrape.browser close failed",
				slog.String("identity", s.identity),
				slog.String("session_id", s.id),
				slog.Any("error", cerr),
			)
		}
		return s.fail(newStepError(ErrDriverFault, PhaseCreated, "bind browser", err))
	}

	p := m.portal
	if err := drv.Open(ctx, p.LoginURL, m.timing.PageLoad); err != nil {
		return m.failStep(s, "open portal", err, ErrNavigationTimeout)
	}
	login, err := drv.Find(ctx, p.LoginInput, m.timing.Control)
	if err != nil {
		return m.failStep(s, "wait login field", err, ErrNavigationTimeout)
	}
	if err := login.Type(ctx, s.identity); err != nil {
		return m.failStep(s, "type identity", err, ErrNavigationTimeout)
	}

	field := login
	if p.PasswordInput != "" && p.PasswordInput != p.LoginInput {
		if field, err = drv.Find(ctx, p.PasswordInput, m.timing.Control); err != nil {
			return m.failStep(s, "wait password field", err, ErrNavigationTimeout)
		}
	}
	// The portal rejects pasted passwords; it wants one key event at a time.
	for _, r := range password {
		if err := field.Type(ctx, string(r)); err != nil {
			return m.failStep(s, "type password", err, ErrNavigationTimeout)
		}
		if err := pause(ctx, m.timing.Keystroke); err != nil {
			return m.failStep(s, "type password", err, ErrNavigationTimeout)
		}
	}

	button, err := drv.Find(ctx, p.LoginButton, m.timing.Control)
	if err != nil {
		return m.failStep(s, "wait login button", err, ErrNavigationTimeout)
	}
	if err := button.Click(ctx); err != nil {
		return m.failStep(s, "click login", err, ErrNavigationTimeout)
	}

	if _, err := drv.Find(ctx, p.OtpInput, m.timing.Control); err != nil {
		if errors.Is(err, driver.ErrTimeout) && bannerShown(ctx, drv, p.LoginError) {
			return s.fail(newStepError(ErrInvalidCredentials, PhaseCreated, "wait otp field", nil))
		}
		return m.failStep(s, "wait otp field", err, ErrNavigationTimeout)
	}

	if err := s.advance(PhaseAwaitingOtp, m.now()); err != nil {
		return s.fail(newStepError(ErrDriverFault, s.Phase(), "advance", err))
	}
	return nil
}

// SubmitCode types the one-time code, waits for the account page and extracts
// the balance. The session must be AwaitingOtp, otherwise ErrNotAuthenticated
// is returned and the session is left untouched.
func (m *Machine) SubmitCode(ctx context.Context, s *Session, code string) (BalanceReading, error) {
	start := time.Now()
	reading, err := m.submitCode(ctx, s, code)
	m.finish(s, StepCode, err, time.Since(start))
	return reading, err
}

func (m *Machine) submitCode(ctx context.Context, s *Session, code string) (BalanceReading, error) {
	phase := s.Phase()
	if phase != PhaseAwaitingOtp {
		return BalanceReading{}, newStepError(ErrNotAuthenticated, phase, "submit code", nil)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return BalanceReading{}, validationError(phase, "code is required")
	}

	drv := s.handle()
	p := m.portal
	field, err := drv.Find(ctx, p.OtpInput, m.timing.Control)
	if err != nil {
		return BalanceReading{}, m.failStep(s, "wait otp field", err, ErrOtpTimeout)
	}
	if err := field.Clear(ctx); err != nil {
		return BalanceReading{}, m.failStep(s, "clear otp field", err, ErrOtpTimeout)
	}
	if err := field.Type(ctx, code); err != nil {
		return BalanceReading{}, m.failStep(s, "type otp", err, ErrOtpTimeout)
	}
	if err := pause(ctx, m.timing.OtpSettle); err != nil {
		return BalanceReading{}, m.failStep(s, "type otp", err, ErrOtpTimeout)
	}
	submit, err := drv.Find(ctx, p.OtpSubmit, m.timing.Control)
	if err != nil {
		return BalanceReading{}, m.failStep(s, "wait otp submit", err, ErrOtpTimeout)
	}
	if err := submit.Click(ctx); err != nil {
		return BalanceReading{}, m.failStep(s, "click otp submit", err, ErrOtpTimeout)
	}

	if _, err := drv.Find(ctx, p.BalanceContainer, m.timing.Balance); err != nil {
		if errors.Is(err, driver.ErrTimeout) && bannerShown(ctx, drv, p.OtpError) {
			return BalanceReading{}, s.fail(newStepError(ErrOtpRejected, PhaseAwaitingOtp, "wait balance", nil))
		}
		return BalanceReading{}, m.failStep(s, "wait balance", err, ErrOtpTimeout)
	}

	if err := s.advance(PhaseAuthenticated, m.now()); err != nil {
		return BalanceReading{}, s.fail(newStepError(ErrDriverFault, s.Phase(), "advance", err))
	}
	return m.extractor.ExtractBalance(ctx, s)
}

// failStep classifies a driver error: waits that ran out become timeoutKind,
// anything else is a driver fault. The session is marked Failed.
func (m *Machine) failStep(s *Session, op string, err error, timeoutKind error) error {
	kind := ErrDriverFault
	if errors.Is(err, driver.ErrTimeout) {
		kind = timeoutKind
	}
	return s.fail(newStepError(kind, s.Phase(), op, err))
}

func (m *Machine) finish(s *Session, step string, err error, took time.Duration) {
	m.metrics.stepFinished(step, err, took)
	attrs := []any{
		slog.String("identity", s.identity),
		slog.String("session_id", s.id),
		slog.String("step", step),
		slog.String("phase", string(s.Phase())),
		slog.Duration("duration", took),
	}
	if err != nil {
		attrs = append(attrs, slog.String("kind", Code(err)), slog.Any("error", err))
		m.logger.Warn("scrape.step failed", attrs...)
		return
	}
	m.logger.Info("scrape.step completed", attrs...)
}

// bannerShown reports whether selector matches an element with visible text in
// the current page. Read failures count as not shown.
func bannerShown(ctx context.Context, drv driver.Driver, selector string) bool {
	if selector == "" {
		return false
	}
	html, err := drv.HTML(ctx)
	if err != nil || html == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	shown := false
	doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if strings.TrimSpace(sel.Text()) != "" {
			shown = true
			return false
		}
		return true
	})
	return shown
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
