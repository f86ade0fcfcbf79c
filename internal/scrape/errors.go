package scrape

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by the engine matches exactly one of
// these through errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrNavigationTimeout  = errors.New("navigation timeout")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrOtpTimeout         = errors.New("otp timeout")
	ErrOtpRejected        = errors.New("otp rejected")
	ErrDriverFault        = errors.New("driver fault")
	ErrBalanceNotFound    = errors.New("balance not found")
	ErrSessionBusy        = errors.New("session busy")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrNotOwner           = errors.New("session owned by another client")
)

var kindCodes = []struct {
	kind error
	code string
}{
	{ErrValidation, "VALIDATION_ERROR"},
	{ErrNavigationTimeout, "NAVIGATION_TIMEOUT"},
	{ErrInvalidCredentials, "INVALID_CREDENTIALS"},
	{ErrOtpTimeout, "OTP_TIMEOUT"},
	{ErrOtpRejected, "OTP_REJECTED"},
	{ErrDriverFault, "DRIVER_FAULT"},
	{ErrBalanceNotFound, "BALANCE_NOT_FOUND"},
	{ErrSessionBusy, "SESSION_BUSY"},
	{ErrNotAuthenticated, "NOT_AUTHENTICATED"},
	{ErrNotOwner, "SESSION_NOT_OWNED"},
}

// StepError is a classified failure. Kind is one of the Err* sentinels, Phase
// is the session phase when the failure happened.
type StepError struct {
	Kind  error
	Phase Phase
	Op    string
	Err   error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("%s (phase %s)", e.Kind, e.Phase)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newStepError(kind error, phase Phase, op string, cause error) *StepError {
	return &StepError{Kind: kind, Phase: phase, Op: op, Err: cause}
}

func validationError(phase Phase, format string, args ...any) *StepError {
	return newStepError(ErrValidation, phase, "", fmt.Errorf(format, args...))
}

// Code returns the stable API code for err, or "INTERNAL" when err is not a
// classified engine error.
func Code(err error) string {
	for _, kc := range kindCodes {
		if errors.Is(err, kc.kind) {
			return kc.code
		}
	}
	return "INTERNAL"
}

// PhaseOf returns the phase recorded on a StepError, if any.
func PhaseOf(err error) (Phase, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Phase, true
	}
	return "", false
}

// Transient reports whether a fresh session might succeed where this one failed.
func Transient(err error) bool {
	return errors.Is(err, ErrNavigationTimeout) ||
		errors.Is(err, ErrOtpTimeout) ||
		errors.Is(err, ErrDriverFault) ||
		errors.Is(err, ErrSessionBusy)
}
