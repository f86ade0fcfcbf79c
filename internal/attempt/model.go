package attempt

import "time"

// OutcomeOK marks a step that completed without error.
const OutcomeOK = "OK"

// Attempt is one executed protocol step. Balances are never recorded.
type Attempt struct {
	ID string
	// ClientID is the API client that drove the step.
	ClientID  string
	Identity  string
	SessionID string
	Step      string
	// Outcome is OutcomeOK or the classified error code.
	Outcome   string
	Phase     string
	StartedAt time.Time
	Duration  time.Duration
}
