package attempt

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Journal records protocol steps so operators can see why a login failed
// without reading the logs.
type Journal struct {
	repo Repository
}

// NewJournal creates a journal over repo.
func NewJournal(repo Repository) *Journal {
	return &Journal{repo: repo}
}

// Entry is the caller-supplied part of an attempt.
type Entry struct {
	ClientID  string
	Identity  string
	SessionID string
	Step      string
	Outcome   string
	Phase     string
	StartedAt time.Time
	Duration  time.Duration
}

// Record stores an entry under a fresh id.
func (j *Journal) Record(ctx context.Context, e Entry) (Attempt, error) {
	if e.Identity == "" || e.SessionID == "" || e.Step == "" {
		return Attempt{}, errors.New("identity, session id and step are required")
	}
	outcome := e.Outcome
	if outcome == "" {
		outcome = OutcomeOK
	}
	a := Attempt{
		ID:        uuid.NewString(),
		ClientID:  e.ClientID,
		Identity:  e.Identity,
		SessionID: e.SessionID,
		Step:      e.Step,
		Outcome:   outcome,
		Phase:     e.Phase,
		StartedAt: e.StartedAt.UTC(),
		Duration:  e.Duration,
	}
	if err := j.repo.Save(ctx, a); err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// Recent lists the newest attempts clientID made for identity. limit is
// clamped to [1,100], zero meaning the default of 20.
func (j *Journal) Recent(ctx context.Context, clientID, identity string, limit int) ([]Attempt, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, errors.New("identity is required")
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return j.repo.ListByIdentity(ctx, clientID, identity, limit)
}
