package scrape

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sahl-financial/sahl_api/internal/driver"
)

// Extractor reads the balance from an authenticated session.
type Extractor struct {
	portal Portal
	timing Timing
	now    func() time.Time
}

// NewExtractor builds an extractor for the given portal layout.
func NewExtractor(portal Portal, timing Timing) *Extractor {
	return &Extractor{portal: portal, timing: timing, now: time.Now}
}

// ExtractBalance returns the trimmed balance text. The value is not parsed:
// its format is locale and portal specific. A missing or blank cell yields
// ErrBalanceNotFound and fails the session.
func (x *Extractor) ExtractBalance(ctx context.Context, s *Session) (BalanceReading, error) {
	phase := s.Phase()
	if phase != PhaseAuthenticated {
		return BalanceReading{}, newStepError(ErrNotAuthenticated, phase, "extract balance", nil)
	}

	cell, err := s.handle().Find(ctx, x.portal.BalanceCell, x.timing.Control)
	if err != nil {
		if errors.Is(err, driver.ErrTimeout) {
			return BalanceReading{}, s.fail(newStepError(ErrBalanceNotFound, phase, "find balance cell", err))
		}
		return BalanceReading{}, s.fail(newStepError(ErrDriverFault, phase, "find balance cell", err))
	}
	text, err := cell.Text(ctx)
	if err != nil {
		return BalanceReading{}, s.fail(newStepError(ErrDriverFault, phase, "read balance cell", err))
	}
	raw := strings.TrimSpace(text)
	if raw == "" {
		return BalanceReading{}, s.fail(newStepError(ErrBalanceNotFound, phase, "read balance cell", nil))
	}

	s.touch(x.now())
	return BalanceReading{Raw: raw}, nil
}
