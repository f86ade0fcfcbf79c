package scrape

import (
	"sync"
	"testing"
	"time"

	"github.com/sahl-financial/sahl_api/internal/attempt"
	"github.com/sahl-financial/sahl_api/internal/driver/drivertest"
	"github.com/sahl-financial/sahl_api/internal/logging"
)

const (
	testPortalURL = "https://portal.test/login"
	rejectedCode  = "000000"
	testClient    = "mobile"
)

var testPortal = DefaultPortal(testPortalURL)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// bankPage scripts the portal: the login succeeds for identity+password,
// rejectedCode is refused and any other code shows balance.
func bankPage(identity, password, balance string) func(*drivertest.Driver) {
	return func(d *drivertest.Driver) {
		d.Add(testPortal.LoginInput, "")
		d.Add(testPortal.LoginButton, "")
		d.OnClick(testPortal.LoginButton, func(d *drivertest.Driver) {
			if d.Element(testPortal.LoginInput).Value() != identity+password {
				d.SetHTML(`<html><body><span id="Main_ctl00_lblError">Identifiant ou mot de passe incorrect</span></body></html>`)
				return
			}
			d.SetHTML(`<html><body><span id="Main_ctl00_lblError"></span></body></html>`)
			d.Add(testPortal.OtpInput, "")
			d.Add(testPortal.OtpSubmit, "")
		})
		d.OnClick(testPortal.OtpSubmit, func(d *drivertest.Driver) {
			if d.Element(testPortal.OtpInput).Value() == rejectedCode {
				d.SetHTML(`<html><body><div id="Main_ctl00_lblOtpError">Code incorrect</div></body></html>`)
				return
			}
			d.Add(testPortal.BalanceContainer, "")
			d.Add(testPortal.BalanceCell, balance)
		})
	}
}

type fixture struct {
	launcher *drivertest.Launcher
	store    *Store
	machine  *Machine
	engine   *Engine
	journal  *attempt.Journal
	clock    *testClock
}

func newFixture(t *testing.T, setup func(*drivertest.Driver), metrics *Metrics) *fixture {
	t.Helper()
	logger := logging.Discard()
	clock := newTestClock()
	launcher := &drivertest.Launcher{Setup: setup}
	store := NewStore(logger, WithClock(clock.Now), WithMetrics(metrics))
	machine := NewMachine(launcher, testPortal, Timing{}, logger,
		WithMachineClock(clock.Now), WithMachineMetrics(metrics))
	journal := attempt.NewJournal(attempt.NewMemoryRepository())
	engine := NewEngine(store, machine, logger,
		WithRecorder(journal), WithLockWait(200*time.Millisecond))
	return &fixture{
		launcher: launcher,
		store:    store,
		machine:  machine,
		engine:   engine,
		journal:  journal,
		clock:    clock,
	}
}
