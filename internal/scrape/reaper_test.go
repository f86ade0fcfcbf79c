package scrape

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sahl-financial/sahl_api/internal/driver/drivertest"
	"github.com/sahl-financial/sahl_api/internal/logging"
	"github.com/sahl-financial/sahl_api/internal/notification"
)

const testIdle = 10 * time.Minute

func TestReaperEvictsIdleSession(t *testing.T) {
	f := newFixture(t, bankPage("u1", "p1", "10.00"), nil)
	var mu sync.Mutex
	var sent []notification.Message
	notifier := notification.Func(func(_ context.Context, m notification.Message) error {
		mu.Lock()
		sent = append(sent, m)
		mu.Unlock()
		return nil
	})
	reaper := NewReaper(f.store, time.Minute, testIdle, notifier, logging.Discard())
	ctx := context.Background()

	first, err := f.engine.Scrape(ctx, Request{Client: testClient, Identity: "u1", Password: "p1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	f.clock.Advance(testIdle)
	if n := reaper.Tick(ctx); n != 0 {
		t.Fatalf("session at the threshold must survive, evicted %d", n)
	}

	f.clock.Advance(time.Second)
	if n := reaper.Tick(ctx); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if f.store.Len() != 0 {
		t.Fatalf("expected empty table")
	}
	if f.launcher.Drivers()[0].Closes() != 1 {
		t.Fatalf("expected browser closed on eviction")
	}
	if len(sent) != 1 || sent[0].Kind != notification.KindSessionEvicted {
		t.Fatalf("expected eviction notice, got %+v", sent)
	}

	second, err := f.engine.Scrape(ctx, Request{Client: testClient, Identity: "u1", Password: "p1"})
	if err != nil {
		t.Fatalf("login after eviction: %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Fatalf("expected a fresh session after eviction")
	}
}

func TestReaperSkipsSessionWithStepInFlight(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	var entered <-chan struct{}
	var release func()
	ready := make(chan struct{})
	f := newFixture(t, func(d *drivertest.Driver) {
		bankPage("u1", "p1", "10.00")(d)
		entered, release = d.Block(testPortal.OtpInput)
		close(ready)
	}, metrics)
	reaper := NewReaper(f.store, time.Minute, testIdle, nil, logging.Discard())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Scrape(ctx, Request{Client: testClient, Identity: "u1", Password: "p1"})
		done <- err
	}()
	<-ready
	<-entered

	f.clock.Advance(testIdle + time.Minute)
	if n := reaper.Tick(ctx); n != 0 {
		t.Fatalf("reaper must not evict a session mid-step, evicted %d", n)
	}
	if got := testutil.ToFloat64(metrics.reaperSkips); got != 1 {
		t.Fatalf("expected one busy skip, got %v", got)
	}
	drv := f.launcher.Drivers()[0]
	if drv.Closes() != 0 {
		t.Fatalf("browser closed under a running step")
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("login: %v", err)
	}
	// The finished step refreshed the activity stamp.
	if n := reaper.Tick(ctx); n != 0 {
		t.Fatalf("freshly active session evicted")
	}

	f.clock.Advance(testIdle + time.Second)
	if n := reaper.Tick(ctx); n != 1 {
		t.Fatalf("expected eviction once idle, got %d", n)
	}
	if drv.Closes() != 1 {
		t.Fatalf("expected one close, got %d", drv.Closes())
	}
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil, nil)
	reaper := NewReaper(f.store, time.Millisecond, testIdle, nil, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- reaper.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("reaper did not stop")
	}
}
