package scrape

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsTrackSessionLifecycle(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	f := newFixture(t, bankPage("u1", "p1", "10.00"), metrics)
	ctx := context.Background()

	if _, err := f.engine.Scrape(ctx, Request{Client: testClient, Identity: "u1", Password: "p1"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := testutil.ToFloat64(metrics.active); got != 1 {
		t.Fatalf("expected one active session, got %v", got)
	}
	if _, err := f.engine.Scrape(ctx, Request{Client: testClient, Identity: "u1", Code: rejectedCode}); err == nil {
		t.Fatalf("expected rejection")
	}

	if got := testutil.ToFloat64(metrics.created); got != 1 {
		t.Fatalf("expected one created session, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.active); got != 0 {
		t.Fatalf("expected no active session, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.released.WithLabelValues(ReasonFailed)); got != 1 {
		t.Fatalf("expected one failed release, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.steps.WithLabelValues(StepPassword, "ok")); got != 1 {
		t.Fatalf("expected one ok password step, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.steps.WithLabelValues(StepCode, "OTP_REJECTED")); got != 1 {
		t.Fatalf("expected one rejected code step, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.sessionCreated()
	m.sessionReleased(ReasonIdle)
	m.stepFinished(StepCode, nil, 0)
	m.reaperSkipped()
}
