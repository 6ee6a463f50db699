package resilience

import (
	"context"
	"testing"
	"time"

	"pivotscope/internal/errors"
)

func newTestBreaker(now *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker("bybit", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})
	cb.now = func() time.Time { return *now }
	return cb
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)

	boom := errors.New("connection reset")
	for i := 0; i < 3; i++ {
		cb.Execute(ctx, func(context.Context) error { return boom })
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected OPEN after 3 failures, got %s", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if called || !errors.Is(err, errors.ErrCircuitOpen) {
		t.Fatalf("open circuit should reject without calling, err=%v", err)
	}

	now = now.Add(2 * time.Minute)
	v, err := ExecuteWithResult(ctx, cb, func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("half-open probe failed: %v %v", v, err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected CLOSED after successful probe, got %s", cb.State())
	}
	if stats := cb.Stats(); stats.TotalRejected != 1 || stats.TotalFailures != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestCircuitBreaker_IgnoresRateLimits(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)

	for i := 0; i < 10; i++ {
		cb.Execute(ctx, func(context.Context) error {
			return errors.NewProviderError("bybit", errors.CodeRateLimit, "Too many visits", nil)
		})
	}
	if cb.State() != CircuitClosed {
		t.Errorf("rate limits must not open the circuit, got %s", cb.State())
	}
}

func TestHealthMonitor_WorstStatusWins(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)

	m := NewHealthMonitor()
	m.RegisterComponent("store", DatabaseHealthCheck(func(context.Context) error { return nil }))
	m.RegisterComponent("provider", BreakerHealthCheck(cb))

	if h := m.Check(context.Background()); h.Status != HealthStatusHealthy || len(h.Components) != 2 {
		t.Fatalf("unexpected health %+v", h)
	}

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })
	}
	h := m.Check(context.Background())
	if h.Status != HealthStatusDegraded {
		t.Errorf("open circuit should degrade health, got %s", h.Status)
	}
	if h.Components[0].Name != "provider" {
		t.Errorf("components should be sorted by name, got %s first", h.Components[0].Name)
	}
}
