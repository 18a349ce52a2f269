package resilience

import (
	"errors"
	"testing"
	"time"
)

type recordingObserver struct {
	states   []CircuitState
	failures int
}

func (r *recordingObserver) StateChanged(name string, state CircuitState) {
	r.states = append(r.states, state)
}

func (r *recordingObserver) Failure(name string) {
	r.failures++
}

// newTestBreaker returns a breaker driven by a manual clock
func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker("test", maxFailures, reset)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %s", cb.GetState())
	}
	if !cb.allowRequest() {
		t.Error("Expected to allow request in Closed state")
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be Closed after 2 failures")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after 3 failures")
	}
	if cb.allowRequest() {
		t.Error("Expected to not allow request in Open state")
	}
}

func TestCircuitBreaker_HalfOpenAdmitsLimitedProbes(t *testing.T) {
	cb, now := newTestBreaker(1, 100*time.Millisecond)
	cb.RecordResult(false)

	*now = now.Add(150 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if !cb.allowRequest() {
			t.Fatalf("Expected probe %d to be admitted", i+1)
		}
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected HalfOpen, got %s", cb.GetState())
	}
	if cb.allowRequest() {
		t.Error("Expected fourth probe to be rejected")
	}
}

func TestCircuitBreaker_CloseAfterSuccess(t *testing.T) {
	cb, now := newTestBreaker(3, 100*time.Millisecond)
	for i := 0; i < 3; i++ {
		cb.RecordResult(false)
	}

	*now = now.Add(150 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("probe %d failed: %v", i+1, err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Error("Expected state to be Closed after successes in HalfOpen")
	}
}

func TestCircuitBreaker_OpenAfterFailureInHalfOpen(t *testing.T) {
	cb, now := newTestBreaker(3, 100*time.Millisecond)
	for i := 0; i < 3; i++ {
		cb.RecordResult(false)
	}

	*now = now.Add(150 * time.Millisecond)
	_ = cb.Call(func() error { return errors.New("still down") })

	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after failure in HalfOpen")
	}
}

func TestCircuitBreaker_CallOpen(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Second)
	cb.RecordResult(false)

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while the circuit is open")
	}
}

func TestCircuitBreaker_Observer(t *testing.T) {
	cb, now := newTestBreaker(2, 100*time.Millisecond)
	obs := &recordingObserver{}
	cb.WithObserver(obs)

	cb.RecordResult(false)
	cb.RecordResult(false)
	*now = now.Add(time.Second)
	_ = cb.Call(func() error { return nil })

	want := []CircuitState{StateOpen, StateHalfOpen}
	if len(obs.states) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, obs.states)
	}
	for i := range want {
		if obs.states[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], obs.states[i])
		}
	}
	if obs.failures != 2 {
		t.Errorf("Expected 2 failures observed, got %d", obs.failures)
	}
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(true)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requestCount, failureCount, failureRate := cb.GetStats()

	if state != StateClosed {
		t.Errorf("Expected state Closed, got %s", state)
	}
	if requestCount != 3 {
		t.Errorf("Expected 3 requests, got %d", requestCount)
	}
	if failureCount != 1 {
		t.Errorf("Expected 1 failure, got %d", failureCount)
	}
	if failureRate < 33.0 || failureRate > 34.0 {
		t.Errorf("Expected failure rate around 33.33%%, got %.2f%%", failureRate)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	for i := 0; i < 3; i++ {
		cb.RecordResult(false)
	}
	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	cb.Reset()

	state, requestCount, failureCount, _ := cb.GetStats()
	if state != StateClosed || requestCount != 0 || failureCount != 0 {
		t.Error("Expected stats to be reset")
	}
}
