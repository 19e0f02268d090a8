package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.State() != StateClosed {
		t.Errorf("Initial state = %v, want closed", cb.State())
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.config.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cb.config.FailureThreshold)
	}
	if cb.config.ResetTimeout != 30*time.Second {
		t.Errorf("ResetTimeout = %v, want 30s", cb.config.ResetTimeout)
	}
	if cb.config.CallTimeout != 30*time.Second {
		t.Errorf("CallTimeout = %v, want 30s", cb.config.CallTimeout)
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Second,
	})

	testErr := errors.New("test error")

	// First 2 failures should not open
	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return testErr
		})
		if err != testErr {
			t.Errorf("Execute() error = %v, want %v", err, testErr)
		}
		if cb.State() != StateClosed {
			t.Errorf("After %d failures, state = %v, want closed", i+1, cb.State())
		}
	}

	// Third failure should open
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})
	if cb.State() != StateOpen {
		t.Errorf("After 3 failures, state = %v, want open", cb.State())
	}

	// Next request should be rejected without invoking the operation
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("Should not be called when circuit is open")
		return nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("Execute() when open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ThresholdTwoResetHundredMillis(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     100 * time.Millisecond,
	})

	testErr := errors.New("test error")

	// Two failing calls open the circuit.
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return testErr
		})
	}
	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want open", cb.State())
	}

	// A third call within the reset window is rejected.
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("Execute() within reset window = %v, want ErrCircuitOpen", err)
	}

	// After the window elapses, a successful call closes the circuit.
	time.Sleep(120 * time.Millisecond)
	err = cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Execute() after reset window = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_RecoveryFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
	})

	testErr := errors.New("test error")

	// Open the circuit
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	// Wait for half-open
	time.Sleep(20 * time.Millisecond)

	before := cb.Metrics().NextAttempt

	// Failed probe should re-open with a fresh reset deadline
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	if cb.State() != StateOpen {
		t.Errorf("State = %v, want open", cb.State())
	}
	if after := cb.Metrics().NextAttempt; !after.After(before) {
		t.Errorf("NextAttempt = %v, want later than %v", after, before)
	}
}

func TestCircuitBreaker_HalfOpenSingleTrial(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
	})

	// Open the circuit
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	time.Sleep(20 * time.Millisecond)

	// Fire concurrent probes; only one operation may actually run.
	release := make(chan struct{})
	var mu sync.Mutex
	invoked := 0
	rejected := 0

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cb.Execute(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				invoked++
				mu.Unlock()
				<-release
				return nil
			})
			if err == ErrCircuitOpen {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if invoked != 1 {
		t.Errorf("Invocations during half-open = %d, want 1", invoked)
	}
	if rejected != 4 {
		t.Errorf("Rejections during half-open = %d, want 4", rejected)
	}
	if cb.State() != StateClosed {
		t.Errorf("State after successful probe = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_TimeoutCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		CallTimeout:      10 * time.Millisecond,
	})

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return nil
	})

	if err != ErrTimeout {
		t.Errorf("Execute() = %v, want ErrTimeout", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("State after timeout = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_ForceOpenForceClose(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ResetTimeout: time.Hour,
	})

	cb.ForceOpen()
	if cb.State() != StateOpen {
		t.Fatalf("State after ForceOpen = %v, want open", cb.State())
	}

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("Execute() after ForceOpen = %v, want ErrCircuitOpen", err)
	}

	cb.ForceClose()
	if cb.State() != StateClosed {
		t.Errorf("State after ForceClose = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Hour,
	})

	testErr := errors.New("test error")

	// Two failures
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return testErr
		})
	}

	// One success should reset failure count
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	// Two more failures should not open (count was reset)
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return testErr
		})
	}

	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []struct{ from, to State }

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, struct{ from, to State }{from, to})
			mu.Unlock()
		},
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})

	time.Sleep(20 * time.Millisecond)
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	mu.Lock()
	defer mu.Unlock()

	want := []struct{ from, to State }{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(transitions) != len(want) {
		t.Fatalf("Transitions = %v, want %v", transitions, want)
	}
	for i, tr := range transitions {
		if tr != want[i] {
			t.Errorf("Transition %d = %v -> %v, want %v -> %v", i, tr.from, tr.to, want[i].from, want[i].to)
		}
	}
}

func TestCircuitBreaker_Metrics(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 5,
	})

	testErr := errors.New("test error")
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return testErr
		})
	}

	metrics := cb.Metrics()
	if metrics.State != StateClosed {
		t.Errorf("Metrics.State = %v, want closed", metrics.State)
	}
	if metrics.Failures != 2 {
		t.Errorf("Metrics.Failures = %d, want 2", metrics.Failures)
	}
	if metrics.LastFailure.IsZero() {
		t.Error("Metrics.LastFailure is zero, want set")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
