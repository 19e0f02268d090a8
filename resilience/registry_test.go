package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerRegistry_GetLazilyConstructs(t *testing.T) {
	reg := NewBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 2})

	cb := reg.Get("compute")
	if cb == nil {
		t.Fatal("Get() returned nil")
	}
	if cb.config.FailureThreshold != 2 {
		t.Errorf("FailureThreshold = %d, want 2", cb.config.FailureThreshold)
	}

	// Same name returns the same breaker instance.
	if reg.Get("compute") != cb {
		t.Error("Get() returned a different instance for the same name")
	}

	// Different name returns an independent breaker.
	if reg.Get("storage") == cb {
		t.Error("Get() shared a breaker across dependency names")
	}
}

func TestBreakerRegistry_Names(t *testing.T) {
	reg := NewBreakerRegistry(CircuitBreakerConfig{})
	reg.Get("storage")
	reg.Get("compute")

	names := reg.Names()
	if len(names) != 2 || names[0] != "compute" || names[1] != "storage" {
		t.Errorf("Names() = %v, want [compute storage]", names)
	}
}

func TestBreakerRegistry_Reset(t *testing.T) {
	reg := NewBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})

	cb := reg.Get("compute")
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want open", cb.State())
	}

	if !reg.Reset("compute") {
		t.Error("Reset(compute) = false, want true")
	}
	if cb.State() != StateClosed {
		t.Errorf("State after reset = %v, want closed", cb.State())
	}

	if reg.Reset("unknown") {
		t.Error("Reset(unknown) = true, want false")
	}
}

func TestBreakerRegistry_OnStateChange(t *testing.T) {
	type change struct {
		name     string
		from, to State
	}

	var fromDefaults []State
	reg := NewBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		OnStateChange: func(from, to State) {
			fromDefaults = append(fromDefaults, to)
		},
	})

	var changes []change
	reg.OnStateChange(func(name string, from, to State) {
		changes = append(changes, change{name, from, to})
	})

	cb := reg.Get("compute")
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})

	if len(changes) != 1 {
		t.Fatalf("hook saw %d changes, want 1", len(changes))
	}
	if changes[0] != (change{"compute", StateClosed, StateOpen}) {
		t.Errorf("change = %+v, want compute closed->open", changes[0])
	}

	// The hook composes with the OnStateChange carried by the defaults.
	if len(fromDefaults) != 1 || fromDefaults[0] != StateOpen {
		t.Errorf("defaults hook saw %v, want [open]", fromDefaults)
	}
}

func TestBreakerRegistry_Metrics(t *testing.T) {
	reg := NewBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 5})

	cb := reg.Get("compute")
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	reg.Get("storage")

	metrics := reg.Metrics()
	if len(metrics) != 2 {
		t.Fatalf("Metrics() has %d entries, want 2", len(metrics))
	}
	if metrics["compute"].Failures != 1 {
		t.Errorf("compute failures = %d, want 1", metrics["compute"].Failures)
	}
	if metrics["storage"].State != StateClosed {
		t.Errorf("storage state = %v, want closed", metrics["storage"].State)
	}
}
