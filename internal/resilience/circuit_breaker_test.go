package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	failing := func() error { return errors.New("backend down") }

	for i := 0; i < 3; i++ {
		if err := cb.Call(failing); err == nil {
			t.Fatalf("Expected failure on call %d", i)
		}
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected StateOpen after %d failures, got %v", 3, cb.GetState())
	}

	if err := cb.Call(failing); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	for i := 0; i < 10; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("Call() failed: %v", err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected StateClosed, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	cb.Call(func() error { return errors.New("fail") })
	cb.Call(func() error { return errors.New("fail") })
	cb.Call(func() error { return nil })
	cb.Call(func() error { return errors.New("fail") })
	cb.Call(func() error { return errors.New("fail") })

	if cb.GetState() != StateClosed {
		t.Errorf("Expected StateClosed after interleaved success, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 10*time.Millisecond)

	cb.Call(func() error { return errors.New("fail") })
	cb.Call(func() error { return errors.New("fail") })

	if cb.GetState() != StateOpen {
		t.Fatalf("Expected StateOpen, got %v", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	// First call after the reset timeout is a trial request
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("Expected trial call to be allowed, got %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected StateHalfOpen, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 10*time.Millisecond)

	cb.Call(func() error { return errors.New("fail") })
	cb.Call(func() error { return errors.New("fail") })
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("Trial call %d failed: %v", i, err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected StateClosed after successful trials, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 10*time.Millisecond)

	cb.Call(func() error { return errors.New("fail") })
	cb.Call(func() error { return errors.New("fail") })
	time.Sleep(20 * time.Millisecond)

	cb.Call(func() error { return errors.New("still down") })

	if cb.GetState() != StateOpen {
		t.Errorf("Expected StateOpen after half-open failure, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)

	cb.Call(func() error { return errors.New("fail") })
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected StateOpen, got %v", cb.GetState())
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected StateClosed after Reset, got %v", cb.GetState())
	}

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Errorf("Call() after Reset failed: %v", err)
	}
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb := NewCircuitBreaker("test", 5, time.Minute)

	cb.Call(func() error { return nil })
	cb.Call(func() error { return errors.New("fail") })
	cb.Call(func() error { return nil })
	cb.Call(func() error { return errors.New("fail") })

	state, requests, failures, rate := cb.GetStats()
	if state != StateClosed {
		t.Errorf("Expected StateClosed, got %v", state)
	}
	if requests != 4 {
		t.Errorf("Expected 4 requests, got %d", requests)
	}
	if failures != 2 {
		t.Errorf("Expected 2 failures, got %d", failures)
	}
	if rate != 50.0 {
		t.Errorf("Expected 50%% failure rate, got %.1f", rate)
	}
}
