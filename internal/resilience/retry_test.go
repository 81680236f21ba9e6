package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Fatalf("Retry() failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, config, nil)

	if err != nil {
		t.Fatalf("Retry() failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	wantErr := errors.New("persistent")
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return wantErr
	}, config, nil)

	if !errors.Is(err, wantErr) {
		t.Errorf("Expected last error %v, got %v", wantErr, err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	fatal := errors.New("bad request")
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return fatal
	}, config, func(err error) bool { return false })

	if !errors.Is(err, fatal) {
		t.Errorf("Expected error %v, got %v", fatal, err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call for non-retryable error, got %d", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       10,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, func() error {
		calls++
		return errors.New("transient")
	}, config, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if calls > 2 {
		t.Errorf("Expected retries to stop on cancellation, got %d calls", calls)
	}
}

func TestCalculateBackoff(t *testing.T) {
	initial := 100 * time.Millisecond
	max := 5 * time.Second

	if got := CalculateBackoff(0, initial, max, 2.0); got != 100*time.Millisecond {
		t.Errorf("Expected 100ms for attempt 0, got %v", got)
	}
	if got := CalculateBackoff(2, initial, max, 2.0); got != 400*time.Millisecond {
		t.Errorf("Expected 400ms for attempt 2, got %v", got)
	}
	if got := CalculateBackoff(10, initial, max, 2.0); got != max {
		t.Errorf("Expected cap at %v, got %v", max, got)
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	if !IsRetryableNetworkError(errors.New("dial tcp: connection refused")) {
		t.Error("Expected connection refused to be retryable")
	}
	if !IsRetryableNetworkError(errors.New("context deadline exceeded")) {
		t.Error("Expected deadline exceeded to be retryable")
	}
	if IsRetryableNetworkError(errors.New("invalid argument")) {
		t.Error("Expected invalid argument to not be retryable")
	}
	if IsRetryableNetworkError(nil) {
		t.Error("Expected nil to not be retryable")
	}
}

func TestReconnect_SucceedsAfterFailures(t *testing.T) {
	config := &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  10 * time.Millisecond,
	}

	calls := 0
	err := Reconnect(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("refused")
		}
		return nil
	}, config)

	if err != nil {
		t.Fatalf("Reconnect() failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestReconnect_Exhausted(t *testing.T) {
	config := &ReconnectConfig{
		MaxAttempts: 2,
		Backoff:     time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  10 * time.Millisecond,
	}

	err := Reconnect(context.Background(), func() error {
		return errors.New("refused")
	}, config)

	if err == nil {
		t.Error("Expected error after exhausting attempts")
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Reconnect(ctx, func() error {
		return errors.New("refused")
	}, DefaultReconnectConfig())

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
