package httpclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryReturnsPermanentImmediately(t *testing.T) {
	cause := errors.New("bad request")
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(cause)
	})
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	if err != cause {
		t.Fatalf("expected the unwrapped cause, got %v", err)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New("still down")
	})
	if err == nil || calls != 3 {
		t.Fatalf("expected 3 failed calls, got %d (err=%v)", calls, err)
	}
}

func TestRetryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 3, time.Millisecond, func() error {
		t.Fatal("fn must not run with a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsRetriable(t *testing.T) {
	if !IsRetriable(context.DeadlineExceeded) {
		t.Fatal("deadline should be retriable")
	}
	if IsRetriable(context.Canceled) {
		t.Fatal("cancellation should not be retriable")
	}
	if IsRetriable(errors.New("boom")) {
		t.Fatal("plain errors should not be retriable")
	}
}
