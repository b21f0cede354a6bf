package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_succeedsOnThirdAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, ExponentialBackoff(time.Millisecond), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_boundRespected(t *testing.T) {
	calls := 0
	wantErr := errors.New("always fails")
	err := Retry(context.Background(), 3, ExponentialBackoff(time.Millisecond), func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 calls, got %d", calls)
	}
}

func TestRetry_firstSuccessSkipsBackoff(t *testing.T) {
	start := time.Now()
	err := Retry(context.Background(), 5, ExponentialBackoff(time.Hour), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("success should not sleep, took %v", elapsed)
	}
}

func TestRetry_cancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, 3, ExponentialBackoff(time.Hour), func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestExponentialBackoff_doubles(t *testing.T) {
	b := ExponentialBackoff(time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := b(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}
