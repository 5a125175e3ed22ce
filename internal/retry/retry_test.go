package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastConfig(maxAttempts int) *Config {
	return &Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})

	if !result.Success {
		t.Error("expected success")
	}
	if calls != 1 || result.Attempts != 1 {
		t.Errorf("calls = %d attempts = %d, want 1", calls, result.Attempts)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(5), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return fmt.Errorf("transient failure %d", attempt)
		}
		return nil
	})

	if !result.Success {
		t.Fatalf("expected success, last error: %v", result.LastError)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	wantErr := errors.New("permanent failure")
	result := Do(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		return wantErr
	})

	if result.Success {
		t.Error("expected failure")
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
	if !errors.Is(result.LastError, wantErr) {
		t.Errorf("last error = %v, want %v", result.LastError, wantErr)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := &Config{
		MaxAttempts:  10,
		InitialDelay: time.Hour, // never elapses; cancellation must win
		MaxDelay:     time.Hour,
		Multiplier:   2.0,
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("fail")
	})

	if result.Success {
		t.Error("expected failure on cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after cancellation)", calls)
	}
	if !errors.Is(result.LastError, context.Canceled) {
		t.Errorf("last error = %v, want context.Canceled", result.LastError)
	}
}

func TestDelay(t *testing.T) {
	cfg := &Config{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{6, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := Delay(cfg, tt.attempt); got != tt.want {
			t.Errorf("Delay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRunWrapsFailure(t *testing.T) {
	wantErr := errors.New("boom")
	err := Run(context.Background(), fastConfig(2), func(ctx context.Context, attempt int) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want it to wrap %v", err, wantErr)
	}

	if err := Run(context.Background(), fastConfig(2), func(ctx context.Context, attempt int) error {
		return nil
	}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
