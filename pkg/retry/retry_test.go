package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestConfigDelay(t *testing.T) {
	cfg := Config{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{1000, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := cfg.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestConfigDelay_JitterBounded(t *testing.T) {
	cfg := BackoffConfig(time.Second, 5*time.Second)

	for attempt := 0; attempt < 20; attempt++ {
		for i := 0; i < 50; i++ {
			d := cfg.Delay(attempt)
			if d < 0 || d > 5*time.Second {
				t.Fatalf("Delay(%d) = %v out of bounds", attempt, d)
			}
		}
	}

	// Первая попытка: 1s ± 20%
	for i := 0; i < 50; i++ {
		d := cfg.Delay(0)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("Delay(0) = %v, want within 20%% of 1s", d)
		}
	}
}

func TestConfigValidate_MaxBelowInitial(t *testing.T) {
	cfg := Config{InitialDelay: 5 * time.Second, MaxDelay: time.Second}
	if got := cfg.Delay(0); got != 5*time.Second {
		t.Errorf("Delay(0) = %v, want 5s", got)
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	cfg := Config{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	}, cfg)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	base := errors.New("bad request")
	cfg := Config{MaxRetries: 5, InitialDelay: time.Millisecond}

	err := Do(context.Background(), func() error {
		calls++
		return Permanent(base)
	}, cfg)

	if !errors.Is(err, base) {
		t.Errorf("expected wrapped base error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	var retries []int
	cfg := Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			retries = append(retries, attempt)
		},
	}

	err := Do(context.Background(), func() error {
		calls++
		return fmt.Errorf("fail %d", calls)
	}, cfg)

	if err == nil || err.Error() != "fail 3" {
		t.Errorf("expected last error, got %v", err)
	}
	if len(retries) != 2 {
		t.Errorf("expected 2 OnRetry calls, got %v", retries)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func() error {
		calls++
		return nil
	}, DefaultConfig())

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("operation must not run on cancelled context")
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), func() (uint64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("connection reset")
		}
		return 42, nil
	}, Config{MaxRetries: 3, InitialDelay: time.Millisecond})

	if err != nil || got != 42 {
		t.Errorf("DoWithResult = %d, %v", got, err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), true},
		{"permanent", Permanent(errors.New("x")), false},
		{"wrapped permanent", fmt.Errorf("wrap: %w", Permanent(errors.New("x"))), false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
}
