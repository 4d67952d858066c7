package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	tests := []struct {
		name      string
		rate      float64
		burst     float64
		wantRate  float64
		wantBurst float64
	}{
		{"explicit", 5, 10, 5, 10},
		{"zero rate", 0, 0, 10, 20},
		{"burst below rate", 5, 2, 5, 5},
		{"zero burst", 3, 0, 3, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(tt.rate, tt.burst)
			if rl.Rate() != tt.wantRate || rl.Burst() != tt.wantBurst {
				t.Errorf("got rate=%v burst=%v, want %v/%v", rl.Rate(), rl.Burst(), tt.wantRate, tt.wantBurst)
			}
		})
	}
}

func TestRateLimiter_AllowDrainsBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() #%d = false, want true", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Allow() after burst = true, want false")
	}
}

func TestRateLimiter_WaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(0.1, 1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestRateLimiter_WaitRefills(t *testing.T) {
	rl := NewRateLimiter(100, 1)
	_ = rl.Allow()

	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Wait took %v, expected ~10ms", elapsed)
	}
}

func TestKeyedLimiter_SeparateBuckets(t *testing.T) {
	kl := NewKeyedLimiter(1, 1, 0)

	if !kl.Allow("slow.example") {
		t.Fatal("first request to slow.example must pass")
	}
	if kl.Allow("slow.example") {
		t.Error("second request to slow.example must be limited")
	}
	if !kl.Allow("fast.example") {
		t.Error("other host must have its own bucket")
	}
	if kl.Get("slow.example") != kl.Get("slow.example") {
		t.Error("Get must return the same bucket for a key")
	}
}

func TestKeyedLimiter_EvictsOldKeys(t *testing.T) {
	kl := NewKeyedLimiter(1, 1, 2)

	kl.Get("a")
	kl.Get("b")
	kl.Get("c")

	if kl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", kl.Len())
	}
}
