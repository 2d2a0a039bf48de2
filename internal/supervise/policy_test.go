package supervise

import (
	"context"
	"testing"
	"time"

	"github.com/Paintersrp/hatch/internal/manifest"
)

func TestDeriveRestartPolicy(t *testing.T) {
	tests := []struct {
		name string
		in   *manifest.RestartPolicy
		want restartPolicy
	}{
		{
			name: "nil uses defaults",
			in:   nil,
			want: restartPolicy{maxRetries: 0, min: defaultBackoffMin, max: defaultBackoffMax, factor: defaultBackoffFactor},
		},
		{
			name: "negative retries means unlimited",
			in:   &manifest.RestartPolicy{MaxRetries: -1},
			want: restartPolicy{maxRetries: -1, min: defaultBackoffMin, max: defaultBackoffMax, factor: defaultBackoffFactor},
		},
		{
			name: "backoff overrides",
			in: &manifest.RestartPolicy{
				MaxRetries: 4,
				Backoff: &manifest.BackoffSpec{
					Min:    manifest.Duration{Duration: 100 * time.Millisecond},
					Max:    manifest.Duration{Duration: time.Second},
					Factor: 3,
				},
			},
			want: restartPolicy{maxRetries: 4, min: 100 * time.Millisecond, max: time.Second, factor: 3},
		},
		{
			name: "max clamped to min",
			in: &manifest.RestartPolicy{
				Backoff: &manifest.BackoffSpec{
					Min: manifest.Duration{Duration: 5 * time.Second},
					Max: manifest.Duration{Duration: time.Second},
				},
			},
			want: restartPolicy{maxRetries: 0, min: 5 * time.Second, max: 5 * time.Second, factor: defaultBackoffFactor},
		},
		{
			name: "factor below one resets to default",
			in: &manifest.RestartPolicy{
				Backoff: &manifest.BackoffSpec{Factor: 0.5},
			},
			want: restartPolicy{maxRetries: 0, min: defaultBackoffMin, max: defaultBackoffMax, factor: defaultBackoffFactor},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := deriveRestartPolicy(tc.in)
			if got != tc.want {
				t.Fatalf("deriveRestartPolicy() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	pol := restartPolicy{min: time.Second, max: 4 * time.Second, factor: 2}

	if got := nextBackoff(time.Second, pol); got != 2*time.Second {
		t.Fatalf("expected 2s, got %v", got)
	}
	if got := nextBackoff(3*time.Second, pol); got != 4*time.Second {
		t.Fatalf("expected cap at 4s, got %v", got)
	}
	if got := nextBackoff(10*time.Second, pol); got != 4*time.Second {
		t.Fatalf("expected cap at 4s, got %v", got)
	}
}

func TestDefaultJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := defaultJitter(time.Second)
		if d < 0 || d > time.Second {
			t.Fatalf("jitter out of bounds: %v", d)
		}
	}
	if defaultJitter(0) != 0 {
		t.Fatalf("expected zero jitter for zero duration")
	}
}

func TestSleepWithContextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepWithContext(ctx, time.Minute); err == nil {
		t.Fatalf("expected context error")
	}
	if err := sleepWithContext(context.Background(), 0); err != nil {
		t.Fatalf("expected immediate return for zero duration, got %v", err)
	}
}
