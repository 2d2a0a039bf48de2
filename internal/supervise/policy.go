package supervise

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/Paintersrp/hatch/internal/manifest"
)

const (
	defaultBackoffMin    = time.Second
	defaultBackoffMax    = 30 * time.Second
	defaultBackoffFactor = 2.0
	instanceStopTimeout  = 5 * time.Second
	stopGracePeriod      = 2 * time.Second
)

type restartPolicy struct {
	maxRetries int
	min        time.Duration
	max        time.Duration
	factor     float64
}

func deriveRestartPolicy(rp *manifest.RestartPolicy) restartPolicy {
	pol := restartPolicy{maxRetries: 0, min: defaultBackoffMin, max: defaultBackoffMax, factor: defaultBackoffFactor}
	if rp == nil {
		return pol
	}

	switch {
	case rp.MaxRetries < 0:
		pol.maxRetries = -1
	default:
		pol.maxRetries = rp.MaxRetries
	}
	if rp.Backoff != nil {
		if rp.Backoff.Min.Duration > 0 {
			pol.min = rp.Backoff.Min.Duration
		}
		if rp.Backoff.Max.Duration > 0 {
			pol.max = rp.Backoff.Max.Duration
		}
		if rp.Backoff.Factor > 0 {
			pol.factor = rp.Backoff.Factor
		}
	}

	if pol.min <= 0 {
		pol.min = defaultBackoffMin
	}
	if pol.max < pol.min {
		pol.max = pol.min
	}
	if pol.factor <= 1 {
		pol.factor = defaultBackoffFactor
	}

	return pol
}

func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// Full jitter: random duration in [0, d].
	return time.Duration(rand.Float64() * float64(d))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(base time.Duration, pol restartPolicy) time.Duration {
	next := float64(base) * pol.factor
	if math.IsInf(next, 0) || next > float64(pol.max) {
		return pol.max
	}
	n := time.Duration(next)
	if n < pol.min {
		n = pol.min
	}
	if n > pol.max {
		n = pol.max
	}
	return n
}
