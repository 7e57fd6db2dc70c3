package sync

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff defaults.
const (
	defaultBackoffBase   = 2 * time.Second
	defaultBackoffMax    = 10 * time.Minute
	defaultBackoffJitter = 0.25
	backoffFactor        = 2.0
)

// Backoff computes the delay before the orchestrator re-runs after a run that
// left actions queued.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter is the fraction of the delay applied as random spread in both
	// directions. 0.25 gives ±25%.
	Jitter float64
}

// DefaultBackoff returns 2s doubling up to 10m with ±25% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   defaultBackoffBase,
		Max:    defaultBackoffMax,
		Jitter: defaultBackoffJitter,
	}
}

// Delay returns base * 2^retryCount, capped at Max, with jitter applied.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	d := float64(b.Base) * math.Pow(backoffFactor, float64(retryCount))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	}

	if d < 0 {
		return 0
	}

	return time.Duration(d)
}
