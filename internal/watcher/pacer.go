package watcher

import (
	"context"
	"math/rand"
	"time"

	"github.com/juju/clock"
)

// Pacer bounds the external request rate. The base interval derives from a
// target requests-per-second figure with a safety floor; every wait adds
// uniform jitter so the request cadence has no fixed signature.
type Pacer struct {
	base      time.Duration
	jitterMin time.Duration
	jitterMax time.Duration
	clk       clock.Clock
	rng       *rand.Rand
}

func NewPacer(targetRPS float64, floor, jitterMin, jitterMax time.Duration,
	clk clock.Clock, rng *rand.Rand) *Pacer {
	base := floor
	if targetRPS > 0 {
		if iv := time.Duration(float64(time.Second) / targetRPS); iv > base {
			base = iv
		}
	}
	if jitterMax < jitterMin {
		jitterMax = jitterMin
	}
	return &Pacer{
		base:      base,
		jitterMin: jitterMin,
		jitterMax: jitterMax,
		clk:       clk,
		rng:       rng,
	}
}

// BaseInterval is the minimum spacing between request starts, before jitter.
func (p *Pacer) BaseInterval() time.Duration { return p.base }

// Delay returns how long to wait after a candidate that took elapsed.
func (p *Pacer) Delay(elapsed time.Duration) time.Duration {
	d := p.base - elapsed
	if d < 0 {
		d = 0
	}
	return d + p.jitter()
}

func (p *Pacer) jitter() time.Duration {
	span := p.jitterMax - p.jitterMin
	if span <= 0 {
		return p.jitterMin
	}
	return p.jitterMin + time.Duration(p.rng.Int63n(int64(span)))
}

// WaitAfter sleeps for Delay(elapsed), returning early if ctx is cancelled.
func (p *Pacer) WaitAfter(ctx context.Context, elapsed time.Duration) {
	d := p.Delay(elapsed)
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-p.clk.After(d):
	}
}
