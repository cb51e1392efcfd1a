// Package watcher owns the scheduled price-change detection job: once per
// tick it selects the products assigned to the current minute shard, probes
// each through a paced conditional fetch, applies the resulting state
// transition, and appends an audit record for every genuine price change.
package watcher

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/juju/clock"

	"pricetracker/internal/metrics"
	"pricetracker/internal/notify"
	"pricetracker/internal/products"
	"pricetracker/internal/scraper"
)

// Store is the persistence surface the watcher needs. *products.Repository
// implements it.
type Store interface {
	FindDue(ctx context.Context, shard int, now time.Time) ([]products.Product, error)
	SaveCheckResult(ctx context.Context, p *products.Product) error
	SetCooldown(ctx context.Context, id int, until, checkedAt time.Time) error
	InsertChangeRecord(ctx context.Context, rec *products.ChangeRecord) error
}

// Waiter paces the loop between candidates.
type Waiter interface {
	WaitAfter(ctx context.Context, elapsed time.Duration)
}

// Config tunes the tick loop.
type Config struct {
	Interval    time.Duration // tick period; default 1 minute
	CooldownMin time.Duration // default 10 minutes
	CooldownMax time.Duration // default 30 minutes
}

type Watcher struct {
	store    Store
	fetcher  scraper.Fetcher
	notifier notify.Notifier
	emitter  *AuditEmitter
	pacer    Waiter
	clk      clock.Clock
	rng      *rand.Rand
	cfg      Config

	// Held for the duration of a tick. A tick that cannot take it is
	// dropped rather than queued: a queued tick would fire off-shard.
	running sync.Mutex
	ticks   sync.WaitGroup
}

func New(store Store, fetcher scraper.Fetcher, notifier notify.Notifier,
	emitter *AuditEmitter, pacer Waiter, clk clock.Clock, rng *rand.Rand, cfg Config) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.CooldownMin <= 0 {
		cfg.CooldownMin = 10 * time.Minute
	}
	if cfg.CooldownMax <= cfg.CooldownMin {
		cfg.CooldownMax = cfg.CooldownMin + 20*time.Minute
	}
	return &Watcher{
		store:    store,
		fetcher:  fetcher,
		notifier: notifier,
		emitter:  emitter,
		pacer:    pacer,
		clk:      clk,
		rng:      rng,
		cfg:      cfg,
	}
}

// Run executes ticks until ctx is cancelled. The timer is re-armed the
// moment it fires, before the tick runs, so a slow tick never pushes the
// cadence: the next minute fires on schedule and the run-guard drops it if
// the previous tick is still going. Candidates within a tick are processed
// sequentially so the pacer's rate bound holds.
func (w *Watcher) Run(ctx context.Context) {
	timer := w.clk.NewTimer(w.cfg.Interval)
	defer timer.Stop()

	log.Printf("watcher: started, interval %v", w.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("watcher: stopping due to context cancelled")
			w.ticks.Wait()
			return
		case now := <-timer.Chan():
			timer.Reset(w.cfg.Interval)
			w.ticks.Add(1)
			go func() {
				defer w.ticks.Done()
				w.runTick(ctx, now)
			}()
		}
	}
}

// TickNow triggers a single tick at the clock's current time, sharing the
// run-guard with the loop.
func (w *Watcher) TickNow(ctx context.Context) {
	w.runTick(ctx, w.clk.Now())
}

func (w *Watcher) runTick(ctx context.Context, now time.Time) {
	if !w.running.TryLock() {
		log.Println("watcher: previous tick still running, skipping")
		metrics.TicksSkipped.Inc()
		return
	}
	defer w.running.Unlock()
	w.tick(ctx, now)
}

func (w *Watcher) tick(ctx context.Context, now time.Time) {
	shard := now.Minute()
	candidates, err := w.store.FindDue(ctx, shard, now)
	if err != nil {
		log.Printf("watcher: select candidates for shard %d: %v", shard, err)
		return
	}

	w.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	log.Printf("watcher: tick shard=%d candidates=%d", shard, len(candidates))

	for i := range candidates {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p := &candidates[i]
		start := w.clk.Now()
		out := w.processOne(ctx, p, now)
		w.observe(p, out)
		// Pacing runs after every candidate, success or not.
		w.pacer.WaitAfter(ctx, w.clk.Now().Sub(start))
	}
}

func (w *Watcher) observe(p *products.Product, out Outcome) {
	metrics.ChecksTotal.WithLabelValues(out.Kind.String()).Inc()
	switch out.Kind {
	case OutcomeChanged:
		metrics.ChangesTotal.Inc()
		log.Printf("watcher: %s %.2f -> %.2f", p.Title, out.PrevPrice, out.NewPrice)
	case OutcomeBlocked:
		metrics.CooldownsTotal.Inc()
	case OutcomeFailed:
		log.Printf("watcher: check failed for %q: %v", p.Title, out.Err)
	}
}
