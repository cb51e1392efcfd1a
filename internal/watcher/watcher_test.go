package watcher

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricetracker/internal/metrics"
	"pricetracker/internal/products"
	"pricetracker/internal/scraper"
)

// tickTime has minute 5, so products on shard 5 are due.
var tickTime = time.Date(2026, 8, 28, 12, 5, 0, 0, time.UTC)

type cooldownCall struct {
	id        int
	until     time.Time
	checkedAt time.Time
}

type fakeStore struct {
	due       []products.Product
	findErr   error
	findCalls atomic.Int32
	saved     []products.Product
	saveErr   error
	cooldowns []cooldownCall
	records   []*products.ChangeRecord
	insertErr error
}

func (s *fakeStore) FindDue(_ context.Context, shard int, now time.Time) ([]products.Product, error) {
	s.findCalls.Add(1)
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []products.Product
	for _, p := range s.due {
		if p.ShardMinute == shard && (p.CooldownUntil == nil || !p.CooldownUntil.After(now)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveCheckResult(_ context.Context, p *products.Product) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, *p)
	return nil
}

func (s *fakeStore) SetCooldown(_ context.Context, id int, until, checkedAt time.Time) error {
	s.cooldowns = append(s.cooldowns, cooldownCall{id: id, until: until, checkedAt: checkedAt})
	return nil
}

func (s *fakeStore) InsertChangeRecord(_ context.Context, rec *products.ChangeRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.records = append(s.records, rec)
	return nil
}

type fakeFetcher struct {
	fn func(url string) (scraper.Result, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ scraper.Validators) (scraper.Result, error) {
	return f.fn(url)
}

type fakePacer struct {
	calls []time.Duration
}

func (p *fakePacer) WaitAfter(_ context.Context, elapsed time.Duration) {
	p.calls = append(p.calls, elapsed)
}

type fakeNotifier struct {
	prices []float64
	err    error
}

func (n *fakeNotifier) Notify(_ context.Context, _ *products.Product, newPrice float64) error {
	n.prices = append(n.prices, newPrice)
	return n.err
}

func priceResult(price float64, v scraper.Validators) (scraper.Result, error) {
	return scraper.Result{HasPrice: true, Price: price, Validators: v}, nil
}

func newTestWatcher(store *fakeStore, fetcher scraper.Fetcher, notifier *fakeNotifier, pacer Waiter) *Watcher {
	emitter := NewAuditEmitter(store)
	clk := testclock.NewClock(tickTime)
	rng := rand.New(rand.NewSource(1))
	return New(store, fetcher, notifier, emitter, pacer, clk, rng, Config{})
}

func TestTickChangedFlow(t *testing.T) {
	store := &fakeStore{due: []products.Product{{
		ID: 1, Title: "Widget", URL: "https://shop.example/widget",
		CurrentPrice: 100, AlarmPrice: 90, ShardMinute: 5,
	}}}
	fetcher := &fakeFetcher{fn: func(string) (scraper.Result, error) {
		return priceResult(85, scraper.Validators{ETag: `"v2"`, LastModified: "Thu, 28 Aug 2026 11:00:00 GMT"})
	}}
	notifier := &fakeNotifier{}
	pacer := &fakePacer{}
	w := newTestWatcher(store, fetcher, notifier, pacer)

	w.tick(context.Background(), tickTime)

	require.Len(t, store.saved, 1)
	saved := store.saved[0]
	assert.Equal(t, 85.0, saved.CurrentPrice)
	require.Len(t, saved.PriceHistory, 1)
	assert.Equal(t, 85.0, saved.PriceHistory[0].Price)
	assert.Equal(t, tickTime, saved.PriceHistory[0].Date)
	assert.Equal(t, `"v2"`, saved.LastETag)
	require.NotNil(t, saved.LastCheckedAt)
	assert.Equal(t, tickTime, *saved.LastCheckedAt)

	// alarm threshold crossed
	assert.Equal(t, []float64{85}, notifier.prices)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, 100.0, rec.PrevPrice)
	assert.Equal(t, 85.0, rec.NewPrice)
	assert.Equal(t, -15.0, rec.Diff)
	assert.InDelta(t, -15.0, rec.DiffPct, 1e-9)
	assert.Equal(t, products.DirectionDown, rec.Direction)
	assert.Equal(t, tickTime, rec.ProcessedAt)

	assert.Len(t, pacer.calls, 1)
}

func TestTickNotModified(t *testing.T) {
	store := &fakeStore{due: []products.Product{{
		ID: 1, Title: "Widget", URL: "u", CurrentPrice: 100, ShardMinute: 5,
	}}}
	fetcher := &fakeFetcher{fn: func(string) (scraper.Result, error) {
		return scraper.Result{NotModified: true, Validators: scraper.Validators{ETag: `"v3"`}}, nil
	}}
	pacer := &fakePacer{}
	notifier := &fakeNotifier{}
	w := newTestWatcher(store, fetcher, notifier, pacer)

	w.tick(context.Background(), tickTime)

	require.Len(t, store.saved, 1)
	saved := store.saved[0]
	assert.Equal(t, 100.0, saved.CurrentPrice)
	assert.Empty(t, saved.PriceHistory)
	assert.Equal(t, `"v3"`, saved.LastETag)
	require.NotNil(t, saved.LastCheckedAt)

	assert.Empty(t, store.records)
	assert.Empty(t, notifier.prices)
	assert.Len(t, pacer.calls, 1)
}

func TestTickUnchangedPrice(t *testing.T) {
	store := &fakeStore{due: []products.Product{{
		ID: 1, Title: "Widget", URL: "u", CurrentPrice: 100, ShardMinute: 5,
	}}}
	fetcher := &fakeFetcher{fn: func(string) (scraper.Result, error) {
		return priceResult(100, scraper.Validators{})
	}}
	w := newTestWatcher(store, fetcher, &fakeNotifier{}, &fakePacer{})

	w.tick(context.Background(), tickTime)

	require.Len(t, store.saved, 1)
	assert.Empty(t, store.saved[0].PriceHistory)
	assert.Empty(t, store.records)
}

func TestTickBlockedAppliesCooldown(t *testing.T) {
	store := &fakeStore{due: []products.Product{{
		ID: 3, Title: "Widget", URL: "u", CurrentPrice: 100, ShardMinute: 5,
	}}}
	fetcher := &fakeFetcher{fn: func(string) (scraper.Result, error) {
		return scraper.Result{}, &scraper.BlockedError{StatusCode: 429}
	}}
	pacer := &fakePacer{}
	w := newTestWatcher(store, fetcher, &fakeNotifier{}, pacer)

	w.tick(context.Background(), tickTime)

	require.Len(t, store.cooldowns, 1)
	cd := store.cooldowns[0]
	assert.Equal(t, 3, cd.id)
	assert.True(t, !cd.until.Before(tickTime.Add(10*time.Minute)), "cooldown below lower bound: %v", cd.until)
	assert.True(t, cd.until.Before(tickTime.Add(30*time.Minute)), "cooldown above upper bound: %v", cd.until)

	assert.Empty(t, store.saved, "blocked must not mutate price state")
	assert.Empty(t, store.records)
	assert.Len(t, pacer.calls, 1)

	// the cooled-down product is excluded from the next tick's candidates
	store.due[0].CooldownUntil = &cd.until
	got, err := store.FindDue(context.Background(), 5, tickTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTickFailureIsolation(t *testing.T) {
	store := &fakeStore{due: []products.Product{
		{ID: 1, URL: "a", CurrentPrice: 10, ShardMinute: 5},
		{ID: 2, URL: "b", CurrentPrice: 20, ShardMinute: 5},
		{ID: 3, URL: "c", CurrentPrice: 30, ShardMinute: 5},
	}}
	fetcher := &fakeFetcher{fn: func(url string) (scraper.Result, error) {
		if url == "b" {
			return scraper.Result{}, &scraper.NetworkError{Err: errors.New("connection reset")}
		}
		return priceResult(99, scraper.Validators{})
	}}
	pacer := &fakePacer{}
	w := newTestWatcher(store, fetcher, &fakeNotifier{}, pacer)

	w.tick(context.Background(), tickTime)

	// the failing candidate neither aborts the batch nor skips pacing
	assert.Len(t, pacer.calls, 3)
	assert.Len(t, store.records, 2)
	assert.Len(t, store.saved, 2)
}

func TestTickNoAlarmAboveThreshold(t *testing.T) {
	store := &fakeStore{due: []products.Product{{
		ID: 1, URL: "u", CurrentPrice: 100, AlarmPrice: 90, ShardMinute: 5,
	}}}
	fetcher := &fakeFetcher{fn: func(string) (scraper.Result, error) {
		return priceResult(95, scraper.Validators{})
	}}
	notifier := &fakeNotifier{}
	w := newTestWatcher(store, fetcher, notifier, &fakePacer{})

	w.tick(context.Background(), tickTime)

	assert.Empty(t, notifier.prices)
	assert.Len(t, store.records, 1, "change record still created")
}

func TestTickAlarmDisabledWhenZero(t *testing.T) {
	store := &fakeStore{due: []products.Product{{
		ID: 1, URL: "u", CurrentPrice: 100, AlarmPrice: 0, ShardMinute: 5,
	}}}
	fetcher := &fakeFetcher{fn: func(string) (scraper.Result, error) {
		return priceResult(1, scraper.Validators{})
	}}
	notifier := &fakeNotifier{}
	w := newTestWatcher(store, fetcher, notifier, &fakePacer{})

	w.tick(context.Background(), tickTime)

	assert.Empty(t, notifier.prices)
}

func TestTickFirstPriceIsChange(t *testing.T) {
	store := &fakeStore{due: []products.Product{{
		ID: 1, URL: "u", ShardMinute: 5, // no price yet
	}}}
	fetcher := &fakeFetcher{fn: func(string) (scraper.Result, error) {
		return priceResult(50, scraper.Validators{})
	}}
	w := newTestWatcher(store, fetcher, &fakeNotifier{}, &fakePacer{})

	w.tick(context.Background(), tickTime)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, 0.0, rec.PrevPrice)
	assert.Equal(t, 50.0, rec.NewPrice)
	assert.Equal(t, 0.0, rec.DiffPct)
	assert.Equal(t, products.DirectionUp, rec.Direction)
}

func TestNotifierFailureDoesNotAffectAudit(t *testing.T) {
	store := &fakeStore{due: []products.Product{{
		ID: 1, URL: "u", CurrentPrice: 100, AlarmPrice: 90, ShardMinute: 5,
	}}}
	fetcher := &fakeFetcher{fn: func(string) (scraper.Result, error) {
		return priceResult(85, scraper.Validators{})
	}}
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	w := newTestWatcher(store, fetcher, notifier, &fakePacer{})

	w.tick(context.Background(), tickTime)

	assert.Len(t, store.saved, 1)
	assert.Len(t, store.records, 1)
}

func TestAuditInsertFailureKeepsBatchGoing(t *testing.T) {
	store := &fakeStore{
		insertErr: errors.New("db down"),
		due: []products.Product{
			{ID: 1, URL: "a", CurrentPrice: 10, ShardMinute: 5},
			{ID: 2, URL: "b", CurrentPrice: 20, ShardMinute: 5},
		},
	}
	fetcher := &fakeFetcher{fn: func(string) (scraper.Result, error) {
		return priceResult(99, scraper.Validators{})
	}}
	pacer := &fakePacer{}
	w := newTestWatcher(store, fetcher, &fakeNotifier{}, pacer)

	w.tick(context.Background(), tickTime)

	// item updates committed even though the audit inserts failed
	assert.Len(t, store.saved, 2)
	assert.Empty(t, store.records)
	assert.Len(t, pacer.calls, 2)
}

type blockingPacer struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPacer) WaitAfter(context.Context, time.Duration) {
	p.entered <- struct{}{}
	<-p.release
}

func TestRunGuardSkipsOverlappingTick(t *testing.T) {
	store := &fakeStore{due: []products.Product{{ID: 1, URL: "u", ShardMinute: 5}}}
	fetcher := &fakeFetcher{fn: func(string) (scraper.Result, error) {
		return priceResult(1, scraper.Validators{})
	}}
	pacer := &blockingPacer{entered: make(chan struct{}), release: make(chan struct{})}
	w := newTestWatcher(store, fetcher, &fakeNotifier{}, pacer)

	done := make(chan struct{})
	go func() {
		w.runTick(context.Background(), tickTime)
		close(done)
	}()

	<-pacer.entered // first tick is mid-flight

	w.runTick(context.Background(), tickTime.Add(time.Minute))
	assert.Equal(t, int32(1), store.findCalls.Load(), "overlapping tick must be skipped")

	close(pacer.release)
	<-done
}

func TestRunKeepsCadenceWhileTickRuns(t *testing.T) {
	clk := testclock.NewClock(tickTime) // 12:05
	store := &fakeStore{due: []products.Product{{ID: 1, URL: "u", ShardMinute: 6}}}
	fetcher := &fakeFetcher{fn: func(string) (scraper.Result, error) {
		return priceResult(1, scraper.Validators{})
	}}
	pacer := &blockingPacer{entered: make(chan struct{}, 8), release: make(chan struct{})}
	w := New(store, fetcher, &fakeNotifier{}, NewAuditEmitter(store), pacer, clk,
		rand.New(rand.NewSource(1)), Config{Interval: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// first fire at 12:06 starts a tick that stalls in the pacer
	require.NoError(t, clk.WaitAdvance(time.Minute, time.Second, 1))
	<-pacer.entered

	// the timer was re-armed before the tick ran, so the next minute still
	// fires on schedule; the run-guard drops it instead of queueing it
	skippedBefore := testutil.ToFloat64(metrics.TicksSkipped)
	require.NoError(t, clk.WaitAdvance(time.Minute, time.Second, 1),
		"timer must be re-armed while the previous tick is in flight")
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.TicksSkipped) == skippedBefore+1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), store.findCalls.Load())

	close(pacer.release)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	w := newTestWatcher(store, &fakeFetcher{fn: func(string) (scraper.Result, error) {
		return scraper.Result{}, nil
	}}, &fakeNotifier{}, &fakePacer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
