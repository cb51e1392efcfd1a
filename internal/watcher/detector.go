package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"pricetracker/internal/metrics"
	"pricetracker/internal/products"
	"pricetracker/internal/scraper"
)

// OutcomeKind classifies one candidate's check.
type OutcomeKind int

const (
	OutcomeNotModified OutcomeKind = iota
	OutcomeUnchanged
	OutcomeChanged
	OutcomeBlocked
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNotModified:
		return "not_modified"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeChanged:
		return "changed"
	case OutcomeBlocked:
		return "blocked"
	default:
		return "failed"
	}
}

// Outcome of processing one candidate.
type Outcome struct {
	Kind      OutcomeKind
	PrevPrice float64
	NewPrice  float64
	Record    *products.ChangeRecord
	Err       error
}

// processOne drives a single candidate: conditional fetch, outcome
// classification, state mutation, alarm, audit. A failed candidate leaves
// the stored product untouched so it is retried on its next shard tick.
func (w *Watcher) processOne(ctx context.Context, p *products.Product, now time.Time) Outcome {
	res, err := w.fetcher.Fetch(ctx, p.URL, scraper.Validators{
		ETag:         p.LastETag,
		LastModified: p.LastModified,
	})
	if err != nil {
		var blocked *scraper.BlockedError
		if errors.As(err, &blocked) {
			if cerr := w.applyCooldown(ctx, p, now); cerr != nil {
				log.Printf("watcher: persist cooldown for %q: %v", p.Title, cerr)
			}
			return Outcome{Kind: OutcomeBlocked}
		}
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	if res.Validators.ETag != "" {
		p.LastETag = res.Validators.ETag
	}
	if res.Validators.LastModified != "" {
		p.LastModified = res.Validators.LastModified
	}
	checkedAt := now
	p.LastCheckedAt = &checkedAt

	if res.NotModified {
		if err := w.store.SaveCheckResult(ctx, p); err != nil {
			return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("save check result: %w", err)}
		}
		return Outcome{Kind: OutcomeNotModified}
	}

	if !res.HasPrice {
		return Outcome{Kind: OutcomeFailed, Err: &scraper.ParseError{Err: errors.New("payload carried no price")}}
	}

	if res.Image != "" {
		p.Image = res.Image
	}
	if res.StockStatus != "" {
		p.StockStatus = res.StockStatus
	}

	prev := p.CurrentPrice
	next := res.Price
	if next == prev {
		if err := w.store.SaveCheckResult(ctx, p); err != nil {
			return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("save check result: %w", err)}
		}
		return Outcome{Kind: OutcomeUnchanged}
	}

	p.CurrentPrice = next
	p.PushPrice(next, now)
	if err := w.store.SaveCheckResult(ctx, p); err != nil {
		return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("save check result: %w", err)}
	}

	if p.AlarmPrice > 0 && next <= p.AlarmPrice {
		if err := w.notifier.Notify(ctx, p, next); err != nil {
			metrics.NotifyFailures.Inc()
			log.Printf("watcher: alarm notify for %q: %v", p.Title, err)
		}
	}

	rec, err := w.emitter.Emit(ctx, p, prev, next, now)
	if err != nil {
		// The item update already committed; the audit trail is now
		// missing a real change. Loud log, counted, not retried.
		metrics.AuditPersistFailures.Inc()
		log.Printf("watcher: AUDIT RECORD LOST for product %d (%.2f -> %.2f): %v",
			p.ID, prev, next, err)
		return Outcome{Kind: OutcomeChanged, PrevPrice: prev, NewPrice: next, Err: err}
	}

	return Outcome{Kind: OutcomeChanged, PrevPrice: prev, NewPrice: next, Record: rec}
}
