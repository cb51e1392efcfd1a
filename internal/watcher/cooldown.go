package watcher

import (
	"context"
	"log"
	"time"

	"pricetracker/internal/products"
)

// applyCooldown parks a blocked product for a random window so the remote
// site sees nothing from us for a while. Nothing else on the product
// changes; selection resumes on its normal shard tick once the window ends.
func (w *Watcher) applyCooldown(ctx context.Context, p *products.Product, now time.Time) error {
	span := w.cfg.CooldownMax - w.cfg.CooldownMin
	d := w.cfg.CooldownMin + time.Duration(w.rng.Int63n(int64(span)))
	until := now.Add(d)
	p.CooldownUntil = &until
	checkedAt := now
	p.LastCheckedAt = &checkedAt

	log.Printf("watcher: anti-bot response for %q, cooling down %v", p.Title, d.Round(time.Second))
	return w.store.SetCooldown(ctx, p.ID, until, now)
}
