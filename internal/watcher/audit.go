package watcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"pricetracker/internal/products"
)

// Publisher receives persisted change records, best-effort (kafka topic,
// websocket hub, cache invalidation).
type Publisher interface {
	PublishChange(ctx context.Context, rec *products.ChangeRecord) error
}

// AuditEmitter appends change records to the audit trail. A record is
// created exactly once per detected price change and never for unchanged
// or not-modified checks.
type AuditEmitter struct {
	store      Store
	publishers []Publisher
}

func NewAuditEmitter(store Store, publishers ...Publisher) *AuditEmitter {
	return &AuditEmitter{store: store, publishers: publishers}
}

// Emit builds the record from the captured transition, persists it, then
// fans it out. Publisher failures are logged and do not fail the emit.
func (e *AuditEmitter) Emit(ctx context.Context, p *products.Product,
	prevPrice, newPrice float64, now time.Time) (*products.ChangeRecord, error) {

	rec := products.NewChangeRecord(p, prevPrice, newPrice, now)
	if err := e.store.InsertChangeRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert change record: %w", err)
	}

	for _, pub := range e.publishers {
		if err := pub.PublishChange(ctx, rec); err != nil {
			log.Printf("audit: publish change %s: %v", rec.ID, err)
		}
	}
	return rec, nil
}
