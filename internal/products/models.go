package products

import (
	"time"

	"github.com/google/uuid"
)

// HistoryCap bounds the per-product price history; pushing beyond it evicts
// the oldest entry.
const HistoryCap = 4

// PricePoint is one observed price.
type PricePoint struct {
	Price float64   `json:"price"`
	Date  time.Time `json:"date"`
}

// Product is a tracked listing. ShardMinute is assigned once at creation and
// never rewritten, so every product is probed on the same minute of each hour.
type Product struct {
	ID            int          `json:"id"`
	Title         string       `json:"title"`
	URL           string       `json:"url"`
	Image         string       `json:"image,omitempty"`
	StockStatus   string       `json:"stock_status,omitempty"`
	CurrentPrice  float64      `json:"current_price"`
	PriceHistory  []PricePoint `json:"price_history"`
	AlarmPrice    float64      `json:"alarm_price"`
	LastETag      string       `json:"-"`
	LastModified  string       `json:"-"`
	ShardMinute   int          `json:"shard_minute"`
	CooldownUntil *time.Time   `json:"cooldown_until,omitempty"`
	LastCheckedAt *time.Time   `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// PushPrice appends a history entry, evicting the oldest beyond HistoryCap.
func (p *Product) PushPrice(price float64, at time.Time) {
	p.PriceHistory = append(p.PriceHistory, PricePoint{Price: price, Date: at})
	if n := len(p.PriceHistory); n > HistoryCap {
		p.PriceHistory = p.PriceHistory[n-HistoryCap:]
	}
}

// Direction of a detected price change.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionSame Direction = "same"
)

// ChangeRecord is an immutable audit entry for one detected price change.
// Title, URL and Image are denormalized so the listing can render without a
// join even after the product is edited or deleted.
type ChangeRecord struct {
	ID          string    `json:"id"`
	ProductID   int       `json:"product_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	Image       string    `json:"image,omitempty"`
	PrevPrice   float64   `json:"prev_price"`
	NewPrice    float64   `json:"new_price"`
	Diff        float64   `json:"diff"`
	DiffPct     float64   `json:"diff_pct"`
	Direction   Direction `json:"direction"`
	ProcessedAt time.Time `json:"processed_at"`
}

// NewChangeRecord derives a record from a price transition. DiffPct is 0 for
// a previously unpriced product.
func NewChangeRecord(p *Product, prevPrice, newPrice float64, now time.Time) *ChangeRecord {
	diff := newPrice - prevPrice
	var pct float64
	if prevPrice != 0 {
		pct = diff / prevPrice * 100
	}
	dir := DirectionSame
	switch {
	case diff > 0:
		dir = DirectionUp
	case diff < 0:
		dir = DirectionDown
	}
	return &ChangeRecord{
		ID:          uuid.NewString(),
		ProductID:   p.ID,
		Title:       p.Title,
		URL:         p.URL,
		Image:       p.Image,
		PrevPrice:   prevPrice,
		NewPrice:    newPrice,
		Diff:        diff,
		DiffPct:     pct,
		Direction:   dir,
		ProcessedAt: now,
	}
}
