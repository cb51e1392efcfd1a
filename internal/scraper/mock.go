package scraper

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// MockFetcher synthesizes prices for demos and local development without
// touching the network. Prices drift deterministically per URL from the
// seed; individual URLs can be scripted to force specific outcomes.
type MockFetcher struct {
	mu      sync.Mutex
	seed    int64
	scripts map[string]func() (Result, error)
	last    map[string]float64
	fetches map[string]int64
}

func NewMockFetcher(seed int64) *MockFetcher {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockFetcher{
		seed:    seed,
		scripts: make(map[string]func() (Result, error)),
		last:    make(map[string]float64),
		fetches: make(map[string]int64),
	}
}

// Script forces the next fetches of url to use fn instead of the synthetic
// price walk.
func (m *MockFetcher) Script(url string, fn func() (Result, error)) {
	m.mu.Lock()
	m.scripts[url] = fn
	m.mu.Unlock()
}

func (m *MockFetcher) Fetch(ctx context.Context, url string, v Validators) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, &NetworkError{Err: ctx.Err()}
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if fn, ok := m.scripts[url]; ok {
		return fn()
	}

	// seed changes per fetch of a URL, so the walk wanders instead of
	// re-applying one fixed drift factor
	n := m.fetches[url]
	m.fetches[url] = n + 1
	r := rand.New(rand.NewSource(m.seed ^ int64(fnv64(url)) ^ n*7919))

	price, ok := m.last[url]
	if !ok {
		price = float64(100 + r.Intn(900))
	} else {
		price = price * (1 + (r.Float64()*0.1 - 0.05))
		price = float64(int(price*100)) / 100
	}
	m.last[url] = price

	return Result{
		HasPrice:   true,
		Price:      price,
		Validators: Validators{ETag: v.ETag, LastModified: v.LastModified},
	}, nil
}

func fnv64(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
