// Package scraper is the fetch side of price tracking. Implementations own
// all transport and payload concerns; callers only see a classified Result
// or a classified error.
package scraper

import (
	"context"
	"fmt"
)

// Validators are the conditional-fetch tokens carried between checks.
type Validators struct {
	ETag         string
	LastModified string
}

// Result of one fetch attempt.
type Result struct {
	// NotModified reports that the validators matched and the content was
	// not re-downloaded. Price/Image/StockStatus are unset in that case.
	NotModified bool

	HasPrice bool
	Price    float64

	Validators  Validators
	Image       string
	StockStatus string
}

// Fetcher probes a single URL, honoring the supplied validators.
type Fetcher interface {
	Fetch(ctx context.Context, url string, v Validators) (Result, error)
}

// BlockedError signals an anti-automation response from the remote site.
type BlockedError struct {
	StatusCode int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by remote site (status %d)", e.StatusCode)
}

// NetworkError wraps transport-level failures.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError wraps payload failures (malformed body, missing price).
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse error: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }
