package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

// HTTPFetcher performs conditional GETs against a JSON product endpoint.
// It carries no site-specific markup logic; targets that require HTML
// parsing get their own Fetcher implementation.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

type HTTPFetcherOptions struct {
	UserAgent string
	Timeout   time.Duration
}

func NewHTTPFetcher(opts HTTPFetcherOptions) *HTTPFetcher {
	to := opts.Timeout
	if to <= 0 {
		to = 20 * time.Second
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "pricetracker/1.0"
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: to},
		userAgent: ua,
	}
}

type productPayload struct {
	Price       *float64 `json:"price"`
	Image       string   `json:"image"`
	StockStatus string   `json:"stock_status"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string, v Validators) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, &NetworkError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	// Adopt fresh validators when the server sends them; otherwise keep
	// the ones we already had.
	next := v
	if et := resp.Header.Get("ETag"); et != "" {
		next.ETag = et
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		next.LastModified = lm
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return Result{NotModified: true, Validators: next}, nil
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusServiceUnavailable:
		return Result{}, &BlockedError{StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Result{}, &NetworkError{Err: errors.New("http status " + resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &NetworkError{Err: err}
	}
	var payload productPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, &ParseError{Err: err}
	}

	res := Result{
		Validators:  next,
		Image:       payload.Image,
		StockStatus: payload.StockStatus,
	}
	if payload.Price != nil {
		res.HasPrice = true
		res.Price = *payload.Price
	}
	return res, nil
}
