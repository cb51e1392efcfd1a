// Package cache keeps a short-lived Redis copy of the recent-changes
// listing so the UI poll does not hit Postgres on every request.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pricetracker/internal/products"
)

const recentChangesKey = "changes:recent"

type RecentChanges struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRecentChanges(addr, password string, db int) *RecentChanges {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RecentChanges{client: client, ttl: 30 * time.Second}
}

// Get returns the cached listing, or ok=false on a miss.
func (c *RecentChanges) Get(ctx context.Context) ([]products.ChangeRecord, bool, error) {
	data, err := c.client.Get(ctx, recentChangesKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	var recs []products.ChangeRecord
	if err := json.Unmarshal([]byte(data), &recs); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached changes: %w", err)
	}
	return recs, true, nil
}

func (c *RecentChanges) Set(ctx context.Context, recs []products.ChangeRecord) error {
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("marshal changes for cache: %w", err)
	}
	return c.client.Set(ctx, recentChangesKey, data, c.ttl).Err()
}

// PublishChange drops the cached listing so the next read sees the new
// record. Satisfies watcher.Publisher.
func (c *RecentChanges) PublishChange(ctx context.Context, _ *products.ChangeRecord) error {
	return c.client.Del(ctx, recentChangesKey).Err()
}

func (c *RecentChanges) Close() error {
	return c.client.Close()
}
