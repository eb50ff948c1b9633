package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/servicedesk/crm-service/internal/domain"
)

// StatsCache keeps the dashboard's status counts warm in Redis. All
// methods degrade to a miss or a no-op when Redis is down; the cache is
// never load-bearing for correctness.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatsCache builds the cache. A zero TTL disables caching entirely.
func NewStatsCache(client *redis.Client, ttl time.Duration) *StatsCache {
	return &StatsCache{client: client, ttl: ttl}
}

const statsKeyPrefix = "ticket_stats:"

func statsKey(submitterID *string) string {
	if submitterID == nil {
		return statsKeyPrefix + "all"
	}
	return statsKeyPrefix + *submitterID
}

// Get returns cached stats and whether the lookup hit.
func (c *StatsCache) Get(ctx context.Context, submitterID *string) (domain.TicketStats, bool) {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return domain.TicketStats{}, false
	}
	raw, err := c.client.Get(ctx, statsKey(submitterID)).Bytes()
	if err != nil {
		return domain.TicketStats{}, false
	}
	var stats domain.TicketStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return domain.TicketStats{}, false
	}
	return stats, true
}

// Set stores stats for the configured TTL.
func (c *StatsCache) Set(ctx context.Context, submitterID *string, stats domain.TicketStats) {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, statsKey(submitterID), raw, c.ttl).Err()
}

// Invalidate drops every cached stats entry. Mutations call this so the
// next dashboard read recomputes from the store.
func (c *StatsCache) Invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, statsKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		_ = c.client.Del(ctx, iter.Val()).Err()
	}
}
