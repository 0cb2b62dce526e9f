// Package cache serves published ranking snapshots from Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/ecoscore/internal/ranking"
)

const keyPrefix = "rankings:"

// DefaultTTL is the lifetime of a cached snapshot when none is configured.
const DefaultTTL = time.Hour

// ErrCacheMiss is returned when no usable snapshot is cached.
var ErrCacheMiss = errors.New("ranking not cached")

func snapshotKey(vertical, score string) string {
	return keyPrefix + vertical + ":" + score
}

// indexKey holds the set of cached score names of a vertical.
func indexKey(vertical string) string {
	return keyPrefix + vertical
}

// RankingCache stores one CBOR snapshot per vertical and score with a TTL.
// It implements the recompute RankingPublisher.
type RankingCache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// NewRankingCache creates a cache on client. A zero ttl uses DefaultTTL.
func NewRankingCache(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger, metrics *Metrics) *RankingCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RankingCache{client: client, ttl: ttl, logger: logger, metrics: metrics}
}

// Publish stores snap, replacing the cached snapshot of its score.
func (c *RankingCache) Publish(ctx context.Context, snap ranking.Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, snapshotKey(snap.Vertical, snap.Score), data, c.ttl)
		pipe.SAdd(ctx, indexKey(snap.Vertical), snap.Score)
		pipe.Expire(ctx, indexKey(snap.Vertical), c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache ranking %s/%s: %w", snap.Vertical, snap.Score, err)
	}
	c.metrics.observeWrite(len(data))
	return nil
}

// Get returns the cached snapshot of a score. Unreadable entries are
// deleted and reported as misses.
func (c *RankingCache) Get(ctx context.Context, vertical, score string) (ranking.Snapshot, error) {
	key := snapshotKey(vertical, score)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.observeLookup(resultMiss)
		return ranking.Snapshot{}, ErrCacheMiss
	}
	if err != nil {
		c.metrics.observeLookup(resultError)
		return ranking.Snapshot{}, fmt.Errorf("failed to read cached ranking: %w", err)
	}

	snap, err := DecodeSnapshot(data)
	if err != nil {
		c.logger.Warn("dropping unreadable cached ranking", "key", key, "error", err)
		c.client.Del(ctx, key)
		c.metrics.observeLookup(resultMiss)
		return ranking.Snapshot{}, ErrCacheMiss
	}
	c.metrics.observeLookup(resultHit)
	return snap, nil
}

// Scores returns the cached score names of a vertical in ascending order.
func (c *RankingCache) Scores(ctx context.Context, vertical string) ([]string, error) {
	names, err := c.client.SMembers(ctx, indexKey(vertical)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cached rankings: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Invalidate deletes every cached snapshot of a vertical and returns the
// number of deleted keys.
func (c *RankingCache) Invalidate(ctx context.Context, vertical string) (int64, error) {
	names, err := c.Scores(ctx, vertical)
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(names)+1)
	for _, name := range names {
		keys = append(keys, snapshotKey(vertical, name))
	}
	keys = append(keys, indexKey(vertical))

	n, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate rankings of %s: %w", vertical, err)
	}
	c.logger.Info("ranking cache invalidated", "vertical", vertical, "keys", n)
	return n, nil
}

const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultError = "error"
)

// Metric names.
const (
	MetricCacheLookupsTotal  = "ecoscore_ranking_cache_lookups_total"
	MetricCacheSnapshotBytes = "ecoscore_ranking_cache_snapshot_bytes"
)

// Metrics contains Prometheus metrics for the ranking cache.
type Metrics struct {
	lookups       *prometheus.CounterVec
	snapshotBytes prometheus.Histogram
}

// NewMetrics creates unregistered cache metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCacheLookupsTotal,
			Help: "Total number of ranking cache lookups by result",
		}, []string{"result"}),
		snapshotBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricCacheSnapshotBytes,
			Help:    "Size of encoded ranking snapshots in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.lookups, m.snapshotBytes}
}

func (m *Metrics) observeLookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

func (m *Metrics) observeWrite(size int) {
	if m == nil {
		return
	}
	m.snapshotBytes.Observe(float64(size))
}
