//go:build integration

package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	redisContainer "github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedisContainer starts a disposable Redis and returns a client
// connected to it. The container is terminated when the test completes.
func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := redisContainer.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRankingCache_Container(t *testing.T) {
	client := setupRedisContainer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		c := NewRankingCache(client, time.Minute, logger, NewMetrics())
		snap := sampleSnapshot("tv")
		require.NoError(t, c.Publish(ctx, snap))

		got, err := c.Get(ctx, "tv", "ECOSCORE")
		require.NoError(t, err)
		assert.Equal(t, snap.RunID, got.RunID)
		assert.Equal(t, snap.Entries, got.Entries)
		assert.True(t, snap.GeneratedAt.Equal(got.GeneratedAt))
	})

	t.Run("republish replaces", func(t *testing.T) {
		c := NewRankingCache(client, time.Minute, logger, nil)
		first := sampleSnapshot("laptops")
		require.NoError(t, c.Publish(ctx, first))

		second := sampleSnapshot("laptops")
		second.RunID = "run-2"
		second.Entries = second.Entries[:1]
		require.NoError(t, c.Publish(ctx, second))

		got, err := c.Get(ctx, "laptops", "ECOSCORE")
		require.NoError(t, err)
		assert.Equal(t, "run-2", got.RunID)
		assert.Len(t, got.Entries, 1)
	})

	t.Run("entries expire", func(t *testing.T) {
		c := NewRankingCache(client, time.Second, logger, nil)
		require.NoError(t, c.Publish(ctx, sampleSnapshot("phones")))

		require.Eventually(t, func() bool {
			_, err := c.Get(ctx, "phones", "ECOSCORE")
			return err == ErrCacheMiss
		}, 5*time.Second, 100*time.Millisecond)

		scores, err := c.Scores(ctx, "phones")
		require.NoError(t, err)
		assert.Empty(t, scores)
	})

	t.Run("invalidate unknown vertical", func(t *testing.T) {
		c := NewRankingCache(client, time.Minute, logger, nil)
		n, err := c.Invalidate(ctx, "unknown")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
