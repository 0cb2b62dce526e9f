package brand

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// keyPrefix prefixes the Redis hash holding the ratings of one source.
const keyPrefix = "brand_ratings:"

// RedisSource reads brand ratings from Redis hashes, one hash per source,
// keyed by normalized brand name.
type RedisSource struct {
	client redis.UniversalClient
}

// NewRedisSource creates a RatingSource backed by client.
func NewRedisSource(client redis.UniversalClient) *RedisSource {
	return &RedisSource{client: client}
}

func hashKey(source string) string {
	return keyPrefix + sourceOrDefault(source)
}

// Rating implements RatingSource.
func (s *RedisSource) Rating(ctx context.Context, source, brand string) (float64, error) {
	key := Key(brand)
	if key == "" {
		return 0, ErrUnknownBrand
	}

	raw, err := s.client.HGet(ctx, hashKey(source), key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrUnknownBrand
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read brand rating: %w", err)
	}

	rating, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid brand rating %q for %s: %w", raw, key, err)
	}
	return rating, nil
}

// Set stores the rating of brand in source.
func (s *RedisSource) Set(ctx context.Context, source, brand string, rating float64) error {
	return s.client.HSet(ctx, hashKey(source), Key(brand), strconv.FormatFloat(rating, 'f', -1, 64)).Err()
}
