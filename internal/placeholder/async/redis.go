package async

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Ruskei/BetterHud/internal/value"
)

// DefaultKeyPrefix is prepended to the player id to form the hash key.
const DefaultKeyPrefix = "hud:stats:"

// ErrNoValue is returned when the hash has no such field.
var ErrNoValue = errors.New("async: no value")

// RedisFetcher reads player stats from a Redis hash per player: field key of
// hash prefix+player.
type RedisFetcher struct {
	client *redis.Client
	prefix string
}

func NewRedisFetcher(client *redis.Client, prefix string) *RedisFetcher {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisFetcher{client: client, prefix: prefix}
}

func (f *RedisFetcher) Fetch(ctx context.Context, player, key string) (value.Value, error) {
	raw, err := f.client.HGet(ctx, f.prefix+player, key).Result()
	if errors.Is(err, redis.Nil) {
		return value.Value{}, fmt.Errorf("%w: %s%s %s", ErrNoValue, f.prefix, player, key)
	}
	if err != nil {
		return value.Value{}, fmt.Errorf("async: hget %s%s %s: %w", f.prefix, player, key, err)
	}
	return value.Parse(raw), nil
}
