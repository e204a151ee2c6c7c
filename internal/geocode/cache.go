package geocode

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedResolver memoizes successful lookups in redis. Geocoding the
// same origin/destination strings repeatedly is the common case for
// commuter lobbies.
type CachedResolver struct {
	next   Resolver
	client *redis.Client
	ttl    time.Duration
}

func NewCachedResolver(next Resolver, addr, password string, ttl time.Duration) *CachedResolver {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &CachedResolver{next: next, client: c, ttl: ttl}
}

func (c *CachedResolver) Resolve(ctx context.Context, address string) ([]Place, error) {
	key := "geocode:" + address
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var places []Place
		if err := json.Unmarshal(raw, &places); err == nil && len(places) > 0 {
			return places, nil
		}
	}
	// cache miss, or cache trouble treated as a miss
	places, err := c.next.Resolve(ctx, address)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(places); err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return places, nil
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
