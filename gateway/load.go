package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Load runs fn through c, storing its result as JSON. A cached value that no
// longer decodes into T is reported as an error rather than refetched.
func Load[T any](ctx context.Context, c Cacher, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, Source, error) {
	var zero T

	res, err := c.WithCache(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, "", err
	}

	var out T
	if err := json.Unmarshal(res.Body, &out); err != nil {
		return zero, "", fmt.Errorf("decode cached %s: %w", key, err)
	}
	return out, res.Source, nil
}
