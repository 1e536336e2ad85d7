// Package cache stores rendered frontend pages behind a Store interface and
// decides, through the Gatekeeper, which requests may read or populate it.
package cache

import (
	"context"
	"time"
)

// Store is the page cache key-value backend. Implementations are safe for
// concurrent use. Put replaces any existing entry wholesale.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, body []byte, ttl time.Duration) error
	// Clear removes every entry the store owns.
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}
