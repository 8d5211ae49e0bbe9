package port

import (
	"context"
	"time"
)

// KV is the replicated key-value service that arbitrates the primary
// role. Replication is the store's problem; this layer only consumes
// it. SetNX is the single synchronization primitive everything else is
// built on: an expired key counts as absent, so set-if-absent doubles
// as set-if-absent-or-expired.
type KV interface {
	// Get returns the value and whether the key exists (an expired key
	// does not exist).
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set writes value with the given TTL, overwriting any prior value.
	// A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX atomically writes value with the given TTL only if the key
	// is absent or expired. Returns true iff this call created it.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndExpire atomically resets the TTL only if the current
	// value equals expect. Returns false if the key is absent or holds
	// a different value.
	CompareAndExpire(ctx context.Context, key, expect string, ttl time.Duration) (bool, error)

	// CompareAndDelete atomically deletes the key only if the current
	// value equals expect.
	CompareAndDelete(ctx context.Context, key, expect string) (bool, error)

	// Delete removes the key unconditionally. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// ScanPrefix returns every live key starting with prefix.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	Close() error
}
