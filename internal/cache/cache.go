// Package cache stores rendered calendar responses per tenant so repeated
// requests for the same range skip the store and the adapter.
package cache

import (
	"context"
	"strconv"
	"strings"
)

// Cache is a byte-oriented TTL cache. Entries are grouped by tenant so a
// write for one tenant can drop everything cached for it.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	InvalidateTenant(ctx context.Context, tenantID int64) error
	Close() error
}

const keyPrefix = "teamcal:cal:"

func tenantPrefix(tenantID int64) string {
	return keyPrefix + strconv.FormatInt(tenantID, 10) + ":"
}

// Key builds the cache key of one calendar response of tenantID.
func Key(tenantID int64, parts ...string) string {
	return tenantPrefix(tenantID) + strings.Join(parts, ":")
}
