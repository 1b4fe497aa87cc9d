package modelstore

import (
	"time"

	"github.com/liamcoop/rtc/rtcxml"
	"github.com/liamcoop/rtc/rules"
)

// Decoded is a model's bundle after decoding
type Decoded struct {
	Groups      []*rules.ControlGroup
	Diagnostics rtcxml.Diagnostics
	// Version is the UpdatedAt of the model the groups were decoded from
	Version time.Time
}

// DecodedCache caches decoded models by model id, so reads of unchanged
// models skip the XML codec
type DecodedCache interface {
	// Get returns the cached entry, or false on a miss or expiry
	Get(id string) (*Decoded, bool)

	// Set stores an entry
	Set(id string, d *Decoded)

	// Invalidate drops the entry for id
	Invalidate(id string)

	// Len returns the number of live entries
	Len() int
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns the defaults: no TTL, entries are dropped on
// mutation only
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}
