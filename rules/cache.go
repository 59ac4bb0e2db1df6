package rules

import "time"

// RulesCache holds the snapshot of enabled rules handed to the evaluator.
// The store invalidates it on every mutation, including last_run updates.
type RulesCache interface {
	// Get returns a copy of the snapshot, or nil on a miss or after expiry
	Get() []*Rule

	// Set replaces the snapshot
	Set(rules []*Rule)

	// Invalidate drops the snapshot, forcing a rebuild on next Get
	Invalidate()
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL bounds how long a snapshot is served. 0 means it lives until
	// the next invalidation.
	TTL time.Duration

	// Now is the clock snapshots expire against; nil means time.Now
	Now func() time.Time
}

// DefaultCacheConfig returns the invalidate-only configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{}
}
