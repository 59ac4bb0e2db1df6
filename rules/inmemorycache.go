package rules

import (
	"sync"
	"time"
)

type enabledSnapshot struct {
	rules   []*Rule
	expires time.Time // zero: no expiry
}

// InMemoryRulesCache keeps one enabled-rules snapshot in process memory.
// Rules go in and come out as deep copies.
type InMemoryRulesCache struct {
	ttl  time.Duration
	now  func() time.Time
	snap *enabledSnapshot
	mu   sync.RWMutex
}

// NewInMemoryRulesCache creates an empty cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &InMemoryRulesCache{ttl: config.TTL, now: now}
}

func (c *InMemoryRulesCache) Get() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.snap == nil {
		return nil
	}
	if !c.snap.expires.IsZero() && c.now().After(c.snap.expires) {
		return nil
	}
	return cloneRules(c.snap.rules)
}

func (c *InMemoryRulesCache) Set(rules []*Rule) {
	snap := &enabledSnapshot{rules: cloneRules(rules)}
	if c.ttl > 0 {
		snap.expires = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = snap
}

func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = nil
}

func cloneRules(in []*Rule) []*Rule {
	out := make([]*Rule, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
