package rules

import (
	"testing"
	"time"
)

func TestInMemoryRulesCacheLifecycle(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())

	if cache.Get() != nil {
		t.Fatal("new cache should be a miss")
	}

	cache.Set([]*Rule{})
	got := cache.Get()
	if got == nil || len(got) != 0 {
		t.Errorf("cached empty set should be a non-nil empty slice, got %v", got)
	}

	rule := scheduleRule("cached", &ScheduleConfig{IntervalHours: IntPtr(1)})
	cache.Set([]*Rule{rule})
	rule.Name = "changed after Set"
	if cache.Get()[0].Name == "changed after Set" {
		t.Error("cache should hold its own copy")
	}

	cache.Get()[0].Name = "changed after Get"
	if cache.Get()[0].Name != "schedule cached" {
		t.Error("Get should hand out copies")
	}

	cache.Invalidate()
	if cache.Get() != nil {
		t.Error("invalidated cache should be a miss")
	}
}

func TestInMemoryRulesCacheTTL(t *testing.T) {
	now := monday9
	cache := NewInMemoryRulesCache(CacheConfig{
		TTL: time.Minute,
		Now: func() time.Time { return now },
	})
	cache.Set([]*Rule{scheduleRule("ttl", &ScheduleConfig{IntervalHours: IntPtr(1)})})

	now = now.Add(time.Minute)
	if cache.Get() == nil {
		t.Error("snapshot should still be served at exactly the TTL")
	}
	now = now.Add(time.Second)
	if cache.Get() != nil {
		t.Error("expired snapshot should be a miss")
	}
}
