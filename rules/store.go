package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/automations/internal/logger"
)

var (
	ErrRuleNotFound  = errors.New("rule not found")
	ErrDuplicateRule = errors.New("rule already exists")
)

// Backend is the durable side of the store: one record per rule.
type Backend interface {
	// Load returns every decodable rule. Records that fail to decode are
	// logged and skipped; an error means the source itself was unreadable.
	Load() ([]*Rule, error)

	// Put writes (inserts or replaces) the record for rule.ID
	Put(rule *Rule) error

	// Remove deletes the record for id; removing a missing record is not an error
	Remove(id string) error
}

// Store keeps the authoritative in-memory set of rules in insertion order
// and writes every mutation through to its Backend. A failed durable write
// is logged and counted but never rolls back the in-memory change.
type Store struct {
	backend Backend
	cache   RulesCache
	rules   map[string]*Rule
	order   []string
	mu      sync.RWMutex
}

// NewStore creates an empty store; call LoadAll to populate it
func NewStore(backend Backend, cache RulesCache) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if cache == nil {
		cache = NewInMemoryRulesCache(DefaultCacheConfig())
	}
	return &Store{
		backend: backend,
		cache:   cache,
		rules:   make(map[string]*Rule),
	}
}

// LoadAll replaces the in-memory set with the backend's records,
// ordered by creation time
func (s *Store) LoadAll() error {
	loaded, err := s.backend.Load()
	if err != nil {
		return fmt.Errorf("failed to load automations: %w", err)
	}

	sort.SliceStable(loaded, func(i, j int) bool {
		if !loaded[i].CreatedAt.Equal(loaded[j].CreatedAt) {
			return loaded[i].CreatedAt.Before(loaded[j].CreatedAt)
		}
		return loaded[i].ID < loaded[j].ID
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = make(map[string]*Rule, len(loaded))
	s.order = s.order[:0]
	for _, r := range loaded {
		if _, dup := s.rules[r.ID]; dup {
			logger.Warn("duplicate automation id in backend, keeping first", "rule_id", r.ID)
			continue
		}
		s.rules[r.ID] = r
		s.order = append(s.order, r.ID)
	}
	s.cache.Invalidate()

	logger.Info("loaded automations", "count", len(s.order))
	return nil
}

// Add inserts a new rule, rejecting ids that already exist
func (s *Store) Add(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}

	stored := rule.Clone()
	s.rules[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	s.persistLocked("add", stored)
	return nil
}

// Save upserts a rule keyed by id; new ids are appended to the listing order
func (s *Store) Save(rule *Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rule.Clone()
	if existing, exists := s.rules[stored.ID]; exists {
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now()
		}
		s.order = append(s.order, stored.ID)
	}
	s.rules[stored.ID] = stored
	s.persistLocked("save", stored)
}

// Get retrieves a copy of a rule by ID
func (s *Store) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule.Clone(), nil
}

// List returns copies of every rule in insertion order
func (s *Store) List() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rules[id].Clone())
	}
	return out
}

// ListEnabled returns copies of the enabled rules, served from the cache when valid
func (s *Store) ListEnabled() []*Rule {
	if cached := s.cache.Get(); cached != nil {
		return cached
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	enabled := make([]*Rule, 0, len(s.order))
	for _, id := range s.order {
		if r := s.rules[id]; r.Enabled {
			enabled = append(enabled, r.Clone())
		}
	}
	// mutations hold the write lock, so this snapshot is never stale
	s.cache.Set(enabled)
	return enabled
}

// Len returns the number of stored rules
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Delete removes a rule from memory and from the backend.
// It reports whether a rule with that id existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return false
	}
	delete(s.rules, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.cache.Invalidate()

	if err := s.backend.Remove(id); err != nil {
		logger.ErrorPersist("delete", id, err)
	}
	return true
}

// Toggle flips a rule's enabled flag and returns the new state.
// ok is false when no rule has that id.
func (s *Store) Toggle(id string) (enabled bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return false, false
	}
	rule.Enabled = !rule.Enabled
	s.persistLocked("toggle", rule)
	return rule.Enabled, true
}

// MarkRun records an execution time. last_run never moves backwards:
// an older timestamp than the stored one is ignored.
func (s *Store) MarkRun(id string, at time.Time) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if rule.LastRun == nil || at.After(*rule.LastRun) {
		t := at
		rule.LastRun = &t
		s.persistLocked("mark_run", rule)
	}
	return rule.Clone(), nil
}

// persistLocked writes a rule to the backend; callers hold s.mu
func (s *Store) persistLocked(op string, rule *Rule) {
	s.cache.Invalidate()
	if err := s.backend.Put(rule); err != nil {
		logger.ErrorPersist(op, rule.ID, err)
	}
}

// MemoryBackend keeps records in process memory; used for tests and the
// "memory" store setting
type MemoryBackend struct {
	records map[string][]byte
	loc     *time.Location
	mu      sync.RWMutex
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string][]byte),
	}
}

// SetLocation sets the zone naive timestamps are read in; nil means time.Local
func (b *MemoryBackend) SetLocation(loc *time.Location) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loc = loc
}

func (b *MemoryBackend) Load() ([]*Rule, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.records))
	for id := range b.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*Rule
	for _, id := range ids {
		r, err := UnmarshalRuleIn(b.records[id], b.loc)
		if err != nil {
			logger.WarnSkippedRecord(id, err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (b *MemoryBackend) Put(rule *Rule) error {
	data, err := MarshalRule(rule)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[rule.ID] = data
	return nil
}

func (b *MemoryBackend) Remove(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, id)
	return nil
}

// PutRaw stores an arbitrary document under id, bypassing encoding
func (b *MemoryBackend) PutRaw(id string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[id] = append([]byte(nil), data...)
}

// Has reports whether a record exists for id
func (b *MemoryBackend) Has(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.records[id]
	return ok
}
