package rules

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/liamcoop/automations/internal/logger"
)

// Record fields consulted for a deadline, in priority order
var deadlineFields = []string{"deadline", "due_date", "due"}

// DataRecord is one structured record read from a condition source
type DataRecord map[string]any

// RecordSource is the read-only query interface behind condition rules
type RecordSource interface {
	// Records returns the readable records under source. Unreadable or
	// malformed entries are skipped; an error means the source itself is
	// missing or not listable.
	Records(source string) ([]DataRecord, error)
}

// ScanLimits bounds a directory scan
type ScanLimits struct {
	MaxRecords   int
	MaxFileBytes int64
}

// DefaultScanLimits returns the limits used when none are configured
func DefaultScanLimits() ScanLimits {
	return ScanLimits{
		MaxRecords:   1000,
		MaxFileBytes: 1 << 20,
	}
}

// DirectorySource reads *.json files from a directory, one record per file
type DirectorySource struct {
	limits ScanLimits
	home   func() (string, error)
}

// NewDirectorySource creates a directory-backed RecordSource
func NewDirectorySource(limits ScanLimits) *DirectorySource {
	if limits.MaxRecords <= 0 {
		limits.MaxRecords = DefaultScanLimits().MaxRecords
	}
	if limits.MaxFileBytes <= 0 {
		limits.MaxFileBytes = DefaultScanLimits().MaxFileBytes
	}
	return &DirectorySource{
		limits: limits,
		home:   os.UserHomeDir,
	}
}

// ResolveSourcePath expands a leading "~" and anchors relative paths at home
func ResolveSourcePath(source, home string) string {
	source = strings.TrimSpace(source)
	switch {
	case source == "":
		return ""
	case source == "~":
		return home
	case strings.HasPrefix(source, "~/"):
		return filepath.Join(home, source[2:])
	case filepath.IsAbs(source):
		return filepath.Clean(source)
	default:
		return filepath.Join(home, source)
	}
}

func (d *DirectorySource) Records(source string) ([]DataRecord, error) {
	home, err := d.home()
	if err != nil && !filepath.IsAbs(source) {
		return nil, fmt.Errorf("cannot resolve %q without a home directory: %w", source, err)
	}
	dir := ResolveSourcePath(source, home)
	if dir == "" {
		return nil, fmt.Errorf("condition source is empty")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read condition source: %w", err)
	}

	var out []DataRecord
	for _, entry := range entries {
		if len(out) >= d.limits.MaxRecords {
			logger.Debug("condition scan hit record limit", "source", dir, "limit", d.limits.MaxRecords)
			break
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := d.readRecord(filepath.Join(dir, name))
		if err != nil {
			logger.Debug("skipping condition record", "file", name, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (d *DirectorySource) readRecord(path string) (DataRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, d.limits.MaxFileBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > d.limits.MaxFileBytes {
		return nil, fmt.Errorf("record exceeds %d bytes", d.limits.MaxFileBytes)
	}

	var rec DataRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("record is not an object")
	}
	return rec, nil
}

// MemorySource serves records from memory, keyed by source name
type MemorySource struct {
	sources map[string][]DataRecord
	mu      sync.RWMutex
}

// NewMemorySource creates an empty in-memory RecordSource
func NewMemorySource() *MemorySource {
	return &MemorySource{sources: make(map[string][]DataRecord)}
}

// Set replaces the records served for source
func (m *MemorySource) Set(source string, records ...DataRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[source] = records
}

func (m *MemorySource) Records(source string) ([]DataRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records, ok := m.sources[source]
	if !ok {
		return nil, fmt.Errorf("condition source %q does not exist", source)
	}
	return records, nil
}

// RecordDeadline returns the first present deadline-like field of a record
func RecordDeadline(rec DataRecord, loc *time.Location) (time.Time, bool) {
	for _, field := range deadlineFields {
		raw, ok := rec[field].(string)
		if !ok || raw == "" {
			continue
		}
		t, err := ParseTimestamp(raw, loc)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// ScanForDeadlineWithin reports whether any record under source has a
// deadline in [now, now+days]. A missing or unreadable source never matches.
func ScanForDeadlineWithin(src RecordSource, source string, days int, now time.Time) bool {
	if src == nil || strings.TrimSpace(source) == "" {
		return false
	}
	records, err := src.Records(source)
	if err != nil {
		logger.Debug("condition source unavailable", "source", source, "error", err)
		return false
	}

	threshold := now.AddDate(0, 0, days)
	for _, rec := range records {
		deadline, ok := RecordDeadline(rec, now.Location())
		if !ok {
			continue
		}
		if !deadline.Before(now) && !deadline.After(threshold) {
			return true
		}
	}
	return false
}
