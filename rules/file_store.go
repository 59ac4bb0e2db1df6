package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/liamcoop/automations/internal/logger"
)

// DirectoryBackend stores each rule as <dir>/<id>.json
type DirectoryBackend struct {
	dir string
	loc *time.Location
}

// NewDirectoryBackend creates the directory if needed
func NewDirectoryBackend(dir string) (*DirectoryBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("automations directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create automations directory: %w", err)
	}
	return &DirectoryBackend{dir: dir}, nil
}

// SetLocation sets the zone naive timestamps are read in; nil means time.Local
func (b *DirectoryBackend) SetLocation(loc *time.Location) {
	b.loc = loc
}

// Dir returns the directory holding the records
func (b *DirectoryBackend) Dir() string {
	return b.dir
}

func (b *DirectoryBackend) path(id string) string {
	return filepath.Join(b.dir, id+".json")
}

// Load reads every *.json file in the directory, skipping ones that fail to decode
func (b *DirectoryBackend) Load() ([]*Rule, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read automations directory: %w", err)
	}

	var out []*Rule
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, name))
		if err != nil {
			logger.WarnSkippedRecord(name, err)
			continue
		}
		r, err := UnmarshalRuleIn(data, b.loc)
		if err != nil {
			logger.WarnSkippedRecord(name, err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Put writes the record to a temp file and renames it into place
func (b *DirectoryBackend) Put(rule *Rule) error {
	if strings.ContainsAny(rule.ID, `/\`) || strings.HasPrefix(rule.ID, ".") {
		return fmt.Errorf("rule id %q is not usable as a file name", rule.ID)
	}
	data, err := MarshalRule(rule)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, "."+rule.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write automation %s: %w", rule.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close automation %s: %w", rule.ID, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod automation %s: %w", rule.ID, err)
	}
	if err := os.Rename(tmpName, b.path(rule.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace automation %s: %w", rule.ID, err)
	}
	return nil
}

// Remove deletes the record file; a missing file is not an error
func (b *DirectoryBackend) Remove(id string) error {
	err := os.Remove(b.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete automation %s: %w", id, err)
	}
	return nil
}
