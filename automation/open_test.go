package automation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/liamcoop/automations/internal/config"
)

// TestOpenMemoryBackend verifies a manager can be built without durable storage
func TestOpenMemoryBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = config.BackendMemory

	m, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	if _, err := m.CompileFromText("every 2 hours check the queue"); err != nil {
		t.Fatalf("CompileFromText failed: %v", err)
	}
	if n := len(m.List()); n != 1 {
		t.Errorf("Expected 1 rule, got %d", n)
	}
}

// TestOpenFileBackendReloads verifies rules survive a reopen of the rules directory
func TestOpenFileBackendReloads(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.RulesDir = filepath.Join(dir, "rules")
	cfg.DeadlinesDir = filepath.Join(dir, "cases")

	m, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	rule, err := m.CompileFromText("If my case deadline is within 5 days, alert me")
	if err != nil {
		t.Fatalf("CompileFromText failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.RulesDir, rule.ID+".json")); err != nil {
		t.Fatalf("Expected a record file for %s: %v", rule.ID, err)
	}
	m.Close()

	reopened, err := Open(cfg)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	got, err := reopened.Get(rule.ID)
	if err != nil {
		t.Fatalf("Rule %s not reloaded: %v", rule.ID, err)
	}
	if !strings.HasSuffix(got.Name, "alert me") {
		t.Errorf("Unexpected reloaded name %q", got.Name)
	}
}

// TestOpenRejectsInvalidConfig verifies configuration is validated first
func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "redis"

	if _, err := Open(cfg); err == nil {
		t.Error("Expected error for unknown backend, got nil")
	}
}
