package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeRecord(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) failed: %v", name, err)
	}
}

func TestResolveSourcePath(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"", ""},
		{"~", "/home/me"},
		{"~/cases", "/home/me/cases"},
		{"cases/open", "/home/me/cases/open"},
		{"/srv/cases/", "/srv/cases"},
		{"  ~/padded ", "/home/me/padded"},
	}

	for _, tt := range tests {
		if got := ResolveSourcePath(tt.source, "/home/me"); got != tt.want {
			t.Errorf("ResolveSourcePath(%q) = %q, want %q", tt.source, got, tt.want)
		}
	}
}

func TestDirectorySourceScan(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

	writeRecord(t, dir, "far.json", `{"deadline": "2024-05-20T12:00:00Z"}`)
	writeRecord(t, dir, "broken.json", `{"deadline": `)
	writeRecord(t, dir, "array.json", `[1, 2, 3]`)
	writeRecord(t, dir, "ignored.txt", `{"deadline": "2024-05-07T12:00:00Z"}`)

	src := NewDirectorySource(DefaultScanLimits())
	if ScanForDeadlineWithin(src, dir, 3, now) {
		t.Fatal("no record is within 3 days yet")
	}

	writeRecord(t, dir, "soon.json", `{"title": "motion", "due": "2024-05-08"}`)
	if !ScanForDeadlineWithin(src, dir, 3, now) {
		t.Error("a due date two days out should match")
	}
}

func TestDirectorySourceMissingDirectory(t *testing.T) {
	src := NewDirectorySource(DefaultScanLimits())
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	if _, err := src.Records(missing); err == nil {
		t.Error("Records() of a missing directory should fail")
	}
	if ScanForDeadlineWithin(src, missing, 3, time.Now()) {
		t.Error("a missing directory should never match")
	}
	if ScanForDeadlineWithin(src, "", 3, time.Now()) {
		t.Error("an empty source should never match")
	}
}

func TestDirectorySourceLimits(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "a.json", `{"n": 1}`)
	writeRecord(t, dir, "b.json", `{"n": 2}`)
	writeRecord(t, dir, "c.json", `{"padding": "`+strings.Repeat("x", 200)+`"}`)

	src := NewDirectorySource(ScanLimits{MaxRecords: 10, MaxFileBytes: 64})
	records, err := src.Records(dir)
	if err != nil {
		t.Fatalf("Records() failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("oversized record should be skipped, got %d records", len(records))
	}

	src = NewDirectorySource(ScanLimits{MaxRecords: 1, MaxFileBytes: 1024})
	records, err = src.Records(dir)
	if err != nil {
		t.Fatalf("Records() failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("MaxRecords=1 returned %d records", len(records))
	}
}

func TestDirectorySourceHomeRelative(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, "cases"), 0o755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	writeRecord(t, filepath.Join(home, "cases"), "one.json", `{"deadline": "2030-01-01"}`)

	src := NewDirectorySource(DefaultScanLimits())
	src.home = func() (string, error) { return home, nil }

	for _, source := range []string{"cases", "~/cases"} {
		records, err := src.Records(source)
		if err != nil {
			t.Fatalf("Records(%q) failed: %v", source, err)
		}
		if len(records) != 1 {
			t.Errorf("Records(%q) = %d records, want 1", source, len(records))
		}
	}
}

func TestRecordDeadlineFieldPriority(t *testing.T) {
	rec := DataRecord{
		"due":      "2024-01-10",
		"due_date": "2024-01-05",
		"deadline": "2024-01-02T09:30:00",
	}
	got, ok := RecordDeadline(rec, time.UTC)
	if !ok {
		t.Fatal("RecordDeadline() found nothing")
	}
	want := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("RecordDeadline() = %v, want %v", got, want)
	}

	if _, ok := RecordDeadline(DataRecord{"deadline": 42}, time.UTC); ok {
		t.Error("non-string deadline should be ignored")
	}
	if _, ok := RecordDeadline(DataRecord{"deadline": "soon"}, time.UTC); ok {
		t.Error("unparseable deadline should be ignored")
	}
}

func TestScanForDeadlineWithinBoundaries(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	src := NewMemorySource()

	src.Set("now", DataRecord{"deadline": FormatTimestamp(now)})
	src.Set("edge", DataRecord{"deadline": FormatTimestamp(now.AddDate(0, 0, 3))})
	src.Set("over", DataRecord{"deadline": FormatTimestamp(now.AddDate(0, 0, 3).Add(time.Second))})

	if !ScanForDeadlineWithin(src, "now", 3, now) {
		t.Error("a deadline equal to now should match")
	}
	if !ScanForDeadlineWithin(src, "edge", 3, now) {
		t.Error("a deadline exactly days ahead should match")
	}
	if ScanForDeadlineWithin(src, "over", 3, now) {
		t.Error("a deadline past the window should not match")
	}
	if ScanForDeadlineWithin(nil, "now", 3, now) {
		t.Error("a nil source should never match")
	}
}
