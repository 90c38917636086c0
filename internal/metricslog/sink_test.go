package metricslog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
)

// TestSinkWritesHeaderAndRows verifies rows land on disk in column order
// after Stop flushes the buffer.
func TestSinkWritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	sink := New(path, []string{"timestamp", "snapshot_id", "latency_ms"})

	if err := sink.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if !sink.Log(int64(1700000000000), uint32(42), 12.5) {
		t.Fatal("Log should accept a well-formed row")
	}
	if !sink.Log(int64(1700000000050), uint32(43), 9.0) {
		t.Fatal("Log should accept a second row")
	}

	sink.Stop()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("CSV parse failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d records", len(records))
	}
	if records[0][0] != "timestamp" || records[0][2] != "latency_ms" {
		t.Errorf("Header wrong: %v", records[0])
	}
	if records[1][1] != "42" {
		t.Errorf("Expected snapshot id 42, got %q", records[1][1])
	}
	if records[2][2] != "9.000" {
		t.Errorf("Expected formatted float 9.000, got %q", records[2][2])
	}
}

// TestSinkRejectsArityMismatch verifies a row with the wrong field count is
// dropped and counted, not written half-formed.
func TestSinkRejectsArityMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	sink := New(path, []string{"a", "b"})

	if err := sink.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sink.Stop()

	if sink.Log(1) {
		t.Error("Short row should be rejected")
	}
	if sink.Log(1, 2, 3) {
		t.Error("Long row should be rejected")
	}
	if sink.Dropped() != 2 {
		t.Errorf("Expected 2 dropped rows, got %d", sink.Dropped())
	}
}

// TestSinkLogAfterStop verifies a stopped sink drops silently.
func TestSinkLogAfterStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	sink := New(path, []string{"a"})

	if err := sink.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sink.Stop()

	if sink.Log(1) {
		t.Error("Log after Stop should return false")
	}

	// Double stop must not panic.
	sink.Stop()
}

// TestSinkUnstartedIsInert verifies Log on a never-started sink is a no-op.
func TestSinkUnstartedIsInert(t *testing.T) {
	sink := New(filepath.Join(t.TempDir(), "never.csv"), []string{"a"})
	if sink.Log(1) {
		t.Error("Unstarted sink should reject rows")
	}
}
