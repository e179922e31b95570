package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSnapshot(t *testing.T, dir, name string, at time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("sqlite"), 0o600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("failed to set times: %v", err)
	}
	return path
}

// TestListSnapshotsMissingDirectory tests that a domain never snapshotted has none.
func TestListSnapshotsMissingDirectory(t *testing.T) {
	snaps, err := listSnapshots(filepath.Join(t.TempDir(), "nope"), "baseball")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("expected 0 snapshots, got %d", len(snaps))
	}
}

// TestListSnapshotsIgnoresOtherFiles tests that only .db files are listed.
func TestListSnapshotsIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeSnapshot(t, dir, "notes.txt", now)
	if err := os.Mkdir(filepath.Join(dir, "sub.db"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	want := writeSnapshot(t, dir, "baseball-1.db", now)

	snaps, err := listSnapshots(dir, "baseball")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].Path != want || snaps[0].Domain != "baseball" {
		t.Errorf("got %+v", snaps[0])
	}
}

// TestListSnapshotsNewestFirst tests ordering by modification time.
func TestListSnapshotsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeSnapshot(t, dir, "a.db", now.Add(-2*time.Hour))
	writeSnapshot(t, dir, "b.db", now)
	writeSnapshot(t, dir, "c.db", now.Add(-1*time.Hour))

	snaps, err := listSnapshots(dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := []string{filepath.Base(snaps[0].Path), filepath.Base(snaps[1].Path), filepath.Base(snaps[2].Path)}
	want := []string{"b.db", "c.db", "a.db"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order: got %v, want %v", got, want)
		}
	}
}

// TestApplyRetentionTiers tests that each tier keeps its newest entries.
func TestApplyRetentionTiers(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	var recent []string
	for i := 0; i < 4; i++ {
		recent = append(recent, writeSnapshot(t, dir, fmt.Sprintf("r%d.db", i), now.Add(-time.Duration(i)*time.Hour)))
	}
	daily := writeSnapshot(t, dir, "d.db", now.Add(-3*24*time.Hour))
	weekly := writeSnapshot(t, dir, "w.db", now.Add(-10*24*time.Hour))
	ancient := writeSnapshot(t, dir, "old.db", now.Add(-400*24*time.Hour))

	removed, err := applyRetention(dir, RetentionPolicy{Recent: 2, Daily: 1, Weekly: 1, Monthly: 1}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(removed) != 3 {
		t.Fatalf("expected 3 removed, got %v", removed)
	}

	for _, keep := range []string{recent[0], recent[1], daily, weekly} {
		if _, err := os.Stat(keep); err != nil {
			t.Errorf("%s should be kept: %v", filepath.Base(keep), err)
		}
	}
	for _, gone := range []string{recent[2], recent[3], ancient} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", filepath.Base(gone))
		}
	}
}

// TestApplyRetentionDefaults tests that a zero policy falls back to the defaults.
func TestApplyRetentionDefaults(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for i := 0; i < DefaultRetention.Recent+2; i++ {
		writeSnapshot(t, dir, fmt.Sprintf("s%02d.db", i), now.Add(-time.Duration(i)*time.Minute))
	}

	removed, err := applyRetention(dir, RetentionPolicy{}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("expected 2 removed, got %d", len(removed))
	}
}
