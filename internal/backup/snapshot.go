package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/scrypster/statline/internal/observability"
)

// DirName is the snapshot directory under the data path.
const DirName = "snapshots"

// ErrNoStore is returned for a domain whose store is not a SQLite file.
var ErrNoStore = errors.New("backup: domain has no sqlite store file")

// Snapshotter writes verified snapshots of domain stores to
// {dataPath}/snapshots/{domain}/ and prunes them by a retention policy.
type Snapshotter struct {
	dir       string
	retention RetentionPolicy
	now       func() time.Time
	logger    *slog.Logger
}

// NewSnapshotter creates a Snapshotter rooted at dataPath.
func NewSnapshotter(dataPath string, retention RetentionPolicy, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Snapshotter{
		dir:       filepath.Join(dataPath, DirName),
		retention: retention.withDefaults(),
		now:       time.Now,
		logger:    logger.With("component", "backup"),
	}
}

// DomainDir returns the directory holding domain's snapshots.
func (s *Snapshotter) DomainDir(domain string) string {
	return filepath.Join(s.dir, domain)
}

// Snapshot copies the SQLite file at dbPath, verifies the copy and applies
// retention. A store file that does not exist yet has nothing to snapshot
// and returns (nil, nil).
func (s *Snapshotter) Snapshot(ctx context.Context, domain, dbPath string) (*SnapshotInfo, error) {
	if dbPath == "" || dbPath == ":memory:" {
		return nil, fmt.Errorf("%w: %s", ErrNoStore, domain)
	}
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat %s: %w", dbPath, err)
	}

	start := s.now()
	dir := s.DomainDir(domain)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s.db", domain, start.UTC().Format("20060102-150405.000000"))
	path := filepath.Join(dir, name)
	if err := copySQLite(ctx, dbPath, path); err != nil {
		return nil, err
	}
	if err := verifySQLite(ctx, path); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	snap := &SnapshotInfo{
		Domain:    domain,
		Path:      path,
		Timestamp: start,
		Size:      info.Size(),
		Verified:  true,
		Duration:  time.Since(start),
	}

	removed, err := applyRetention(dir, s.retention, s.now())
	if err != nil {
		s.logger.Warn("snapshot retention failed", "domain", domain, "error", err)
	}
	s.logger.Info("store snapshot written", "domain", domain, "path", path, "size", snap.Size, "pruned", len(removed))
	return snap, nil
}

// List returns domain's snapshots, newest first.
func (s *Snapshotter) List(domain string) ([]SnapshotInfo, error) {
	return listSnapshots(s.DomainDir(domain), domain)
}

// Restore replaces the SQLite file at dbPath with a snapshot. name may be
// a file name inside the domain's snapshot directory or "latest". If the
// copy fails the previous file is put back. Nothing may hold dbPath open.
func (s *Snapshotter) Restore(ctx context.Context, domain, name, dbPath string) (*SnapshotInfo, error) {
	snapshots, err := s.List(domain)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("backup: no snapshots for %s", domain)
	}

	var chosen *SnapshotInfo
	if name == "" || name == "latest" {
		chosen = &snapshots[0]
	} else {
		for i := range snapshots {
			if filepath.Base(snapshots[i].Path) == filepath.Base(name) {
				chosen = &snapshots[i]
				break
			}
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("backup: snapshot %q not found for %s", name, domain)
	}

	preRestore := dbPath + ".pre-restore"
	if _, err := os.Stat(dbPath); err == nil {
		_ = os.Remove(preRestore)
		if err := copySQLite(ctx, dbPath, preRestore); err != nil {
			return nil, fmt.Errorf("failed to copy current store: %w", err)
		}
		defer func() { _ = os.Remove(preRestore) }()
	}

	if err := replaceFile(ctx, chosen.Path, dbPath); err != nil {
		if _, statErr := os.Stat(preRestore); statErr == nil {
			if rbErr := replaceFile(ctx, preRestore, dbPath); rbErr != nil {
				return nil, fmt.Errorf("restore failed and rollback failed: %v (restore error: %w)", rbErr, err)
			}
			return nil, fmt.Errorf("restore failed, rolled back to previous state: %w", err)
		}
		return nil, err
	}

	chosen.Verified = true
	s.logger.Info("store restored", "domain", domain, "snapshot", filepath.Base(chosen.Path))
	return chosen, nil
}
