// Package importer loads reference data (teams, players, aliases, season
// stats) into a domain's entity store. Loads are out-of-band: each file
// replaces its domain's rows in one transaction.
package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/scrypster/statline/internal/notify"
	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/storage"
)

// LoaderSource returns the loader for a domain's store.
type LoaderSource interface {
	Store(domain string) (storage.EntityStore, error)
}

// Notifier is told after a domain's data has been replaced.
type Notifier interface {
	Notify(eventType, domain string) error
}

// ImportResult summarizes an import.
type ImportResult struct {
	FilesFound     int                  `json:"files_found"`
	FilesProcessed int                  `json:"files_processed"`
	FilesFailed    int                  `json:"files_failed"`
	Loaded         []*storage.LoadStats `json:"loaded"`
	Errors         []string             `json:"errors,omitempty"`
	Duration       time.Duration        `json:"duration_ms"`
}

// BeforeLoadFunc runs before a domain's rows are replaced. An error aborts
// that file's load.
type BeforeLoadFunc func(ctx context.Context, domain string) error

// Importer reads seed files and replaces the matching domain's data.
type Importer struct {
	stores     LoaderSource
	notifier   Notifier
	beforeLoad BeforeLoadFunc
	logger     *slog.Logger
}

// New creates an Importer. notifier may be nil.
func New(stores LoaderSource, notifier Notifier, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Importer{stores: stores, notifier: notifier, logger: logger.With("component", "importer")}
}

// SetBeforeLoad installs a hook run ahead of every replacement, such as a
// store snapshot.
func (imp *Importer) SetBeforeLoad(fn BeforeLoadFunc) {
	imp.beforeLoad = fn
}

// ReadSeed reads and parses the seed file at path.
func ReadSeed(path string) (*SeedFile, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseSeed(data, format)
}

// ImportFile loads one seed file. domain, when set, overrides the domain
// named in the file.
func (imp *Importer) ImportFile(ctx context.Context, path, domain string) (*storage.LoadStats, error) {
	sf, err := ReadSeed(path)
	if err != nil {
		return nil, err
	}
	ds, err := sf.Dataset(domain)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	store, err := imp.stores.Store(ds.Domain)
	if err != nil {
		return nil, err
	}
	if imp.beforeLoad != nil {
		if err := imp.beforeLoad(ctx, ds.Domain); err != nil {
			return nil, fmt.Errorf("before load %s: %w", ds.Domain, err)
		}
	}
	stats, err := store.ReplaceDataset(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ds.Domain, err)
	}

	imp.logger.Info("dataset loaded",
		"domain", stats.Domain,
		"file", filepath.Base(path),
		"entities", stats.Entities,
		"aliases", stats.Aliases,
		"stats", stats.Stats)

	if imp.notifier != nil {
		if err := imp.notifier.Notify(notify.EventDatasetLoaded, ds.Domain); err != nil {
			imp.logger.Warn("failed to notify dataset load", "domain", ds.Domain, "error", err)
		}
	}
	return stats, nil
}

// ImportDir loads every seed file under dir in name order. A failing file
// is recorded and the rest are still loaded.
func (imp *Importer) ImportDir(ctx context.Context, dir string) (*ImportResult, error) {
	start := time.Now()
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", dir)
	}

	files, err := collectSeedFiles(dir)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{FilesFound: len(files)}
	for _, path := range files {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, "context cancelled")
			break
		}
		rel, _ := filepath.Rel(dir, path)
		stats, err := imp.ImportFile(ctx, path, "")
		if err != nil {
			imp.logger.Warn("skipping seed file", "file", rel, "error", err)
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rel, err))
			continue
		}
		result.FilesProcessed++
		result.Loaded = append(result.Loaded, stats)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func collectSeedFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && d.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ferr := FormatFor(path); ferr == nil {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}
