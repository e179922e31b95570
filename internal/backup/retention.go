package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// listSnapshots returns the snapshot files in dir, newest first. A missing
// directory has no snapshots.
func listSnapshots(dir, domain string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var out []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, SnapshotInfo{
			Domain:    domain,
			Path:      filepath.Join(dir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// applyRetention removes snapshots beyond what policy keeps in each age
// tier and returns the removed paths.
func applyRetention(dir string, policy RetentionPolicy, now time.Time) ([]string, error) {
	snapshots, err := listSnapshots(dir, "")
	if err != nil {
		return nil, err
	}
	policy = policy.withDefaults()

	var recent, daily, weekly, monthly, toDelete []string
	for _, s := range snapshots {
		age := now.Sub(s.Timestamp)
		switch {
		case age < 24*time.Hour:
			recent = append(recent, s.Path)
		case age < 7*24*time.Hour:
			daily = append(daily, s.Path)
		case age < 30*24*time.Hour:
			weekly = append(weekly, s.Path)
		case age < 365*24*time.Hour:
			monthly = append(monthly, s.Path)
		default:
			toDelete = append(toDelete, s.Path)
		}
	}

	toDelete = append(toDelete, overflow(recent, policy.Recent)...)
	toDelete = append(toDelete, overflow(daily, policy.Daily)...)
	toDelete = append(toDelete, overflow(weekly, policy.Weekly)...)
	toDelete = append(toDelete, overflow(monthly, policy.Monthly)...)

	var removed []string
	var lastErr error
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			lastErr = err
			continue
		}
		removed = append(removed, path)
	}
	if lastErr != nil {
		return removed, fmt.Errorf("failed to delete some snapshots: %w", lastErr)
	}
	return removed, nil
}

// overflow returns the entries past keep; tiers are sorted newest first.
func overflow(tier []string, keep int) []string {
	if len(tier) <= keep {
		return nil
	}
	return tier[keep:]
}
