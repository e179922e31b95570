// Package backup keeps point-in-time snapshots of SQLite entity stores.
// A snapshot is taken before a dataset load replaces a domain's rows, so a
// bad seed file can be rolled back.
package backup

import (
	"time"
)

// RetentionPolicy defines how many snapshots to keep at each age tier:
//   - Recent: less than 24 hours old
//   - Daily: between 1 and 7 days old
//   - Weekly: between 7 and 30 days old
//   - Monthly: between 30 and 365 days old
//
// Snapshots older than a year are always removed.
type RetentionPolicy struct {
	Recent  int
	Daily   int
	Weekly  int
	Monthly int
}

// DefaultRetention is applied when a policy field is zero.
var DefaultRetention = RetentionPolicy{Recent: 10, Daily: 7, Weekly: 4, Monthly: 12}

func (p RetentionPolicy) withDefaults() RetentionPolicy {
	if p.Recent <= 0 {
		p.Recent = DefaultRetention.Recent
	}
	if p.Daily <= 0 {
		p.Daily = DefaultRetention.Daily
	}
	if p.Weekly <= 0 {
		p.Weekly = DefaultRetention.Weekly
	}
	if p.Monthly <= 0 {
		p.Monthly = DefaultRetention.Monthly
	}
	return p
}

// SnapshotInfo describes one snapshot file.
type SnapshotInfo struct {
	Domain    string        `json:"domain"`
	Path      string        `json:"path"`
	Timestamp time.Time     `json:"timestamp"`
	Size      int64         `json:"size"`
	Verified  bool          `json:"verified"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
}
