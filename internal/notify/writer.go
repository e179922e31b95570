// Package notify carries change notifications between statline processes
// and from the filesystem.
//
// statline-admin writes an event file after it loads a dataset or refreshes
// a domain's tools; statline-web watches the events directory, consuming
// each file, and drops whatever it derived from the old data. FileWatcher follows the
// domains file so edits take effect without a restart.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event types.
const (
	EventDatasetLoaded    = "dataset_loaded"
	EventSchemasRefreshed = "schemas_refreshed"
)

const (
	eventFileSuffix      = ".event"
	eventsDirName        = "events"
	eventDirPermissions  = 0o700
	eventFilePermissions = 0o600
)

// Event is the payload written to an event file.
type Event struct {
	Type   string `json:"type"`
	Domain string `json:"domain"`
	Time   int64  `json:"time"`
}

// EventWriter writes notification event files to a shared directory.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: filepath.Join(dataPath, eventsDirName)}
}

// Notify writes an event file for domain.
// Safe to call concurrently. Errors are returned but not fatal.
func (w *EventWriter) Notify(eventType, domain string) error {
	if err := os.MkdirAll(w.dir, eventDirPermissions); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	evt := Event{
		Type:   eventType,
		Domain: domain,
		Time:   time.Now().UnixNano(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	filename := fmt.Sprintf("%d-%s%s", evt.Time, sanitizeName(domain), eventFileSuffix)

	// Write then rename so watchers never read a partial file.
	tmp := filepath.Join(w.dir, "."+filename+".tmp")
	if err := os.WriteFile(tmp, data, eventFilePermissions); err != nil {
		return fmt.Errorf("notify: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, filepath.Join(w.dir, filename))
}

// sanitizeName replaces characters unsafe for filenames.
func sanitizeName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '/', '\\', ':', '.':
			out[i] = '_'
		default:
			out[i] = name[i]
		}
	}
	return string(out)
}
