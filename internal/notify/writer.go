// Package notify wakes a recall-worker when another process enqueues a job,
// using event files in a shared directory watched with fsnotify. Workers
// still poll, so a lost event only delays a job by one poll interval.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EventJobEnqueued is written after a job is persisted.
const EventJobEnqueued = "job_enqueued"

const eventSuffix = ".event"

// Event is the payload written to an event file.
type Event struct {
	Type  string `json:"type"`
	Queue string `json:"queue"`
	JobID string `json:"job_id"`
	Time  int64  `json:"time"`
}

// Dir returns the events directory under a data path.
func Dir(dataPath string) string {
	return filepath.Join(dataPath, "events")
}

// EventWriter writes notification event files to a shared directory.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: Dir(dataPath)}
}

// JobEnqueued announces a persisted job on queue.
func (w *EventWriter) JobEnqueued(queue, jobID string) error {
	return w.write(Event{Type: EventJobEnqueued, Queue: queue, JobID: jobID})
}

// write creates the event file atomically so a watcher never reads a
// partial payload. Safe to call concurrently.
func (w *EventWriter) write(evt Event) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	evt.Time = time.Now().UnixNano()
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	name := fmt.Sprintf("%d-%s", evt.Time, sanitizeID(evt.JobID))
	tmp := filepath.Join(w.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("notify: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name+eventSuffix)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("notify: publish event: %w", err)
	}
	return nil
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == ':' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, id)
}
