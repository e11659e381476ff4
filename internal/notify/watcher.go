package notify

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// EventWatcher watches the events directory and calls back for events on
// one queue. Each event file is consumed by the first watcher to read it.
type EventWatcher struct {
	dir      string
	queue    string
	callback func(Event)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewEventWatcher creates a watcher for {dataPath}/events/ that reports
// events for queue.
func NewEventWatcher(dataPath, queue string, callback func(Event)) *EventWatcher {
	return &EventWatcher{
		dir:      Dir(dataPath),
		queue:    queue,
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start drains event files already present, then watches for new ones.
// Call Stop to clean up.
func (ew *EventWatcher) Start() error {
	if err := os.MkdirAll(ew.dir, 0o700); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(ew.dir); err != nil {
		_ = w.Close()
		return err
	}
	ew.watcher = w

	ew.drainExisting()

	go ew.loop()
	log.Printf("notify: watching %s for queue %q events", ew.dir, ew.queue)
	return nil
}

// Stop shuts down the watcher. It is a no-op if Start failed.
func (ew *EventWatcher) Stop() {
	if ew.watcher == nil {
		return
	}
	_ = ew.watcher.Close()
	<-ew.done
}

func (ew *EventWatcher) loop() {
	defer close(ew.done)
	for {
		select {
		case evt, ok := <-ew.watcher.Events:
			if !ok {
				return
			}
			// Writers publish by rename, which some platforms report as Create
			// and others as Rename on the new name.
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && strings.HasSuffix(evt.Name, eventSuffix) {
				ew.processFile(evt.Name)
			}
		case err, ok := <-ew.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("WARNING: notify: watcher error: %v", err)
		}
	}
}

func (ew *EventWatcher) drainExisting() {
	entries, err := os.ReadDir(ew.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), eventSuffix) {
			ew.processFile(filepath.Join(ew.dir, entry.Name()))
		}
	}
}

func (ew *EventWatcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // consumed by another watcher
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		_ = os.Remove(path)
		log.Printf("WARNING: notify: invalid event file %s: %v", filepath.Base(path), err)
		return
	}
	if event.Queue != ew.queue {
		return
	}
	_ = os.Remove(path)

	if ew.callback != nil {
		ew.callback(event)
	}
}
