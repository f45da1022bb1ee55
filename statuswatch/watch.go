// Package statuswatch implements the optional Status Watch of
// SPEC_FULL.md §4.10: a filesystem watcher over the status directory
// that lets a host subscribe to task status changes instead of polling
// statusstore.Store directly.
//
// Grounded on the teacher's internal/watcher/watcher.go, which wraps
// fsnotify with an EventType enum and a callback dispatch goroutine;
// this package keeps that shape but narrows the event type to the one
// thing callers of this engine actually want to know: which task's
// status file changed, and what its record now says.
package statuswatch

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/hiblaphp/parallel-sub000/logging"
	"github.com/hiblaphp/parallel-sub000/statusstore"
)

// EventType classifies a status file change.
type EventType string

const (
	EventUpdated EventType = "UPDATED"
	EventRemoved EventType = "REMOVED"
)

// Event is delivered to a Watch callback whenever a task's status file
// changes. Record is nil for EventRemoved.
type Event struct {
	Type   EventType
	TaskID string
	Record *statusstore.Record
}

// Watcher watches one statusstore.Store's directory and dispatches
// Events to a callback as status files are written or removed.
type Watcher struct {
	fsw    *fsnotify.Watcher
	store  *statusstore.Store
	logger *logging.Logger
}

// New wraps store.Directory with an fsnotify watch.
func New(store *statusstore.Store, logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Watcher{fsw: fsw, store: store, logger: logger}, nil
}

// Watch begins watching the store's directory, invoking callback for
// every relevant create/write/remove of a *.json status file. It returns
// once the watch is registered; dispatch runs in a background goroutine
// until Close is called.
func (w *Watcher) Watch(callback func(Event)) error {
	if err := w.fsw.Add(w.store.Directory); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".json") || strings.HasSuffix(event.Name, ".tmp") {
					continue
				}
				taskID := strings.TrimSuffix(filepath.Base(event.Name), ".json")

				switch {
				case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
					callback(Event{Type: EventRemoved, TaskID: taskID})
				case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
					rec, err := w.store.Get(taskID)
					if err != nil || rec == nil {
						continue
					}
					callback(Event{Type: EventUpdated, TaskID: taskID, Record: rec})
				}
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("status watcher error: " + err.Error())
			}
		}
	}()

	return nil
}

// Close stops the underlying fsnotify watch.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
