package sandbox

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Broadcaster is the subset of the notification channel the watcher needs.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// FileEvent is the payload broadcast for raw file-change events.
type FileEvent struct {
	ProjectID string `json:"project_id"`
	Path      string `json:"path"`
	Op        string `json:"op"` // "create", "write", "remove", "rename"
}

// Watcher observes a project directory and broadcasts file-change events
// so connected editors can refresh their views.
type Watcher struct {
	projectID string
	dir       string
	inner     *fsnotify.Watcher
	bcast     Broadcaster
	log       zerolog.Logger
	done      chan struct{}
}

// Watch starts watching a project's directory. Changes under the internal
// directory are not reported.
func (s *Sandbox) Watch(projectID string, bcast Broadcaster, log zerolog.Logger) (*Watcher, error) {
	dir, err := s.ProjectDir(projectID)
	if err != nil {
		return nil, err
	}

	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := inner.Add(dir); err != nil {
		inner.Close()
		return nil, err
	}

	w := &Watcher{
		projectID: projectID,
		dir:       dir,
		inner:     inner,
		bcast:     bcast,
		log:       log,
		done:      make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.inner.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(w.dir, event.Name)
			if err != nil || strings.HasPrefix(rel, ".") {
				continue
			}

			op := ""
			switch {
			case event.Op&fsnotify.Create != 0:
				op = "create"
				// New subdirectories need their own watch to report nested
				// changes.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.inner.Add(event.Name)
				}
			case event.Op&fsnotify.Write != 0:
				op = "write"
			case event.Op&fsnotify.Remove != 0:
				op = "remove"
			case event.Op&fsnotify.Rename != 0:
				op = "rename"
			default:
				continue
			}

			w.bcast.Broadcast("file_change", FileEvent{
				ProjectID: w.projectID,
				Path:      rel,
				Op:        op,
			})
		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Str("project", w.projectID).Msg("watch error")
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.done)
	w.inner.Close()
}
