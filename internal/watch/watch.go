// Package watch ingests audio files dropped into an inbox directory.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"audiotricks/internal/audio"
	"audiotricks/internal/ingestion"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must stay unchanged before it is ingested
const DefaultSettle = 2 * time.Second

// Ingester queues a file on disk for transcription
type Ingester interface {
	IngestFile(ctx context.Context, path string) (*ingestion.IngestResult, error)
}

// Watcher turns files created in an inbox directory into transcription jobs
type Watcher struct {
	dir      string
	ingester Ingester
	settle   time.Duration
	ready    chan string
	timers   map[string]*time.Timer
}

// New creates a watcher for dir
func New(dir string, ingester Ingester) *Watcher {
	return &Watcher{
		dir:      dir,
		ingester: ingester,
		settle:   DefaultSettle,
		ready:    make(chan string, 16),
		timers:   make(map[string]*time.Timer),
	}
}

// SetSettle changes the quiet period before a file is picked up
func (w *Watcher) SetSettle(d time.Duration) {
	w.settle = d
}

// Run watches the inbox until ctx is done. Files already in the inbox are
// picked up first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	log.Printf("Watching inbox %s", w.dir)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			for _, t := range w.timers {
				t.Stop()
			}
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.schedule(ctx, event.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("Inbox watcher error: %v", err)

		case path := <-w.ready:
			delete(w.timers, path)
			w.process(ctx, path)
		}
	}
}

// schedule (re)arms the settle timer for path
func (w *Watcher) schedule(ctx context.Context, path string) {
	if !accept(path) {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		select {
		case w.ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		// already ingested or removed
		return
	}

	result, err := w.ingester.IngestFile(ctx, path)
	if err != nil {
		log.Printf("Error ingesting %s: %v", path, err)
		return
	}

	if err := os.Remove(path); err != nil {
		log.Printf("Error removing %s from inbox: %v", path, err)
	}
	log.Printf("Inbox file %s queued as job %s", filepath.Base(path), result.JobID)
}

// accept skips hidden and partial files and anything that is not audio
func accept(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	for _, suffix := range []string{".tmp", ".part", ".crdownload"} {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}
	return audio.IsSupportedFormat(name)
}
