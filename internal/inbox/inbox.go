// Package inbox ingests layer files dropped into a local folder.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/oohmap/internal/wizard"
)

// Sub-folders that receive handled files.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// DefaultSettle is how long a file must stay unchanged before it is read.
const DefaultSettle = 500 * time.Millisecond

var supported = map[string]bool{".kml": true, ".csv": true, ".xlsx": true}

// Ingester stores a dropped file as a layer.
type Ingester interface {
	Ingest(ctx context.Context, projectID, fileName string, data []byte, c wizard.Confirmer) (*wizard.Outcome, error)
}

// ResultCallback is called after each file is handled; err is nil on success.
type ResultCallback func(name string, out *wizard.Outcome, err error)

// Watcher moves files from an inbox folder into a project.
type Watcher struct {
	dir       string
	projectID string
	ingester  Ingester
	settle    time.Duration
	logger    *slog.Logger
	cb        ResultCallback
}

// Option configures a Watcher.
type Option func(*Watcher)

func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithCallback reports every handled file to cb.
func WithCallback(cb ResultCallback) Option {
	return func(w *Watcher) { w.cb = cb }
}

// New creates a Watcher for dir. Files are ingested into projectID with the
// detected column mapping.
func New(dir, projectID string, ing Ingester, opts ...Option) *Watcher {
	w := &Watcher{
		dir:       dir,
		projectID: projectID,
		ingester:  ing,
		settle:    DefaultSettle,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes files already in the inbox, then watches it until ctx is
// cancelled. Sub-folders are not watched.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("inbox: create %s dir: %w", sub, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close() //nolint:errcheck

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}
	w.logger.Info("inbox: started", slog.String("dir", w.dir), slog.String("project_id", w.projectID))

	// Files seen at startup are treated as settled.
	pending := make(map[string]time.Time)
	if entries, err := os.ReadDir(w.dir); err == nil {
		for _, e := range entries {
			if !e.IsDir() && accepts(e.Name()) {
				pending[filepath.Join(w.dir, e.Name())] = time.Time{}
			}
		}
	}

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox: stopped")
			return nil

		case <-ticker.C:
			now := time.Now()
			for path, last := range pending {
				if now.Sub(last) < w.settle {
					continue
				}
				delete(pending, path)
				w.handle(ctx, path)
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !accepts(filepath.Base(ev.Name)) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[ev.Name] = time.Now()
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, ev.Name)
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func accepts(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
		return false
	}
	return supported[strings.ToLower(filepath.Ext(name))]
}

func (w *Watcher) handle(ctx context.Context, path string) {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("inbox: read failed", slog.String("file", name), slog.String("error", err.Error()))
		}
		return
	}

	out, err := w.ingester.Ingest(ctx, w.projectID, name, data, wizard.AutoConfirm{})
	if err != nil && ctx.Err() != nil {
		// Interrupted, not failed: the file is picked up again on the next start.
		w.logger.Info("inbox: ingest interrupted", slog.String("file", name), slog.String("error", err.Error()))
		return
	}
	dest := ProcessedDir
	if err != nil {
		dest = FailedDir
		w.logger.Warn("inbox: ingest failed", slog.String("file", name), slog.String("error", err.Error()))
	} else {
		w.logger.Info("inbox: ingested",
			slog.String("file", name),
			slog.String("layer_id", out.LayerID),
			slog.Int("rows", out.Rows))
	}

	target := w.target(dest, name)
	if mvErr := os.Rename(path, target); mvErr != nil {
		w.logger.Error("inbox: move failed", slog.String("file", name), slog.String("error", mvErr.Error()))
	} else if err != nil {
		_ = os.WriteFile(target+".error.txt", []byte(err.Error()+"\n"), 0o644)
	}

	if w.cb != nil {
		w.cb(name, out, err)
	}
}

// target returns a free path for name under dest, suffixing a timestamp
// when the name is taken.
func (w *Watcher) target(dest, name string) string {
	p := filepath.Join(w.dir, dest, name)
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p
	}
	ext := filepath.Ext(name)
	stamp := time.Now().Format("20060102-150405.000")
	return filepath.Join(w.dir, dest, strings.TrimSuffix(name, ext)+"-"+stamp+ext)
}
