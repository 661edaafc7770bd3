package filewatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long the file must stay quiet before it is reloaded.
const DefaultSettle = 50 * time.Millisecond

// Option configures Watch.
type Option func(*options)

type options struct {
	settle time.Duration
	attrs  []any
}

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) Option {
	return func(o *options) { o.settle = d }
}

// WithLogAttrs adds attrs to every log line Watch writes.
func WithLogAttrs(attrs ...any) Option {
	return func(o *options) { o.attrs = append(o.attrs, attrs...) }
}

// Watch calls load for path after every change and hands each successful
// result to apply. A revision that fails to load is logged and skipped, and
// apply keeps whatever it was given last. Watch blocks until ctx is cancelled.
func Watch[T any](ctx context.Context, path string, load func(string) (T, error), apply func(T), opts ...Option) error {
	o := options{settle: DefaultSettle}
	for _, opt := range opts {
		opt(&o)
	}
	log := slog.With(append([]any{"path", path}, o.attrs...)...)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filewatch: %w", err)
	}
	defer w.Close()

	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("filewatch: watch %q: %w", path, err)
	}
	log.Info("filewatch: watching for changes")

	var settled <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			settled = time.After(o.settle)

		case <-settled:
			settled = nil
			v, err := load(path)
			if err != nil {
				log.Error("filewatch: reload failed, keeping previous revision", "err", err)
				continue
			}
			log.Info("filewatch: reloaded")
			apply(v)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error("filewatch: watcher error", "err", err)
		}
	}
}
