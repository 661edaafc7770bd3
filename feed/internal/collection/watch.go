package collection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/obsidianstack/snapsync/pkg/filewatch"
)

// Watch reloads the seed file at path whenever it changes and replaces the
// contents of c, which emits the diff to subscribers. Watch blocks until ctx
// is cancelled.
func Watch(ctx context.Context, path string, c *Collection) error {
	err := filewatch.Watch(ctx, path, Load, func(items []Item) {
		n := c.Replace(items)
		slog.Info("collection: replaced", "collection", c.Name(), "items", len(items), "events", n)
	}, filewatch.WithLogAttrs("collection", c.Name()))
	if err != nil {
		return fmt.Errorf("collection: %w", err)
	}
	return nil
}
