package config

import (
	"context"
	"fmt"

	"github.com/obsidianstack/snapsync/pkg/filewatch"
)

// Watch hot-reloads the feed config. Only a revision that passes Load reaches
// onChange.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if err := filewatch.Watch(ctx, path, Load, onChange, filewatch.WithLogAttrs("config", "feed")); err != nil {
		return fmt.Errorf("feed config: %w", err)
	}
	return nil
}
