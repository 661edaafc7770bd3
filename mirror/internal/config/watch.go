package config

import (
	"context"
	"fmt"

	"github.com/obsidianstack/snapsync/pkg/filewatch"
)

// Watch calls onChange with every revision of path that loads and validates.
// It blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if err := filewatch.Watch(ctx, path, Load, onChange, filewatch.WithLogAttrs("config", "mirror")); err != nil {
		return fmt.Errorf("mirror config: %w", err)
	}
	return nil
}
