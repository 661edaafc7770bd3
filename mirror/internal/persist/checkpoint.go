package persist

import (
	"context"
	"fmt"

	"github.com/obsidianstack/snapsync/mirror/internal/config"
	"github.com/obsidianstack/snapsync/pkg/types"
)

// Checkpointer stores and restores an ordered collection.
type Checkpointer interface {
	// Save replaces the stored collection with entries.
	Save(ctx context.Context, entries []types.Entry) error
	// Load returns the stored collection, or nil when nothing was saved yet.
	Load(ctx context.Context) ([]types.Entry, error)
	Close() error
}

// Open builds the Checkpointer selected by cfg. It returns nil, nil for the
// "none" backend.
func Open(cfg config.CheckpointConfig) (Checkpointer, error) {
	switch cfg.Backend {
	case "sqlite":
		s, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "file":
		return NewFile(cfg.Path), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("persist: unknown backend %q", cfg.Backend)
	}
}
