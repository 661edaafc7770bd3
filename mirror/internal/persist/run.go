package persist

import (
	"context"
	"log/slog"
	"time"

	"github.com/obsidianstack/snapsync/pkg/types"
)

// Source is what Run checkpoints.
type Source interface {
	// Snapshot returns the ordered entries and a version that changes
	// whenever they do.
	Snapshot() ([]types.Entry, uint64)
	Synced() bool
}

const finalSaveTimeout = 5 * time.Second

// Run saves src to cp every interval when its version moved since the last
// save. A final save runs when ctx is cancelled. Run blocks until then.
func Run(ctx context.Context, cp Checkpointer, interval time.Duration, src Source) {
	var (
		saved   bool
		version uint64
	)
	save := func(ctx context.Context) {
		if !src.Synced() {
			return
		}
		entries, v := src.Snapshot()
		if saved && v == version {
			return
		}
		if err := cp.Save(ctx, entries); err != nil {
			slog.Error("persist: checkpoint failed", "entries", len(entries), "err", err)
			return
		}
		saved, version = true, v
		slog.Debug("persist: checkpoint saved", "entries", len(entries), "version", v)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), finalSaveTimeout)
			save(finalCtx)
			cancel()
			return
		case <-ticker.C:
			save(ctx)
		}
	}
}
