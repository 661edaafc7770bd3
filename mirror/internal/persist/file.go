package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"github.com/obsidianstack/snapsync/pkg/types"
)

// File is a Checkpointer writing one JSON document.
type File struct {
	path string
}

type fileDoc struct {
	SavedAt time.Time     `json:"saved_at"`
	Entries []types.Entry `json:"entries"`
}

// NewFile returns a File checkpointer at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Save atomically replaces the document.
func (f *File) Save(_ context.Context, entries []types.Entry) error {
	if entries == nil {
		entries = []types.Entry{}
	}
	buf, err := json.Marshal(fileDoc{SavedAt: time.Now().UTC(), Entries: entries})
	if err != nil {
		return fmt.Errorf("persist: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("persist: create dirs: %w", err)
	}
	if err := atomic.WriteFile(f.path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("persist: write %q: %w", f.path, err)
	}
	return nil
}

// Load reads the document. A missing file is not an error.
func (f *File) Load(_ context.Context) ([]types.Entry, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read %q: %w", f.path, err)
	}
	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("persist: decode %q: %w", f.path, err)
	}
	return doc.Entries, nil
}

// Close is a no-op.
func (f *File) Close() error { return nil }
