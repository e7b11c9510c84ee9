package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/linkerlin/laterclaw/internal/types"
)

const fileVersion = 1

type document struct {
	Version int                    `json:"version"`
	Events  []types.ScheduledEvent `json:"events"`
}

// FileBackend stores the collection as one JSON document.
type FileBackend struct {
	path string
}

// OpenFile returns a FileBackend at path, creating its directory.
// A missing file reads as an empty ledger.
func OpenFile(path string) (*FileBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("ledger: path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &FileBackend{path: path}, nil
}

func (b *FileBackend) Load(_ context.Context) ([]types.ScheduledEvent, error) {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}
	return doc.Events, nil
}

// Save writes the document to a temp file and renames it over the old one.
func (b *FileBackend) Save(_ context.Context, events []types.ScheduledEvent) error {
	if events == nil {
		events = []types.ScheduledEvent{}
	}
	tmp := b.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(document{Version: fileVersion, Events: events}); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}
