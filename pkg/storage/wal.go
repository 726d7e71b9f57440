package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// WAL records side effects that leave the ledger (outbound transfers) so they
// can be reconciled if the ledger commit that follows them fails.
type WAL interface {
	Append(rec any) error
}

type NopWAL struct{}

func NewNopWAL() *NopWAL             { return &NopWAL{} }
func (w *NopWAL) Append(_ any) error { return nil }

// FileWAL appends one JSON document per line and syncs after each write.
type FileWAL struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileWAL(path string) (*FileWAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWAL{f: f}, nil
}

func (w *FileWAL) Append(rec any) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode wal record: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append wal: %w", err)
	}
	return w.f.Sync()
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

var _ WAL = (*NopWAL)(nil)
var _ WAL = (*FileWAL)(nil)
