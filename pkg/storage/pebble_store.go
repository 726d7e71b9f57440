package storage

import (
	"errors"
	"fmt"
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

var ErrTxnClosed = errors.New("transaction already closed")

// Reader is satisfied by *Store and *Txn. A Txn reads its own writes.
type Reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// Writer stages mutations. Only *Txn implements it; nothing writes to the
// store outside a transaction.
type Writer interface {
	Reader
	Set(key, value []byte, o *pebble.WriteOptions) error
	Delete(key []byte, o *pebble.WriteOptions) error
}

type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a pebble database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory backs the store with an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(key []byte) ([]byte, io.Closer, error) { return s.db.Get(key) }

func (s *Store) NewIter(o *pebble.IterOptions) (*pebble.Iterator, error) {
	return s.db.NewIter(o)
}

// Begin starts a transaction over an indexed batch.
func (s *Store) Begin() *Txn {
	return &Txn{batch: s.db.NewIndexedBatch()}
}

// Txn buffers writes until Commit. Discard after Commit is a no-op, so
// callers can always defer it.
type Txn struct {
	batch  *pebble.Batch
	closed bool
}

func (t *Txn) Get(key []byte) ([]byte, io.Closer, error) { return t.batch.Get(key) }

func (t *Txn) NewIter(o *pebble.IterOptions) (*pebble.Iterator, error) {
	return t.batch.NewIter(o)
}

func (t *Txn) Set(key, value []byte, o *pebble.WriteOptions) error {
	if t.closed {
		return ErrTxnClosed
	}
	return t.batch.Set(key, value, o)
}

func (t *Txn) Delete(key []byte, o *pebble.WriteOptions) error {
	if t.closed {
		return ErrTxnClosed
	}
	return t.batch.Delete(key, o)
}

// Empty reports whether the transaction has staged no writes.
func (t *Txn) Empty() bool { return t.batch.Empty() }

// Commit applies every staged write atomically and syncs the WAL.
func (t *Txn) Commit() error {
	if t.closed {
		return ErrTxnClosed
	}
	t.closed = true
	defer t.batch.Close()
	if err := t.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (t *Txn) Discard() {
	if t.closed {
		return
	}
	t.closed = true
	_ = t.batch.Close()
}
