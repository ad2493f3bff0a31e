package storage

import (
	"context"
	"sync"

	xerrors "github.com/snehendu098/rayfine/internal/errors"
)

// MemoryStore keeps slots in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	slots  map[Slot]string
	closed bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[Slot]string)}
}

// View implements Store.
func (m *MemoryStore) View(_ context.Context, fn func(Reader) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	return fn(NewTxn(m.slots))
}

// Update implements Store.
func (m *MemoryStore) Update(_ context.Context, fn func(Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	txn := NewTxn(m.slots)
	if err := fn(txn); err != nil {
		return err
	}
	m.slots = txn.Result()
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var errClosed = xerrors.New(xerrors.CodeStorageFailure, "存储已关闭")
