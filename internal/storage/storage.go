// Package storage defines the persistent key-value slots behind the wallet
// and the drivers that hold them. Every access is a scoped View or Update;
// drivers release locks, connections and transactions on every exit path.
package storage

import (
	"context"
	"sort"
)

// Slot names one persisted value.
type Slot string

const (
	SlotPrivateKey   Slot = "privateKey"
	SlotPasswordHash Slot = "passwordHash"
	SlotNetwork      Slot = "network"
)

// Reader exposes slot values inside a scoped acquisition.
type Reader interface {
	Get(slot Slot) (string, bool)
}

// Writer mutates slots inside a scoped acquisition. Changes become visible
// only when the surrounding Update returns nil.
type Writer interface {
	Reader
	Set(slot Slot, value string)
	Delete(slot Slot)
}

// Store is a persistent slot store.
type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(Writer) error) error
	Close() error
}

// Get reads one slot through a View.
func Get(ctx context.Context, store Store, slot Slot) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := store.View(ctx, func(r Reader) error {
		value, ok = r.Get(slot)
		return nil
	})
	return value, ok, err
}

// Txn buffers changes against a snapshot. Drivers build one per Update and
// flush its changes when the callback succeeds.
type Txn struct {
	base    map[Slot]string
	sets    map[Slot]string
	deletes map[Slot]struct{}
}

// NewTxn wraps a snapshot. The snapshot is not modified.
func NewTxn(base map[Slot]string) *Txn {
	if base == nil {
		base = map[Slot]string{}
	}
	return &Txn{base: base, sets: map[Slot]string{}, deletes: map[Slot]struct{}{}}
}

// Get implements Reader.
func (t *Txn) Get(slot Slot) (string, bool) {
	if _, gone := t.deletes[slot]; gone {
		return "", false
	}
	if v, ok := t.sets[slot]; ok {
		return v, true
	}
	v, ok := t.base[slot]
	return v, ok
}

// Set implements Writer.
func (t *Txn) Set(slot Slot, value string) {
	delete(t.deletes, slot)
	t.sets[slot] = value
}

// Delete implements Writer.
func (t *Txn) Delete(slot Slot) {
	delete(t.sets, slot)
	if _, ok := t.base[slot]; ok {
		t.deletes[slot] = struct{}{}
	}
}

// Dirty reports whether the transaction changed anything.
func (t *Txn) Dirty() bool {
	return len(t.sets) > 0 || len(t.deletes) > 0
}

// Change is one buffered mutation. Deleted is false for writes.
type Change struct {
	Slot    Slot
	Value   string
	Deleted bool
}

// Changes returns buffered mutations ordered by slot name.
func (t *Txn) Changes() []Change {
	out := make([]Change, 0, len(t.sets)+len(t.deletes))
	for slot, v := range t.sets {
		out = append(out, Change{Slot: slot, Value: v})
	}
	for slot := range t.deletes {
		out = append(out, Change{Slot: slot, Deleted: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Result returns the snapshot with buffered changes applied.
func (t *Txn) Result() map[Slot]string {
	out := make(map[Slot]string, len(t.base)+len(t.sets))
	for k, v := range t.base {
		out[k] = v
	}
	for k := range t.deletes {
		delete(out, k)
	}
	for k, v := range t.sets {
		out[k] = v
	}
	return out
}
