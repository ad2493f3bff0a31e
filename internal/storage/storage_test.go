package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)

func TestTxnBuffersChanges(t *testing.T) {
	txn := NewTxn(map[Slot]string{SlotNetwork: "testnet", SlotPasswordHash: "h"})
	txn.Set(SlotPrivateKey, "k")
	txn.Delete(SlotPasswordHash)
	txn.Delete(SlotPrivateKey)
	txn.Set(SlotPrivateKey, "k2")

	v, ok := txn.Get(SlotPrivateKey)
	assert.True(t, ok)
	assert.Equal(t, "k2", v)
	_, ok = txn.Get(SlotPasswordHash)
	assert.False(t, ok)

	assert.Equal(t, []Change{
		{Slot: SlotPasswordHash, Deleted: true},
		{Slot: SlotPrivateKey, Value: "k2"},
	}, txn.Changes())
	assert.Equal(t, map[Slot]string{SlotNetwork: "testnet", SlotPrivateKey: "k2"}, txn.Result())
}

func TestMemoryStoreDiscardsFailedUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Update(ctx, func(w Writer) error {
		w.Set(SlotNetwork, "mainnet")
		return nil
	}))

	boom := errors.New("boom")
	err := store.Update(ctx, func(w Writer) error {
		w.Set(SlotNetwork, "testnet")
		return boom
	})
	require.ErrorIs(t, err, boom)

	v, ok, err := Get(ctx, store, SlotNetwork)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "mainnet", v)

	require.NoError(t, store.Close())
	require.Error(t, store.View(ctx, func(Reader) error { return nil }))
}

func TestFileStorePlainRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wallet.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := Get(ctx, store, SlotPrivateKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Update(ctx, func(w Writer) error {
		w.Set(SlotNetwork, "mainnet")
		return nil
	}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	v, ok, err := Get(ctx, reopened, SlotNetwork)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "mainnet", v)
}

func TestFileStoreConcurrentUpdatesKeepAllSlots(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "wallet.json"))
	require.NoError(t, err)
	defer store.Close()

	const writers = 8
	for round := 0; round < 10; round++ {
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- store.Update(ctx, func(w Writer) error {
					w.Set(Slot(fmt.Sprintf("slot-%d", i)), fmt.Sprintf("round-%d", round))
					return nil
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		for i := 0; i < writers; i++ {
			v, ok, err := Get(ctx, store, Slot(fmt.Sprintf("slot-%d", i)))
			require.NoError(t, err)
			require.True(t, ok, "round %d lost slot-%d", round, i)
			require.Equal(t, fmt.Sprintf("round-%d", round), v)
		}
	}
}

func TestFileStoreAcquireHonoursContext(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "wallet.json"))
	require.NoError(t, err)
	defer store.Close()

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = store.Update(context.Background(), func(Writer) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = store.View(ctx, func(Reader) error { return nil })
	close(done)
	require.Error(t, err)
}

func TestFileStoreSealed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wallet.sealed")
	store, err := NewFileStore(path, WithSecret("correct horse"))
	require.NoError(t, err)
	store.kdf = kdfParams{Time: 1, MemoryKB: 1024, Threads: 1}
	defer store.Close()

	require.NoError(t, store.Update(ctx, func(w Writer) error {
		w.Set(SlotPrivateKey, "0xsecretvalue")
		return nil
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), sealPrefix))
	assert.NotContains(t, string(raw), "0xsecretvalue")

	v, _, err := Get(ctx, store, SlotPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "0xsecretvalue", v)

	wrong, err := NewFileStore(path, WithSecret("wrong"))
	require.NoError(t, err)
	defer wrong.Close()
	_, _, err = Get(ctx, wrong, SlotPrivateKey)
	require.Error(t, err)

	missing, err := NewFileStore(path)
	require.NoError(t, err)
	defer missing.Close()
	_, _, err = Get(ctx, missing, SlotPrivateKey)
	require.Error(t, err)
}
