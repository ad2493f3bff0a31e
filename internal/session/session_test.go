package session

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snehendu098/rayfine/internal/adapter"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/storage"
	"github.com/snehendu098/rayfine/internal/vault"
	"github.com/snehendu098/rayfine/internal/web3"
	"github.com/snehendu098/rayfine/internal/web3/ethereum"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type countingSource struct {
	client web3.Client
	dials  map[network.ID]int
}

func (c *countingSource) Client(_ context.Context, p network.Profile) (web3.Client, error) {
	if c.dials == nil {
		c.dials = map[network.ID]int{}
	}
	c.dials[p.ID]++
	return c.client, nil
}

type countingFactory struct{ binds int }

func (f *countingFactory) Bind(context.Context, adapter.Binding) (*adapter.Set, error) {
	f.binds++
	return &adapter.Set{}, nil
}

func simulatedChain(t *testing.T, funded common.Address) web3.Client {
	t.Helper()
	sim := simulated.NewBackend(coretypes.GenesisAlloc{
		funded: {Balance: new(big.Int).Exp(big.NewInt(10), big.NewInt(19), nil)},
	})
	t.Cleanup(func() { _ = sim.Close() })
	return ethereum.NewSimulatedClient("simulated", sim)
}

func TestBindAddressIndependentOfNetwork(t *testing.T) {
	key, err := crypto.HexToECDSA(testKey[2:])
	require.NoError(t, err)
	source := &countingSource{}
	catalog := network.DefaultCatalog()

	var addresses []common.Address
	for _, p := range catalog.Profiles() {
		s, err := Bind(context.Background(), key, p, source, nil)
		require.NoError(t, err)
		assert.Equal(t, p.ID, s.Profile().ID)
		assert.NotNil(t, s.Adapters())
		addresses = append(addresses, s.Address())
	}
	require.Len(t, addresses, 2)
	assert.Equal(t, addresses[0], addresses[1])
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addresses[0])
}

func TestSignMessageRecoverable(t *testing.T) {
	key, _ := crypto.GenerateKey()
	s, err := Bind(context.Background(), key, network.Profile{ID: network.Test}, &countingSource{}, nil)
	require.NoError(t, err)

	msg := []byte("hello mantle")
	sig, err := s.SignMessage(msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	signer, err := RecoverSigner(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), signer)

	other, err := RecoverSigner([]byte("tampered"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
}

func TestSessionTransfer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, _ := crypto.GenerateKey()
	chain := simulatedChain(t, crypto.PubkeyToAddress(key.PublicKey))
	s, err := Bind(ctx, key, network.Profile{ID: network.Test}, &countingSource{client: chain}, nil)
	require.NoError(t, err)

	to := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	hash, err := s.Transfer(ctx, to, nil, big.NewInt(12345))
	require.NoError(t, err)
	receipt, err := s.Chain().WaitForReceipt(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, coretypes.ReceiptStatusSuccessful, receipt.Status)

	balance, err := s.Chain().NativeBalance(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), balance.Int64())
}

func TestManagerRebindsOnChange(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	v := vault.New(store, vault.WithHashCost(1, 1024))
	selector := network.NewSelector(store, nil)
	source := &countingSource{}
	factory := &countingFactory{}
	m := NewManager(v, selector, source, factory)

	_, err := m.Current(ctx)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeValidation, xerrors.CodeOf(err))

	invalidations := 0
	m.OnInvalidate(func() { invalidations++ })

	_, err = v.Import(ctx, testKey)
	require.NoError(t, err)
	first, err := m.Current(ctx)
	require.NoError(t, err)
	again, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, network.Test, first.Profile().ID)
	assert.Equal(t, 1, factory.binds)

	_, err = selector.Select(ctx, network.Production)
	require.NoError(t, err)
	switched, err := m.Current(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, switched)
	assert.Equal(t, network.Production, switched.Profile().ID)
	assert.Equal(t, first.Address(), switched.Address(), "network switch must keep the address")
	assert.Equal(t, 2, factory.binds)

	require.NoError(t, v.SetPasswordGate(ctx, "pw"))
	gated, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Same(t, switched, gated, "password change keeps the bound session")

	require.NoError(t, v.Clear(ctx))
	_, err = m.Current(ctx)
	require.Error(t, err)
	assert.Equal(t, 3, invalidations)
}
