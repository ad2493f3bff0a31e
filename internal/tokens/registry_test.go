package tokens

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snehendu098/rayfine/internal/adapter"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/session"
	"github.com/snehendu098/rayfine/internal/web3"
)

var (
	usdc   = adapter.Token{Symbol: "USDC", Name: "USD Coin", Address: common.HexToAddress("0x09Bc4E0D864854c6aFB6eB9A9cdF58aC190D0dF9"), Decimals: 6}
	weth   = adapter.Token{Symbol: "WETH", Address: common.HexToAddress("0xdEAddEaDdeadDEadDEADDEAddEADDEAddead1111"), Decimals: 18}
	custom = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

type listerStub struct {
	calls  int
	tokens []adapter.Token
	err    error
}

func (l *listerStub) Tokens(context.Context) ([]adapter.Token, error) {
	l.calls++
	return l.tokens, l.err
}

type factoryStub struct{ lister *listerStub }

func (f factoryStub) Bind(context.Context, adapter.Binding) (*adapter.Set, error) {
	return &adapter.Set{Tokens: f.lister}, nil
}

type chainStub struct {
	web3.Client
}

func (chainStub) TokenMetadata(_ context.Context, token common.Address) (web3.TokenMetadata, error) {
	if token == custom {
		return web3.TokenMetadata{Symbol: "CUST", Decimals: 8}, nil
	}
	return web3.TokenMetadata{}, errors.New("token not found: " + token.Hex())
}

type sourceStub struct{}

func (sourceStub) Client(context.Context, network.Profile) (web3.Client, error) { return chainStub{}, nil }

func bindSession(t *testing.T, lister *listerStub, id network.ID) *session.Session {
	t.Helper()
	key, _ := crypto.GenerateKey()
	profile, _ := network.DefaultCatalog().Profile(id)
	s, err := session.Bind(context.Background(), key, profile, sourceStub{}, factoryStub{lister: lister})
	require.NoError(t, err)
	return s
}

func TestMergeDeduplicatesNative(t *testing.T) {
	native := adapter.Token{Symbol: "MNT", Address: adapter.NativeAddress, Decimals: 18}
	listed := []adapter.Token{
		{Symbol: "MNT", Address: adapter.NativeAlias, Decimals: 18},
		usdc,
		{Symbol: "mnt", Address: common.HexToAddress("0x01"), Decimals: 18},
		usdc,
		weth,
	}
	merged := Merge(native, listed)
	require.Len(t, merged, 3)
	assert.Equal(t, native, merged[0])
	assert.Equal(t, usdc, merged[1])
	assert.Equal(t, weth, merged[2])
}

func TestResolveCachesPerSession(t *testing.T) {
	lister := &listerStub{tokens: []adapter.Token{usdc}}
	reg, err := NewRegistry(4)
	require.NoError(t, err)
	s := bindSession(t, lister, network.Test)

	first := reg.Resolve(context.Background(), s)
	second := reg.Resolve(context.Background(), s)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, lister.calls)
	assert.True(t, first[0].IsNative())

	reg.Refresh(context.Background(), s)
	assert.Equal(t, 2, lister.calls)

	reg.Invalidate()
	reg.Resolve(context.Background(), s)
	assert.Equal(t, 3, lister.calls)
}

func TestResolveFailsOpen(t *testing.T) {
	lister := &listerStub{err: errors.New("dial tcp: i/o timeout")}
	var fallbacks int
	reg, err := NewRegistry(4, WithFallbackHook(func(error) { fallbacks++ }))
	require.NoError(t, err)
	s := bindSession(t, lister, network.Production)

	list := reg.Resolve(context.Background(), s)
	require.Len(t, list, 1)
	assert.Equal(t, "MNT", list[0].Symbol)
	assert.Equal(t, 1, fallbacks)

	// failures are not cached
	lister.err = nil
	lister.tokens = []adapter.Token{usdc}
	assert.Len(t, reg.Resolve(context.Background(), s), 2)
}

func TestLookup(t *testing.T) {
	lister := &listerStub{tokens: []adapter.Token{usdc, weth}}
	reg, err := NewRegistry(4)
	require.NoError(t, err)
	s := bindSession(t, lister, network.Test)
	ctx := context.Background()

	tok, err := reg.Lookup(ctx, s, "usdc")
	require.NoError(t, err)
	assert.Equal(t, usdc, tok)

	tok, err = reg.Lookup(ctx, s, weth.Address.Hex())
	require.NoError(t, err)
	assert.Equal(t, weth, tok)

	tok, err = reg.Lookup(ctx, s, "mnt")
	require.NoError(t, err)
	assert.True(t, tok.IsNative())

	tok, err = reg.Lookup(ctx, s, custom.Hex())
	require.NoError(t, err)
	assert.Equal(t, "CUST", tok.Symbol)
	assert.Equal(t, uint8(8), tok.Decimals)

	_, err = reg.Lookup(ctx, s, "0x0000000000000000000000000000000000000bad")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeResolution, xerrors.CodeOf(err))

	_, err = reg.Lookup(ctx, s, "DOGE")
	assert.Equal(t, xerrors.CodeResolution, xerrors.CodeOf(err))

	_, err = reg.Lookup(ctx, s, "0x12")
	assert.Equal(t, xerrors.CodeValidation, xerrors.CodeOf(err))
}
