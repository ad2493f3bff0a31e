package agent

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"github.com/snehendu098/rayfine/internal/adapter"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/session"
	"github.com/snehendu098/rayfine/internal/tokens"
	"github.com/snehendu098/rayfine/internal/web3"
	"github.com/snehendu098/rayfine/internal/web3/ethereum"
)

var (
	usdc      = adapter.Token{Symbol: "USDC", Name: "USD Coin", Address: common.HexToAddress("0x09Bc4E0D864854c6aFB6eB9A9cdF58aC190D0dF9"), Decimals: 6}
	weth      = adapter.Token{Symbol: "WETH", Address: common.HexToAddress("0xdEAddEaDdeadDEadDEADDEAddEADDEAddead1111"), Decimals: 18}
	stubHash  = common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
	oneNative = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

type stubAdapter struct {
	calls     int
	swapErr   error
	amountOut *big.Int
	lastSwap  adapter.SwapRequest
	lastLend  adapter.LendRequest
}

func (a *stubAdapter) Tokens(context.Context) ([]adapter.Token, error) {
	return []adapter.Token{usdc, weth}, nil
}

func (a *stubAdapter) Quote(_ context.Context, req adapter.SwapRequest) (*adapter.Quote, error) {
	a.calls++
	return &adapter.Quote{In: req.In, Out: req.Out, AmountIn: req.AmountIn, AmountOut: big.NewInt(1_234_567)}, nil
}

func (a *stubAdapter) Swap(_ context.Context, req adapter.SwapRequest) (*adapter.TxResult, error) {
	a.calls++
	a.lastSwap = req
	if a.swapErr != nil {
		return nil, a.swapErr
	}
	return &adapter.TxResult{Hash: stubHash, AmountOut: a.amountOut}, nil
}

func (a *stubAdapter) lend(req adapter.LendRequest) (*adapter.TxResult, error) {
	a.calls++
	a.lastLend = req
	return &adapter.TxResult{Hash: stubHash}, nil
}

func (a *stubAdapter) Supply(_ context.Context, req adapter.LendRequest) (*adapter.TxResult, error) {
	return a.lend(req)
}

func (a *stubAdapter) Withdraw(_ context.Context, req adapter.LendRequest) (*adapter.TxResult, error) {
	return a.lend(req)
}

func (a *stubAdapter) Borrow(_ context.Context, req adapter.LendRequest) (*adapter.TxResult, error) {
	return a.lend(req)
}

func (a *stubAdapter) Repay(_ context.Context, req adapter.LendRequest) (*adapter.TxResult, error) {
	return a.lend(req)
}

func (a *stubAdapter) AccountSummary(context.Context, common.Address) (*adapter.AccountSummary, error) {
	return &adapter.AccountSummary{HealthFactor: big.NewInt(2)}, nil
}

func (a *stubAdapter) Positions(context.Context, common.Address) (*adapter.Positions, error) {
	return nil, errors.New("fetch failed")
}

func (a *stubAdapter) Price(_ context.Context, pair string) (*adapter.Price, error) {
	return &adapter.Price{Pair: pair, Formatted: "1.5"}, nil
}

type stubFactory struct {
	adapter  *stubAdapter
	noLender bool
}

func (f stubFactory) Bind(context.Context, adapter.Binding) (*adapter.Set, error) {
	set := &adapter.Set{Tokens: f.adapter, Swap: f.adapter, Lend: f.adapter, Oracle: f.adapter}
	if f.noLender {
		set.Lend = nil
	}
	return set, nil
}

type stubChain struct {
	web3.Client
	native  *big.Int
	tokens  map[common.Address]*big.Int
	status  uint64
	waitErr error
	waits   int
}

func (c *stubChain) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	return c.native, nil
}

func (c *stubChain) TokenBalance(_ context.Context, token, _ common.Address) (*big.Int, error) {
	if b, ok := c.tokens[token]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

func (c *stubChain) WaitForReceipt(ctx context.Context, _ common.Hash) (*coretypes.Receipt, error) {
	c.waits++
	if c.waitErr != nil {
		return nil, c.waitErr
	}
	return &coretypes.Receipt{Status: c.status, BlockNumber: big.NewInt(77), GasUsed: 90000}, nil
}

type staticSessions struct {
	s   *session.Session
	err error
}

func (s staticSessions) Current(context.Context) (*session.Session, error) { return s.s, s.err }

type chainSource struct{ client web3.Client }

func (c chainSource) Client(context.Context, network.Profile) (web3.Client, error) {
	return c.client, nil
}

type recordingObserver struct {
	kinds []Kind
	codes []xerrors.Code
}

func (r *recordingObserver) ActionFinished(kind Kind, _ network.ID, _ time.Duration, err *xerrors.Error) {
	r.kinds = append(r.kinds, kind)
	if err == nil {
		r.codes = append(r.codes, "")
		return
	}
	r.codes = append(r.codes, err.Code())
}

type fixture struct {
	orc      *Orchestrator
	adapter  *stubAdapter
	chain    *stubChain
	observer *recordingObserver
}

func newFixture(t *testing.T, factory stubFactory, chain web3.Client) *Orchestrator {
	t.Helper()
	key, _ := crypto.GenerateKey()
	profile, _ := network.DefaultCatalog().Profile(network.Test)
	s, err := session.Bind(context.Background(), key, profile, chainSource{client: chain}, factory)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	reg, err := tokens.NewRegistry(4)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return New(staticSessions{s: s}, reg)
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		adapter:  &stubAdapter{amountOut: big.NewInt(2_500_000)},
		chain:    &stubChain{native: new(big.Int).Mul(oneNative, big.NewInt(5)), tokens: map[common.Address]*big.Int{usdc.Address: big.NewInt(10_000_000)}, status: coretypes.ReceiptStatusSuccessful},
		observer: &recordingObserver{},
	}
	f.orc = newFixture(t, stubFactory{adapter: f.adapter}, f.chain)
	WithObserver(f.observer)(f.orc)
	return f
}

func codeOf(t *testing.T, err error) xerrors.Code {
	t.Helper()
	e, ok := xerrors.From(err)
	if !ok {
		t.Fatalf("expected classified error, got %T %v", err, err)
	}
	return e.Code()
}

func TestSwapZeroAmountNeverReachesAdapter(t *testing.T) {
	f := setup(t)
	_, err := f.orc.Execute(context.Background(), ActionRequest{Kind: KindSwap, Amount: "0", Token: "MNT", TokenOut: "USDC"})
	if codeOf(t, err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.adapter.calls != 0 {
		t.Fatalf("adapter must not be called, got %d calls", f.adapter.calls)
	}
	if f.chain.waits != 0 {
		t.Fatalf("nothing should be awaited")
	}
}

func TestPinnedNetworkMismatchNeverReachesAdapter(t *testing.T) {
	f := setup(t)
	_, err := f.orc.Execute(context.Background(), ActionRequest{Kind: KindSwap, Amount: "1", Token: "MNT", TokenOut: "USDC", Network: network.Production})
	if codeOf(t, err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.adapter.calls != 0 || f.chain.waits != 0 {
		t.Fatalf("adapter must not be called, got %d calls", f.adapter.calls)
	}

	if _, err := f.orc.Execute(context.Background(), ActionRequest{Kind: KindSwap, Amount: "1", Token: "MNT", TokenOut: "USDC", Network: network.Test}); err != nil {
		t.Fatalf("matching network should execute: %v", err)
	}
}

func TestValidateCollectsFields(t *testing.T) {
	err := Validate(ActionRequest{Kind: KindTransfer, Amount: "-1", To: "0x123"})
	e, ok := xerrors.From(err)
	if !ok || e.Code() != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := e.Fields()
	if fields["amount"] == "" || fields["to"] == "" {
		t.Fatalf("expected amount and to fields, got %v", fields)
	}

	cases := []ActionRequest{
		{Kind: "bridge", Amount: "1"},
		{Kind: KindSwap, Amount: "1", Token: "USDC", TokenOut: "usdc"},
		{Kind: KindSwap, Amount: "1", Token: "MNT", TokenOut: "USDC", Slippage: "51"},
		{Kind: KindBorrow, Amount: "1", Token: "USDC", RateMode: 3},
		{Kind: KindSupply, Amount: "1"},
		{Kind: KindSupply, Amount: "1", Token: "0xzz"},
		{Kind: KindTransfer, Amount: "1", To: "0x0000000000000000000000000000000000000000"},
	}
	for _, req := range cases {
		if err := Validate(req); err == nil {
			t.Fatalf("expected validation failure for %+v", req)
		}
	}
	if err := Validate(ActionRequest{Kind: KindStake, Amount: "0.5"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSwapSuccess(t *testing.T) {
	f := setup(t)
	receipt, err := f.orc.Execute(context.Background(), ActionRequest{Kind: KindSwap, Amount: "1.5", Token: "mnt", TokenOut: "USDC", Slippage: "1"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if f.adapter.lastSwap.AmountIn.String() != "1500000000000000000" || f.adapter.lastSwap.SlippagePercent != 1 {
		t.Fatalf("unexpected adapter request %+v", f.adapter.lastSwap)
	}
	if receipt.TxHash != stubHash.Hex() || receipt.AmountIn != "1.5" || receipt.SymbolIn != "MNT" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if receipt.AmountOut != "2.5" || receipt.SymbolOut != "USDC" || receipt.BlockNumber != 77 {
		t.Fatalf("unexpected output side %+v", receipt)
	}
	if receipt.ExplorerURL != "https://sepolia.mantlescan.xyz/tx/"+stubHash.Hex() {
		t.Fatalf("unexpected explorer url %s", receipt.ExplorerURL)
	}
	if len(f.observer.codes) != 1 || f.observer.codes[0] != "" {
		t.Fatalf("observer not notified of success: %+v", f.observer)
	}
}

func TestPreflightInsufficientFunds(t *testing.T) {
	f := setup(t)
	_, err := f.orc.Execute(context.Background(), ActionRequest{Kind: KindSupply, Amount: "10.000001", Token: "USDC"})
	if codeOf(t, err) != xerrors.CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if f.adapter.calls != 0 {
		t.Fatalf("adapter must not be called")
	}

	// withdraw does not spend wallet balance
	if _, err := f.orc.Execute(context.Background(), ActionRequest{Kind: KindWithdraw, Amount: "100", Token: "USDC"}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
}

func TestBorrowDefaultsToVariableRate(t *testing.T) {
	f := setup(t)
	if _, err := f.orc.Execute(context.Background(), ActionRequest{Kind: KindBorrow, Amount: "1", Token: "USDC"}); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if f.adapter.lastLend.RateMode != adapter.RateVariable || f.adapter.lastLend.Amount.Int64() != 1_000_000 {
		t.Fatalf("unexpected lend request %+v", f.adapter.lastLend)
	}
}

func TestAdapterFailuresAreClassified(t *testing.T) {
	cases := map[string]xerrors.Code{
		"execution reverted: Too little received": xerrors.CodeAdapter,
		"insufficient funds for gas * price + value": xerrors.CodeInsufficientFunds,
		"something odd happened":                   xerrors.CodeAdapter,
	}
	for msg, want := range cases {
		f := setup(t)
		f.adapter.swapErr = errors.New(msg)
		_, err := f.orc.Execute(context.Background(), ActionRequest{Kind: KindSwap, Amount: "1", Token: "MNT", TokenOut: "USDC"})
		if got := codeOf(t, err); got != want {
			t.Fatalf("%q: expected %s, got %s", msg, want, got)
		}
		if f.adapter.calls != 1 {
			t.Fatalf("%q: adapter must be invoked exactly once, got %d", msg, f.adapter.calls)
		}
		if f.observer.codes[0] != want {
			t.Fatalf("observer saw %s", f.observer.codes[0])
		}
	}
}

func TestRevertedReceipt(t *testing.T) {
	f := setup(t)
	f.chain.status = coretypes.ReceiptStatusFailed
	_, err := f.orc.Execute(context.Background(), ActionRequest{Kind: KindSwap, Amount: "1", Token: "MNT", TokenOut: "USDC"})
	e, _ := xerrors.From(err)
	if e == nil || e.Code() != xerrors.CodeAdapter || e.Metadata()["tx_hash"] != stubHash.Hex() {
		t.Fatalf("expected adapter error with tx hash, got %v", err)
	}
}

func TestWaitFailureReportsBroadcast(t *testing.T) {
	cases := map[string]error{
		"cancelled":    context.Canceled,
		"deadline":     context.DeadlineExceeded,
		"reset":        errors.New("read tcp 127.0.0.1:50122->10.0.0.2:443: connection reset by peer"),
		"rate limiter": errors.New("rate: Wait(n=1) would exceed context deadline"),
	}
	for name, waitErr := range cases {
		t.Run(name, func(t *testing.T) {
			f := setup(t)
			f.chain.waitErr = waitErr
			_, err := f.orc.Execute(context.Background(), ActionRequest{Kind: KindSwap, Amount: "1", Token: "MNT", TokenOut: "USDC"})
			e, _ := xerrors.From(err)
			if e == nil || e.Code() != xerrors.CodeConnectivity {
				t.Fatalf("expected connectivity error, got %v", err)
			}
			md := e.Metadata()
			if md["broadcast"] != "true" || md["tx_hash"] != stubHash.Hex() || md["explorer_url"] == "" {
				t.Fatalf("unexpected metadata %v", md)
			}
			if f.adapter.calls != 1 {
				t.Fatalf("adapter must be invoked exactly once, got %d", f.adapter.calls)
			}
			if !errors.Is(err, waitErr) {
				t.Fatalf("cause lost: %v", err)
			}
		})
	}
}

func TestMissingCapabilityAndWallet(t *testing.T) {
	f := setup(t)
	orc := newFixture(t, stubFactory{adapter: f.adapter, noLender: true}, f.chain)
	_, err := orc.Execute(context.Background(), ActionRequest{Kind: KindSupply, Amount: "1", Token: "USDC"})
	if codeOf(t, err) != xerrors.CodeResolution {
		t.Fatalf("expected resolution error, got %v", err)
	}

	noWallet := New(staticSessions{err: xerrors.New(xerrors.CodeValidation, "未连接钱包")}, nil)
	_, err = noWallet.Execute(context.Background(), ActionRequest{Kind: KindTransfer, Amount: "1", To: "0x00000000000000000000000000000000000000ab"})
	if codeOf(t, err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = f.orc.Execute(context.Background(), ActionRequest{Kind: KindSwap, Amount: "1", Token: "MNT", TokenOut: "DOGE"})
	if codeOf(t, err) != xerrors.CodeResolution {
		t.Fatalf("expected resolution error for unknown token, got %v", err)
	}
}

func TestReadOperations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	quote, err := f.orc.Quote(ctx, QuoteRequest{Token: "USDC", TokenOut: "MNT", Amount: "2"})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.AmountIn != "2" || quote.SymbolIn != "USDC" || quote.SymbolOut != "MNT" || quote.AmountOut != "0" {
		t.Fatalf("unexpected quote %+v", quote)
	}

	price, err := f.orc.Price(ctx, "ETH/USD")
	if err != nil || price.Pair != "ETH/USD" {
		t.Fatalf("price: %+v %v", price, err)
	}

	if _, err := f.orc.Positions(ctx); codeOf(t, err) != xerrors.CodeConnectivity {
		t.Fatalf("expected connectivity error, got %v", err)
	}

	summary, err := f.orc.AccountSummary(ctx)
	if err != nil || summary.HealthFactor.Int64() != 2 {
		t.Fatalf("summary: %+v %v", summary, err)
	}

	if _, err := f.orc.StakePosition(ctx); codeOf(t, err) != xerrors.CodeResolution {
		t.Fatalf("expected resolution error without staker, got %v", err)
	}

	balances, err := f.orc.Balances(ctx)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(balances) != 2 || balances[0].Amount != "5" || balances[1].Token.Symbol != "USDC" || balances[1].Amount != "10" {
		t.Fatalf("unexpected balances %+v", balances)
	}
}

func TestTransferOnSimulatedChain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey)
	sim := simulated.NewBackend(coretypes.GenesisAlloc{from: {Balance: new(big.Int).Mul(oneNative, big.NewInt(3))}})
	t.Cleanup(func() { _ = sim.Close() })
	client := ethereum.NewSimulatedClient("simulated", sim)

	profile, _ := network.DefaultCatalog().Profile(network.Test)
	s, err := session.Bind(ctx, key, profile, chainSource{client: client}, nil)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	reg, _ := tokens.NewRegistry(4)
	orc := New(staticSessions{s: s}, reg)

	to := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	receipt, err := orc.Execute(ctx, ActionRequest{Kind: KindTransfer, Amount: "0.25", To: to.Hex()})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if receipt.SymbolIn != "MNT" || receipt.AmountIn != "0.25" || receipt.From != from.Hex() {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	got, _ := client.NativeBalance(ctx, to)
	want := new(big.Int).Div(oneNative, big.NewInt(4))
	if got.Cmp(want) != 0 {
		t.Fatalf("unexpected balance %s", got)
	}

	_, err = orc.Execute(ctx, ActionRequest{Kind: KindTransfer, Amount: "10", To: to.Hex()})
	if codeOf(t, err) != xerrors.CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}
