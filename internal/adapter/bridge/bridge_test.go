package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/snehendu098/rayfine/internal/adapter"
	"github.com/snehendu098/rayfine/internal/network"
)

const (
	helperEnv  = "RAYFINE_BRIDGE_HELPER"
	helperHash = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

// TestHelperProcess 模拟桥接脚本，仅在子进程中运行。
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}
	raw, _ := io.ReadAll(os.Stdin)
	var req struct {
		Method     string         `json:"method"`
		Network    string         `json:"network"`
		PrivateKey string         `json:"private_key"`
		Params     map[string]any `json:"params"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		fmt.Fprintln(os.Stderr, "bad request")
		os.Exit(2)
	}
	switch mode {
	case "leak":
		fmt.Fprintf(os.Stderr, "boom: signer %s rejected\n", req.PrivateKey)
		os.Exit(1)
	case "reject":
		fmt.Printf(`{"ok":false,"error":"execution reverted: insufficient allowance (key %s)"}`, req.PrivateKey)
		os.Exit(0)
	}
	switch req.Method {
	case "getOpenOceanTokens":
		fmt.Print(`{"ok":true,"result":[{"symbol":"USDC","name":"USD Coin","address":"0x09Bc4E0D864854c6aFB6eB9A9cdF58aC190D0dF9","decimals":6},{"symbol":"bad","address":"nope"}]}`)
	case "lendleBorrow":
		fmt.Printf(`{"ok":true,"result":{"txHash":"%s","echo":%v}}`, helperHash, req.Params["rate_mode"])
	case "swapOnOpenOcean":
		fmt.Printf(`{"ok":true,"result":{"tx_hash":"%s","out_amount":"123456789012345678901"}}`, helperHash)
	case "lendleGetPositions":
		fmt.Print(`{"ok":true,"result":{"totalSupplied":"1000","totalDebt":"10","positions":[{"asset":"0x09Bc4E0D864854c6aFB6eB9A9cdF58aC190D0dF9","symbol":"USDC","supplied":"1000","borrowed":"10n"}]}}`)
	case "pythGetPrice":
		fmt.Printf(`{"ok":true,"result":{"priceFeedId":"0xabc","pair":"%s","price":"312345","exponent":-2,"publishTime":1700000000,"formattedPrice":"3123.45"}}`, req.Params["input"])
	default:
		fmt.Printf(`{"ok":false,"error":"unknown method %s"}`, req.Method)
	}
	os.Exit(0)
}

func newBound(t *testing.T, mode, router string) (*adapter.Set, string) {
	t.Helper()
	factory, err := NewFactory(Config{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		Env:     []string{helperEnv + "=" + mode},
		Router:  router,
	})
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	key, _ := crypto.GenerateKey()
	set, err := factory.Bind(context.Background(), adapter.Binding{
		Key:     key,
		Address: crypto.PubkeyToAddress(key.PublicKey),
		Profile: network.Profile{ID: network.Test},
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	return set, fmt.Sprintf("%x", crypto.FromECDSA(key))
}

func TestBridgeTokensAndSwap(t *testing.T) {
	set, _ := newBound(t, "ok", "openocean")
	ctx := context.Background()

	tokens, err := set.Tokens.Tokens(ctx)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if len(tokens) != 1 || tokens[0].Symbol != "USDC" || tokens[0].Decimals != 6 {
		t.Fatalf("unexpected tokens %+v", tokens)
	}

	res, err := set.Swap.Swap(ctx, adapter.SwapRequest{
		In:       adapter.Token{Symbol: "MNT", Decimals: 18},
		Out:      tokens[0],
		AmountIn: big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if res.Hash != common.HexToHash(helperHash) {
		t.Fatalf("unexpected hash %s", res.Hash.Hex())
	}
	want, _ := new(big.Int).SetString("123456789012345678901", 10)
	if res.AmountOut == nil || res.AmountOut.Cmp(want) != 0 {
		t.Fatalf("unexpected out amount %v", res.AmountOut)
	}
}

func TestBridgeLendingAndPrice(t *testing.T) {
	set, _ := newBound(t, "ok", "agni")
	ctx := context.Background()

	res, err := set.Lend.Borrow(ctx, adapter.LendRequest{Asset: adapter.Token{Address: common.HexToAddress("0x01")}, Amount: big.NewInt(5)})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if res.Hash != common.HexToHash(helperHash) {
		t.Fatalf("unexpected hash %s", res.Hash.Hex())
	}

	positions, err := set.Lend.Positions(ctx, common.Address{})
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions.Positions) != 1 || positions.Positions[0].Borrowed.Int64() != 10 || positions.TotalSupplied.Int64() != 1000 {
		t.Fatalf("unexpected positions %+v", positions)
	}

	price, err := set.Oracle.Price(ctx, "ETH/USD")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.Pair != "ETH/USD" || price.Exponent != -2 || price.Formatted != "3123.45" {
		t.Fatalf("unexpected price %+v", price)
	}

	if _, err := set.Swap.Quote(ctx, adapter.SwapRequest{AmountIn: big.NewInt(1)}); err == nil {
		t.Fatalf("agni router should not provide quotes")
	}
}

func TestBridgeScrubsKeyFromErrors(t *testing.T) {
	for _, mode := range []string{"leak", "reject"} {
		set, secret := newBound(t, mode, "openocean")
		_, err := set.Tokens.Tokens(context.Background())
		if err == nil {
			t.Fatalf("%s: expected error", mode)
		}
		if strings.Contains(err.Error(), secret) {
			t.Fatalf("%s: private key leaked into error: %v", mode, err)
		}
		if !strings.Contains(err.Error(), "[REDACTED]") {
			t.Fatalf("%s: expected redaction marker in %v", mode, err)
		}
	}
}

func TestNewFactoryValidation(t *testing.T) {
	if _, err := NewFactory(Config{}); err == nil {
		t.Fatalf("expected error without script")
	}
	if _, err := NewFactory(Config{Script: "kit.js", Router: "sushi"}); err == nil {
		t.Fatalf("expected error for unknown router")
	}
	f, err := NewFactory(Config{Script: "kit.js"})
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	if f.Router() != "openocean" || f.cfg.Command != "node" {
		t.Fatalf("unexpected defaults %+v", f.cfg)
	}
	if _, err := f.Bind(context.Background(), adapter.Binding{}); err == nil {
		t.Fatalf("expected error without key")
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/opt/kit", "bridge.js"); got != "/opt/kit/bridge.js" {
		t.Fatalf("unexpected path %s", got)
	}
	if got := ResolveScriptPath("/opt/kit", "/abs/bridge.js"); got != "/abs/bridge.js" {
		t.Fatalf("unexpected path %s", got)
	}
}
