package openocean

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/snehendu098/rayfine/internal/adapter"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/web3"
)

var usdc = adapter.Token{Symbol: "USDC", Address: common.HexToAddress("0x09Bc4E0D864854c6aFB6eB9A9cdF58aC190D0dF9"), Decimals: 6}

type stubChain struct {
	web3.Client
	allowance *big.Int
	approved  int
	sent      []web3.TxRequest
}

func (s *stubChain) GasPrice(context.Context) (*big.Int, error) { return big.NewInt(20_000_000), nil }

func (s *stubChain) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return s.allowance, nil
}

func (s *stubChain) Approve(_ context.Context, _ *ecdsa.PrivateKey, _, _ common.Address, amount *big.Int) (common.Hash, error) {
	s.approved++
	s.allowance = amount
	return common.HexToHash("0xaa"), nil
}

func (s *stubChain) WaitForReceipt(context.Context, common.Hash) (*coretypes.Receipt, error) {
	return &coretypes.Receipt{Status: coretypes.ReceiptStatusSuccessful}, nil
}

func (s *stubChain) Send(_ context.Context, _ *ecdsa.PrivateKey, req web3.TxRequest) (common.Hash, error) {
	s.sent = append(s.sent, req)
	return common.HexToHash("0xbb"), nil
}

type staticSource struct{ client web3.Client }

func (s staticSource) Client(context.Context, network.Profile) (web3.Client, error) {
	return s.client, nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/mantle/tokenList", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":[{"symbol":"USDC","name":"USD Coin","address":"0x09Bc4E0D864854c6aFB6eB9A9cdF58aC190D0dF9","decimals":6},{"symbol":"MNT","address":"0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE","decimals":18}]}`))
	})
	mux.HandleFunc("/v3/mantle/quote", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("amount") != "1.5" || q.Get("gasPrice") != "0.02" {
			_, _ = w.Write([]byte(`{"code":400,"error":"bad amount ` + q.Get("amount") + ` gas ` + q.Get("gasPrice") + `"}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{"outAmount":"2500000","price_impact":"-0.01%"}}`))
	})
	mux.HandleFunc("/v3/mantle/swap_quote", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("account") == "" {
			http.Error(w, "missing account", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{"to":"0x6352a56caadC4F1E25CD6c75970Fa768A3304e64","data":"0xdeadbeef","value":"0","outAmount":"2500000","estimatedGas":100000}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func bind(t *testing.T, srv *httptest.Server, chain *stubChain, id network.ID) *adapter.Set {
	t.Helper()
	f, err := NewFactory(Config{BaseURL: srv.URL + "/v3/"}, staticSource{client: chain})
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	key, _ := crypto.GenerateKey()
	set, err := f.Bind(context.Background(), adapter.Binding{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey), Profile: network.Profile{ID: id}})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	return set
}

func TestTokensAndQuote(t *testing.T) {
	srv := newServer(t)
	set := bind(t, srv, &stubChain{}, network.Production)

	tokens, err := set.Tokens.Tokens(context.Background())
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if len(tokens) != 2 || tokens[0].Symbol != "USDC" || !tokens[1].IsNative() {
		t.Fatalf("unexpected tokens %+v", tokens)
	}

	mnt := adapter.Token{Symbol: "MNT", Decimals: 18}
	amountIn, _ := new(big.Int).SetString("1500000000000000000", 10)
	quote, err := set.Swap.Quote(context.Background(), adapter.SwapRequest{In: mnt, Out: usdc, AmountIn: amountIn})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.AmountOut.Int64() != 2_500_000 || quote.PriceImpact != "-0.01%" {
		t.Fatalf("unexpected quote %+v", quote)
	}
}

func TestSwapApprovesERC20Input(t *testing.T) {
	srv := newServer(t)
	chain := &stubChain{allowance: big.NewInt(0)}
	set := bind(t, srv, chain, network.Production)

	res, err := set.Swap.Swap(context.Background(), adapter.SwapRequest{In: usdc, Out: adapter.Token{Symbol: "MNT", Decimals: 18}, AmountIn: big.NewInt(1_000_000), SlippagePercent: 1})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if chain.approved != 1 {
		t.Fatalf("expected one approval, got %d", chain.approved)
	}
	if len(chain.sent) != 1 || chain.sent[0].Gas != 120000 || chain.sent[0].To != common.HexToAddress("0x6352a56caadC4F1E25CD6c75970Fa768A3304e64") {
		t.Fatalf("unexpected sent tx %+v", chain.sent)
	}
	if res.Hash != common.HexToHash("0xbb") || res.AmountOut.Int64() != 2_500_000 {
		t.Fatalf("unexpected result %+v", res)
	}

	// enough allowance now, no second approval
	if _, err := set.Swap.Swap(context.Background(), adapter.SwapRequest{In: usdc, Out: adapter.Token{Symbol: "MNT", Decimals: 18}, AmountIn: big.NewInt(1_000_000)}); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if chain.approved != 1 {
		t.Fatalf("unexpected extra approval")
	}
}

func TestQuoteAPIError(t *testing.T) {
	srv := newServer(t)
	set := bind(t, srv, &stubChain{}, network.Production)
	_, err := set.Swap.Quote(context.Background(), adapter.SwapRequest{In: usdc, Out: usdc, AmountIn: big.NewInt(7)})
	if err == nil || !strings.Contains(err.Error(), "code 400") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestUnsupportedNetworkBindsNothing(t *testing.T) {
	srv := newServer(t)
	set := bind(t, srv, &stubChain{}, network.Test)
	if set.Tokens != nil || set.Swap != nil {
		t.Fatalf("expected empty set on unsupported network")
	}
}
