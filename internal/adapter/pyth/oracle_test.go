package pyth

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ethFeed = "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"

func newHermes(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/updates/price/latest" {
			http.NotFound(w, r)
			return
		}
		ids := r.URL.Query()["ids[]"]
		if len(ids) != 1 || strings.TrimPrefix(ids[0], "0x") != ethFeed {
			http.Error(w, "Price ids not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"binary":{},"parsed":[{"id":"` + ethFeed + `","price":{"price":"312345678901","conf":"150000000","expo":-8,"publish_time":1700000000}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPriceByPair(t *testing.T) {
	srv := newHermes(t)
	oracle := New(Config{Endpoint: srv.URL})

	price, err := oracle.Price(context.Background(), "eth")
	require.NoError(t, err)
	assert.Equal(t, "ETH/USD", price.Pair)
	assert.Equal(t, "0x"+ethFeed, price.FeedID)
	assert.Equal(t, "3123.45678901", price.Formatted)
	assert.Equal(t, -8, price.Exponent)
	assert.Equal(t, int64(1700000000), price.PublishTime.Unix())
}

func TestPriceByAddressAndAlias(t *testing.T) {
	srv := newHermes(t)
	weth := common.HexToAddress("0xdEAddEaDdeadDEadDEADDEAddEADDEAddead1111")
	oracle := New(Config{
		Endpoint: srv.URL,
		Feeds:    map[string]string{"meth/usd": "0x" + ethFeed},
		Assets:   map[common.Address]string{weth: "ETH/USD"},
	})

	price, err := oracle.Price(context.Background(), weth.Hex())
	require.NoError(t, err)
	assert.Equal(t, "ETH/USD", price.Pair)

	price, err = oracle.Price(context.Background(), "mEth")
	require.NoError(t, err)
	assert.Equal(t, "METH/USD", price.Pair)

	price, err = oracle.Price(context.Background(), "0x"+strings.ToUpper(ethFeed))
	require.NoError(t, err)
	assert.Equal(t, "3123.45678901", price.Formatted)
}

func TestPriceUnknownFeed(t *testing.T) {
	srv := newHermes(t)
	oracle := New(Config{Endpoint: srv.URL})

	_, err := oracle.Price(context.Background(), "DOGE/USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price feed not found")

	_, err = oracle.Price(context.Background(), "BTC/USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price feed not found")

	_, err = oracle.Price(context.Background(), "0x0000000000000000000000000000000000000001")
	require.Error(t, err)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "0.5", formatPrice(big.NewInt(50), -2))
	assert.Equal(t, "1200", formatPrice(big.NewInt(12), 2))
	assert.Equal(t, "7", formatPrice(big.NewInt(7), 0))
}
