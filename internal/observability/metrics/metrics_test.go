package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snehendu098/rayfine/internal/agent"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
)

func TestActionAndFallbackCounters(t *testing.T) {
	c := New()
	c.ActionFinished(agent.KindSwap, network.Test, 2*time.Second, nil)
	c.ActionFinished(agent.KindSwap, network.Test, time.Second, xerrors.New(xerrors.CodeAdapter, "reverted"))
	c.ActionFinished(agent.KindSwap, network.Test, time.Second, xerrors.New(xerrors.CodeAdapter, "reverted"))
	c.RegistryFallback(errors.New("dial tcp"))

	assert.Equal(t, 1.0, counterValue(t, c.actions.WithLabelValues("swap", "testnet", "success", "")))
	assert.Equal(t, 2.0, counterValue(t, c.actions.WithLabelValues("swap", "testnet", "failure", "ADAPTER_ERROR")))
	assert.Equal(t, 1.0, counterValue(t, c.registryFallback))
}

func TestInstrumentAndHandler(t *testing.T) {
	c := New()
	h := c.Instrument("wallet_status", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	assert.Equal(t, 1.0, counterValue(t, c.httpRequests.WithLabelValues("wallet_status", "GET", "502")))
	assert.Equal(t, 1.0, counterValue(t, c.httpErrors.WithLabelValues("wallet_status", "GET")))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "rayfine_http_requests_total"))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
