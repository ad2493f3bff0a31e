package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/snehendu098/rayfine/internal/adapter"
	"github.com/snehendu098/rayfine/internal/agent"
	"github.com/snehendu098/rayfine/internal/auth"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/observability/metrics"
	"github.com/snehendu098/rayfine/internal/task"
	"github.com/snehendu098/rayfine/internal/vault"
	"github.com/snehendu098/rayfine/pkg/logger"
)

// Reader 是只读查询能力，agent.Orchestrator 满足该接口。
type Reader interface {
	Tokens(ctx context.Context) ([]adapter.Token, error)
	Balances(ctx context.Context) ([]agent.Balance, error)
	Price(ctx context.Context, pairOrAddress string) (*adapter.Price, error)
	Quote(ctx context.Context, req agent.QuoteRequest) (*agent.QuoteResult, error)
	AccountSummary(ctx context.Context) (*adapter.AccountSummary, error)
	Positions(ctx context.Context) (*adapter.Positions, error)
	StakePosition(ctx context.Context) (*adapter.StakePosition, error)
}

// Dependencies 汇总 API 需要的组件。
type Dependencies struct {
	Vault    *vault.Vault
	Selector *network.Selector
	Sessions agent.SessionSource
	Reader   Reader
	Tasks    *task.Service
	Metrics  *metrics.Collector
}

// Server 负责暴露 REST 接口。默认只监听本机回环地址。
type Server struct {
	addr            string
	deps            Dependencies
	limiter         *RateLimiter
	guard           *auth.Guard
	shutdownTimeout time.Duration
	waitInterval    time.Duration
	logger          *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithRateLimit 按客户端限制每秒请求数。
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 {
			s.limiter = NewRateLimiter(perSecond, burst)
		}
	}
}

// WithAuthToken 要求请求携带 Bearer 令牌，空令牌不启用认证。
func WithAuthToken(token string) Option {
	return func(s *Server) {
		s.guard = auth.NewGuard(token)
	}
}

// WithShutdownTimeout 设置优雅退出的等待时长。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Dependencies, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		deps:            deps,
		shutdownTimeout: 5 * time.Second,
		waitInterval:    500 * time.Millisecond,
		logger:          logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回完整的路由，测试中可直接使用。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.HandlerFunc) {
		var handler http.Handler = h
		if s.deps.Metrics != nil {
			handler = s.deps.Metrics.Instrument(name, handler)
		}
		mux.Handle(pattern, handler)
	}

	route("GET /api/v1/wallet", "wallet_status", s.handleWalletStatus)
	route("DELETE /api/v1/wallet", "wallet_clear", s.handleWalletClear)
	route("POST /api/v1/wallet/generate", "wallet_generate", s.handleWalletGenerate)
	route("POST /api/v1/wallet/import", "wallet_import", s.handleWalletImport)
	route("PUT /api/v1/wallet/password", "wallet_password", s.handleWalletPassword)
	route("POST /api/v1/wallet/reveal", "wallet_reveal", s.handleWalletReveal)
	route("GET /api/v1/wallet/qr", "wallet_qr", s.handleWalletQR)
	route("POST /api/v1/wallet/sign", "wallet_sign", s.handleWalletSign)

	route("GET /api/v1/network", "network_get", s.handleNetworkGet)
	route("PUT /api/v1/network", "network_put", s.handleNetworkPut)

	route("GET /api/v1/tokens", "tokens", s.handleTokens)
	route("GET /api/v1/balances", "balances", s.handleBalances)
	route("GET /api/v1/price", "price", s.handlePrice)
	route("POST /api/v1/quote", "quote", s.handleQuote)
	route("GET /api/v1/lend/summary", "lend_summary", s.handleLendSummary)
	route("GET /api/v1/lend/positions", "lend_positions", s.handleLendPositions)
	route("GET /api/v1/stake/position", "stake_position", s.handleStakePosition)

	route("POST /api/v1/actions/validate", "actions_validate", s.handleValidate)
	route("POST /api/v1/actions", "actions_submit", s.handleSubmitAction)
	route("GET /api/v1/actions", "actions_list", s.handleListActions)
	route("GET /api/v1/actions/{id}", "actions_get", s.handleGetAction)
	route("GET /api/v1/actions/{id}/wait", "actions_wait", s.handleWaitAction)

	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	var handler http.Handler = mux
	if s.guard.Enabled() {
		handler = s.guard.Middleware(auth.MiddlewareConfig{Public: map[string]bool{"/metrics": true}})(handler)
	}
	if s.limiter != nil {
		handler = s.limiter.Handler(handler)
	}
	return handler
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
