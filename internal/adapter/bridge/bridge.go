package bridge

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/snehendu098/rayfine/internal/adapter"
)

const defaultTimeout = 3 * time.Minute

// Routers 列出支持的兑换路由。
var Routers = []string{"openocean", "agni", "merchantmoe", "uniswap"}

var (
	swapMethods = map[string]string{
		"openocean":   "swapOnOpenOcean",
		"agni":        "agniSwap",
		"merchantmoe": "merchantMoeSwap",
		"uniswap":     "swapOnUniswap",
	}
	quoteMethods = map[string]string{
		"openocean": "getOpenOceanQuote",
		"uniswap":   "getUniswapQuote",
	}
	hexSecret = regexp.MustCompile(`(?i)(0x)?[0-9a-f]{64}`)
)

// Config 描述桥接脚本的调用方式。
type Config struct {
	Command    string
	Script     string
	Args       []string
	WorkingDir string
	Env        []string
	Router     string
	Timeout    time.Duration
}

// Factory 通过外部脚本调用协议 SDK。每次调用启动一个子进程，
// 请求经 stdin 传入，响应从 stdout 读取。私钥只出现在 stdin 中。
type Factory struct {
	cfg Config
}

var _ adapter.Factory = (*Factory)(nil)

// NewFactory 创建桥接工厂。
func NewFactory(cfg Config) (*Factory, error) {
	if strings.TrimSpace(cfg.Script) == "" && strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("未指定桥接脚本")
	}
	if cfg.Command == "" {
		cfg.Command = "node"
	}
	if cfg.Router == "" {
		cfg.Router = "openocean"
	}
	if _, ok := swapMethods[cfg.Router]; !ok {
		return nil, fmt.Errorf("未知的兑换路由: %s", cfg.Router)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Factory{cfg: cfg}, nil
}

// Router 返回当前兑换路由。
func (f *Factory) Router() string { return f.cfg.Router }

// Bind 实现 adapter.Factory。桥接脚本提供全部能力。
func (f *Factory) Bind(_ context.Context, binding adapter.Binding) (*adapter.Set, error) {
	if binding.Key == nil {
		return nil, errors.New("未提供签名私钥")
	}
	b := &bound{factory: f, key: binding.Key, address: binding.Address, network: string(binding.Profile.ID)}
	return &adapter.Set{Tokens: b, Swap: b, Lend: b, Stake: b, Oracle: b}, nil
}

type bound struct {
	factory *Factory
	key     *ecdsa.PrivateKey
	address common.Address
	network string
}

type request struct {
	ID         string         `json:"id"`
	Method     string         `json:"method"`
	Network    string         `json:"network"`
	PrivateKey string         `json:"private_key"`
	Params     map[string]any `json:"params"`
	Timestamp  int64          `json:"timestamp"`
}

// call 执行一次桥接调用并返回 result 字段。
func (b *bound) call(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	cfg := b.factory.cfg
	secret := hex.EncodeToString(crypto.FromECDSA(b.key))
	payload, err := json.Marshal(request{
		ID:         uuid.NewString(),
		Method:     method,
		Network:    b.network,
		PrivateKey: "0x" + secret,
		Params:     params,
		Timestamp:  time.Now().Unix(),
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("序列化请求失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	args := append([]string(nil), cfg.Args...)
	if cfg.Script != "" {
		args = append(args, ResolveScriptPath(cfg.WorkingDir, cfg.Script))
	}
	command := exec.CommandContext(ctx, cfg.Command, args...)
	if cfg.WorkingDir != "" {
		command.Dir = cfg.WorkingDir
	}
	if len(cfg.Env) > 0 {
		command.Env = append(command.Environ(), cfg.Env...)
	}
	command.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return gjson.Result{}, fmt.Errorf("%s 调用超时: %w", method, ctxErr)
		}
		detail := lastLine(stderr.String())
		if msg := gjson.GetBytes(stdout.Bytes(), "error"); msg.Exists() {
			detail = msg.String()
		}
		return gjson.Result{}, errors.New(scrub(fmt.Sprintf("%s 执行失败: %v: %s", method, err, detail), secret))
	}

	out := stdout.Bytes()
	if !gjson.ValidBytes(out) {
		return gjson.Result{}, fmt.Errorf("%s 输出不是有效的 JSON", method)
	}
	if !gjson.GetBytes(out, "ok").Bool() {
		msg := gjson.GetBytes(out, "error").String()
		if msg == "" {
			msg = "未知错误"
		}
		return gjson.Result{}, errors.New(scrub(msg, secret))
	}
	return gjson.GetBytes(out, "result"), nil
}

// Tokens 实现 adapter.TokenLister。
func (b *bound) Tokens(ctx context.Context) ([]adapter.Token, error) {
	result, err := b.call(ctx, "getOpenOceanTokens", nil)
	if err != nil {
		return nil, err
	}
	var tokens []adapter.Token
	for _, item := range result.Array() {
		address := item.Get("address").String()
		if !common.IsHexAddress(address) {
			continue
		}
		tokens = append(tokens, adapter.Token{
			Symbol:   item.Get("symbol").String(),
			Name:     item.Get("name").String(),
			Address:  common.HexToAddress(address),
			Decimals: uint8(item.Get("decimals").Uint()),
		})
	}
	return tokens, nil
}

// Quote 实现 adapter.Swapper。
func (b *bound) Quote(ctx context.Context, req adapter.SwapRequest) (*adapter.Quote, error) {
	method, ok := quoteMethods[b.factory.cfg.Router]
	if !ok {
		return nil, fmt.Errorf("路由 %s 不提供报价", b.factory.cfg.Router)
	}
	result, err := b.call(ctx, method, map[string]any{
		"from_token": tokenParam(req.In),
		"to_token":   tokenParam(req.Out),
		"amount":     req.AmountIn.String(),
	})
	if err != nil {
		return nil, err
	}
	out, ok := parseBig(result, "out_amount", "amountOut", "outAmount")
	if !ok {
		return nil, fmt.Errorf("%s 未返回输出数量", method)
	}
	return &adapter.Quote{
		In:          req.In,
		Out:         req.Out,
		AmountIn:    new(big.Int).Set(req.AmountIn),
		AmountOut:   out,
		PriceImpact: result.Get("price_impact").String(),
	}, nil
}

// Swap 实现 adapter.Swapper。
func (b *bound) Swap(ctx context.Context, req adapter.SwapRequest) (*adapter.TxResult, error) {
	method := swapMethods[b.factory.cfg.Router]
	result, err := b.call(ctx, method, map[string]any{
		"from_token": tokenParam(req.In),
		"to_token":   tokenParam(req.Out),
		"amount":     req.AmountIn.String(),
		"slippage":   req.SlippagePercent,
	})
	if err != nil {
		return nil, err
	}
	return txResult(method, result)
}

// Supply 实现 adapter.Lender。
func (b *bound) Supply(ctx context.Context, req adapter.LendRequest) (*adapter.TxResult, error) {
	return b.lend(ctx, "lendleSupply", req, false)
}

// Withdraw 实现 adapter.Lender。
func (b *bound) Withdraw(ctx context.Context, req adapter.LendRequest) (*adapter.TxResult, error) {
	return b.lend(ctx, "lendleWithdraw", req, false)
}

// Borrow 实现 adapter.Lender。
func (b *bound) Borrow(ctx context.Context, req adapter.LendRequest) (*adapter.TxResult, error) {
	return b.lend(ctx, "lendleBorrow", req, true)
}

// Repay 实现 adapter.Lender。
func (b *bound) Repay(ctx context.Context, req adapter.LendRequest) (*adapter.TxResult, error) {
	return b.lend(ctx, "lendleRepay", req, true)
}

func (b *bound) lend(ctx context.Context, method string, req adapter.LendRequest, withRate bool) (*adapter.TxResult, error) {
	params := map[string]any{
		"token":  tokenParam(req.Asset),
		"amount": req.Amount.String(),
	}
	if withRate {
		mode := req.RateMode
		if !mode.Valid() {
			mode = adapter.RateVariable
		}
		params["rate_mode"] = int(mode)
	}
	if req.OnBehalfOf != nil {
		params["on_behalf_of"] = req.OnBehalfOf.Hex()
	}
	result, err := b.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return txResult(method, result)
}

// AccountSummary 实现 adapter.Lender。
func (b *bound) AccountSummary(ctx context.Context, owner common.Address) (*adapter.AccountSummary, error) {
	result, err := b.call(ctx, "lendleGetUserAccountData", map[string]any{"user": owner.Hex()})
	if err != nil {
		return nil, err
	}
	return &adapter.AccountSummary{
		TotalCollateral:      bigOrZero(result, "totalCollateralETH"),
		TotalDebt:            bigOrZero(result, "totalDebtETH"),
		AvailableBorrows:     bigOrZero(result, "availableBorrowsETH"),
		LiquidationThreshold: bigOrZero(result, "currentLiquidationThreshold"),
		LTV:                  bigOrZero(result, "ltv"),
		HealthFactor:         bigOrZero(result, "healthFactor"),
	}, nil
}

// Positions 实现 adapter.Lender。
func (b *bound) Positions(ctx context.Context, owner common.Address) (*adapter.Positions, error) {
	result, err := b.call(ctx, "lendleGetPositions", map[string]any{"user": owner.Hex()})
	if err != nil {
		return nil, err
	}
	positions := &adapter.Positions{
		TotalSupplied: bigOrZero(result, "totalSupplied"),
		TotalDebt:     bigOrZero(result, "totalDebt"),
	}
	for _, item := range result.Get("positions").Array() {
		positions.Positions = append(positions.Positions, adapter.Position{
			Asset:       common.HexToAddress(item.Get("asset").String()),
			Symbol:      item.Get("symbol").String(),
			Supplied:    bigOrZero(item, "supplied"),
			Borrowed:    bigOrZero(item, "borrowed"),
			SuppliedUSD: item.Get("suppliedUSD").String(),
			BorrowedUSD: item.Get("borrowedUSD").String(),
		})
	}
	return positions, nil
}

// ToDerivative 实现 adapter.Staker。
func (b *bound) ToDerivative(ctx context.Context, req adapter.StakeRequest) (*adapter.TxResult, error) {
	result, err := b.call(ctx, "swapToMeth", map[string]any{"amount": req.Amount.String(), "slippage": req.SlippagePercent})
	if err != nil {
		return nil, err
	}
	return txResult("swapToMeth", result)
}

// FromDerivative 实现 adapter.Staker。
func (b *bound) FromDerivative(ctx context.Context, req adapter.StakeRequest) (*adapter.TxResult, error) {
	result, err := b.call(ctx, "swapFromMeth", map[string]any{"amount": req.Amount.String(), "slippage": req.SlippagePercent})
	if err != nil {
		return nil, err
	}
	return txResult("swapFromMeth", result)
}

// Position 实现 adapter.Staker。
func (b *bound) Position(ctx context.Context, owner common.Address) (*adapter.StakePosition, error) {
	result, err := b.call(ctx, "methGetPosition", map[string]any{"user": owner.Hex()})
	if err != nil {
		return nil, err
	}
	return &adapter.StakePosition{
		Derivative:         bigOrZero(result, "methBalance"),
		Wrapped:            bigOrZero(result, "wethBalance"),
		WrappedNative:      bigOrZero(result, "wmntBalance"),
		DerivativeToken:    common.HexToAddress(result.Get("methTokenAddress").String()),
		WrappedToken:       common.HexToAddress(result.Get("wethTokenAddress").String()),
		WrappedNativeToken: common.HexToAddress(result.Get("wmntTokenAddress").String()),
	}, nil
}

// Price 实现 adapter.PriceOracle。
func (b *bound) Price(ctx context.Context, pairOrAddress string) (*adapter.Price, error) {
	result, err := b.call(ctx, "pythGetPrice", map[string]any{"input": pairOrAddress})
	if err != nil {
		return nil, err
	}
	return &adapter.Price{
		FeedID:      result.Get("priceFeedId").String(),
		Pair:        result.Get("pair").String(),
		Price:       result.Get("price").String(),
		Confidence:  result.Get("confidence").String(),
		Exponent:    int(result.Get("exponent").Int()),
		PublishTime: time.Unix(result.Get("publishTime").Int(), 0).UTC(),
		Formatted:   result.Get("formattedPrice").String(),
	}, nil
}

func tokenParam(t adapter.Token) string {
	if t.IsNative() {
		return adapter.NativeAlias.Hex()
	}
	return t.Address.Hex()
}

func txResult(method string, result gjson.Result) (*adapter.TxResult, error) {
	hash := result.Get("tx_hash").String()
	if hash == "" {
		hash = result.Get("txHash").String()
	}
	if len(strings.TrimPrefix(hash, "0x")) != 64 {
		return nil, fmt.Errorf("%s 未返回交易哈希", method)
	}
	res := &adapter.TxResult{Hash: common.HexToHash(hash)}
	if out, ok := parseBig(result, "out_amount", "outAmount"); ok {
		res.AmountOut = out
	}
	return res, nil
}

// parseBig 读取十进制字符串形式的大整数，依次尝试给定字段。
func parseBig(result gjson.Result, paths ...string) (*big.Int, bool) {
	for _, path := range paths {
		field := result.Get(path)
		if !field.Exists() {
			continue
		}
		value, ok := new(big.Int).SetString(strings.TrimSuffix(field.String(), "n"), 10)
		if ok {
			return value, true
		}
	}
	return nil, false
}

func bigOrZero(result gjson.Result, path string) *big.Int {
	if value, ok := parseBig(result, path); ok {
		return value
	}
	return new(big.Int)
}

func scrub(msg, secret string) string {
	if secret != "" {
		msg = strings.ReplaceAll(msg, secret, "[REDACTED]")
	}
	return hexSecret.ReplaceAllString(msg, "[REDACTED]")
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
