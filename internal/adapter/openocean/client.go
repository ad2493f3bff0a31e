package openocean

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/tidwall/gjson"

	"github.com/snehendu098/rayfine/internal/adapter"
	"github.com/snehendu098/rayfine/internal/amount"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/web3"
)

const (
	defaultBaseURL = "https://open-api.openocean.finance/v3"
	defaultTimeout = 30 * time.Second
)

// ChainSource 按网络配置提供链客户端，provider.Registry 满足该接口。
type ChainSource interface {
	Client(ctx context.Context, profile network.Profile) (web3.Client, error)
}

// Config 描述 OpenOcean 聚合器 API 的访问方式。
type Config struct {
	BaseURL    string
	ChainCodes map[network.ID]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Factory 基于 OpenOcean HTTP API 提供资产列表、报价与兑换。
// 兑换交易由本地签名后通过链客户端广播。
type Factory struct {
	baseURL    string
	chains     map[network.ID]string
	httpClient *http.Client
	source     ChainSource
}

var _ adapter.Factory = (*Factory)(nil)

// NewFactory 创建工厂。
func NewFactory(cfg Config, source ChainSource) (*Factory, error) {
	if source == nil {
		return nil, errors.New("未提供链客户端来源")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	chains := cfg.ChainCodes
	if len(chains) == 0 {
		chains = map[network.ID]string{network.Production: "mantle"}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Factory{baseURL: baseURL, chains: chains, httpClient: httpClient, source: source}, nil
}

// Bind 实现 adapter.Factory。聚合器不支持的网络返回空能力集合。
func (f *Factory) Bind(ctx context.Context, binding adapter.Binding) (*adapter.Set, error) {
	chain, ok := f.chains[binding.Profile.ID]
	if !ok {
		return &adapter.Set{}, nil
	}
	client, err := f.source.Client(ctx, binding.Profile)
	if err != nil {
		return nil, err
	}
	c := &bound{factory: f, chain: chain, key: binding.Key, owner: binding.Address, client: client}
	return &adapter.Set{Tokens: c, Swap: c}, nil
}

type bound struct {
	factory *Factory
	chain   string
	key     *ecdsa.PrivateKey
	owner   common.Address
	client  web3.Client
}

func (b *bound) get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	endpoint := b.factory.baseURL + "/" + b.chain + "/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("构建 OpenOcean 请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.factory.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("请求 OpenOcean 失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("读取 OpenOcean 响应失败: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return gjson.Result{}, fmt.Errorf("OpenOcean 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errors.New("OpenOcean 响应不是有效的 JSON")
	}
	parsed := gjson.ParseBytes(body)
	if code := parsed.Get("code"); code.Exists() && code.Int() != http.StatusOK {
		msg := parsed.Get("error").String()
		if msg == "" {
			msg = parsed.Get("errorMsg").String()
		}
		return gjson.Result{}, fmt.Errorf("OpenOcean %s 失败 (code %d): %s", path, code.Int(), msg)
	}
	return parsed.Get("data"), nil
}

// Tokens 实现 adapter.TokenLister。
func (b *bound) Tokens(ctx context.Context) ([]adapter.Token, error) {
	data, err := b.get(ctx, "tokenList", nil)
	if err != nil {
		return nil, err
	}
	var tokens []adapter.Token
	data.ForEach(func(_, item gjson.Result) bool {
		address := item.Get("address").String()
		if common.IsHexAddress(address) {
			tokens = append(tokens, adapter.Token{
				Symbol:   item.Get("symbol").String(),
				Name:     item.Get("name").String(),
				Address:  common.HexToAddress(address),
				Decimals: uint8(item.Get("decimals").Uint()),
			})
		}
		return true
	})
	return tokens, nil
}

func (b *bound) swapQuery(ctx context.Context, req adapter.SwapRequest) (url.Values, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, errors.New("兑换数量必须为正数")
	}
	gasPrice, err := b.client.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("inTokenAddress", tokenAddress(req.In))
	query.Set("outTokenAddress", tokenAddress(req.Out))
	query.Set("amount", amount.Exact(amount.Minor{Value: req.AmountIn, Decimals: req.In.Decimals}))
	query.Set("gasPrice", amount.Exact(amount.Minor{Value: gasPrice, Decimals: 9}))
	slippage := req.SlippagePercent
	if slippage <= 0 {
		slippage = amount.DefaultSlippage
	}
	query.Set("slippage", strconv.FormatFloat(slippage, 'f', -1, 64))
	return query, nil
}

// Quote 实现 adapter.Swapper。
func (b *bound) Quote(ctx context.Context, req adapter.SwapRequest) (*adapter.Quote, error) {
	query, err := b.swapQuery(ctx, req)
	if err != nil {
		return nil, err
	}
	data, err := b.get(ctx, "quote", query)
	if err != nil {
		return nil, err
	}
	out, ok := new(big.Int).SetString(data.Get("outAmount").String(), 10)
	if !ok {
		return nil, errors.New("OpenOcean 报价缺少 outAmount")
	}
	return &adapter.Quote{
		In:          req.In,
		Out:         req.Out,
		AmountIn:    new(big.Int).Set(req.AmountIn),
		AmountOut:   out,
		PriceImpact: data.Get("price_impact").String(),
	}, nil
}

// Swap 实现 adapter.Swapper。ERC-20 输入在额度不足时先发送授权交易并等待确认。
func (b *bound) Swap(ctx context.Context, req adapter.SwapRequest) (*adapter.TxResult, error) {
	if b.key == nil {
		return nil, errors.New("未提供签名私钥")
	}
	query, err := b.swapQuery(ctx, req)
	if err != nil {
		return nil, err
	}
	query.Set("account", b.owner.Hex())
	data, err := b.get(ctx, "swap_quote", query)
	if err != nil {
		return nil, err
	}

	to := data.Get("to").String()
	if !common.IsHexAddress(to) {
		return nil, errors.New("OpenOcean 未返回路由合约地址")
	}
	spender := common.HexToAddress(to)
	calldata, err := hexutil.Decode(data.Get("data").String())
	if err != nil {
		return nil, fmt.Errorf("OpenOcean 返回了无效的交易数据: %w", err)
	}
	value := new(big.Int)
	if raw := data.Get("value").String(); raw != "" {
		if _, ok := value.SetString(raw, 0); !ok {
			return nil, fmt.Errorf("OpenOcean 返回了无效的 value: %s", raw)
		}
	}

	if !req.In.IsNative() {
		if err := b.ensureAllowance(ctx, req.In.Address, spender, req.AmountIn); err != nil {
			return nil, err
		}
	}

	var gas uint64
	if est := data.Get("estimatedGas").Uint(); est > 0 {
		gas = est * 12 / 10
	}
	hash, err := b.client.Send(ctx, b.key, web3.TxRequest{To: spender, Value: value, Data: calldata, Gas: gas})
	if err != nil {
		return nil, err
	}
	res := &adapter.TxResult{Hash: hash}
	if out, ok := new(big.Int).SetString(data.Get("outAmount").String(), 10); ok {
		res.AmountOut = out
	}
	return res, nil
}

func (b *bound) ensureAllowance(ctx context.Context, token, spender common.Address, needed *big.Int) error {
	current, err := b.client.Allowance(ctx, token, b.owner, spender)
	if err != nil {
		return err
	}
	if current.Cmp(needed) >= 0 {
		return nil
	}
	hash, err := b.client.Approve(ctx, b.key, token, spender, needed)
	if err != nil {
		return err
	}
	receipt, err := b.client.WaitForReceipt(ctx, hash)
	if err != nil {
		return err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return fmt.Errorf("授权交易 %s 执行失败 (reverted)", hash.Hex())
	}
	return nil
}

func tokenAddress(t adapter.Token) string {
	if t.IsNative() {
		return adapter.NativeAlias.Hex()
	}
	return t.Address.Hex()
}
