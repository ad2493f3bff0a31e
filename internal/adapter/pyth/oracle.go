package pyth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"

	"github.com/snehendu098/rayfine/internal/adapter"
	"github.com/snehendu098/rayfine/internal/amount"
)

const (
	defaultEndpoint = "https://hermes.pyth.network"
	defaultTimeout  = 15 * time.Second
)

// METHAddress 是 mETH 代币地址，输入 "METH" 时按该地址查询。
var METHAddress = common.HexToAddress("0xcDA86A272531e8640cD7F1a92c01839911B90bb0")

var feedIDPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// DefaultFeeds 是内置的交易对到 Pyth 价格源 ID 的映射。
func DefaultFeeds() map[string]string {
	return map[string]string{
		"BTC/USD":  "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
		"ETH/USD":  "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
		"MNT/USD":  "0x4e3037c822d852d79af3ac80e35eb420ee3b870dca49f9344a38ef4773fb0585",
		"USDC/USD": "0xeaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a",
		"USDT/USD": "0x2b89b9dc8fdf9f34709a5b106b472f0f39bb6ca9ce04b0fd7f2e971688e2e53b",
	}
}

// Config 描述 Hermes 服务与价格源映射。
type Config struct {
	Endpoint string
	// Feeds 以交易对（如 ETH/USD）为键。
	Feeds map[string]string
	// Assets 把代币地址映射到交易对。
	Assets     map[common.Address]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Oracle 通过 Pyth Hermes 查询最新价格，不需要私钥。
type Oracle struct {
	endpoint   string
	feeds      map[string]string
	assets     map[common.Address]string
	httpClient *http.Client
}

var (
	_ adapter.Factory     = (*Oracle)(nil)
	_ adapter.PriceOracle = (*Oracle)(nil)
)

// New 创建预言机客户端。
func New(cfg Config) *Oracle {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	feeds := DefaultFeeds()
	for pair, id := range cfg.Feeds {
		feeds[normalizePair(pair)] = id
	}
	assets := map[common.Address]string{METHAddress: "METH/USD"}
	for addr, pair := range cfg.Assets {
		assets[addr] = normalizePair(pair)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Oracle{endpoint: endpoint, feeds: feeds, assets: assets, httpClient: httpClient}
}

// Bind 实现 adapter.Factory。
func (o *Oracle) Bind(context.Context, adapter.Binding) (*adapter.Set, error) {
	return &adapter.Set{Oracle: o}, nil
}

// Resolve 把交易对、代币地址、METH 别名或原始价格源 ID 解析为 (交易对, 价格源 ID)。
func (o *Oracle) Resolve(input string) (string, string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", "", errors.New("price feed not found: 输入为空")
	}
	if strings.EqualFold(input, "METH") {
		input = METHAddress.Hex()
	}
	if feedIDPattern.MatchString(input) {
		return input, strings.ToLower(input), nil
	}
	pair := normalizePair(input)
	if common.IsHexAddress(input) {
		mapped, ok := o.assets[common.HexToAddress(input)]
		if !ok {
			return "", "", fmt.Errorf("price feed not found: 未配置代币 %s 的价格源", input)
		}
		pair = mapped
	}
	id, ok := o.feeds[pair]
	if !ok {
		return "", "", fmt.Errorf("price feed not found: %s", pair)
	}
	return pair, id, nil
}

// Price 实现 adapter.PriceOracle。
func (o *Oracle) Price(ctx context.Context, pairOrAddress string) (*adapter.Price, error) {
	pair, id, err := o.Resolve(pairOrAddress)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Add("ids[]", id)
	query.Set("parsed", "true")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/v2/updates/price/latest?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("构建 Pyth 请求失败: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 Pyth 失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("读取 Pyth 响应失败: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("price feed not found: %s", pair)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("Pyth 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	entry := gjson.GetBytes(body, "parsed.0")
	if !entry.Exists() {
		return nil, fmt.Errorf("price feed not found: %s", pair)
	}

	raw := entry.Get("price.price").String()
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("Pyth 返回了无效的价格: %q", raw)
	}
	expo := int(entry.Get("price.expo").Int())
	return &adapter.Price{
		FeedID:      "0x" + strings.TrimPrefix(entry.Get("id").String(), "0x"),
		Pair:        pair,
		Price:       raw,
		Confidence:  entry.Get("price.conf").String(),
		Exponent:    expo,
		PublishTime: time.Unix(entry.Get("price.publish_time").Int(), 0).UTC(),
		Formatted:   formatPrice(value, expo),
	}, nil
}

func formatPrice(value *big.Int, expo int) string {
	if expo >= 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(expo)), nil)
		return new(big.Int).Mul(value, scale).String()
	}
	if -expo > amount.MaxDecimals {
		return value.String()
	}
	return amount.Exact(amount.Minor{Value: value, Decimals: uint8(-expo)})
}

func normalizePair(pair string) string {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if !strings.Contains(pair, "/") && !strings.HasPrefix(pair, "0X") {
		pair += "/USD"
	}
	return pair
}
