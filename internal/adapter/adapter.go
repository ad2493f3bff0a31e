package adapter

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/snehendu098/rayfine/internal/network"
)

// NativeAddress 是原生资产的保留地址。
var NativeAddress = common.Address{}

// NativeAlias 是部分聚合器用来表示原生资产的地址。
var NativeAlias = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// IsNativeAddress 判断地址是否表示原生资产。
func IsNativeAddress(addr common.Address) bool {
	return addr == NativeAddress || addr == NativeAlias
}

// Token 描述一个可交易资产。
type Token struct {
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
}

// IsNative 判断是否为原生资产。
func (t Token) IsNative() bool { return IsNativeAddress(t.Address) }

// NativeToken 根据网络配置构造原生资产描述。
func NativeToken(profile network.Profile) Token {
	decimals := profile.NativeDecimals
	if decimals == 0 {
		decimals = 18
	}
	return Token{
		Symbol:   profile.NativeSymbol,
		Name:     profile.NativeName,
		Address:  NativeAddress,
		Decimals: decimals,
	}
}

// MatchesSymbol 大小写不敏感地比较符号。
func (t Token) MatchesSymbol(symbol string) bool {
	return strings.EqualFold(strings.TrimSpace(symbol), t.Symbol)
}

// RateMode 是借贷利率模式。
type RateMode uint8

const (
	RateStable   RateMode = 1
	RateVariable RateMode = 2
)

// Valid 判断利率模式是否合法。
func (m RateMode) Valid() bool { return m == RateStable || m == RateVariable }

// TxResult 是写操作返回的交易标识。AmountOut 仅在适配器能给出时存在。
type TxResult struct {
	Hash      common.Hash
	AmountOut *big.Int
}

// SwapRequest 描述一次兑换。AmountIn 为最小单位。
type SwapRequest struct {
	In              Token
	Out             Token
	AmountIn        *big.Int
	SlippagePercent float64
}

// Quote 是兑换报价。
type Quote struct {
	In          Token
	Out         Token
	AmountIn    *big.Int
	AmountOut   *big.Int
	PriceImpact string
}

// LendRequest 描述借贷池操作。
type LendRequest struct {
	Asset      Token
	Amount     *big.Int
	RateMode   RateMode
	OnBehalfOf *common.Address
}

// AccountSummary 是借贷账户概览，数值为协议基础单位。
type AccountSummary struct {
	TotalCollateral      *big.Int `json:"total_collateral"`
	TotalDebt            *big.Int `json:"total_debt"`
	AvailableBorrows     *big.Int `json:"available_borrows"`
	LiquidationThreshold *big.Int `json:"liquidation_threshold"`
	LTV                  *big.Int `json:"ltv"`
	HealthFactor         *big.Int `json:"health_factor"`
}

// Position 是单个资产的借贷头寸。
type Position struct {
	Asset       common.Address `json:"asset"`
	Symbol      string         `json:"symbol"`
	Supplied    *big.Int       `json:"supplied"`
	Borrowed    *big.Int       `json:"borrowed"`
	SuppliedUSD string         `json:"supplied_usd,omitempty"`
	BorrowedUSD string         `json:"borrowed_usd,omitempty"`
}

// Positions 汇总所有借贷头寸。
type Positions struct {
	Positions     []Position `json:"positions"`
	TotalSupplied *big.Int   `json:"total_supplied"`
	TotalDebt     *big.Int   `json:"total_debt"`
}

// StakeRequest 描述流动性质押兑换。
type StakeRequest struct {
	Amount          *big.Int
	SlippagePercent float64
}

// StakePosition 是质押相关资产余额。
type StakePosition struct {
	Derivative         *big.Int       `json:"derivative"`
	Wrapped            *big.Int       `json:"wrapped"`
	WrappedNative      *big.Int       `json:"wrapped_native"`
	DerivativeToken    common.Address `json:"derivative_token"`
	WrappedToken       common.Address `json:"wrapped_token"`
	WrappedNativeToken common.Address `json:"wrapped_native_token"`
}

// Price 是预言机报价。
type Price struct {
	FeedID      string    `json:"feed_id"`
	Pair        string    `json:"pair"`
	Price       string    `json:"price"`
	Confidence  string    `json:"confidence"`
	Exponent    int       `json:"exponent"`
	PublishTime time.Time `json:"publish_time"`
	Formatted   string    `json:"formatted"`
}

// TokenLister 列出适配器支持的资产。
type TokenLister interface {
	Tokens(ctx context.Context) ([]Token, error)
}

// Swapper 提供报价与兑换。
type Swapper interface {
	Quote(ctx context.Context, req SwapRequest) (*Quote, error)
	Swap(ctx context.Context, req SwapRequest) (*TxResult, error)
}

// Lender 提供借贷池操作。
type Lender interface {
	Supply(ctx context.Context, req LendRequest) (*TxResult, error)
	Withdraw(ctx context.Context, req LendRequest) (*TxResult, error)
	Borrow(ctx context.Context, req LendRequest) (*TxResult, error)
	Repay(ctx context.Context, req LendRequest) (*TxResult, error)
	AccountSummary(ctx context.Context, owner common.Address) (*AccountSummary, error)
	Positions(ctx context.Context, owner common.Address) (*Positions, error)
}

// Staker 提供原生资产与流动性质押衍生品之间的兑换。
type Staker interface {
	ToDerivative(ctx context.Context, req StakeRequest) (*TxResult, error)
	FromDerivative(ctx context.Context, req StakeRequest) (*TxResult, error)
	Position(ctx context.Context, owner common.Address) (*StakePosition, error)
}

// PriceOracle 按交易对或资产地址查询价格。
type PriceOracle interface {
	Price(ctx context.Context, pairOrAddress string) (*Price, error)
}

// Set 是绑定到某个会话的能力集合，未提供的能力为 nil。
type Set struct {
	Tokens TokenLister
	Swap   Swapper
	Lend   Lender
	Stake  Staker
	Oracle PriceOracle
}

// Binding 是适配器绑定所需的身份信息。
type Binding struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
	Profile network.Profile
}

// Factory 为一个 (私钥, 网络) 组合构造能力集合。实现必须是可比较的类型。
type Factory interface {
	Bind(ctx context.Context, binding Binding) (*Set, error)
}
