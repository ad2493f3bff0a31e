package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/snehendu098/rayfine/internal/adapter"
	"github.com/snehendu098/rayfine/internal/amount"
	"github.com/snehendu098/rayfine/internal/classifier"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/session"
	"github.com/snehendu098/rayfine/pkg/logger"
)

// SessionSource 提供当前会话，session.Manager 满足该接口。
type SessionSource interface {
	Current(ctx context.Context) (*session.Session, error)
}

// TokenResolver 解析资产，tokens.Registry 满足该接口。
type TokenResolver interface {
	Resolve(ctx context.Context, s *session.Session) []adapter.Token
	Lookup(ctx context.Context, s *session.Session, ref string) (adapter.Token, error)
}

// Observer 在每次操作结束后被调用，err 为 nil 表示成功。
type Observer interface {
	ActionFinished(kind Kind, net network.ID, elapsed time.Duration, err *xerrors.Error)
}

// DefaultDerivative 是流动性质押衍生品 mETH。
var DefaultDerivative = adapter.Token{
	Symbol:   "mETH",
	Name:     "mETH",
	Address:  common.HexToAddress("0xcDA86A272531e8640cD7F1a92c01839911B90bb0"),
	Decimals: 18,
}

// Orchestrator 按 校验 → 解析 → 换算 → 调用 → 确认 → 归一化 的流程执行每一个操作。
// 任何一步失败都不会自动重试。
type Orchestrator struct {
	sessions       SessionSource
	tokens         TokenResolver
	observers      []Observer
	derivative     adapter.Token
	confirmTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// Option 定义可选的 Orchestrator 配置。
type Option func(*Orchestrator)

// WithObserver 追加一个观察者。
func WithObserver(o Observer) Option {
	return func(orc *Orchestrator) {
		if o != nil {
			orc.observers = append(orc.observers, o)
		}
	}
}

// WithConfirmationTimeout 限制等待链上确认的时长，0 表示只受调用方 ctx 控制。
func WithConfirmationTimeout(d time.Duration) Option {
	return func(orc *Orchestrator) {
		if d > 0 {
			orc.confirmTimeout = d
		}
	}
}

// WithDerivative 设置质押衍生品资产。
func WithDerivative(t adapter.Token) Option {
	return func(orc *Orchestrator) {
		if t.Decimals > 0 {
			orc.derivative = t
		}
	}
}

// New 创建 Orchestrator。
func New(sessions SessionSource, tokens TokenResolver, opts ...Option) *Orchestrator {
	orc := &Orchestrator{
		sessions:   sessions,
		tokens:     tokens,
		derivative: DefaultDerivative,
		logger:     logger.Named("agent"),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(orc)
		}
	}
	return orc
}

// Execute 执行一次操作，成功时返回已确认的回执。失败时返回的错误一定是分类后的 *errors.Error。
func (o *Orchestrator) Execute(ctx context.Context, req ActionRequest) (*Receipt, error) {
	start := o.now()
	var netID network.ID
	receipt, err := o.execute(ctx, req, &netID)
	classified := classifier.Classify(err)

	for _, obs := range o.observers {
		obs.ActionFinished(req.Kind, netID, o.now().Sub(start), classified)
	}
	if classified != nil {
		o.logger.Warn("操作失败",
			slog.String("kind", string(req.Kind)),
			slog.String("network", string(netID)),
			slog.String("code", string(classified.Code())),
			slog.String("error", classified.Message()),
		)
		return nil, classified
	}
	o.logger.Info("操作已确认",
		slog.String("kind", string(req.Kind)),
		slog.String("network", string(netID)),
		slog.String("tx_hash", receipt.TxHash),
	)
	return receipt, nil
}

func (o *Orchestrator) execute(ctx context.Context, req ActionRequest, netID *network.ID) (*Receipt, error) {
	// 校验
	v, err := validate(req)
	if err != nil {
		return nil, err
	}

	s, err := o.sessions.Current(ctx)
	if err != nil {
		return nil, err
	}
	*netID = s.Profile().ID
	if req.Network != "" && req.Network != s.Profile().ID {
		msg := fmt.Sprintf("动作提交于 %s，当前网络为 %s，已拒绝执行", req.Network, s.Profile().ID)
		return nil, xerrors.New(xerrors.CodeValidation, msg, xerrors.WithField("network", msg))
	}
	if err := o.checkCapability(s, req.Kind); err != nil {
		return nil, err
	}

	// 解析
	p, err := o.resolve(ctx, s, req, v)
	if err != nil {
		return nil, err
	}

	// 换算
	p.value, err = amount.ToMinorUnits(req.Amount, p.in.Decimals)
	if err != nil {
		return nil, err
	}

	if req.Kind.Spends() {
		if err := o.preflight(ctx, s, p); err != nil {
			return nil, err
		}
	}

	// 调用
	result, err := o.invoke(ctx, s, p)
	if err != nil {
		return nil, err
	}

	// 确认
	receipt, err := o.confirm(ctx, s, result.Hash)
	if err != nil {
		return nil, err
	}
	return o.normalize(s, p, result, receipt), nil
}

func (o *Orchestrator) checkCapability(s *session.Session, kind Kind) error {
	set := s.Adapters()
	var ok bool
	switch kind {
	case KindSwap:
		ok = set.Swap != nil
	case KindSupply, KindWithdraw, KindBorrow, KindRepay:
		ok = set.Lend != nil
	case KindStake, KindUnstake:
		ok = set.Stake != nil
	case KindTransfer:
		ok = true
	}
	if !ok {
		return xerrors.New(xerrors.CodeResolution, "当前网络不支持该操作: "+string(kind),
			xerrors.WithMetadata("network", string(s.Profile().ID)))
	}
	return nil
}

func (o *Orchestrator) resolve(ctx context.Context, s *session.Session, req ActionRequest, v validated) (*plan, error) {
	p := &plan{req: req, slippage: v.slippage, rateMode: v.rateMode, to: v.to}
	native := adapter.NativeToken(s.Profile())

	switch req.Kind {
	case KindStake:
		p.in, p.out, p.hasOut = native, o.derivative, true
		return p, nil
	case KindUnstake:
		p.in, p.out, p.hasOut = o.derivative, native, true
		return p, nil
	case KindTransfer:
		if req.Token == "" {
			p.in = native
			return p, nil
		}
	}

	in, err := o.tokens.Lookup(ctx, s, req.Token)
	if err != nil {
		return nil, err
	}
	p.in = in
	if req.Kind == KindSwap {
		out, err := o.tokens.Lookup(ctx, s, req.TokenOut)
		if err != nil {
			return nil, err
		}
		if out.Address == in.Address {
			return nil, xerrors.Invalid(map[string]string{"token_out": "输入与输出资产不能相同"})
		}
		p.out, p.hasOut = out, true
	}
	return p, nil
}

func (o *Orchestrator) preflight(ctx context.Context, s *session.Session, p *plan) error {
	var (
		balance *big.Int
		err     error
	)
	if p.in.IsNative() {
		balance, err = s.Chain().NativeBalance(ctx, s.Address())
	} else {
		balance, err = s.Chain().TokenBalance(ctx, p.in.Address, s.Address())
	}
	if err != nil {
		return err
	}
	if p.value.Int().Cmp(balance) > 0 {
		have := humanAmount(balance, p.in.Decimals)
		return xerrors.New(xerrors.CodeInsufficientFunds,
			"余额不足: 当前 "+have+" "+p.in.Symbol+"，需要 "+amount.ToHumanString(p.value)+" "+p.in.Symbol,
			xerrors.WithMetadata("balance", have),
			xerrors.WithMetadata("symbol", p.in.Symbol),
		)
	}
	return nil
}

func (o *Orchestrator) invoke(ctx context.Context, s *session.Session, p *plan) (*adapter.TxResult, error) {
	set := s.Adapters()
	value := p.value.Int()
	var (
		result *adapter.TxResult
		err    error
	)
	switch p.req.Kind {
	case KindSwap:
		result, err = set.Swap.Swap(ctx, adapter.SwapRequest{In: p.in, Out: p.out, AmountIn: value, SlippagePercent: p.slippage})
	case KindSupply:
		result, err = set.Lend.Supply(ctx, adapter.LendRequest{Asset: p.in, Amount: value})
	case KindWithdraw:
		result, err = set.Lend.Withdraw(ctx, adapter.LendRequest{Asset: p.in, Amount: value})
	case KindBorrow:
		result, err = set.Lend.Borrow(ctx, adapter.LendRequest{Asset: p.in, Amount: value, RateMode: p.rateMode})
	case KindRepay:
		result, err = set.Lend.Repay(ctx, adapter.LendRequest{Asset: p.in, Amount: value, RateMode: p.rateMode})
	case KindStake:
		result, err = set.Stake.ToDerivative(ctx, adapter.StakeRequest{Amount: value, SlippagePercent: p.slippage})
	case KindUnstake:
		result, err = set.Stake.FromDerivative(ctx, adapter.StakeRequest{Amount: value, SlippagePercent: p.slippage})
	case KindTransfer:
		var token *common.Address
		if !p.in.IsNative() {
			addr := p.in.Address
			token = &addr
		}
		hash, err := s.Transfer(ctx, p.to, token, value)
		if err != nil {
			return nil, err
		}
		return &adapter.TxResult{Hash: hash}, nil
	}
	if err != nil {
		return nil, classifier.ClassifyAdapter(err)
	}
	if result == nil || result.Hash == (common.Hash{}) {
		return nil, xerrors.New(xerrors.CodeAdapter, "适配器未返回交易哈希")
	}
	return result, nil
}

// confirm 等待交易上链。调用方取消等待不会撤销已广播的交易。
func (o *Orchestrator) confirm(ctx context.Context, s *session.Session, hash common.Hash) (*coretypes.Receipt, error) {
	waitCtx := ctx
	if o.confirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.confirmTimeout)
		defer cancel()
	}
	explorer := s.Profile().TxURL(hash.Hex())
	receipt, err := s.Chain().WaitForReceipt(waitCtx, hash)
	if err != nil {
		// 广播之后的任何等待失败都必须带上交易哈希，避免用户重复提交。
		msg := "交易已广播且无法撤销，等待确认失败，请在浏览器中查看: " + explorer
		if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
			msg = "交易已广播且无法撤销，停止等待确认，请在浏览器中查看: " + explorer
		}
		return nil, xerrors.Wrap(xerrors.CodeConnectivity, err, msg,
			xerrors.WithMetadata("tx_hash", hash.Hex()),
			xerrors.WithMetadata("explorer_url", explorer),
			xerrors.WithMetadata("broadcast", "true"),
		)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return nil, xerrors.New(xerrors.CodeAdapter, "交易执行失败 (reverted): "+hash.Hex(),
			xerrors.WithMetadata("tx_hash", hash.Hex()),
			xerrors.WithMetadata("explorer_url", explorer),
		)
	}
	return receipt, nil
}

func (o *Orchestrator) normalize(s *session.Session, p *plan, result *adapter.TxResult, receipt *coretypes.Receipt) *Receipt {
	r := &Receipt{
		TxHash:      result.Hash.Hex(),
		ExplorerURL: s.Profile().TxURL(result.Hash.Hex()),
		Kind:        p.req.Kind,
		Network:     s.Profile().ID,
		ChainID:     s.Profile().ChainID,
		From:        s.Address().Hex(),
		GasUsed:     receipt.GasUsed,
		AmountIn:    amount.ToHumanString(p.value),
		SymbolIn:    p.in.Symbol,
		ConfirmedAt: o.now().UTC(),
	}
	if receipt.BlockNumber != nil {
		r.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if p.hasOut {
		r.SymbolOut = p.out.Symbol
		if result.AmountOut != nil {
			r.AmountOut = humanAmount(result.AmountOut, p.out.Decimals)
		}
	}
	return r
}
