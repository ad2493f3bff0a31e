package agent

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/snehendu098/rayfine/internal/adapter"
	"github.com/snehendu098/rayfine/internal/amount"
	"github.com/snehendu098/rayfine/internal/classifier"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/session"
)

const balanceWorkers = 8

// QuoteRequest 是报价请求。
type QuoteRequest struct {
	Token    string `json:"token"`
	TokenOut string `json:"token_out"`
	Amount   string `json:"amount"`
}

// QuoteResult 是归一化后的报价。
type QuoteResult struct {
	AmountIn    string `json:"amount_in"`
	SymbolIn    string `json:"symbol_in"`
	AmountOut   string `json:"amount_out"`
	SymbolOut   string `json:"symbol_out"`
	PriceImpact string `json:"price_impact,omitempty"`
}

// Balance 是单个资产的余额。
type Balance struct {
	Token  adapter.Token `json:"token"`
	Amount string        `json:"amount"`
	Raw    *big.Int      `json:"raw"`
}

// Quote 查询兑换报价，不发送交易。
func (o *Orchestrator) Quote(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	if err := Validate(ActionRequest{Kind: KindSwap, Amount: req.Amount, Token: req.Token, TokenOut: req.TokenOut}); err != nil {
		return nil, err
	}
	s, err := o.sessions.Current(ctx)
	if err != nil {
		return nil, classifier.Classify(err)
	}
	if err := o.checkCapability(s, KindSwap); err != nil {
		return nil, err
	}
	in, err := o.tokens.Lookup(ctx, s, req.Token)
	if err != nil {
		return nil, classifier.Classify(err)
	}
	out, err := o.tokens.Lookup(ctx, s, req.TokenOut)
	if err != nil {
		return nil, classifier.Classify(err)
	}
	value, err := amount.ToMinorUnits(req.Amount, in.Decimals)
	if err != nil {
		return nil, err
	}
	quote, err := s.Adapters().Swap.Quote(ctx, adapter.SwapRequest{In: in, Out: out, AmountIn: value.Int()})
	if err != nil {
		return nil, classifier.ClassifyAdapter(err)
	}
	return &QuoteResult{
		AmountIn:    amount.ToHumanString(value),
		SymbolIn:    in.Symbol,
		AmountOut:   humanAmount(quote.AmountOut, out.Decimals),
		SymbolOut:   out.Symbol,
		PriceImpact: quote.PriceImpact,
	}, nil
}

// Price 查询预言机价格。
func (o *Orchestrator) Price(ctx context.Context, pairOrAddress string) (*adapter.Price, error) {
	if strings.TrimSpace(pairOrAddress) == "" {
		return nil, xerrors.Invalid(map[string]string{"pair": "请输入交易对或代币地址"})
	}
	s, err := o.sessions.Current(ctx)
	if err != nil {
		return nil, classifier.Classify(err)
	}
	oracle := s.Adapters().Oracle
	if oracle == nil {
		return nil, xerrors.New(xerrors.CodeResolution, "当前网络没有可用的价格预言机")
	}
	price, err := oracle.Price(ctx, pairOrAddress)
	if err != nil {
		return nil, classifier.ClassifyAdapter(err)
	}
	return price, nil
}

// AccountSummary 查询借贷账户概览。
func (o *Orchestrator) AccountSummary(ctx context.Context) (*adapter.AccountSummary, error) {
	s, lender, err := o.lender(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := lender.AccountSummary(ctx, s.Address())
	if err != nil {
		return nil, classifier.ClassifyAdapter(err)
	}
	return summary, nil
}

// Positions 查询借贷头寸。
func (o *Orchestrator) Positions(ctx context.Context) (*adapter.Positions, error) {
	s, lender, err := o.lender(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := lender.Positions(ctx, s.Address())
	if err != nil {
		return nil, classifier.ClassifyAdapter(err)
	}
	return positions, nil
}

// StakePosition 查询质押相关余额。
func (o *Orchestrator) StakePosition(ctx context.Context) (*adapter.StakePosition, error) {
	s, err := o.sessions.Current(ctx)
	if err != nil {
		return nil, classifier.Classify(err)
	}
	if err := o.checkCapability(s, KindStake); err != nil {
		return nil, err
	}
	position, err := s.Adapters().Stake.Position(ctx, s.Address())
	if err != nil {
		return nil, classifier.ClassifyAdapter(err)
	}
	return position, nil
}

// Tokens 返回当前会话的资产列表。
func (o *Orchestrator) Tokens(ctx context.Context) ([]adapter.Token, error) {
	s, err := o.sessions.Current(ctx)
	if err != nil {
		return nil, classifier.Classify(err)
	}
	return o.tokens.Resolve(ctx, s), nil
}

// Balances 返回原生资产余额以及所有非零的代币余额。单个代币读取失败时跳过。
func (o *Orchestrator) Balances(ctx context.Context) ([]Balance, error) {
	s, err := o.sessions.Current(ctx)
	if err != nil {
		return nil, classifier.Classify(err)
	}
	list := o.tokens.Resolve(ctx, s)

	nativeBalance, err := s.Chain().NativeBalance(ctx, s.Address())
	if err != nil {
		return nil, classifier.Classify(err)
	}
	balances := []Balance{newBalance(list[0], nativeBalance)}

	found := make([]*Balance, len(list))
	sem := make(chan struct{}, balanceWorkers)
	var wg sync.WaitGroup
	for i, token := range list[1:] {
		wg.Add(1)
		go func(i int, token adapter.Token) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			raw, err := s.Chain().TokenBalance(ctx, token.Address, s.Address())
			if err != nil {
				o.logger.Debug("读取代币余额失败", slog.String("token", token.Address.Hex()), slog.String("error", err.Error()))
				return
			}
			if raw.Sign() > 0 {
				b := newBalance(token, raw)
				found[i] = &b
			}
		}(i+1, token)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, classifier.Classify(err)
	}
	for _, b := range found {
		if b != nil {
			balances = append(balances, *b)
		}
	}
	return balances, nil
}

func (o *Orchestrator) lender(ctx context.Context) (*session.Session, adapter.Lender, error) {
	s, err := o.sessions.Current(ctx)
	if err != nil {
		return nil, nil, classifier.Classify(err)
	}
	if err := o.checkCapability(s, KindSupply); err != nil {
		return nil, nil, err
	}
	return s, s.Adapters().Lend, nil
}

func newBalance(token adapter.Token, raw *big.Int) Balance {
	return Balance{Token: token, Amount: humanAmount(raw, token.Decimals), Raw: raw}
}
