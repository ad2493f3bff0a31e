package main

import (
	"fmt"
	"io"
	"math/big"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/snehendu098/rayfine/internal/agent"
)

func (a *app) tokensCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tokens",
		Short: "List tokens supported on the active network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			list, err := rt.orchestrator.Tokens(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(list, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SYMBOL\tNAME\tDECIMALS\tADDRESS")
				for _, t := range list {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.Symbol, t.Name, t.Decimals, t.Address.Hex())
				}
				_ = tw.Flush()
			})
		},
	}
}

func (a *app) balancesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Show balances for all known tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			list, err := rt.orchestrator.Balances(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(list, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SYMBOL\tBALANCE")
				for _, b := range list {
					fmt.Fprintf(tw, "%s\t%s\n", b.Token.Symbol, b.Amount)
				}
				_ = tw.Flush()
			})
		},
	}
}

func (a *app) priceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "price <pair|token address>",
		Short: "Read an oracle price, e.g. MNT/USD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			price, err := rt.orchestrator.Price(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(price, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s（发布时间 %s）\n", price.Pair, price.Formatted, price.PublishTime.Format("2006-01-02 15:04:05"))
			})
		},
	}
}

func (a *app) quoteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "quote <amount> <token> <token_out>",
		Short: "Quote a swap without sending a transaction",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			quote, err := rt.orchestrator.Quote(cmd.Context(), agent.QuoteRequest{Amount: args[0], Token: args[1], TokenOut: args[2]})
			if err != nil {
				return err
			}
			return a.emit(quote, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s -> %s %s\n", quote.AmountIn, quote.SymbolIn, quote.AmountOut, quote.SymbolOut)
				if quote.PriceImpact != "" {
					fmt.Fprintf(w, "价格影响: %s%%\n", quote.PriceImpact)
				}
			})
		},
	}
}

func (a *app) positionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show lending positions per asset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			positions, err := rt.orchestrator.Positions(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(positions, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SYMBOL\tSUPPLIED\tBORROWED")
				for _, p := range positions.Positions {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Symbol, bigString(p.Supplied), bigString(p.Borrowed))
				}
				_ = tw.Flush()
			})
		},
	}
}

func (a *app) accountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show the lending account summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := rt.orchestrator.AccountSummary(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(summary, func(w io.Writer) {
				fmt.Fprintf(w, "抵押总额: %s\n负债总额: %s\n可借额度: %s\n清算阈值: %s\nLTV:      %s\n健康因子: %s\n",
					bigString(summary.TotalCollateral), bigString(summary.TotalDebt), bigString(summary.AvailableBorrows),
					bigString(summary.LiquidationThreshold), bigString(summary.LTV), bigString(summary.HealthFactor))
			})
		},
	}
}

func (a *app) stakePositionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stake-position",
		Short: "Show liquid staking balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			pos, err := rt.orchestrator.StakePosition(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(pos, func(w io.Writer) {
				fmt.Fprintf(w, "衍生资产: %s\n包装资产: %s\n包装原生: %s\n", bigString(pos.Derivative), bigString(pos.Wrapped), bigString(pos.WrappedNative))
			})
		},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return v.String()
}
