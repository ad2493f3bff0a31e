package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snehendu098/rayfine/internal/agent"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
)

type actionDef struct {
	kind     agent.Kind
	use      string
	short    string
	args     int
	slippage bool
	rateMode bool
	token    bool
	build    func(args []string) agent.ActionRequest
}

var actionDefs = []actionDef{
	{
		kind: agent.KindSwap, use: "swap <amount> <token> <token_out>", short: "Swap one token for another", args: 3, slippage: true,
		build: func(args []string) agent.ActionRequest {
			return agent.ActionRequest{Amount: args[0], Token: args[1], TokenOut: args[2]}
		},
	},
	{
		kind: agent.KindSupply, use: "supply <amount> <token>", short: "Supply collateral to the lending pool", args: 2,
		build: func(args []string) agent.ActionRequest { return agent.ActionRequest{Amount: args[0], Token: args[1]} },
	},
	{
		kind: agent.KindWithdraw, use: "withdraw <amount> <token>", short: "Withdraw supplied collateral", args: 2,
		build: func(args []string) agent.ActionRequest { return agent.ActionRequest{Amount: args[0], Token: args[1]} },
	},
	{
		kind: agent.KindBorrow, use: "borrow <amount> <token>", short: "Borrow against supplied collateral", args: 2, rateMode: true,
		build: func(args []string) agent.ActionRequest { return agent.ActionRequest{Amount: args[0], Token: args[1]} },
	},
	{
		kind: agent.KindRepay, use: "repay <amount> <token>", short: "Repay borrowed debt", args: 2, rateMode: true,
		build: func(args []string) agent.ActionRequest { return agent.ActionRequest{Amount: args[0], Token: args[1]} },
	},
	{
		kind: agent.KindStake, use: "stake <amount>", short: "Stake the native token for its liquid derivative", args: 1, slippage: true,
		build: func(args []string) agent.ActionRequest { return agent.ActionRequest{Amount: args[0]} },
	},
	{
		kind: agent.KindUnstake, use: "unstake <amount>", short: "Swap the liquid derivative back to the native token", args: 1, slippage: true,
		build: func(args []string) agent.ActionRequest { return agent.ActionRequest{Amount: args[0]} },
	},
	{
		kind: agent.KindTransfer, use: "send <amount> <to>", short: "Send the native token or an ERC-20 (--token)", args: 2, token: true,
		build: func(args []string) agent.ActionRequest { return agent.ActionRequest{Amount: args[0], To: args[1]} },
	},
}

func (a *app) actionCommands() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(actionDefs))
	for _, def := range actionDefs {
		cmds = append(cmds, a.actionCommand(def))
	}
	return cmds
}

func (a *app) actionCommand(def actionDef) *cobra.Command {
	var (
		slippage string
		rateMode string
		token    string
	)
	cmd := &cobra.Command{
		Use:   def.use,
		Short: def.short,
		Args:  cobra.ExactArgs(def.args),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := def.build(args)
			req.Kind = def.kind
			req.Slippage = slippage
			if def.token {
				req.Token = token
			}
			if def.rateMode {
				mode, err := parseRateMode(rateMode)
				if err != nil {
					return err
				}
				req.RateMode = mode
			}
			if err := agent.Validate(req); err != nil {
				return err
			}
			return a.execute(cmd, req)
		},
	}
	if def.slippage {
		cmd.Flags().StringVar(&slippage, "slippage", "", "Max slippage percent (default 0.5)")
	}
	if def.rateMode {
		cmd.Flags().StringVar(&rateMode, "rate-mode", "variable", "Interest rate mode: stable or variable")
	}
	if def.token {
		cmd.Flags().StringVar(&token, "token", "", "ERC-20 symbol or address (native token when empty)")
	}
	return cmd
}

func parseRateMode(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "variable", "2":
		return 2, nil
	case "stable", "1":
		return 1, nil
	}
	return 0, xerrors.New(xerrors.CodeValidation, "未知的利率模式: "+s, xerrors.WithField("rate_mode", "必须为 stable 或 variable"))
}

// execute 在主网支出前要求确认，然后同步执行并等待链上确认。
func (a *app) execute(cmd *cobra.Command, req agent.ActionRequest) error {
	ctx := cmd.Context()
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	profile, err := rt.selector.Current(ctx)
	if err != nil {
		return err
	}
	if profile.IsProduction() && req.Kind.Spends() {
		ok, err := a.confirm(fmt.Sprintf("将在 %s 上执行 %s %s，花费真实资产，继续？", profile.Name, req.Kind, req.Amount))
		if err != nil {
			return err
		}
		if !ok {
			return errCancelled
		}
	}

	req.Network = profile.ID
	fmt.Fprintf(a.stderr, "正在提交 %s，等待链上确认...\n", req.Kind)
	receipt, err := rt.orchestrator.Execute(ctx, req)
	if err != nil {
		return err
	}
	return a.emit(receipt, func(w io.Writer) {
		fmt.Fprintf(w, "已确认: %s %s %s", receipt.Kind, receipt.AmountIn, receipt.SymbolIn)
		if receipt.AmountOut != "" {
			fmt.Fprintf(w, " -> %s %s", receipt.AmountOut, receipt.SymbolOut)
		}
		fmt.Fprintf(w, "\n区块:   %d\nGas:    %d\n交易:   %s\n浏览器: %s\n", receipt.BlockNumber, receipt.GasUsed, receipt.TxHash, receipt.ExplorerURL)
	})
}
