package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/snehendu098/rayfine/internal/network"
)

func (a *app) networkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Show or switch the active network",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the active network profile",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				rt, err := a.runtime(cmd.Context())
				if err != nil {
					return err
				}
				profile, err := rt.selector.Current(cmd.Context())
				if err != nil {
					return err
				}
				return a.emit(profile, printProfile(profile))
			},
		},
		&cobra.Command{
			Use:   "use <mainnet|testnet>",
			Short: "Switch the active network",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := network.ParseID(args[0])
				if err != nil {
					return err
				}
				rt, err := a.runtime(cmd.Context())
				if err != nil {
					return err
				}
				profile, err := rt.selector.Select(cmd.Context(), id)
				if err != nil {
					return err
				}
				return a.emit(profile, printProfile(profile))
			},
		},
	)
	return cmd
}

func printProfile(p network.Profile) func(io.Writer) {
	return func(w io.Writer) {
		fmt.Fprintf(w, "网络:   %s (%s)\n链 ID:  %d\nRPC:    %s\n浏览器: %s\n原生币: %s\n", p.Name, p.ID, p.ChainID, p.RPCURL, p.ExplorerURL, p.NativeSymbol)
		if p.IsProduction() {
			fmt.Fprintln(w, "注意: 主网交易将花费真实资产")
		}
	}
}
