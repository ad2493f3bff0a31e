package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/vault"
)

type walletStatus struct {
	Connected   bool   `json:"connected"`
	Address     string `json:"address,omitempty"`
	GateEnabled bool   `json:"gate_enabled"`
	Network     string `json:"network"`
	ExplorerURL string `json:"explorer_url,omitempty"`
}

func (a *app) walletCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the local signing key",
	}
	cmd.AddCommand(
		a.walletStatusCommand(),
		a.walletGenerateCommand(),
		a.walletImportCommand(),
		a.walletPasswordCommand(),
		a.walletRevealCommand(),
		a.walletClearCommand(),
		a.walletAddressCommand(),
		a.walletSignCommand(),
	)
	return cmd
}

func (a *app) walletStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a key is stored and which network is active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			profile, err := rt.selector.Current(ctx)
			if err != nil {
				return err
			}
			addr, ok, err := rt.vault.Address(ctx)
			if err != nil {
				return err
			}
			gate, err := rt.vault.GateEnabled(ctx)
			if err != nil {
				return err
			}
			status := walletStatus{Connected: ok, GateEnabled: gate, Network: profile.Name}
			if ok {
				status.Address = addr.Hex()
				status.ExplorerURL = profile.AddressURL(addr.Hex())
			}
			return a.emit(status, func(w io.Writer) {
				if !status.Connected {
					fmt.Fprintf(w, "未连接钱包（网络: %s）\n", status.Network)
					return
				}
				fmt.Fprintf(w, "地址:   %s\n网络:   %s\n密码门: %t\n浏览器: %s\n", status.Address, status.Network, status.GateEnabled, status.ExplorerURL)
			})
		},
	}
}

func (a *app) walletGenerateCommand() *cobra.Command {
	var noPassword bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new key and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			opts, err := a.setupOptions(noPassword)
			if err != nil {
				return err
			}
			addr, err := rt.vault.Generate(ctx, opts...)
			if err != nil {
				return err
			}
			return a.emit(map[string]string{"address": addr.Hex()}, func(w io.Writer) {
				fmt.Fprintf(w, "已生成钱包: %s\n", addr.Hex())
			})
		},
	}
	cmd.Flags().BoolVar(&noPassword, "no-password", false, "Do not prompt for a password gate")
	return cmd
}

func (a *app) walletImportCommand() *cobra.Command {
	var noPassword bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a hex private key (read from the terminal, never from flags)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			key, err := a.readSecret("私钥: ")
			if err != nil {
				return err
			}
			if err := vault.ValidatePrivateKey(key); err != nil {
				return err
			}
			opts, err := a.setupOptions(noPassword)
			if err != nil {
				return err
			}
			addr, err := rt.vault.Import(ctx, key, opts...)
			if err != nil {
				return err
			}
			return a.emit(map[string]string{"address": addr.Hex()}, func(w io.Writer) {
				fmt.Fprintf(w, "已导入钱包: %s\n", addr.Hex())
			})
		},
	}
	cmd.Flags().BoolVar(&noPassword, "no-password", false, "Do not prompt for a password gate")
	return cmd
}

func (a *app) setupOptions(noPassword bool) ([]vault.SetupOption, error) {
	if noPassword {
		return nil, nil
	}
	password, err := a.newPassword()
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, nil
	}
	return []vault.SetupOption{vault.WithPassword(password)}, nil
}

func (a *app) walletPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-password",
		Short: "Set or replace the password gate on the stored key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			password, err := a.newPassword()
			if err != nil {
				return err
			}
			if err := rt.vault.SetPasswordGate(ctx, password); err != nil {
				return err
			}
			fmt.Fprintln(a.stderr, "密码已更新")
			return nil
		},
	}
}

func (a *app) walletRevealCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reveal",
		Short: "Print the stored private key after password verification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			reveal, err := rt.vault.Reveal(ctx)
			if err != nil {
				return err
			}
			if reveal.State() == vault.Locked {
				password, err := a.readSecret("密码: ")
				if err != nil {
					return err
				}
				ok, err := reveal.Unlock(ctx, password)
				if err != nil {
					return err
				}
				if !ok {
					return xerrors.New(xerrors.CodeValidation, "Incorrect password", xerrors.WithField("password", "Incorrect password"))
				}
			}
			ok, err := a.confirm("私钥将以明文显示在终端上，继续？")
			if err != nil {
				return err
			}
			if !ok {
				return errCancelled
			}
			key, err := reveal.PrivateKey(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, key)
			return nil
		},
	}
}

func (a *app) walletClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored key and password gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			ok, err := a.confirm("将删除本地保存的私钥，未备份将无法恢复，继续？")
			if err != nil {
				return err
			}
			if !ok {
				return errCancelled
			}
			if err := rt.vault.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(a.stderr, "钱包已清除")
			return nil
		},
	}
}

func (a *app) walletAddressCommand() *cobra.Command {
	var (
		showQR bool
		png    string
		size   int
	)
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the wallet address, optionally as a QR code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			addr, ok, err := rt.vault.Address(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return xerrors.New(xerrors.CodeValidation, "未连接钱包")
			}
			if png == "" && !showQR {
				fmt.Fprintln(a.stdout, addr.Hex())
				return nil
			}
			code, err := qrcode.New(addr.Hex(), qrcode.Medium)
			if err != nil {
				return fmt.Errorf("生成二维码失败: %w", err)
			}
			if png != "" {
				data, err := code.PNG(size)
				if err != nil {
					return fmt.Errorf("生成二维码失败: %w", err)
				}
				if err := os.WriteFile(png, data, 0o644); err != nil {
					return fmt.Errorf("写入二维码失败: %w", err)
				}
				fmt.Fprintf(a.stderr, "二维码已写入 %s\n", png)
			}
			if showQR {
				fmt.Fprint(a.stdout, code.ToSmallString(false))
			}
			fmt.Fprintln(a.stdout, addr.Hex())
			return nil
		},
	}
	cmd.Flags().BoolVar(&showQR, "qr", false, "Render a QR code in the terminal")
	cmd.Flags().StringVar(&png, "png", "", "Write a PNG QR code to this path")
	cmd.Flags().IntVar(&size, "size", 256, "PNG size in pixels")
	return cmd
}

func (a *app) walletSignCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sign <message>",
		Short: "Sign a message with the personal_sign prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			s, err := rt.sessions.Current(ctx)
			if err != nil {
				return err
			}
			sig, err := s.SignMessage([]byte(args[0]))
			if err != nil {
				return err
			}
			out := map[string]string{"address": s.Address().Hex(), "signature": hexutil.Encode(sig)}
			return a.emit(out, func(w io.Writer) {
				fmt.Fprintln(w, out["signature"])
			})
		},
	}
}
