package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/snehendu098/rayfine/internal/classifier"
	"github.com/snehendu098/rayfine/internal/config"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/pkg/logger"
)

const (
	exitOK         = 0
	exitFailure    = 1
	exitValidation = 2
)

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	reader *bufio.Reader

	configPath string
	jsonOutput bool
	assumeYes  bool

	cfg *config.Config
	rt  *runtime
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr, reader: bufio.NewReader(stdin)}
}

func (a *app) run(ctx context.Context, args []string) int {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(ctx)
	if a.rt != nil {
		_ = a.rt.Close()
	}
	_ = logger.Sync()
	if err == nil {
		return exitOK
	}
	return a.renderError(err)
}

func (a *app) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rayfine",
		Short: "Mantle wallet: key custody, token actions and lending from the terminal",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.LoadOptional(a.configPath)
			if err != nil {
				return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载配置失败")
			}
			a.cfg = cfg
			return logger.Init(logger.Config{
				Level:       cfg.Logging.Level,
				Format:      cfg.Logging.Format,
				OutputPaths: cfg.Logging.OutputPaths,
				Audit: logger.AuditConfig{
					Enabled:    cfg.Logging.Audit.Enabled,
					Path:       cfg.Logging.Audit.Path,
					MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
					MaxBackups: cfg.Logging.Audit.MaxBackups,
					MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
				},
			})
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file (default $RAYFINE_CONFIG or the user config dir)")
	cmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output JSON")
	cmd.PersistentFlags().BoolVarP(&a.assumeYes, "yes", "y", false, "Skip confirmation prompts")

	cmd.AddCommand(
		a.serveCommand(),
		a.walletCommand(),
		a.networkCommand(),
		a.tokensCommand(),
		a.balancesCommand(),
		a.priceCommand(),
		a.quoteCommand(),
		a.positionsCommand(),
		a.accountCommand(),
		a.stakePositionCommand(),
	)
	cmd.AddCommand(a.actionCommands()...)
	return cmd
}

// runtime 在首次使用时打开，进程退出前统一关闭。
func (a *app) runtime(ctx context.Context) (*runtime, error) {
	if a.rt != nil {
		return a.rt, nil
	}
	rt, err := openRuntime(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.rt = rt
	return rt, nil
}

// emit 按 --json 输出结构化结果，否则调用 text 输出可读文本。
func (a *app) emit(v any, text func(w io.Writer)) error {
	if a.jsonOutput || text == nil {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.stdout)
	return nil
}

func (a *app) renderError(err error) int {
	classified := classifier.Classify(err)
	if a.jsonOutput {
		_ = json.NewEncoder(a.stderr).Encode(map[string]any{
			"code":     classified.Code(),
			"message":  classified.Message(),
			"fields":   classified.Fields(),
			"metadata": classified.Metadata(),
		})
	} else {
		fmt.Fprintf(a.stderr, "错误 [%s]: %s\n", classified.Code(), classified.Message())
		fields := classified.Fields()
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(a.stderr, "  %s: %s\n", name, fields[name])
		}
		if meta := classified.Metadata(); meta["broadcast"] == "true" {
			fmt.Fprintf(a.stderr, "交易哈希: %s\n", meta["tx_hash"])
		}
	}
	if classified.Code() == xerrors.CodeValidation {
		return exitValidation
	}
	return exitFailure
}

// readSecret 读取不回显的输入。stdin 不是终端时按行读取，便于脚本调用。
func (a *app) readSecret(prompt string) (string, error) {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.stderr, prompt)
		defer fmt.Fprintln(a.stderr)
		raw, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("读取输入失败: %w", err)
		}
		value := string(raw)
		clear(raw)
		return value, nil
	}
	return a.readLine("")
}

func (a *app) readLine(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(a.stderr, prompt)
	}
	line, err := a.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", fmt.Errorf("读取输入失败: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// confirm 询问是否继续，--yes 时直接通过。
func (a *app) confirm(question string) (bool, error) {
	if a.assumeYes {
		return true, nil
	}
	answer, err := a.readLine(question + " [y/N] ")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// newPassword 读取并确认新密码，空输入表示不设置密码门。
func (a *app) newPassword() (string, error) {
	password, err := a.readSecret("设置密码（直接回车跳过）: ")
	if err != nil || password == "" {
		return "", err
	}
	again, err := a.readSecret("再次输入密码: ")
	if err != nil {
		return "", err
	}
	if again != password {
		return "", xerrors.New(xerrors.CodeValidation, "Passwords do not match", xerrors.WithField("password", "Passwords do not match"))
	}
	return password, nil
}

var errCancelled = xerrors.New(xerrors.CodeValidation, "已取消")
