package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/snehendu098/rayfine/internal/api"
	"github.com/snehendu098/rayfine/pkg/logger"
)

func (a *app) serveCommand() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local REST API and the action worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			if address == "" {
				address = rt.cfg.Server.Address
			}

			tasks, processor, err := rt.openTasks(ctx)
			if err != nil {
				return err
			}

			processorCtx, processorCancel := context.WithCancel(ctx)
			defer processorCancel()
			go func() {
				if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.L().Error("任务处理器异常退出", slog.Any("error", err))
				}
			}()

			deps := api.Dependencies{
				Vault:    rt.vault,
				Selector: rt.selector,
				Sessions: rt.sessions,
				Reader:   rt.orchestrator,
				Tasks:    tasks,
			}
			if rt.cfg.Metrics.Enabled {
				deps.Metrics = rt.metrics
				if rt.cfg.Metrics.Address != "" {
					go func() {
						if err := rt.metrics.StartServer(processorCtx, rt.cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
							logger.L().Error("指标服务异常退出", slog.Any("error", err))
						}
					}()
				}
			}

			server := api.NewServer(address, deps,
				api.WithRateLimit(rt.cfg.Server.RateLimit, rt.cfg.Server.Burst),
				api.WithShutdownTimeout(rt.cfg.Server.ShutdownTimeout.Std()),
				api.WithAuthToken(rt.cfg.Server.APIToken),
			)
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "Listen address (overrides server.address)")
	return cmd
}
