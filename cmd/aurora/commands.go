package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/auroraops/aurora/internal/config"
	"github.com/auroraops/aurora/internal/gateway"
	"github.com/auroraops/aurora/internal/rca"
)

const defaultConfigPath = "aurora.yaml"

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway: websocket fabric, health, and metrics endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := gateway.NewServer(cfg.Server, app.registry, app.confirmer, app.logger)
			return server.Start(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}

func buildWorkerCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start a background RCA worker: task queue consumer and stale-session sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.close()

			if app.rdb == nil {
				return fmt.Errorf("worker requires redis (set redis.addr or REDIS_ADDR)")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sweeper := rca.NewSweeper(app.sessions, app.incidents, app.logger)
			if err := sweeper.Start(); err != nil {
				return fmt.Errorf("start sweeper: %w", err)
			}
			defer sweeper.Stop()

			runner := app.newRunner()
			queue := rca.NewQueue(app.rdb)
			app.logger.Info(ctx, "rca worker started")

			for {
				task, err := queue.Dequeue(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					app.logger.Error(ctx, "dequeue failed", "error", err)
					continue
				}
				if task == nil {
					if ctx.Err() != nil {
						return nil
					}
					continue
				}
				if err := runner.Run(ctx, task); err != nil {
					if errors.Is(err, rca.ErrRateLimited) {
						app.logger.Warn(ctx, "task rate limited",
							"user_id", task.UserID, "incident_id", task.IncidentID)
						continue
					}
					app.logger.Error(ctx, "investigation failed",
						"incident_id", task.IncidentID, "error", err)
				}
			}
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}
