package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/smallbiznis/dojopay/internal/audit"
	"github.com/smallbiznis/dojopay/internal/checkout"
	"github.com/smallbiznis/dojopay/internal/clock"
	"github.com/smallbiznis/dojopay/internal/config"
	"github.com/smallbiznis/dojopay/internal/freeze"
	"github.com/smallbiznis/dojopay/internal/gateway"
	"github.com/smallbiznis/dojopay/internal/ledger"
	"github.com/smallbiznis/dojopay/internal/migration"
	"github.com/smallbiznis/dojopay/internal/notification"
	"github.com/smallbiznis/dojopay/internal/observability"
	"github.com/smallbiznis/dojopay/internal/ratelimit"
	"github.com/smallbiznis/dojopay/internal/refund"
	"github.com/smallbiznis/dojopay/internal/scheduler"
	"github.com/smallbiznis/dojopay/internal/server"
	"github.com/smallbiznis/dojopay/internal/webhook"
	"github.com/smallbiznis/dojopay/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// core is the infrastructure every command needs.
func core() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
	)
}

// domains are the services behind the HTTP API and the sweeps.
func domains() fx.Option {
	return fx.Options(
		ledger.Module,
		gateway.Module,
		notification.Module,
		ratelimit.Module,
		checkout.Module,
		webhook.Module,
		freeze.Module,
		refund.Module,
		audit.Module,
	)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and webhooks; runs the sweep loop when SCHEDULER_ENABLED is set",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fx.New(
				core(),
				domains(),
				scheduler.Module,
				server.Module,
			).Run()
		},
	}
}

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the sweep loop without the HTTP API",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fx.New(
				core(),
				domains(),
				scheduler.Module,
				fx.Decorate(func(cfg config.Config) config.Config {
					cfg.Scheduler.Enabled = true
					return cfg
				}),
			).Run()
		},
	}
}

func sweepCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sweep [job]",
		Short: "Run one sweep to completion and print its result",
		Long: fmt.Sprintf(`Run one sweep to completion and print its result as JSON.

Jobs: %v`, scheduler.Jobs),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			app := fx.New(
				core(),
				domains(),
				scheduler.Module,
				fx.Decorate(func(cfg config.Config) config.Config {
					cfg.Scheduler.Enabled = false
					return cfg
				}),
				fx.Populate(&sched),
				fx.NopLogger,
			)

			startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				_ = app.Stop(stopCtx)
			}()

			ctx, cancelRun := context.WithTimeout(cmd.Context(), timeout)
			defer cancelRun()
			result, err := sched.RunJob(ctx, args[0])
			if result != nil {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "upper bound for the whole run")

	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				config.Module,
				observability.Module,
				db.Module,
				migration.Module,
				fx.NopLogger,
			)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			return app.Stop(ctx)
		},
	}
}
