package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"discord-digest/internal/app"
	"discord-digest/internal/infra/config"
	applog "discord-digest/internal/infra/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "digestctl",
		Short:         "Operate the Discord summary pipeline",
		Long:          `Run sweeps and the daily rollup by hand, check connectivity and browse stored summaries.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(sweepCmd())
	cmd.AddCommand(rollupCmd())
	cmd.AddCommand(checkCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(historyCmd())
	return cmd
}

// openApp загружает конфиг и собирает зависимости для одной команды.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadE()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, applog.NewLogger(cfg.AppEnv))
}
