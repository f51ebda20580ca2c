package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ledger/internal/app"
)

var (
	flagRedis string
	flagJSON  bool
	flagActor int64
)

var rootCmd = &cobra.Command{
	Use:           "ledgerctl",
	Short:         "Operator commands for the ledger core",
	Long:          "Runs depreciation batches, FX maintenance, corporate tax filing steps and job management against the ledger database.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRedis, "redis", "", "Redis address (defaults to REDIS_ADDR)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print JSON output")
	rootCmd.PersistentFlags().Int64Var(&flagActor, "actor", 0, "Actor id recorded on journals")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintln(os.Stderr, "ledgerctl:", err)
	return 1
}

func loadConfig() (*app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	if flagRedis != "" {
		cfg.RedisAddr = flagRedis
	}
	return cfg, nil
}

// withServices connects, builds the domain services and runs fn.
func withServices(ctx context.Context, fn func(*app.Services) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)
	res, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer res.Close(logger)
	services, err := app.NewServices(cfg, res, logger)
	if err != nil {
		return err
	}
	return fn(services)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("id must be a positive integer, got %q", raw)
	}
	return id, nil
}

// exitError carries a process exit code from helpers that report their own output.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
