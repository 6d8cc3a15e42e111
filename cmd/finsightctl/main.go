// Command finsightctl runs offline analyses and ledger maintenance.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"finsight/internal/cli"
	"finsight/internal/config"
	"finsight/internal/log"
)

var rootCmd = &cobra.Command{
	Use:           "finsightctl",
	Short:         "Administer a finsight ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads .env, the config file and the environment. Diagnostics go
// to stderr so command output can be piped.
func loadConfig() (*config.Config, *log.Logger, error) {
	cli.LoadEnvFile()
	cfg, err := cli.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logCfg := log.DefaultConfig()
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logCfg.Level = level
	}
	logCfg.Format = cfg.LogFormat
	logCfg.Output = os.Stderr
	return cfg, log.New(logCfg), nil
}
