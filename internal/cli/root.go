package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mossy-p/coderoom/config"
	"github.com/mossy-p/coderoom/internal/logging"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the coderoom command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coderoom",
		Short: "Collaborative code rooms: signaling, document sync and chat relay",
		Long: `coderoom runs the relay server behind a collaborative code editor and
offers a few client commands for poking at a running server.

Examples:
  coderoom serve --port 8080
  coderoom chat --room alpha --name ada
  coderoom presence alpha`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	var opts config.Options
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	root.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format: text or json (env LOG_FORMAT)")

	root.AddCommand(
		newServeCmd(&opts),
		newPresenceCmd(&opts),
		newChatCmd(&opts),
	)
	return root
}

// loadConfig applies flags over the environment and installs the logger.
func loadConfig(opts *config.Options) (*config.Config, error) {
	cfg, err := config.Load(*opts)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// Execute runs the root command until it returns or the process is asked
// to stop.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
