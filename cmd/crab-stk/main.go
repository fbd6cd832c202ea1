package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"crabstack.local/projects/crab-stk/internal/config"
	"crabstack.local/projects/crab-stk/internal/tui"
	"crabstack.local/projects/crab-stk/internal/uiclient"
)

const envDaemonURL = "CRAB_STK_URL"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Fatalf("crab-stk failed: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "crab-stk",
		Short:         "SIM toolkit session dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("url", config.EnvOrDefault(envDaemonURL, "http://127.0.0.1:8090"), "daemon base url for client commands")

	root.AddCommand(
		newServeCommand(),
		newConsoleCommand(),
		newSubmitCommand(),
		newStatusCommand(),
	)
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the slot manager and its HTTP and UI endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.New(os.Stdout, "stk ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), logger, cfg)
		},
	}
}

func newConsoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Answer toolkit surfaces from a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := daemonURL(cmd)
			if err != nil {
				return err
			}
			return tui.Run(cmd.Context(), uiclient.WebSocketURL(base))
		},
	}
}

func daemonURL(cmd *cobra.Command) (string, error) {
	raw, err := cmd.Flags().GetString("url")
	if err != nil {
		return "", err
	}
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return "", errors.New("daemon url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	return raw, nil
}
