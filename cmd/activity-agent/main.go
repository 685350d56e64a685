// activity-agent records local input and window activity into rotating
// batch files. It runs until interrupted and flushes the in-flight window
// on shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vincentbai/activity-agent/internal/config"
	"github.com/vincentbai/activity-agent/internal/logging"
	"github.com/vincentbai/activity-agent/internal/observer"
)

// version is set by ldflags at build time.
var version = "dev"

func main() {
	var flagConfig string

	rootCmd := &cobra.Command{
		Use:   "activity-agent",
		Short: "local activity capture agent",
		Long:  "Captures mouse, keyboard and window focus activity into rotating JSON batch files.",
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (default: ./config.yaml if present)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "start a capture session",
		Long: `Starts capturing activity and writes one spool file per flush window.
The session runs until SIGINT or SIGTERM, then flushes the in-flight
window so no accepted event is lost.

Examples:
  activity-agent run
  activity-agent run --config /etc/activity-agent/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: os.Stderr,
			})
			if err != nil {
				return err
			}
			logger.Info("configuration loaded", "source", cfg.Source)

			obs, err := observer.New(observer.Options{
				Config:       cfg,
				Logger:       logger,
				ActiveWindow: activeWindowProbe(),
			})
			if err != nil {
				return err
			}
			if err := obs.Start(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			logger.Info("shutting down")
			return obs.Stop()
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			fmt.Printf("configuration ok (%s)\n", cfg.Source)
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print activity-agent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("activity-agent %s\n", version)
		},
	}

	rootCmd.AddCommand(runCmd, checkCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "activity-agent: %s\n", err)
		os.Exit(1)
	}
}
