package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-keeper/internal/config"
	"github.com/oshokin/alarm-keeper/internal/service/daemon"
	"github.com/oshokin/alarm-keeper/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateFile path where armed alarms are persisted.
	stateFile string

	// rootCmd represents the base command for running the alarm daemon.
	rootCmd = &cobra.Command{
		Use:   "alarmd [listen-address]",
		Short: "Run the alarm daemon that arms, rings and persists alarms.",
		Long: `Starts the gRPC alarm daemon, the primary delivery backend of alarm-keeper.

The daemon arms alarms scheduled by clients, rings them when due until the user
snoozes or dismisses them, and streams delivery events to subscribers.
Only the port from daemon.address is used for listening (e.g., :7700).
Listen address can be provided as argument to override config (e.g., :9090, 0.0.0.0:7700).
Armed alarms are persisted to a JSON file or redis and restored on restart;
one-shot alarms that came due while the daemon was down ring at startup.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			return daemon.Run(ctx, &daemon.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				StateFile:     stateFile,
			})
		},
	}
)

// Execute runs the alarmd CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().
		StringVarP(&stateFile, "state-file", "s", "", "path to persist armed alarms (overrides store.state_file)")
}
