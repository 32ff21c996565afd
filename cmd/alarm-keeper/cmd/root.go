package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-keeper/internal/config"
	"github.com/oshokin/alarm-keeper/internal/service/keeper"
	"github.com/oshokin/alarm-keeper/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// scheduleFile overrides the alarm list from config.
	scheduleFile string

	// rootCmd represents the base command of alarm-keeper.
	rootCmd = &cobra.Command{
		Use:   "alarm-keeper",
		Short: "Keep a list of alarms scheduled across the daemon and fallback backends.",
		Long: `alarm-keeper schedules alarms with the alarm daemon and falls back to an
in-process backend when the daemon cannot take them.

Without a subcommand it behaves like "alarm-keeper run".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCmd.RunE(cmd, args)
		},
	}

	// runCmd keeps the schedule file applied until interrupted.
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Keep the schedule file applied until interrupted.",
		Long: `Loads the alarm list from the schedule file, schedules every alarm and keeps
them scheduled: edits to the file are applied as they happen, snoozed alarms are
re-armed and daily alarms are verified to stay armed.

Status is logged periodically and, when status.calendar_file is set, exported
as an iCalendar file.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return keeper.Run(ctx, &keeper.Options{
				ConfigPath:   cfgPath,
				ScheduleFile: scheduleFile,
			})
		},
	}
)

// Execute runs the alarm-keeper CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	rootCmd.AddCommand(runCmd, actCmd, pendingCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&scheduleFile, "schedule", "f", "", "path to the alarm list (overrides schedule_file)")
	runCmd.Flags().StringVarP(&scheduleFile, "schedule", "f", "", "path to the alarm list (overrides schedule_file)")
}
