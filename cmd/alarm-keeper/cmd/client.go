package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	client "github.com/oshokin/alarm-keeper/internal/service/client"
)

var (
	// daemonAddress overrides daemon.address from config.
	daemonAddress string

	// actCmd reports a button press on a ringing alarm.
	actCmd = &cobra.Command{
		Use:       "act <snooze|dismiss> <delivery-id>",
		Short:     "Snooze or dismiss a ringing alarm.",
		Long:      `Reports a snooze or dismiss on a ringing alarm to the daemon, retrying until the daemon answers. The delivery id is shown by "alarm-keeper pending" and in the daemon log.`,
		Args:      cobra.ExactArgs(2), //nolint:mnd // action and delivery id.
		ValidArgs: []string{"snooze", "dismiss"},
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return client.RunAct(ctx, &client.ActOptions{
				Options: client.Options{
					ConfigPath:    cfgPath,
					DaemonAddress: daemonAddress,
				},
				Action:     args[0],
				DeliveryID: args[1],
			})
		},
	}

	// pendingCmd lists what the daemon holds.
	pendingCmd = &cobra.Command{
		Use:   "pending",
		Short: "List alarms armed at the daemon.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return client.RunPending(ctx, &client.PendingOptions{
				Options: client.Options{
					ConfigPath:    cfgPath,
					DaemonAddress: daemonAddress,
				},
				Output: cmd.OutOrStdout(),
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	actCmd.Flags().StringVarP(&daemonAddress, "address", "a", "", "daemon address (overrides daemon.address)")
	pendingCmd.Flags().StringVarP(&daemonAddress, "address", "a", "", "daemon address (overrides daemon.address)")
}
