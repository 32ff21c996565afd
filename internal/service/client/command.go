package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/oshokin/alarm-keeper/internal/config"
	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/logger"
	"github.com/oshokin/alarm-keeper/internal/service/common"
)

// Options configures one-shot calls against the alarm daemon.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string

	// DaemonAddress overrides the daemon address from config when specified.
	DaemonAddress string
}

// ActOptions configures the act command.
type ActOptions struct {
	Options

	// DeliveryID is the ringing alarm to act on.
	DeliveryID string

	// Action is snooze or dismiss.
	Action string
}

// PendingOptions configures the pending command.
type PendingOptions struct {
	Options

	// Output receives the table of pending alarms.
	Output io.Writer
}

// daemonClient is the part of the daemon client the commands use.
type daemonClient interface {
	Act(ctx context.Context, deliveryID string, action alarm.Action, actor *alarm.Actor) error
	ListPending(ctx context.Context) ([]alarm.Pending, error)
}

// defaultRetryInterval defines retry delay when the daemon is unreachable.
const defaultRetryInterval = 1 * time.Second

var errDeliveryIDRequired = errors.New("delivery id must be provided")

// RunAct reports a user action on a ringing alarm, retrying while the daemon
// is unreachable.
func RunAct(ctx context.Context, opts *ActOptions) error {
	ctx = logger.WithName(ctx, "alarm-keeper act")

	action, err := alarm.ParseAction(opts.Action)
	if err != nil {
		return err
	}

	if opts.DeliveryID == "" {
		return errDeliveryIDRequired
	}

	// Identify current user and hostname for audit logging.
	actor, err := common.DetectActor()
	if err != nil {
		return err
	}

	client, closeClient, err := dial(ctx, &opts.Options)
	if err != nil {
		return err
	}
	defer closeClient()

	return act(ctx, client, opts.DeliveryID, action, actor, defaultRetryInterval)
}

// act retries transport failures every interval until ctx is done. Any
// other failure is final.
func act(
	ctx context.Context,
	client daemonClient,
	deliveryID string,
	action alarm.Action,
	actor *alarm.Actor,
	interval time.Duration,
) error {
	logger.InfoKV(ctx, "Reporting alarm action", "delivery_id", deliveryID, "action", string(action), "actor", actor.String())

	// attempt tries once, returns (completed, error).
	attempt := func() (bool, error) {
		err := client.Act(ctx, deliveryID, action, actor)

		switch {
		case err == nil:
			logger.InfoKV(ctx, "Alarm action accepted", "delivery_id", deliveryID, "action", string(action))
			return true, nil
		case errors.Is(err, alarm.ErrTransport):
			logger.ErrorKV(ctx, "Act failed, retrying", "error", err)
			return false, nil
		default:
			return false, err
		}
	}

	if done, err := attempt(); err != nil || done {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if done, err := attempt(); err != nil || done {
				return err
			}
		}
	}
}

// RunPending prints the daemon's pending alarms.
func RunPending(ctx context.Context, opts *PendingOptions) error {
	ctx = logger.WithName(ctx, "alarm-keeper pending")

	client, closeClient, err := dial(ctx, &opts.Options)
	if err != nil {
		return err
	}
	defer closeClient()

	pending, err := client.ListPending(ctx)
	if err != nil {
		return err
	}

	return writePending(opts.Output, pending, time.Now())
}

// writePending renders pending alarms as an aligned table.
func writePending(w io.Writer, pending []alarm.Pending, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(tw, "DELIVERY ID\tLOGICAL ID\tTITLE\tNEXT FIRE\tIN\tREPEAT")

	for i := range pending {
		p := &pending[i]

		next, in := "-", "-"
		if !p.NextFireAt.IsZero() {
			next = p.NextFireAt.Local().Format(time.DateTime)
			in = p.NextFireAt.Sub(now).Round(time.Second).String()
		}

		repeat := "once"
		if p.Spec.RepeatDaily {
			repeat = "daily"
		}

		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.DeliveryID, p.Spec.LogicalID, p.Spec.Title, next, in, repeat)
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write pending alarms: %w", err)
	}

	return nil
}

//nolint:ireturn // Tests substitute the client.
func dial(ctx context.Context, opts *Options) (daemonClient, func(), error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	address := cfg.Daemon.Address
	if opts.DaemonAddress != "" {
		address = opts.DaemonAddress
	}

	client, err := common.Dial(ctx, address, common.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return nil, nil, err
	}

	return client, func() { _ = client.Close() }, nil
}
