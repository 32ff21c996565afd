package keeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/oshokin/alarm-keeper/internal/backend/fallback"
	"github.com/oshokin/alarm-keeper/internal/backend/primary"
	"github.com/oshokin/alarm-keeper/internal/config"
	"github.com/oshokin/alarm-keeper/internal/logger"
	"github.com/oshokin/alarm-keeper/internal/notifier"
	"github.com/oshokin/alarm-keeper/internal/permission"
	"github.com/oshokin/alarm-keeper/internal/registry"
	"github.com/oshokin/alarm-keeper/internal/service/action"
	"github.com/oshokin/alarm-keeper/internal/service/common"
	"github.com/oshokin/alarm-keeper/internal/service/scheduler"
	"github.com/oshokin/alarm-keeper/internal/service/status"
)

// Options controls the alarm-keeper run command.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ScheduleFile overrides schedule_file from settings.
	ScheduleFile string
}

// Run assembles the alarm core from settings and keeps the schedule file
// applied until ctx is done.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "alarm-keeper")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	lvl, _ := logger.ParseLogLevel(settings.LogLevel)
	logger.SetLevel(lvl)

	if opts.ScheduleFile != "" {
		settings.ScheduleFile = opts.ScheduleFile
	}

	decision, err := permission.ParseStatus(settings.Permission)
	if err != nil {
		return fmt.Errorf("parse permission: %w", err)
	}

	client, err := common.Dial(ctx, settings.Daemon.Address, common.WithCallTimeout(settings.Timeout))
	if err != nil {
		return fmt.Errorf("create daemon client: %w", err)
	}

	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.ErrorKV(ctx, "Failed to close daemon client", "error", closeErr)
		}
	}()

	n, closeNotifier, err := newNotifier(ctx, &settings.Fallback, settings.Timeout)
	if err != nil {
		return err
	}
	defer closeNotifier()

	primaryBackend := primary.New(client, primary.WithProcessName(settings.Daemon.ProcessName))

	fallbackBackend := fallback.New(ctx, n,
		fallback.WithActWindow(settings.Daemon.RingTimeout),
		fallback.WithVerboseEngine(lvl == zapcore.DebugLevel),
	)
	fallbackBackend.Start()
	defer fallbackBackend.Stop()

	reg := registry.New()
	sched := scheduler.New(
		reg,
		primaryBackend,
		fallbackBackend,
		permission.NewStatic(decision),
		scheduler.WithDefaultSnooze(settings.SnoozeMinutes),
	)

	k := &keeper{
		scheduler:      sched,
		registry:       reg,
		handler:        action.NewHandler(reg, sched),
		projector:      status.NewProjector(reg, sched, primaryBackend, fallbackBackend),
		sources:        []EventSource{primaryBackend, fallbackBackend},
		files:          newFileSync(sched, time.Local),
		kept:           primaryBackend,
		scheduleFile:   settings.ScheduleFile,
		statusInterval: settings.Status.Interval,
		reapGrace:      settings.Status.ReapGrace,
		calendarFile:   settings.Status.CalendarFile,
		now:            time.Now,
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Go(func() { primaryBackend.Run(ctx) })

	logger.InfoKV(ctx, "Alarm keeper started",
		"daemon_address", settings.Daemon.Address,
		"fallback_notifier", settings.Fallback.Notifier,
		"schedule_file", settings.ScheduleFile,
	)

	return k.run(ctx)
}

// newNotifier builds the fallback sink. NotifierNone yields a nil notifier,
// which makes the fallback backend Unsupported.
//
//nolint:ireturn // The sink is chosen at runtime.
func newNotifier(ctx context.Context, cfg *config.FallbackConfig, timeout time.Duration) (fallback.Notifier, func(), error) {
	switch cfg.Notifier {
	case config.NotifierNone:
		return nil, func() {}, nil
	case config.NotifierMQTT:
		m, err := notifier.NewMQTT(ctx, notifier.MQTTOptions{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect fallback notifier: %w", err)
		}

		return m, m.Close, nil
	default:
		return notifier.NewLog(), func() {}, nil
	}
}
