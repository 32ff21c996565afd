package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"google.golang.org/grpc"

	api "github.com/oshokin/alarm-keeper/internal/api/grpc/alarmd"
	"github.com/oshokin/alarm-keeper/internal/config"
	"github.com/oshokin/alarm-keeper/internal/logger"
	repo "github.com/oshokin/alarm-keeper/internal/repository/schedule"
	"github.com/oshokin/alarm-keeper/internal/version"
)

// Options controls the alarmd process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// StateFile overrides the file store path from settings.
	StateFile string
}

// ErrNoDaemonAddress indicates missing daemon configuration.
var ErrNoDaemonAddress = errors.New("no daemon address configured")

// Run starts the daemon and blocks until context is canceled or the server stops.
// Loads configuration first, then opens the store and serves the alarm API.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "alarmd")

	// Load configuration first to get daemon address and store settings.
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// Apply log level from settings; an unknown value keeps the default.
	if lvl, ok := logger.ParseLogLevel(settings.LogLevel); ok {
		logger.SetLevel(lvl)
	}

	// Use the state file from config unless overridden by command line option.
	if opts.StateFile != "" {
		settings.Store.StateFile = opts.StateFile
	}

	// Determine listen address: CLI argument overrides config port extraction.
	listenAddress, err := resolveListenAddress(settings.Daemon.Address, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	// Open the configured store for pending alarm persistence.
	repository, closeRepository, err := openRepository(ctx, &settings.Store)
	if err != nil {
		return err
	}
	defer closeRepository()

	// Create daemon service, restoring alarms kept by the store.
	svc, err := NewService(ctx, repository, WithRing(settings.Daemon.RingInterval, settings.Daemon.RingTimeout))
	if err != nil {
		return fmt.Errorf("initialise service: %w", err)
	}

	// Setup TCP listener for gRPC server.
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	// Start firing timers only once the listener is bound.
	svc.Start()
	defer svc.Stop()

	// Create and configure gRPC server with the daemon service.
	grpcServer := grpc.NewServer()
	api.RegisterAlarmDaemonServer(grpcServer, api.NewServer(svc, version.Short()))

	logger.InfoKV(ctx, "Alarm daemon listening",
		"listen_address", listenAddress,
		"store", settings.Store.Kind,
		"version", version.Short(),
	)

	// Tell systemd the daemon is ready to accept connections.
	notifySystemd(ctx, systemd.SdNotifyReady)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		notifySystemd(ctx, systemd.SdNotifyStopping)
		// Event streams only end when the hub closes, so close it first.
		svc.hub.Close()
		grpcServer.GracefulStop()
		close(done)
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "GRPC server stopped")

	return nil
}

// openRepository builds the configured store. The returned func releases it.
//
//nolint:ireturn // The store is chosen at runtime.
func openRepository(ctx context.Context, store *config.StoreConfig) (repo.Repository, func(), error) {
	switch store.Kind {
	case config.StoreRedis:
		r, err := repo.NewRedisRepository(ctx, repo.RedisOptions{
			Addr:     store.RedisAddr,
			Password: store.RedisPassword,
			DB:       store.RedisDB,
			Key:      store.RedisKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}

		return r, func() {
			if err := r.Close(); err != nil {
				logger.WarnKV(ctx, "Failed to close redis store", "error", err)
			}
		}, nil
	default:
		return repo.NewFileRepository(store.StateFile), func() {}, nil
	}
}

// notifySystemd reports state to systemd when running under it.
func notifySystemd(ctx context.Context, state string) {
	sent, err := systemd.SdNotify(false, state)
	if err != nil {
		logger.WarnKV(ctx, "Failed to notify systemd", "state", state, "error", err)
		return
	}

	if sent {
		logger.DebugKV(ctx, "Notified systemd", "state", state)
	}
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise extracts port from configAddr.
// Returns appropriate listen address (e.g., ":8080" for port-only binding).
func resolveListenAddress(configAddr, override string) (string, error) {
	// Use override address if provided (e.g., ":9090", "0.0.0.0:8080").
	if override != "" {
		return override, nil
	}

	// Extract port from config address (e.g., "alarms.local:7070" -> ":7070").
	if configAddr == "" {
		return "", ErrNoDaemonAddress
	}

	// Parse the address to extract port.
	_, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid daemon address format %q: %w", configAddr, err)
	}

	// Return port-only listen address to bind on all interfaces.
	return ":" + port, nil
}
