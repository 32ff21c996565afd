package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/logger"
)

// Config holds the settings shared by alarmd and alarm-keeper.
type Config struct {
	// Daemon configures the alarm daemon and how clients reach it.
	Daemon DaemonConfig `yaml:"daemon"`
	// Store selects where the daemon persists armed alarms.
	Store StoreConfig `yaml:"store"`
	// Fallback configures the best-effort backend.
	Fallback FallbackConfig `yaml:"fallback"`
	// Status configures the periodic status loop of alarm-keeper.
	Status StatusConfig `yaml:"status"`
	// Permission is the operator decision on showing alarms: granted or denied.
	Permission string `yaml:"permission"`
	// SnoozeMinutes applies to alarms without their own snooze length.
	SnoozeMinutes int `yaml:"snooze_minutes"`
	// Timeout is the duration for network operations and RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
	// ScheduleFile is the YAML list of alarms alarm-keeper keeps scheduled.
	ScheduleFile string `yaml:"schedule_file"`
}

// DaemonConfig configures the alarm daemon.
type DaemonConfig struct {
	// Address is the daemon gRPC address (host:port).
	Address string `yaml:"address"`
	// ProcessName, when set, is the daemon executable the primary backend
	// expects to find running on this host.
	ProcessName string `yaml:"process_name"`
	// RingInterval is how often a ringing alarm is raised again.
	RingInterval time.Duration `yaml:"ring_interval"`
	// RingTimeout is how long an alarm rings without an action.
	RingTimeout time.Duration `yaml:"ring_timeout"`
}

// StoreConfig configures daemon persistence.
type StoreConfig struct {
	// Kind is file or redis.
	Kind string `yaml:"kind"`
	// StateFile is the JSON file used by the file store.
	StateFile string `yaml:"state_file"`
	// RedisAddr is the redis address used by the redis store.
	RedisAddr string `yaml:"redis_addr"`
	// RedisPassword authenticates against redis.
	RedisPassword string `yaml:"redis_password"`
	// RedisDB selects the redis database.
	RedisDB int `yaml:"redis_db"`
	// RedisKey is the hash holding armed alarms.
	RedisKey string `yaml:"redis_key"`
}

// FallbackConfig configures the fallback backend.
type FallbackConfig struct {
	// Notifier is log, mqtt or none.
	Notifier string `yaml:"notifier"`
	// MQTTBroker is the broker URL, e.g. tcp://localhost:1883.
	MQTTBroker string `yaml:"mqtt_broker"`
	// MQTTClientID identifies this process at the broker.
	MQTTClientID string `yaml:"mqtt_client_id"`
	// MQTTTopic is the topic prefix notifications are published under.
	MQTTTopic string `yaml:"mqtt_topic"`
	// MQTTUsername authenticates against the broker.
	MQTTUsername string `yaml:"mqtt_username"`
	// MQTTPassword authenticates against the broker.
	MQTTPassword string `yaml:"mqtt_password"`
}

// StatusConfig configures the alarm-keeper status loop.
type StatusConfig struct {
	// Interval is how often status is refreshed.
	Interval time.Duration `yaml:"interval"`
	// CalendarFile, when set, receives an iCalendar export of active alarms.
	CalendarFile string `yaml:"calendar_file"`
	// ReapGrace is how long a delivered one-shot alarm stays listed.
	ReapGrace time.Duration `yaml:"reap_grace"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "alarm-keeper-settings.yaml"

	// DefaultStateFilename is the default filename for the daemon's armed alarms.
	DefaultStateFilename = "alarm-keeper-armed.json"

	// DefaultScheduleFilename is the default alarm list of alarm-keeper.
	DefaultScheduleFilename = "alarms.yaml"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultRingInterval is the default pause between two rings of one alarm.
	DefaultRingInterval = 10 * time.Second

	// DefaultRingTimeout is the default time an alarm rings unanswered.
	DefaultRingTimeout = 15 * time.Minute

	// DefaultStatusInterval is the default status refresh interval.
	DefaultStatusInterval = time.Second

	// DefaultReapGrace is the default time delivered one-shot alarms stay listed.
	DefaultReapGrace = time.Hour

	// DefaultMQTTClientID is used when no client id is configured.
	DefaultMQTTClientID = "alarm-keeper"

	// DefaultMQTTTopic is used when no topic is configured.
	DefaultMQTTTopic = "alarm-keeper/alarms"

	// DefaultFilePermissions is the default file permission for written files.
	DefaultFilePermissions = 0o600
)

// Store kinds.
const (
	StoreFile  = "file"
	StoreRedis = "redis"
)

// Fallback notifiers.
const (
	NotifierLog  = "log"
	NotifierMQTT = "mqtt"
	NotifierNone = "none"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errDaemonAddressRequired is returned when the daemon address is missing.
	errDaemonAddressRequired = errors.New("daemon address must be provided")
	// errRedisAddressRequired is returned when the redis store has no address.
	errRedisAddressRequired = errors.New("redis address must be provided for the redis store")
	// errBrokerRequired is returned when the MQTT notifier has no broker.
	errBrokerRequired = errors.New("mqtt broker must be provided for the mqtt notifier")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions: the file may hold broker and redis passwords.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings and fills in defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if err := validateDaemon(&settings.Daemon); err != nil {
		return err
	}

	if err := validateStore(&settings.Store); err != nil {
		return err
	}

	if err := validateFallback(&settings.Fallback); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(settings.Permission)) {
	case "", "granted":
		settings.Permission = "granted"
	case "denied":
		settings.Permission = "denied"
	default:
		return fmt.Errorf("invalid permission %q: want granted or denied", settings.Permission)
	}

	if settings.SnoozeMinutes <= 0 {
		settings.SnoozeMinutes = alarm.DefaultSnoozeMinutes
	}

	// Set default timeout if not specified
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
		return fmt.Errorf("invalid log level %q", settings.LogLevel)
	}

	if settings.ScheduleFile == "" {
		settings.ScheduleFile = DefaultScheduleFilename
	}

	if settings.Status.Interval <= 0 {
		settings.Status.Interval = DefaultStatusInterval
	}

	if settings.Status.ReapGrace <= 0 {
		settings.Status.ReapGrace = DefaultReapGrace
	}

	return nil
}

func validateDaemon(d *DaemonConfig) error {
	if d.Address == "" {
		return errDaemonAddressRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", d.Address); err != nil {
		return fmt.Errorf("invalid daemon address: %w", err)
	}

	if d.RingInterval <= 0 {
		d.RingInterval = DefaultRingInterval
	}

	if d.RingTimeout <= 0 {
		d.RingTimeout = DefaultRingTimeout
	}

	return nil
}

func validateStore(s *StoreConfig) error {
	switch s.Kind {
	case "", StoreFile:
		s.Kind = StoreFile

		if s.StateFile == "" {
			s.StateFile = DefaultStateFilename
		}
	case StoreRedis:
		if s.RedisAddr == "" {
			return errRedisAddressRequired
		}
	default:
		return fmt.Errorf("invalid store kind %q: want %s or %s", s.Kind, StoreFile, StoreRedis)
	}

	return nil
}

func validateFallback(f *FallbackConfig) error {
	switch f.Notifier {
	case "", NotifierLog:
		f.Notifier = NotifierLog
	case NotifierNone:
	case NotifierMQTT:
		if f.MQTTBroker == "" {
			return errBrokerRequired
		}

		if f.MQTTClientID == "" {
			f.MQTTClientID = DefaultMQTTClientID
		}

		if f.MQTTTopic == "" {
			f.MQTTTopic = DefaultMQTTTopic
		}
	default:
		return fmt.Errorf("invalid fallback notifier %q: want %s, %s or %s", f.Notifier, NotifierLog, NotifierMQTT, NotifierNone)
	}

	return nil
}
