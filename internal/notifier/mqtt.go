package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/oshokin/alarm-keeper/internal/logger"
)

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker   string
	ClientID string
	// Topic is the prefix; the logical id is appended.
	Topic    string
	Username string
	Password string
	// Timeout bounds connect and publish.
	Timeout time.Duration
}

const (
	defaultMQTTTimeout = 5 * time.Second
	// disconnectQuiesce is how long Close lets in-flight work finish, in milliseconds.
	disconnectQuiesce = 250
	// qosAtLeastOnce makes the broker acknowledge every alarm.
	qosAtLeastOnce = 1
)

var (
	// ErrNoBroker is returned when no broker address is configured.
	ErrNoBroker = errors.New("no MQTT broker configured")
	// ErrPublishTimeout is returned when the broker does not acknowledge in time.
	ErrPublishTimeout = errors.New("mqtt publish timed out")
)

// publisher is the subset of mqtt.Client the notifier uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes notifications as JSON to <topic>/<logical id>.
type MQTT struct {
	client  publisher
	topic   string
	timeout time.Duration
}

// NewMQTT connects to the broker.
func NewMQTT(ctx context.Context, opts MQTTOptions) (*MQTT, error) {
	if opts.Broker == "" {
		return nil, ErrNoBroker
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultMQTTTimeout
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(timeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}

	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	client := mqtt.NewClient(clientOpts)

	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", opts.Broker, ErrPublishTimeout)
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", opts.Broker, err)
	}

	logger.InfoKV(ctx, "Connected to MQTT broker", "broker", opts.Broker, "topic", opts.Topic)

	return newMQTT(client, opts.Topic, timeout), nil
}

func newMQTT(client publisher, topic string, timeout time.Duration) *MQTT {
	return &MQTT{
		client:  client,
		topic:   strings.TrimSuffix(topic, "/"),
		timeout: timeout,
	}
}

// Notify publishes n and waits for the broker acknowledgement.
func (m *MQTT) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	topic := m.topicFor(n.LogicalID)

	token := m.client.Publish(topic, qosAtLeastOnce, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	case <-time.After(m.timeout):
		return fmt.Errorf("publish to %s: %w", topic, ErrPublishTimeout)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	logger.DebugKV(ctx, "Notification published", "topic", topic, "delivery_id", n.DeliveryID)

	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(disconnectQuiesce)
}

func (m *MQTT) topicFor(logicalID string) string {
	if m.topic == "" {
		return logicalID
	}

	return m.topic + "/" + logicalID
}
