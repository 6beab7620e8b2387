//go:build !no_mqtt

// Package mqtt connects the bridge to an MQTT broker: it owns the paho client,
// the bridge's last will, command subscriptions and fire-and-forget publishing.
package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	qos               = 1
)

// ErrNotConnected is returned when the client is used before Connect.
var ErrNotConnected = errors.New("mqtt: not connected")

// Config holds broker connection settings.
type Config struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	ProtocolVersion int // 3 = MQTT 3.1, 4 or 5 = MQTT 3.1.1

	// StateTopic carries the retained online/offline state of the bridge and
	// is used as the last will.
	StateTopic    string
	Subscriptions []string
}

// Handler receives inbound command messages.
type Handler = func(topic string, payload []byte) error

// Client is a paho MQTT client bound to one bridge.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	client  pahomqtt.Client
	handler Handler
}

// New creates a client. Nothing is sent until Connect is called; messages
// published before that are dropped with a warning.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("warema-bridge-%d", time.Now().UnixNano()%1_000_000)
	}
	return &Client{cfg: cfg, logger: logger.With("component", "mqtt")}
}

// Connect dials the broker and waits for the first connection. Every
// (re)connection publishes "online" and subscribes the command topics.
func (c *Client) Connect(handler Handler) error {
	opts := buildClientOptions(c.cfg).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			c.logger.Info("MQTT connected", "broker", c.cfg.Broker)
			c.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			c.logger.Warn("MQTT connection lost", "err", err)
		})

	c.mu.Lock()
	c.handler = handler
	c.client = pahomqtt.NewClient(opts)
	client := c.client
	c.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect %s: timeout", c.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", c.cfg.Broker, err)
	}
	return nil
}

func (c *Client) onConnect() {
	c.Publish(c.cfg.StateTopic, []byte("online"), true)
	for _, topic := range c.cfg.Subscriptions {
		c.subscribe(topic)
	}
}

func (c *Client) subscribe(topic string) {
	client := c.paho()
	if client == nil {
		return
	}
	token := client.Subscribe(topic, qos, c.handleMessage)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			c.logger.Warn("MQTT subscribe timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			c.logger.Error("MQTT subscribe failed", "topic", topic, "err", err)
		} else {
			c.logger.Debug("subscribed", "topic", topic)
		}
	}()
}

func (c *Client) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return
	}
	if err := h(msg.Topic(), msg.Payload()); err != nil {
		c.logger.Debug("command rejected", "topic", msg.Topic(), "err", err)
	}
}

// Publish sends a message at QoS 1 without blocking the caller. Delivery
// failures are logged.
func (c *Client) Publish(topic string, payload []byte, retained bool) {
	client := c.paho()
	if client == nil {
		c.logger.Warn("MQTT publish before connect", "topic", topic)
		return
	}
	token := client.Publish(topic, qos, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			c.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			c.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	client := c.paho()
	return client != nil && client.IsConnectionOpen()
}

// Stop publishes "offline" to the state topic, waits for it to be sent and
// disconnects.
func (c *Client) Stop() error {
	client := c.paho()
	if client == nil {
		return ErrNotConnected
	}
	token := client.Publish(c.cfg.StateTopic, qos, true, []byte("offline"))
	if !token.WaitTimeout(publishTimeout) {
		c.logger.Warn("MQTT offline publish timeout")
	} else if err := token.Error(); err != nil {
		c.logger.Warn("MQTT offline publish error", "err", err)
	}
	client.Disconnect(disconnectQuiesce)
	c.logger.Info("MQTT client stopped")
	return nil
}

func (c *Client) paho() pahomqtt.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// buildClientOptions maps Config onto paho options: auto-reconnect, clean
// session and a retained "offline" will on the state topic.
func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetProtocolVersion(protocolVersion(cfg.ProtocolVersion)).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(connectTimeout)
	if cfg.StateTopic != "" {
		opts.SetWill(cfg.StateTopic, "offline", qos, true)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return opts
}

// protocolVersion maps the configured MQTT version to paho's protocol
// levels. paho speaks 3.1 and 3.1.1 only, so 5 falls back to 3.1.1.
func protocolVersion(v int) uint {
	if v == 3 {
		return 3
	}
	return 4
}
