package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"thermowatch/internal/models"
)

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	Source   string

	// ConnectTimeout bounds the wait for the first connection.
	ConnectTimeout time.Duration
}

const defaultConnectTimeout = 10 * time.Second

type mqttPublisher struct {
	client mqtt.Client
	cfg    MQTTConfig
	logger *slog.Logger
}

// NewMQTTPublisher connects to the broker and waits for the first
// connection, honouring ctx and cfg.ConnectTimeout.
func NewMQTTPublisher(ctx context.Context, cfg MQTTConfig, logger *slog.Logger) (Publisher, error) {
	logger = logger.With("component", "mqtt-publisher")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	p := &mqttPublisher{
		client: mqtt.NewClient(opts),
		cfg:    cfg,
		logger: logger,
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-connectCtx.Done():
		p.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, connectCtx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return p, nil
}

func (p *mqttPublisher) Name() string { return "mqtt" }

func (p *mqttPublisher) Publish(ctx context.Context, readings []models.Reading) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	for _, r := range readings {
		data, err := json.Marshal(toMessage(r, p.cfg.Source))
		if err != nil {
			return fmt.Errorf("marshal reading %d: %w", r.ID, err)
		}

		token := p.client.Publish(p.cfg.Topic, 1, false, data)
		select {
		case <-token.Done():
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return fmt.Errorf("publish timeout for topic %s", p.cfg.Topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish reading %d: %w", r.ID, err)
		}
	}

	p.logger.Debug("published readings", "topic", p.cfg.Topic, "count", len(readings))
	return nil
}

func (p *mqttPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
