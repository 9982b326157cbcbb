package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"codeberg.org/mutker/socgovd/internal/config"
	"codeberg.org/mutker/socgovd/internal/errors"
	"codeberg.org/mutker/socgovd/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultMQTTPort = "1883"
	publishTimeout  = 5 * time.Second
	disconnectQuiet = 250 // ms
)

// Client is the subset of mqtt.Client the publisher needs.
type Client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher periodically sends the JSON snapshot to <prefix>/state.
type Publisher struct {
	client   Client
	topic    string
	interval time.Duration
	src      SnapshotSource
	log      logger.Logger
}

// NewPublisher connects lazily to cfg.Broker when Run starts.
func NewPublisher(cfg config.MQTTConfig, src SnapshotSource) *Publisher {
	broker := BrokerURL(cfg.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	log := logger.New("mqtt")
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info().Str("broker", broker).Msg("Connected to MQTT broker")
	})

	return newPublisher(mqtt.NewClient(opts), cfg.TopicPrefix, cfg.Interval, src)
}

func newPublisher(client Client, prefix string, interval time.Duration, src SnapshotSource) *Publisher {
	return &Publisher{
		client:   client,
		topic:    strings.TrimSuffix(prefix, "/") + "/state",
		interval: interval,
		src:      src,
		log:      logger.New("mqtt"),
	}
}

// BrokerURL accepts a bare host, host:port or a full URL.
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	if _, _, err := net.SplitHostPort(broker); err != nil {
		broker = net.JoinHostPort(broker, defaultMQTTPort)
	}

	return "tcp://" + broker
}

// Topic returns the state topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// Run publishes on every interval until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	// with connect retry enabled the token completes once the first attempt
	// is queued; failures are retried in the background
	if t := p.client.Connect(); t.WaitTimeout(publishTimeout) && t.Error() != nil {
		return errors.New().Wrap(errors.ErrPublishStatus, t.Error())
	}
	defer p.client.Disconnect(disconnectQuiet)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.PublishOnce(); err != nil {
			p.log.Debug().Err(err).Str("topic", p.topic).Msg("Failed to publish state")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PublishOnce sends the current snapshot.
func (p *Publisher) PublishOnce() error {
	payload, err := json.Marshal(p.src.Snapshot())
	if err != nil {
		return errors.New().Wrap(errors.ErrPublishStatus, err)
	}

	t := p.client.Publish(p.topic, 0, true, payload)
	if !t.WaitTimeout(publishTimeout) {
		return errors.New().WithMessage(errors.ErrPublishStatus, fmt.Sprintf("publish to %s timed out", p.topic))
	}
	if t.Error() != nil {
		return errors.New().Wrap(errors.ErrPublishStatus, t.Error())
	}

	return nil
}
