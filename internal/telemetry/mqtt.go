package telemetry

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jwalitptl/referral-api/internal/config"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

const DefaultTopic = "ambulances/+/location"

// Handler processes one telemetry message.
type Handler interface {
	Handle(ctx context.Context, topic string, payload []byte) error
}

type Subscriber struct {
	client mqtt.Client
	topic  string
	qos    byte
	logger *logger.Logger
}

func NewSubscriber(cfg config.TelemetryConfig, logger *logger.Logger) *Subscriber {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn(err, "MQTT connection lost")
	})

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &Subscriber{client: mqtt.NewClient(opts), topic: topic, qos: cfg.QoS, logger: logger}
}

// Run connects, subscribes and blocks until ctx is cancelled. Handler errors
// are logged and the message is dropped.
func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	defer s.client.Disconnect(250)

	token := s.client.Subscribe(s.topic, s.qos, func(_ mqtt.Client, msg mqtt.Message) {
		msgCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := h.Handle(msgCtx, msg.Topic(), msg.Payload()); err != nil {
			s.logger.Warn(err, "Dropped telemetry message", "topic", msg.Topic())
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", s.topic, token.Error())
	}
	s.logger.Info("Telemetry subscriber started", "topic", s.topic)

	<-ctx.Done()
	s.logger.Info("Shutting down telemetry subscriber")
	return nil
}
