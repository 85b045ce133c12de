package integration

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/config"
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time
var ErrPublishTimeout = errors.New("publish timeout")

// MQTTSink publishes events to <prefix>/<devEUI>/<event>, uplinks to .../up
type MQTTSink struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewMQTTSink wraps a connected client
func NewMQTTSink(client mqtt.Client, cfg config.MQTTConfig) *MQTTSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTSink{
		client:  client,
		prefix:  cfg.TopicPrefix,
		qos:     cfg.QoS,
		timeout: timeout,
	}
}

// DialMQTT 创建 MQTT 客户端并连接
func DialMQTT(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	// 连接处理
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, err)
	}
	return client, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Topic returns the topic an event of devEUI is published on
func (s *MQTTSink) Topic(devEUI, event string) string {
	if event == EventUplink {
		event = "up"
	}
	return fmt.Sprintf("%s/%s/%s", s.prefix, devEUI, event)
}

func (s *MQTTSink) Publish(devEUI, event string, data []byte) error {
	topic := s.Topic(devEUI, event)

	// 发布消息
	token := s.client.Publish(topic, s.qos, false, data)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("%s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", topic, err)
	}
	return nil
}

func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
