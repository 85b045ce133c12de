package integration

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/config"
)

// Publisher is the part of *nats.Conn the sink needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events to <prefix>.device.<devEUI>.<event>
type NATSSink struct {
	pub    Publisher
	prefix string
}

// NewNATSSink creates a sink on an existing connection. The connection is
// owned by the caller and is not closed by Close.
func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	return &NATSSink{pub: pub, prefix: prefix}
}

// DialNATS connects to NATS with the configured reconnect policy
func DialNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject an event of devEUI is published on
func (s *NATSSink) Subject(devEUI, event string) string {
	return fmt.Sprintf("%s.device.%s.%s", s.prefix, devEUI, event)
}

func (s *NATSSink) Publish(devEUI, event string, data []byte) error {
	subject := s.Subject(devEUI, event)
	if err := s.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("%s: %w", subject, err)
	}
	return nil
}

func (s *NATSSink) Close() {}
