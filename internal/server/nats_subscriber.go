package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/integration"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/simulation"
)

// Executor runs f on the goroutine that owns the lab
type Executor interface {
	Do(ctx context.Context, f func()) error
}

// Reply is the response sent to a command request
type Reply struct {
	OK       bool                 `json:"ok"`
	Error    string               `json:"error,omitempty"`
	Snapshot *simulation.Snapshot `json:"snapshot,omitempty"`
}

// NATSSubscriber NATS subscriber for remote lab commands on <prefix>.cmd.<name>
type NATSSubscriber struct {
	nc      *nats.Conn
	lab     *simulation.Lab
	exec    Executor
	codec   integration.Codec
	prefix  string
	timeout time.Duration
	subs    []*nats.Subscription
}

// NewNATSSubscriber creates NATS subscriber
func NewNATSSubscriber(nc *nats.Conn, lab *simulation.Lab, exec Executor, codec integration.Codec, prefix string) *NATSSubscriber {
	return &NATSSubscriber{
		nc:      nc,
		lab:     lab,
		exec:    exec,
		codec:   codec,
		prefix:  prefix,
		timeout: 5 * time.Second,
		subs:    make([]*nats.Subscription, 0),
	}
}

// Start starts subscriptions
func (s *NATSSubscriber) Start(ctx context.Context) error {
	subject := s.prefix + ".cmd.*"
	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		reply := s.handle(ctx, msg.Subject, msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to respond to command")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe lab commands: %w", err)
	}
	s.subs = append(s.subs, sub)

	log.Info().
		Str("subject", subject).
		Str("codec", s.codec.Name()).
		Msg("NATS command subscriber started")

	<-ctx.Done()

	// Unsubscribe
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// handle decodes and applies one command and returns the encoded reply.
// The command name is taken from the last subject token; an empty body is
// a command without arguments.
func (s *NATSSubscriber) handle(ctx context.Context, subject string, data []byte) []byte {
	name := subject[strings.LastIndex(subject, ".")+1:]

	var cmd simulation.Command
	if len(data) > 0 {
		if err := s.codec.Unmarshal(data, &cmd); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("Invalid command payload")
			return s.encode(Reply{Error: fmt.Sprintf("invalid payload: %v", err)})
		}
	}
	cmd.Name = name

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		applyErr error
		snap     simulation.Snapshot
	)
	err := s.exec.Do(ctx, func() {
		applyErr = s.lab.Apply(cmd)
		snap = s.lab.Snapshot()
	})
	if err != nil {
		log.Error().Err(err).Str("command", name).Msg("Failed to run command")
		return s.encode(Reply{Error: err.Error()})
	}

	if applyErr != nil {
		log.Debug().Err(applyErr).Str("command", name).Msg("Command refused")
		return s.encode(Reply{Error: applyErr.Error(), Snapshot: &snap})
	}

	log.Debug().Str("command", name).Msg("Command applied")
	return s.encode(Reply{OK: true, Snapshot: &snap})
}

func (s *NATSSubscriber) encode(r Reply) []byte {
	data, err := s.codec.Marshal(r)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal command reply")
		return nil
	}
	return data
}
