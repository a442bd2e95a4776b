/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld/internal/events"
)

// natsSubjectPrefix namespaces skuld events on a shared NATS server.
const natsSubjectPrefix = "skuld.events."

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus carries events between nodes over core NATS. Reconnection
// is handled by the client; events published while disconnected are
// buffered by the client's pending queue.
type NATSBus struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	logger  zerolog.Logger
	nodeID  string
	deliver DeliverFunc
}

// NewNATSBus connects to NATS and subscribes to the skuld event
// subjects.
func NewNATSBus(cfg NATSConfig, nodeID string, deliver DeliverFunc, logger zerolog.Logger) (*NATSBus, error) {
	log := logger.With().Str("component", "eventbus_nats").Logger()

	opts := []nats.Option{
		nats.Name("skuld-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	nb := &NATSBus{
		conn:    conn,
		logger:  log,
		nodeID:  nodeID,
		deliver: deliver,
	}

	sub, err := conn.Subscribe(natsSubjectPrefix+">", nb.handleMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to NATS subjects: %w", err)
	}
	nb.sub = sub

	log.Info().Str("url", cfg.URL).Msg("NATS event bus initialized")
	return nb, nil
}

// Forward publishes a local event to the NATS subject for its type.
func (nb *NATSBus) Forward(eventType events.EventType, payload events.Payload) error {
	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		return err
	}
	return nb.conn.Publish(natsSubjectPrefix+string(eventType), data)
}

func (nb *NATSBus) handleMessage(msg *nats.Msg) {
	wire, err := unmarshalMessage(msg.Data)
	if err != nil {
		nb.logger.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal NATS message")
		return
	}

	// NATS echoes our own publications back to us.
	if wire.NodeID == nb.nodeID {
		return
	}

	payload := wire.Payload
	if payload == nil {
		payload = events.Payload{}
	}
	payload["node_id"] = wire.NodeID
	nb.deliver(wire.EventType, payload)
}

// Close drains the subscription and closes the connection.
func (nb *NATSBus) Close() error {
	if nb.sub != nil {
		if err := nb.sub.Drain(); err != nil {
			nb.logger.Warn().Err(err).Msg("failed to drain NATS subscription")
		}
	}
	nb.conn.Close()
	return nil
}
