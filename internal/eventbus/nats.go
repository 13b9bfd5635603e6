/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/hearth/internal/logging"
	"github.com/friendsincode/hearth/internal/models"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "hearth.events",
		MaxReconnects: -1, // unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSRelay mirrors events onto NATS subjects, one per event kind.
type NATSRelay struct {
	conn    *nats.Conn
	subject string
	nodeID  string
	logger  zerolog.Logger
}

// NewNATSRelay connects to NATS. The client reconnects on its own after the
// first successful connection.
func NewNATSRelay(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSRelay, error) {
	defaults := DefaultNATSConfig()
	if cfg.URL == "" {
		cfg.URL = defaults.URL
	}
	if cfg.Subject == "" {
		cfg.Subject = defaults.Subject
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = defaults.ReconnectWait
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = defaults.MaxReconnects
	}

	log := logging.Component(logger, "nats_relay")
	conn, err := nats.Connect(cfg.URL,
		nats.Name("hearth-"+nodeID),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	log.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("nats relay initialized")
	return &NATSRelay{conn: conn, subject: cfg.Subject, nodeID: nodeID, logger: log}, nil
}

// SubjectFor returns the subject an event kind is published on.
func SubjectFor(base, kind string) string {
	if kind == "" {
		kind = "unknown"
	}
	return base + "." + kind
}

// Publish sends the event on its kind subject.
func (n *NATSRelay) Publish(_ context.Context, event models.Event) error {
	data, err := marshalMessage(event, n.nodeID)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(SubjectFor(n.subject, event.Kind), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Listen delivers events of every kind to fn until ctx is done.
func (n *NATSRelay) Listen(ctx context.Context, includeOwn bool, fn func(models.Event)) error {
	sub, err := n.conn.Subscribe(n.subject+".>", func(msg *nats.Msg) {
		decoded, err := unmarshalMessage(msg.Data)
		if err != nil {
			n.logger.Error().Err(err).Msg("failed to unmarshal nats message")
			return
		}
		if decoded.NodeID == n.nodeID && !includeOwn {
			return
		}
		fn(decoded.Event)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}

// Close drains and closes the connection.
func (n *NATSRelay) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
