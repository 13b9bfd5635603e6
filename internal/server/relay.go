package server

import (
	"context"
	"fmt"

	"github.com/friendsincode/hearth/internal/config"
	"github.com/friendsincode/hearth/internal/eventbus"
)

// attachRelay mirrors bus events to the configured broker.
func (s *Server) attachRelay(ctx context.Context) error {
	nodeID := eventbus.NodeID()

	switch s.cfg.Relay {
	case config.RelayRedis:
		rc := eventbus.DefaultRedisConfig()
		rc.Addr = s.cfg.RedisAddr
		rc.Password = s.cfg.RedisPassword
		rc.DB = s.cfg.RedisDB
		rc.Channel = s.cfg.RedisChannel
		relay := eventbus.NewRedisRelay(ctx, rc, nodeID, s.logger)
		s.bus.AddRelay(relay)
		s.DeferClose(relay.Close)

	case config.RelayNATS:
		nc := eventbus.DefaultNATSConfig()
		nc.URL = s.cfg.NATSURL
		nc.Subject = s.cfg.NATSSubject
		relay, err := eventbus.NewNATSRelay(nc, nodeID, s.logger)
		if err != nil {
			return fmt.Errorf("connect nats relay: %w", err)
		}
		s.bus.AddRelay(relay)
		s.DeferClose(relay.Close)
	}
	return nil
}
