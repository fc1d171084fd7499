package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds connection settings for the NATS-backed peer channel.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns the default peer channel configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSChannel broadcasts peer envelopes on live.game.<id>.peer using core
// NATS. Core (non-JetStream) publish matches the channel contract: no
// persistence, no delivery guarantee, tens of milliseconds of latency.
type NATSChannel struct {
	nc       *nats.Conn
	sub      *nats.Subscription
	recv     chan Envelope
	gameID   uuid.UUID
	deviceID string
}

// NewNATSChannel connects to NATS and subscribes to the game's peer subject.
func NewNATSChannel(cfg NATSConfig, gameID uuid.UUID, deviceID string) (*NATSChannel, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("peer channel disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("peer channel reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("peer channel error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect peer channel: %w", err)
	}

	c := &NATSChannel{
		nc:       nc,
		recv:     make(chan Envelope, 64),
		gameID:   gameID,
		deviceID: deviceID,
	}

	subject := peerSubject(gameID)
	sub, err := nc.Subscribe(subject, c.handleInbound)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.sub = sub
	return c, nil
}

func peerSubject(gameID uuid.UUID) string {
	return "live.game." + gameID.String() + ".peer"
}

func (c *NATSChannel) handleInbound(msg *nats.Msg) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Warn().Err(err).Msg("dropping undecodable peer message")
		return
	}
	if env.DeviceID == c.deviceID {
		return // our own broadcast
	}
	select {
	case c.recv <- env:
	default:
		log.Warn().Str("kind", string(env.Kind)).Msg("peer receive buffer full, dropping message")
	}
}

// Send publishes the envelope, best effort.
func (c *NATSChannel) Send(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal peer envelope: %w", err)
	}
	if err := c.nc.Publish(peerSubject(c.gameID), data); err != nil {
		return fmt.Errorf("publish peer envelope: %w", err)
	}
	return nil
}

// Receive yields inbound envelopes from other devices.
func (c *NATSChannel) Receive() <-chan Envelope {
	return c.recv
}

// Connected reports whether the underlying connection is currently up.
func (c *NATSChannel) Connected() bool {
	return c.nc.IsConnected()
}

// Close tears down the subscription and connection. The receive channel is
// left open; an in-flight subscription callback may still be delivering.
func (c *NATSChannel) Close() error {
	if err := c.sub.Unsubscribe(); err != nil {
		log.Warn().Err(err).Msg("peer unsubscribe failed")
	}
	c.nc.Close()
	return nil
}
