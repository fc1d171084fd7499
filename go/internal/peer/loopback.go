package peer

import (
	"context"
	"sync"
)

// LoopbackHub wires several in-process endpoints together for tests and
// single-machine development. Delivery semantics match the real transport:
// best effort, no ordering guarantee across endpoints, drops on full buffers.
type LoopbackHub struct {
	mu        sync.RWMutex
	endpoints []*LoopbackChannel
}

// NewLoopbackHub creates an empty hub.
func NewLoopbackHub() *LoopbackHub {
	return &LoopbackHub{}
}

// Endpoint creates a channel endpoint for one device.
func (h *LoopbackHub) Endpoint(deviceID string) *LoopbackChannel {
	c := &LoopbackChannel{
		hub:      h,
		deviceID: deviceID,
		recv:     make(chan Envelope, 64),
		up:       true,
	}
	h.mu.Lock()
	h.endpoints = append(h.endpoints, c)
	h.mu.Unlock()
	return c
}

func (h *LoopbackHub) broadcast(from *LoopbackChannel, env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ep := range h.endpoints {
		if ep == from || !ep.connected() {
			continue
		}
		select {
		case ep.recv <- env:
		default:
		}
	}
}

// LoopbackChannel is one device's endpoint on a LoopbackHub.
type LoopbackChannel struct {
	hub      *LoopbackHub
	deviceID string
	recv     chan Envelope

	mu sync.Mutex
	up bool
}

// Send broadcasts to every other connected endpoint on the hub.
func (c *LoopbackChannel) Send(ctx context.Context, env Envelope) error {
	if !c.connected() {
		return nil // best effort: a disconnected send is silently lost
	}
	c.hub.broadcast(c, env)
	return nil
}

// Receive yields envelopes from other endpoints.
func (c *LoopbackChannel) Receive() <-chan Envelope {
	return c.recv
}

// Connected reports the simulated link state.
func (c *LoopbackChannel) Connected() bool {
	return c.connected()
}

// SetConnected simulates the link going down or up; messages sent while down
// are lost, as on the real transport.
func (c *LoopbackChannel) SetConnected(up bool) {
	c.mu.Lock()
	c.up = up
	c.mu.Unlock()
}

func (c *LoopbackChannel) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

// Close disconnects the endpoint.
func (c *LoopbackChannel) Close() error {
	c.SetConnected(false)
	return nil
}
