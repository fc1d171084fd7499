package peer

import "context"

// Channel is the transport the session layer sends deltas over. Delivery is
// best effort: Send never retries and receivers must tolerate loss and
// reordering.
type Channel interface {
	Send(ctx context.Context, env Envelope) error
	// Receive yields inbound envelopes from other devices. The channel stays
	// open for the lifetime of the adapter; slow consumers lose messages
	// rather than backpressuring the transport.
	Receive() <-chan Envelope
	Connected() bool
	Close() error
}
