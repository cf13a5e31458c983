// Package stream maintains the live one-way update channel for an order
// conversation: connect, dedupe, resume and reconnect. The state machine is
// independent of the transport binding; SSE and WebSocket dialers are
// provided.
package stream

import "context"

// EventKind classifies events surfaced by a Channel.
type EventKind int

const (
	// KindConnected is the server's connection acknowledgment.
	KindConnected EventKind = iota
	// KindData carries one frame payload. Heartbeat sentinels arrive as
	// data frames; the manager ignores them.
	KindData
	// KindEnd is the server-initiated close.
	KindEnd
)

// Event is one update delivered by a live channel.
type Event struct {
	Kind    EventKind
	Payload []byte
}

// HeartbeatSentinel is the fixed keep-alive payload. Frames carrying exactly
// this payload produce no observable state change.
const HeartbeatSentinel = "ping"

// Channel is an open live connection. Events closes when the connection
// ends; Err reports the transport error that ended it, or nil for an
// intentional close.
type Channel interface {
	Events() <-chan Event
	Err() error
	Close() error
}

// Dialer opens a live channel for a conversation, resuming after the given
// message id so already-known messages are not redelivered.
type Dialer interface {
	Dial(ctx context.Context, conversationID string, resumeFrom int64) (Channel, error)
}
