// Package transport defines the channel contract between a host and its
// players. Implementations guarantee at-least-once delivery and per-sender
// ordering to a live peer; nothing is guaranteed across different senders.
// The game layers never know which implementation is in use.
package transport

import "quiz-sync/internal/protocol"

// EventKind discriminates host-side transport events.
type EventKind int

const (
	// EventMessage is an inbound envelope from a peer (or the host).
	EventMessage EventKind = iota
	// EventPeerJoined fires when a peer's channel becomes live.
	EventPeerJoined
	// EventPeerLeft fires when a peer disconnects, cleanly or not.
	EventPeerLeft
)

// Event is one delivery from the transport. From is the peer identifier the
// connection was opened with, not anything the payload claims.
type Event struct {
	Kind EventKind
	From string
	Env  protocol.Envelope
}

// Host is the session-owning side of the channel, addressed by a short
// human-shareable code handed out at construction time.
type Host interface {
	// Code returns the session code players use to connect.
	Code() string
	// Send delivers point-to-point to one peer. Fire-and-forget: an error
	// means the peer is gone, not that delivery must be retried.
	Send(peerID string, env protocol.Envelope) error
	// Broadcast delivers to every connected peer.
	Broadcast(env protocol.Envelope) error
	// Events is the single inbound stream the host pump consumes. It is
	// closed when the transport shuts down.
	Events() <-chan Event
	// Close tears the session down and disconnects all peers.
	Close() error
}

// Client is a player's side of the channel.
type Client interface {
	// Send delivers to the host.
	Send(env protocol.Envelope) error
	// Events carries host messages and a PeerLeft for the host connection
	// itself. Closed on disconnect.
	Events() <-chan Event
	// Close disconnects from the session.
	Close() error
}
