// Package loopback is the in-process transport: host and players share one
// Hub and exchange envelopes over Go channels. It serves single-device
// sessions and is the transport the end-to-end tests run on.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/protocol"
	"quiz-sync/internal/transport"
)

const eventBuffer = 64

// Hub registers host sessions by code and connects players to them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*HostTransport
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*HostTransport)}
}

// Host opens a new session and returns its transport with a fresh code.
func (h *Hub) Host() (*HostTransport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	code := transport.GenerateCode()
	for i := 0; ; i++ {
		if _, taken := h.sessions[code]; !taken {
			break
		}
		if i >= 10 {
			return nil, fmt.Errorf("loopback: could not allocate session code")
		}
		code = transport.GenerateCode()
	}

	ht := &HostTransport{
		hub:    h,
		code:   code,
		peers:  make(map[string]*ClientTransport),
		events: make(chan transport.Event, eventBuffer),
	}
	h.sessions[code] = ht
	return ht, nil
}

// Dial connects a player to the session behind code. Unknown codes fail
// immediately with ErrConnectionFailed; there is no handshake to time out
// in-process, so ctx only matters if the caller already cancelled.
func (h *Hub) Dial(ctx context.Context, code, selfID string) (*ClientTransport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	h.mu.RLock()
	ht, ok := h.sessions[transport.NormalizeCode(code)]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown session code %q", domain.ErrConnectionFailed, code)
	}
	return ht.attach(selfID)
}

func (h *Hub) remove(code string) {
	h.mu.Lock()
	delete(h.sessions, code)
	h.mu.Unlock()
}

// HostTransport implements transport.Host over in-process channels.
type HostTransport struct {
	hub    *Hub
	code   string
	mu     sync.Mutex
	closed bool
	peers  map[string]*ClientTransport
	events chan transport.Event
}

var _ transport.Host = (*HostTransport)(nil)

func (t *HostTransport) Code() string { return t.code }

func (t *HostTransport) Events() <-chan transport.Event { return t.events }

func (t *HostTransport) Send(peerID string, env protocol.Envelope) error {
	t.mu.Lock()
	peer, ok := t.peers[peerID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("loopback: no such peer %q", peerID)
	}
	return peer.deliver(transport.Event{Kind: transport.EventMessage, From: protocol.OriginHost, Env: env})
}

func (t *HostTransport) Broadcast(env protocol.Envelope) error {
	t.mu.Lock()
	peers := make([]*ClientTransport, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()
	for _, p := range peers {
		// Best effort per peer; one gone peer must not starve the rest.
		_ = p.deliver(transport.Event{Kind: transport.EventMessage, From: protocol.OriginHost, Env: env})
	}
	return nil
}

func (t *HostTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	peers := t.peers
	t.peers = make(map[string]*ClientTransport)
	close(t.events)
	t.mu.Unlock()

	t.hub.remove(t.code)
	for _, p := range peers {
		p.closeFromHost()
	}
	return nil
}

func (t *HostTransport) attach(selfID string) (*ClientTransport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("%w: session closed", domain.ErrConnectionFailed)
	}
	client := &ClientTransport{
		host:   t,
		id:     selfID,
		events: make(chan transport.Event, eventBuffer),
	}
	t.peers[selfID] = client
	t.pushLocked(transport.Event{Kind: transport.EventPeerJoined, From: selfID})
	return client, nil
}

func (t *HostTransport) detach(selfID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if _, ok := t.peers[selfID]; !ok {
		return
	}
	delete(t.peers, selfID)
	t.pushLocked(transport.Event{Kind: transport.EventPeerLeft, From: selfID})
}

func (t *HostTransport) receive(from string, env protocol.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("loopback: session closed")
	}
	t.pushLocked(transport.Event{Kind: transport.EventMessage, From: from, Env: env})
	return nil
}

// pushLocked queues without blocking; the pump draining events is the only
// consumer, and a full buffer means it is gone for good.
func (t *HostTransport) pushLocked(ev transport.Event) {
	select {
	case t.events <- ev:
	default:
	}
}

// ClientTransport implements transport.Client over in-process channels.
type ClientTransport struct {
	host   *HostTransport
	id     string
	mu     sync.Mutex
	closed bool
	events chan transport.Event
}

var _ transport.Client = (*ClientTransport)(nil)

func (c *ClientTransport) Events() <-chan transport.Event { return c.events }

func (c *ClientTransport) Send(env protocol.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("loopback: connection closed")
	}
	c.mu.Unlock()
	return c.host.receive(c.id, env)
}

func (c *ClientTransport) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.events)
	c.mu.Unlock()

	c.host.detach(c.id)
	return nil
}

func (c *ClientTransport) deliver(ev transport.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("loopback: connection closed")
	}
	select {
	case c.events <- ev:
		return nil
	default:
		return fmt.Errorf("loopback: peer %q not draining events", c.id)
	}
}

func (c *ClientTransport) closeFromHost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	select {
	case c.events <- transport.Event{Kind: transport.EventPeerLeft, From: protocol.OriginHost}:
	default:
	}
	close(c.events)
}
