// Package ws carries the quiz protocol over Gorilla WebSocket. The host
// embeds a small HTTP server; players dial it with the session code. This is
// the networked counterpart of the loopback transport.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-sync/internal/protocol"
	"quiz-sync/internal/transport"
)

const (
	peerSendBuffer = 16
	writeTimeout   = 10 * time.Second
)

// HostOptions configures ListenHost.
type HostOptions struct {
	// Addr is the listen address, e.g. ":8080". Port 0 picks a free port.
	Addr string
	// Code overrides the generated session code (tests only).
	Code string
	Log  zerolog.Logger
}

// HostTransport implements transport.Host over a WebSocket server.
type HostTransport struct {
	code     string
	log      zerolog.Logger
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	mu     sync.Mutex
	closed bool
	peers  map[string]*peerConn
	events chan transport.Event
}

var _ transport.Host = (*HostTransport)(nil)

type peerConn struct {
	conn *websocket.Conn
	send chan protocol.Envelope
}

// ListenHost starts serving a session and returns once the listener is bound.
func ListenHost(opts HostOptions) (*HostTransport, error) {
	addr := opts.Addr
	if addr == "" {
		addr = ":0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ws host listen: %w", err)
	}

	code := opts.Code
	if code == "" {
		code = transport.GenerateCode()
	}

	t := &HostTransport{
		code:     transport.NormalizeCode(code),
		log:      opts.Log,
		listener: listener,
		peers:    make(map[string]*peerConn),
		events:   make(chan transport.Event, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", t.serveWS)
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error().Err(err).Msg("ws host server stopped")
		}
	}()

	return t, nil
}

// Addr is the bound listen address, for building join URLs.
func (t *HostTransport) Addr() string { return t.listener.Addr().String() }

func (t *HostTransport) Code() string { return t.code }

func (t *HostTransport) Events() <-chan transport.Event { return t.events }

func (t *HostTransport) serveWS(w http.ResponseWriter, r *http.Request) {
	code := transport.NormalizeCode(r.URL.Query().Get("code"))
	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		http.Error(w, "missing playerId", http.StatusBadRequest)
		return
	}
	if code != t.code {
		// The failed upgrade surfaces to the dialer as a connection failure.
		http.Error(w, "unknown session code", http.StatusNotFound)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	peer := &peerConn{conn: conn, send: make(chan protocol.Envelope, peerSendBuffer)}
	if !t.register(playerID, peer) {
		_ = conn.Close()
		return
	}

	go t.writePeer(playerID, peer)
	t.readPeer(playerID, peer)
}

func (t *HostTransport) register(playerID string, peer *peerConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if old, ok := t.peers[playerID]; ok {
		// A reconnect supersedes the old connection for the same identity.
		close(old.send)
		_ = old.conn.Close()
	}
	t.peers[playerID] = peer
	t.pushLocked(transport.Event{Kind: transport.EventPeerJoined, From: playerID})
	return true
}

func (t *HostTransport) unregister(playerID string, peer *peerConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.peers[playerID]; !ok || current != peer {
		return
	}
	delete(t.peers, playerID)
	close(peer.send)
	if !t.closed {
		t.pushLocked(transport.Event{Kind: transport.EventPeerLeft, From: playerID})
	}
}

func (t *HostTransport) readPeer(playerID string, peer *peerConn) {
	defer func() {
		t.unregister(playerID, peer)
		_ = peer.conn.Close()
	}()
	for {
		var env protocol.Envelope
		if err := peer.conn.ReadJSON(&env); err != nil {
			return
		}
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.pushLocked(transport.Event{Kind: transport.EventMessage, From: playerID, Env: env})
		t.mu.Unlock()
	}
}

func (t *HostTransport) writePeer(playerID string, peer *peerConn) {
	for env := range peer.send {
		_ = peer.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := peer.conn.WriteJSON(env); err != nil {
			t.log.Debug().Err(err).Str("peer", playerID).Msg("ws write failed")
			_ = peer.conn.Close()
			return
		}
	}
	_ = peer.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

func (t *HostTransport) Send(peerID string, env protocol.Envelope) error {
	t.mu.Lock()
	peer, ok := t.peers[peerID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("ws host: no such peer %q", peerID)
	}
	return t.queue(peerID, peer, env)
}

func (t *HostTransport) Broadcast(env protocol.Envelope) error {
	t.mu.Lock()
	peers := make(map[string]*peerConn, len(t.peers))
	for id, p := range t.peers {
		peers[id] = p
	}
	t.mu.Unlock()
	for id, p := range peers {
		_ = t.queue(id, p, env)
	}
	return nil
}

// queue is fire-and-forget: a peer whose writer stalled loses frames rather
// than stalling the host pump.
func (t *HostTransport) queue(peerID string, peer *peerConn, env protocol.Envelope) (err error) {
	defer func() {
		if recover() != nil {
			err = fmt.Errorf("ws host: peer %q disconnected", peerID)
		}
	}()
	select {
	case peer.send <- env:
		return nil
	default:
		t.log.Debug().Str("peer", peerID).Str("kind", string(env.Kind)).Msg("dropping frame for slow peer")
		return nil
	}
}

func (t *HostTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	peers := t.peers
	t.peers = make(map[string]*peerConn)
	close(t.events)
	t.mu.Unlock()

	for _, p := range peers {
		close(p.send)
		_ = p.conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.server.Shutdown(ctx)
}

func (t *HostTransport) pushLocked(ev transport.Event) {
	select {
	case t.events <- ev:
	default:
	}
}
