package ws

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/protocol"
	"quiz-sync/internal/transport"
)

// DefaultHandshakeTimeout bounds connection establishment; dialing fails
// rather than hangs.
const DefaultHandshakeTimeout = 5 * time.Second

// ClientTransport implements transport.Client over a dialed WebSocket.
type ClientTransport struct {
	conn   *websocket.Conn
	selfID string

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
	events  chan transport.Event
}

var _ transport.Client = (*ClientTransport)(nil)

// Dial connects to the host at baseURL (e.g. "ws://192.168.1.20:8080") using
// the session code. Unknown codes and handshake timeouts both surface as
// domain.ErrConnectionFailed; both are retryable from the caller's side.
func Dial(ctx context.Context, baseURL, code, selfID string, handshakeTimeout time.Duration) (*ClientTransport, error) {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	u, err := joinURL(baseURL, code, selfID)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: host rejected connection (%s)", domain.ErrConnectionFailed, resp.Status)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	c := &ClientTransport{
		conn:   conn,
		selfID: selfID,
		events: make(chan transport.Event, 64),
	}
	go c.readLoop()
	return c, nil
}

// JoinURL builds the address a player (or QR code) uses to reach a session.
func JoinURL(baseURL, code string) string {
	return strings.TrimSuffix(baseURL, "/") + "/ws?code=" + url.QueryEscape(transport.NormalizeCode(code))
}

func joinURL(baseURL, code, selfID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: bad host url: %v", domain.ErrConnectionFailed, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("code", transport.NormalizeCode(code))
	q.Set("playerId", selfID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *ClientTransport) Events() <-chan transport.Event { return c.events }

func (c *ClientTransport) Send(env protocol.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("ws client: connection closed")
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("ws client send: %w", err)
	}
	return nil
}

func (c *ClientTransport) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *ClientTransport) readLoop() {
	defer func() {
		c.mu.Lock()
		alreadyClosed := c.closed
		c.closed = true
		c.mu.Unlock()
		_ = c.conn.Close()
		if !alreadyClosed {
			select {
			case c.events <- transport.Event{Kind: transport.EventPeerLeft, From: protocol.OriginHost}:
			default:
			}
		}
		close(c.events)
	}()
	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case c.events <- transport.Event{Kind: transport.EventMessage, From: protocol.OriginHost, Env: env}:
		default:
			// A consumer that stopped draining forfeits frames.
		}
	}
}
