package loopback

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/protocol"
	"quiz-sync/internal/transport"
)

func testEnvelope(t *testing.T, kind protocol.Kind, origin string) protocol.Envelope {
	t.Helper()
	env, err := protocol.Encode(kind, origin, time.Now(), nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return env
}

func waitEvent(t *testing.T, ch <-chan transport.Event) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return transport.Event{}
}

func TestHostAllocatesUsableCode(t *testing.T) {
	hub := NewHub()
	ht, err := hub.Host()
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	defer ht.Close()

	if len(ht.Code()) != transport.CodeLength {
		t.Fatalf("unexpected code %q", ht.Code())
	}
	if _, err := hub.Dial(context.Background(), ht.Code(), "p1"); err != nil {
		t.Fatalf("dial own code: %v", err)
	}
}

func TestDialUnknownCode(t *testing.T) {
	hub := NewHub()
	if _, err := hub.Dial(context.Background(), "XXXXXX", "p1"); !errors.Is(err, domain.ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
}

func TestDialNormalizesCode(t *testing.T) {
	hub := NewHub()
	ht, err := hub.Host()
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	defer ht.Close()

	lowered := " " + strings.ToLower(ht.Code()) + " "
	if _, err := hub.Dial(context.Background(), lowered, "p1"); err != nil {
		t.Fatalf("dial with unnormalized code: %v", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	hub := NewHub()
	ht, err := hub.Host()
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	defer ht.Close()

	ct, err := hub.Dial(context.Background(), ht.Code(), "p1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ct.Close()

	if ev := waitEvent(t, ht.Events()); ev.Kind != transport.EventPeerJoined || ev.From != "p1" {
		t.Fatalf("expected peer joined for p1, got %+v", ev)
	}

	if err := ct.Send(testEnvelope(t, protocol.KindBuzz, "p1")); err != nil {
		t.Fatalf("send: %v", err)
	}
	ev := waitEvent(t, ht.Events())
	if ev.Kind != transport.EventMessage || ev.From != "p1" || ev.Env.Kind != protocol.KindBuzz {
		t.Fatalf("unexpected host event %+v", ev)
	}

	if err := ht.Send("p1", testEnvelope(t, protocol.KindJoinConfirmed, protocol.OriginHost)); err != nil {
		t.Fatalf("host send: %v", err)
	}
	ev = waitEvent(t, ct.Events())
	if ev.Kind != transport.EventMessage || ev.From != protocol.OriginHost || ev.Env.Kind != protocol.KindJoinConfirmed {
		t.Fatalf("unexpected client event %+v", ev)
	}
}

func TestBroadcastReachesAllPeers(t *testing.T) {
	hub := NewHub()
	ht, err := hub.Host()
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	defer ht.Close()

	peers := make([]*ClientTransport, 0, 3)
	for _, id := range []string{"p1", "p2", "p3"} {
		ct, err := hub.Dial(context.Background(), ht.Code(), id)
		if err != nil {
			t.Fatalf("dial %s: %v", id, err)
		}
		defer ct.Close()
		peers = append(peers, ct)
	}

	if err := ht.Broadcast(testEnvelope(t, protocol.KindStateBroadcast, protocol.OriginHost)); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	for i, ct := range peers {
		ev := waitEvent(t, ct.Events())
		if ev.Env.Kind != protocol.KindStateBroadcast {
			t.Fatalf("peer %d got %+v", i, ev)
		}
	}
}

func TestSendToUnknownPeerFails(t *testing.T) {
	hub := NewHub()
	ht, err := hub.Host()
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	defer ht.Close()

	if err := ht.Send("ghost", testEnvelope(t, protocol.KindJoinConfirmed, protocol.OriginHost)); err == nil {
		t.Fatalf("expected error sending to unknown peer")
	}
}

func TestClientCloseEmitsPeerLeft(t *testing.T) {
	hub := NewHub()
	ht, err := hub.Host()
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	defer ht.Close()

	ct, err := hub.Dial(context.Background(), ht.Code(), "p1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitEvent(t, ht.Events()) // joined

	if err := ct.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	ev := waitEvent(t, ht.Events())
	if ev.Kind != transport.EventPeerLeft || ev.From != "p1" {
		t.Fatalf("expected peer left for p1, got %+v", ev)
	}
	if err := ct.Send(testEnvelope(t, protocol.KindBuzz, "p1")); err == nil {
		t.Fatalf("send after close should fail")
	}
}

func TestHostCloseDisconnectsPeersAndFreesCode(t *testing.T) {
	hub := NewHub()
	ht, err := hub.Host()
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	code := ht.Code()

	ct, err := hub.Dial(context.Background(), code, "p1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := ht.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ev := waitEvent(t, ct.Events())
	if ev.Kind != transport.EventPeerLeft {
		t.Fatalf("expected peer left on host close, got %+v", ev)
	}
	if _, ok := <-ct.Events(); ok {
		t.Fatalf("expected client events closed after host close")
	}
	if _, err := hub.Dial(context.Background(), code, "p2"); !errors.Is(err, domain.ErrConnectionFailed) {
		t.Fatalf("expected code to be released, got %v", err)
	}
}

func TestDialWithCancelledContext(t *testing.T) {
	hub := NewHub()
	ht, err := hub.Host()
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	defer ht.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := hub.Dial(ctx, ht.Code(), "p1"); !errors.Is(err, domain.ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
}
