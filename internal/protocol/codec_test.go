package protocol

import (
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	sent := time.Date(2025, 12, 24, 20, 0, 0, 0, time.UTC)
	env, err := Encode(KindBuzz, "p1", sent, Buzz{PlayerID: "p1", ClientTimestamp: sent})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	frame, err := Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := Unmarshal(frame)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Kind != KindBuzz || decoded.Origin != "p1" {
		t.Fatalf("unexpected envelope %+v", decoded)
	}

	payload, err := DecodePayload[Buzz](decoded)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.PlayerID != "p1" || !payload.ClientTimestamp.Equal(sent) {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestEncodeRejectsEmptyKind(t *testing.T) {
	if _, err := Encode("", "p1", time.Now(), Buzz{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
}

func TestEncodeAllowsNilPayload(t *testing.T) {
	env, err := Encode(KindResetBuzzer, OriginHost, time.Now(), nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(env.Payload) != 0 {
		t.Fatalf("expected empty payload, got %s", env.Payload)
	}
}

func TestUnmarshalRejectsEmptyFrame(t *testing.T) {
	if _, err := Unmarshal(nil); err == nil {
		t.Fatalf("expected error for empty frame")
	}
}

func TestDecodePayloadWrongShape(t *testing.T) {
	env, err := Encode(KindSubmitChoice, "p1", time.Now(), SubmitChoice{PlayerID: "p1", Choice: "4"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Decoding into a struct with different field types must fail loudly.
	type wrong struct {
		Choice int `json:"choice"`
	}
	if _, err := DecodePayload[wrong](env); err == nil {
		t.Fatalf("expected decode error")
	}
}
