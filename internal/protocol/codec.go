package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Encode builds an envelope around payload. Payload may be nil for kinds
// that carry no body (e.g. resetBuzzer).
func Encode(kind Kind, origin string, sentAt time.Time, payload any) (Envelope, error) {
	if kind == "" {
		return Envelope{}, fmt.Errorf("encode: empty message kind")
	}
	env := Envelope{Kind: kind, Origin: origin, SentAt: sentAt}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	env.Payload = raw
	return env, nil
}

// Marshal serializes an envelope for the wire.
func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Unmarshal parses an envelope off the wire.
func Unmarshal(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("unmarshal: empty frame")
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}

// DecodePayload extracts the typed payload from an envelope.
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Payload) == 0 {
		return out, fmt.Errorf("empty payload for kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return out, nil
}
