// Package protocol defines the wire messages exchanged between a host and
// its players. Every message travels as an Envelope whose payload is one of
// the typed structs below, selected by Kind.
package protocol

import (
	"encoding/json"
	"time"

	"quiz-sync/internal/domain"
)

// Kind identifies a protocol message.
type Kind string

const (
	KindJoin           Kind = "join"
	KindJoinConfirmed  Kind = "joinConfirmed"
	KindBuzz           Kind = "buzz"
	KindSubmitChoice   Kind = "submitChoice"
	KindStateBroadcast Kind = "stateBroadcast"
	KindValidateAnswer Kind = "validateAnswer"
	KindResetBuzzer    Kind = "resetBuzzer"
	KindEndGame        Kind = "endGame"
)

// OriginHost marks envelopes authored by the host rather than a player.
const OriginHost = "host"

// Envelope wraps a payload with routing metadata. Payload stays raw until
// the receiver knows the concrete type from Kind.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Origin  string          `json:"origin"`
	SentAt  time.Time       `json:"sentAt"`
}

// Join is the first message a player sends after connecting.
type Join struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// JoinConfirmed acknowledges a join, point-to-point.
type JoinConfirmed struct {
	PlayerID string `json:"playerId"`
}

// Buzz is a buzzer press. ClientTimestamp is informational; arbitration is
// by host processing order, not by comparing clocks across devices.
type Buzz struct {
	PlayerID        string    `json:"playerId"`
	ClientTimestamp time.Time `json:"clientTimestamp"`
}

// SubmitChoice carries a multiple-choice or true/false answer.
type SubmitChoice struct {
	PlayerID        string    `json:"playerId"`
	Choice          string    `json:"choice"`
	ClientTimestamp time.Time `json:"clientTimestamp"`
}

// StateBroadcast is the full-state snapshot sent after every host mutation.
// Sequence numbers let late or reconnecting players discard stale copies.
type StateBroadcast struct {
	State domain.GameState `json:"state"`
}

// ValidateAnswer announces the host's judgement of a buzzer answer.
type ValidateAnswer struct {
	PlayerID  string `json:"playerId"`
	IsCorrect bool   `json:"isCorrect"`
	NewScore  int    `json:"newScore"`
}

// ResetBuzzer clears the current buzzer winner so the question can be retried.
type ResetBuzzer struct{}

// EndGame carries the final standings.
type EndGame struct {
	Scoreboard domain.Scoreboard `json:"scoreboard"`
}
