// Package app wires the game core to a transport. HostSession drives the
// authoritative state machine; PlayerSession maintains a mirror on each
// player device. Both are explicitly constructed and torn down; nothing in
// this package is a process-wide singleton.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/game"
	"quiz-sync/internal/protocol"
	"quiz-sync/internal/transport"
)

// HostSession owns the canonical game for one session. All state mutation
// happens on the pump goroutine inside Run: wire messages and operator
// commands are both funneled through it, so each event is fully processed
// before the next. First buzz processed wins; that is the contract.
type HostSession struct {
	machine  *game.Machine
	tr       transport.Host
	log      zerolog.Logger
	commands chan func()
	done     chan struct{}
}

// NewHostSession builds a session over an already listening transport.
func NewHostSession(machine *game.Machine, tr transport.Host, log zerolog.Logger) *HostSession {
	return &HostSession{
		machine:  machine,
		tr:       tr,
		log:      log,
		commands: make(chan func(), 16),
		done:     make(chan struct{}),
	}
}

// Code returns the session code players connect with.
func (s *HostSession) Code() string { return s.tr.Code() }

// Run pumps transport events and operator commands until ctx is cancelled
// or the transport closes. It must be called exactly once.
func (s *HostSession) Run(ctx context.Context) error {
	defer close(s.done)
	events := s.tr.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-s.commands:
			cmd()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handleTransportEvent(ev)
		}
	}
}

func (s *HostSession) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventPeerJoined:
		// Presence alone does not create a Player; the join message does.
		s.log.Debug().Str("peer", ev.From).Msg("peer connected")
	case transport.EventPeerLeft:
		s.apply(game.LeaveEvent{PlayerID: ev.From})
	case transport.EventMessage:
		s.handleMessage(ev.From, ev.Env)
	}
}

// handleMessage validates untrusted player input before it reaches the
// machine. The transport peer ID, not the payload, names the sender.
func (s *HostSession) handleMessage(from string, env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindJoin:
		payload, err := protocol.DecodePayload[protocol.Join](env)
		if err != nil {
			s.log.Warn().Err(err).Str("peer", from).Msg("malformed join")
			return
		}
		if payload.PlayerID != from {
			s.log.Warn().Str("peer", from).Str("claimed", payload.PlayerID).Msg("join id mismatch, ignored")
			return
		}
		s.apply(game.JoinEvent{
			PlayerID:    from,
			DisplayName: payload.DisplayName,
			AvatarRef:   payload.AvatarRef,
		})
	case protocol.KindBuzz:
		payload, err := protocol.DecodePayload[protocol.Buzz](env)
		if err != nil {
			s.log.Warn().Err(err).Str("peer", from).Msg("malformed buzz")
			return
		}
		s.apply(game.BuzzEvent{PlayerID: from, ClientTimestamp: payload.ClientTimestamp})
	case protocol.KindSubmitChoice:
		payload, err := protocol.DecodePayload[protocol.SubmitChoice](env)
		if err != nil {
			s.log.Warn().Err(err).Str("peer", from).Msg("malformed choice")
			return
		}
		s.apply(game.ChoiceEvent{PlayerID: from, Choice: payload.Choice, ClientTimestamp: payload.ClientTimestamp})
	default:
		s.log.Warn().Str("peer", from).Str("kind", string(env.Kind)).Msg("unexpected message kind, ignored")
	}
}

// apply runs one event on the machine and dispatches whatever it emits.
// Rejections are logged and dropped; no player input is fatal to the host.
func (s *HostSession) apply(ev game.Event) error {
	out, err := s.machine.Apply(ev)
	if err != nil {
		s.log.Info().Err(err).Type("event", ev).Msg("event rejected")
		return err
	}
	for _, msg := range out {
		if msg.To == "" {
			if err := s.tr.Broadcast(msg.Env); err != nil {
				s.log.Warn().Err(err).Str("kind", string(msg.Env.Kind)).Msg("broadcast failed")
			}
		} else if err := s.tr.Send(msg.To, msg.Env); err != nil {
			s.log.Warn().Err(err).Str("to", msg.To).Str("kind", string(msg.Env.Kind)).Msg("send failed")
		}
	}
	return nil
}

// do runs fn on the pump goroutine and waits for it.
func (s *HostSession) do(fn func()) error {
	wrapped := make(chan struct{})
	select {
	case s.commands <- func() { fn(); close(wrapped) }:
	case <-s.done:
		return fmt.Errorf("host session stopped")
	}
	select {
	case <-wrapped:
		return nil
	case <-s.done:
		return fmt.Errorf("host session stopped")
	}
}

func (s *HostSession) command(ev game.Event) error {
	var applyErr error
	if err := s.do(func() { applyErr = s.apply(ev) }); err != nil {
		return err
	}
	return applyErr
}

// StartGame moves Lobby→Question; fails with ErrNoPlayers on an empty lobby.
func (s *HostSession) StartGame() error { return s.command(game.StartEvent{}) }

// Advance moves Question→Reveal (scoring timed choices) or Reveal→next.
func (s *HostSession) Advance() error { return s.command(game.AdvanceEvent{}) }

// ValidateBuzzer records the host's judgement of the buzzer answer.
func (s *HostSession) ValidateBuzzer(playerID string, correct bool) error {
	return s.command(game.ValidateEvent{PlayerID: playerID, IsCorrect: correct})
}

// ResetBuzzer reopens the buzzer for the current question.
func (s *HostSession) ResetBuzzer() error { return s.command(game.ResetBuzzerEvent{}) }

// EndGame force-finishes the session.
func (s *HostSession) EndGame() error { return s.command(game.EndEvent{}) }

// Reset returns a finished game to a fresh lobby.
func (s *HostSession) Reset() error { return s.command(game.ResetEvent{}) }

// Snapshot returns the current canonical state, serialized with the pump.
func (s *HostSession) Snapshot() (*domain.GameState, error) {
	var state *domain.GameState
	if err := s.do(func() { state = s.machine.State() }); err != nil {
		return nil, err
	}
	return state, nil
}

// Progress reports position within the question order, serialized with the
// pump.
func (s *HostSession) Progress() (domain.Progress, error) {
	var p domain.Progress
	if err := s.do(func() { p = s.machine.Progress() }); err != nil {
		return domain.Progress{}, err
	}
	return p, nil
}

// Scoreboard returns the ranked standings, serialized with the pump.
func (s *HostSession) Scoreboard() (domain.Scoreboard, error) {
	var sb domain.Scoreboard
	if err := s.do(func() { sb = s.machine.Scoreboard() }); err != nil {
		return domain.Scoreboard{}, err
	}
	return sb, nil
}

// Close tears down the transport, which in turn stops Run.
func (s *HostSession) Close() error {
	return s.tr.Close()
}
