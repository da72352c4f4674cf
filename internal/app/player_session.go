package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/game"
	"quiz-sync/internal/protocol"
	"quiz-sync/internal/transport"
)

// DefaultConfirmTimeout bounds how long a local submission stays Pending
// before the caller may surface a retry.
const DefaultConfirmTimeout = 5 * time.Second

// Notification is one update surfaced to the player-facing layer.
type Notification struct {
	Kind    protocol.Kind
	State   *domain.GameState
	Verdict *protocol.ValidateAnswer
	Final   *domain.Scoreboard
}

// PlayerSession connects one player to a host session. It forwards local
// input, keeps the mirror current, and exposes a notification stream. The
// core never auto-retries input; duplicate scoring is the host's to prevent
// and re-sending is the UI's decision.
type PlayerSession struct {
	selfID         string
	displayName    string
	avatarRef      string
	tr             transport.Client
	clock          clockwork.Clock
	log            zerolog.Logger
	confirmTimeout time.Duration

	mu     sync.Mutex
	mirror *game.Mirror

	notifications chan Notification
	confirmed     chan struct{}
	confirmOnce   sync.Once
	done          chan struct{}
}

// PlayerOptions tunes session behavior; zero values get defaults.
type PlayerOptions struct {
	Clock          clockwork.Clock
	Log            zerolog.Logger
	ConfirmTimeout time.Duration
}

// NewPlayerSession wraps an already connected client transport.
func NewPlayerSession(tr transport.Client, selfID, displayName, avatarRef string, opts PlayerOptions) *PlayerSession {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timeout := opts.ConfirmTimeout
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	return &PlayerSession{
		selfID:         selfID,
		displayName:    displayName,
		avatarRef:      avatarRef,
		tr:             tr,
		clock:          clock,
		log:            opts.Log,
		confirmTimeout: timeout,
		mirror:         game.NewMirror(selfID, clock),
		notifications:  make(chan Notification, 16),
		confirmed:      make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Run starts the receive pump and announces the player to the host. It
// returns once the join is confirmed, or fails with ErrConnectionFailed
// when no confirmation arrives within the handshake timeout.
func (s *PlayerSession) Run(ctx context.Context) error {
	go s.pump()

	if err := s.send(protocol.KindJoin, protocol.Join{
		PlayerID:    s.selfID,
		DisplayName: s.displayName,
		AvatarRef:   s.avatarRef,
	}); err != nil {
		return err
	}

	timer := s.clock.NewTimer(s.confirmTimeout)
	defer timer.Stop()
	select {
	case <-s.confirmed:
		return nil
	case <-timer.Chan():
		return fmt.Errorf("%w: join not confirmed", domain.ErrConnectionFailed)
	case <-s.done:
		return fmt.Errorf("%w: disconnected during join", domain.ErrConnectionFailed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notifications streams state updates to the rendering layer. Stale
// broadcasts are filtered out before they reach this channel.
func (s *PlayerSession) Notifications() <-chan Notification { return s.notifications }

// Done closes when the host connection is gone.
func (s *PlayerSession) Done() <-chan struct{} { return s.done }

func (s *PlayerSession) pump() {
	defer close(s.done)
	for ev := range s.tr.Events() {
		switch ev.Kind {
		case transport.EventPeerLeft:
			return
		case transport.EventMessage:
			s.handleMessage(ev.Env)
		}
	}
}

func (s *PlayerSession) handleMessage(env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindJoinConfirmed:
		s.confirmOnce.Do(func() { close(s.confirmed) })
	case protocol.KindStateBroadcast:
		payload, err := protocol.DecodePayload[protocol.StateBroadcast](env)
		if err != nil {
			s.log.Warn().Err(err).Msg("malformed state broadcast")
			return
		}
		s.mu.Lock()
		err = s.mirror.Apply(payload)
		state := s.mirror.State()
		s.mu.Unlock()
		if err != nil {
			s.log.Debug().Uint64("seq", payload.State.Seq).Msg("stale broadcast discarded")
			return
		}
		s.notify(Notification{Kind: env.Kind, State: state})
	case protocol.KindValidateAnswer:
		payload, err := protocol.DecodePayload[protocol.ValidateAnswer](env)
		if err != nil {
			s.log.Warn().Err(err).Msg("malformed validation")
			return
		}
		s.notify(Notification{Kind: env.Kind, Verdict: &payload})
	case protocol.KindResetBuzzer:
		s.notify(Notification{Kind: env.Kind})
	case protocol.KindEndGame:
		payload, err := protocol.DecodePayload[protocol.EndGame](env)
		if err != nil {
			s.log.Warn().Err(err).Msg("malformed end game")
			return
		}
		s.notify(Notification{Kind: env.Kind, Final: &payload.Scoreboard})
	default:
		s.log.Debug().Str("kind", string(env.Kind)).Msg("unexpected host message, ignored")
	}
}

// notify drops the oldest update under backpressure; a renderer only ever
// needs the newest state anyway.
func (s *PlayerSession) notify(n Notification) {
	select {
	case s.notifications <- n:
	default:
		select {
		case <-s.notifications:
		default:
		}
		select {
		case s.notifications <- n:
		default:
		}
	}
}

// Buzz presses the buzzer. The local submission turns Pending until a
// broadcast confirms this player as winner, or settles it as lost.
func (s *PlayerSession) Buzz() error {
	s.mu.Lock()
	err := s.mirror.MarkPending(game.SubmitBuzz, "", s.confirmTimeout)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.send(protocol.KindBuzz, protocol.Buzz{
		PlayerID:        s.selfID,
		ClientTimestamp: s.clock.Now(),
	})
}

// SubmitChoice answers a multiple-choice or true/false question, at most
// once per question from this device until the pending window expires.
func (s *PlayerSession) SubmitChoice(choice string) error {
	s.mu.Lock()
	err := s.mirror.MarkPending(game.SubmitChoice, choice, s.confirmTimeout)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.send(protocol.KindSubmitChoice, protocol.SubmitChoice{
		PlayerID:        s.selfID,
		Choice:          choice,
		ClientTimestamp: s.clock.Now(),
	})
}

// State returns the mirrored snapshot, nil before the first broadcast.
func (s *PlayerSession) State() *domain.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirror.State()
}

// Submission exposes the two-phase local submission state.
func (s *PlayerSession) Submission() game.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirror.Submission()
}

// PendingExpired reports whether the last input went unconfirmed past its
// deadline, meaning the UI may offer a retry.
func (s *PlayerSession) PendingExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirror.PendingExpired()
}

// Close disconnects from the session.
func (s *PlayerSession) Close() error {
	return s.tr.Close()
}

func (s *PlayerSession) send(kind protocol.Kind, payload any) error {
	env, err := protocol.Encode(kind, s.selfID, s.clock.Now(), payload)
	if err != nil {
		return err
	}
	return s.tr.Send(env)
}
