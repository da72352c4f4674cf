package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"quiz-sync/internal/app"
	"quiz-sync/internal/domain"
	"quiz-sync/internal/game"
	"quiz-sync/internal/transport/loopback"
)

func testQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Category: "sport", Difficulty: 2, Type: domain.TypeBuzzer, Prompt: "Who won?", Answer: "somebody"},
		{ID: "q2", Category: "history", Difficulty: 1, Type: domain.TypeChoice, Prompt: "Pick one", Choices: []string{"3", "4", "5"}, Answer: "4"},
	}
}

type fixture struct {
	hub     *loopback.Hub
	session *app.HostSession
	cancel  context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := loopback.NewHub()
	ht, err := hub.Host()
	if err != nil {
		t.Fatalf("host: %v", err)
	}

	machine := game.NewMachine(testQuestions(), []string{"q1", "q2"}, game.DefaultScoring(), clockwork.NewRealClock(), zerolog.Nop())
	session := app.NewHostSession(machine, ht, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = session.Run(ctx) }()

	f := &fixture{hub: hub, session: session, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		_ = session.Close()
	})
	return f
}

func (f *fixture) join(t *testing.T, id, name string) *app.PlayerSession {
	t.Helper()
	ct, err := f.hub.Dial(context.Background(), f.session.Code(), id)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ps := app.NewPlayerSession(ct, id, name, "", app.PlayerOptions{Log: zerolog.Nop()})
	if err := ps.Run(context.Background()); err != nil {
		t.Fatalf("player run: %v", err)
	}
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func (f *fixture) waitForHost(t *testing.T, cond func(*domain.GameState) bool) *domain.GameState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state, err := f.session.Snapshot()
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if cond(state) {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
	return nil
}

func waitForMirror(t *testing.T, ps *app.PlayerSession, cond func(*domain.GameState) bool) *domain.GameState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if state := ps.State(); state != nil && cond(state) {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("mirror condition not met before deadline")
	return nil
}

func TestDialUnknownCodeFails(t *testing.T) {
	hub := loopback.NewHub()
	if _, err := hub.Dial(context.Background(), "NOSUCH", "p1"); !errors.Is(err, domain.ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
}

func TestBuzzerScenarioEndToEnd(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "p1", "Alice")
	bob := f.join(t, "p2", "Bob")

	f.waitForHost(t, func(s *domain.GameState) bool { return len(s.Players) == 2 })
	if err := f.session.StartGame(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForMirror(t, alice, func(s *domain.GameState) bool { return s.Phase == domain.PhaseQuestion })

	if err := alice.Buzz(); err != nil {
		t.Fatalf("buzz: %v", err)
	}
	f.waitForHost(t, func(s *domain.GameState) bool { return s.BuzzerWinner == "p1" })

	// Alice sees her buzz confirmed by the broadcast.
	waitForMirror(t, alice, func(s *domain.GameState) bool { return s.BuzzerWinner == "p1" })
	if alice.Submission().Phase != game.SubmissionConfirmed {
		t.Fatalf("expected confirmed buzz, got %v", alice.Submission().Phase)
	}

	// A later buzz from Bob is ignored, winner unchanged.
	if err := bob.Buzz(); err != nil {
		t.Fatalf("bob buzz: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	state, err := f.session.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if state.BuzzerWinner != "p1" {
		t.Fatalf("winner changed to %q", state.BuzzerWinner)
	}

	// Host validates; the score increases by exactly the difficulty award.
	if err := f.session.ValidateBuzzer("p1", true); err != nil {
		t.Fatalf("validate: %v", err)
	}
	state = f.waitForHost(t, func(s *domain.GameState) bool { return s.Players["p1"].Score > 0 })
	if got := state.Players["p1"].Score; got != 20 {
		t.Fatalf("expected 20 points for difficulty 2, got %d", got)
	}
}

func TestChoiceIdempotenceEndToEnd(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "p1", "Alice")

	f.waitForHost(t, func(s *domain.GameState) bool { return len(s.Players) == 1 })
	if err := f.session.StartGame(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.session.Advance(); err != nil {
		t.Fatalf("advance to reveal: %v", err)
	}
	if err := f.session.Advance(); err != nil {
		t.Fatalf("advance to q2: %v", err)
	}
	waitForMirror(t, alice, func(s *domain.GameState) bool {
		return s.CurrentQuestion != nil && s.CurrentQuestion.ID == "q2"
	})

	if err := alice.SubmitChoice("4"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForMirror(t, alice, func(s *domain.GameState) bool { return s.HasAnswered("p1") })

	// A second submission goes out but cannot change the recorded answer.
	if err := alice.SubmitChoice("5"); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	state, err := f.session.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(state.CurrentAnswers) != 1 || state.CurrentAnswers[0].Value != "4" {
		t.Fatalf("expected single answer '4', got %+v", state.CurrentAnswers)
	}
}

func TestStartGameWithoutPlayers(t *testing.T) {
	f := newFixture(t)
	if err := f.session.StartGame(); !errors.Is(err, domain.ErrNoPlayers) {
		t.Fatalf("expected ErrNoPlayers, got %v", err)
	}
}

func TestPlayerLeaveRemovesFromRoster(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "p1", "Alice")
	f.join(t, "p2", "Bob")

	f.waitForHost(t, func(s *domain.GameState) bool { return len(s.Players) == 2 })
	_ = alice.Close()
	f.waitForHost(t, func(s *domain.GameState) bool { return len(s.Players) == 1 })

	state, err := f.session.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, ok := state.Players["p1"]; ok {
		t.Fatalf("expected p1 removed from roster")
	}
}

func TestPlayerReconnectsMidGameWithScore(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "p1", "Alice")
	f.join(t, "p2", "Bob")

	f.waitForHost(t, func(s *domain.GameState) bool { return len(s.Players) == 2 })
	if err := f.session.StartGame(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForMirror(t, alice, func(s *domain.GameState) bool { return s.Phase == domain.PhaseQuestion })

	if err := alice.Buzz(); err != nil {
		t.Fatalf("buzz: %v", err)
	}
	f.waitForHost(t, func(s *domain.GameState) bool { return s.BuzzerWinner == "p1" })
	if err := f.session.ValidateBuzzer("p1", true); err != nil {
		t.Fatalf("validate: %v", err)
	}
	f.waitForHost(t, func(s *domain.GameState) bool { return s.Players["p1"].Score == 20 })

	// Alice drops mid-game and dials back in under the same identity.
	_ = alice.Close()
	f.waitForHost(t, func(s *domain.GameState) bool { return len(s.Players) == 1 })

	rejoined := f.join(t, "p1", "Alice")
	state := f.waitForHost(t, func(s *domain.GameState) bool {
		_, ok := s.Players["p1"]
		return ok
	})
	if state.Players["p1"].Score != 20 {
		t.Fatalf("expected restored score 20, got %d", state.Players["p1"].Score)
	}
	waitForMirror(t, rejoined, func(s *domain.GameState) bool { return s.Phase == domain.PhaseQuestion })
}

func TestEndGameBroadcastsFinalScoreboard(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "p1", "Alice")
	f.waitForHost(t, func(s *domain.GameState) bool { return len(s.Players) == 1 })

	if err := f.session.StartGame(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.session.EndGame(); err != nil {
		t.Fatalf("end: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("no endGame notification")
		}
		select {
		case n := <-alice.Notifications():
			if n.Final != nil {
				if len(n.Final.Entries) != 1 || n.Final.Entries[0].PlayerID != "p1" {
					t.Fatalf("unexpected final scoreboard %+v", n.Final)
				}
				return
			}
		case <-time.After(time.Second):
		}
	}
}
