package game

import (
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/protocol"
)

// Event is one input to the host state machine. All events, whether they
// arrived over the wire or from the host operator, go through Apply so that
// state mutation stays on a single code path.
type Event interface{ isEvent() }

type JoinEvent struct {
	PlayerID    string
	DisplayName string
	AvatarRef   string
}

type LeaveEvent struct{ PlayerID string }

type BuzzEvent struct {
	PlayerID        string
	ClientTimestamp time.Time
}

type ChoiceEvent struct {
	PlayerID        string
	Choice          string
	ClientTimestamp time.Time
}

// StartEvent begins the game; requires at least one player.
type StartEvent struct{}

// AdvanceEvent moves Question→Reveal (scoring timed choices on the way) and
// Reveal→Question or Final.
type AdvanceEvent struct{}

// ValidateEvent is the host's judgement of the current buzzer answer.
type ValidateEvent struct {
	PlayerID  string
	IsCorrect bool
}

// ResetBuzzerEvent reopens the buzzer for the current question.
type ResetBuzzerEvent struct{}

// EndEvent force-ends the game from any phase.
type EndEvent struct{}

// ResetEvent returns a finished game to a fresh lobby.
type ResetEvent struct{}

func (JoinEvent) isEvent()        {}
func (LeaveEvent) isEvent()       {}
func (BuzzEvent) isEvent()        {}
func (ChoiceEvent) isEvent()      {}
func (StartEvent) isEvent()       {}
func (AdvanceEvent) isEvent()     {}
func (ValidateEvent) isEvent()    {}
func (ResetBuzzerEvent) isEvent() {}
func (EndEvent) isEvent()         {}
func (ResetEvent) isEvent()       {}

// Outgoing is a message the machine wants sent. An empty To means broadcast.
type Outgoing struct {
	To  string
	Env protocol.Envelope
}

// Machine owns the canonical GameState. It is not safe for concurrent use;
// the host session calls Apply from a single pump goroutine, which is what
// makes "first buzz processed wins" well-defined.
type Machine struct {
	clock     clockwork.Clock
	log       zerolog.Logger
	scoring   ScoringConfig
	questions map[string]domain.Question
	state     *domain.GameState

	// departed remembers the scores of players who disconnected mid-game so
	// a reconnect under the same identity picks up where it left off.
	departed map[string]int
}

// NewMachine builds a host machine over an already shuffled question order.
func NewMachine(pack []domain.Question, order []string, scoring ScoringConfig, clock clockwork.Clock, log zerolog.Logger) *Machine {
	byID := make(map[string]domain.Question, len(pack))
	for _, q := range pack {
		byID[q.ID] = q
	}
	return &Machine{
		clock:     clock,
		log:       log,
		scoring:   scoring,
		questions: byID,
		departed:  make(map[string]int),
		state: &domain.GameState{
			Phase:         domain.PhaseLobby,
			Players:       make(map[string]*domain.Player),
			QuestionOrder: append([]string(nil), order...),
		},
	}
}

// State returns a snapshot of the current state.
func (m *Machine) State() *domain.GameState {
	return m.state.Clone()
}

// CurrentQuestion returns the active question, or false past the end.
func (m *Machine) CurrentQuestion() (domain.Question, bool) {
	if m.state.CurrentIndex >= len(m.state.QuestionOrder) {
		return domain.Question{}, false
	}
	q, ok := m.questions[m.state.QuestionOrder[m.state.CurrentIndex]]
	return q, ok
}

// Progress reports position within the question order.
func (m *Machine) Progress() domain.Progress {
	return domain.Progress{
		Current: m.state.CurrentIndex + 1,
		Total:   len(m.state.QuestionOrder),
	}
}

// Apply runs one event against the state. The returned messages must be
// delivered for players to converge. A non-nil error means the event was
// rejected without mutating state; wire-originated rejections are non-fatal
// and the caller just logs them.
func (m *Machine) Apply(ev Event) ([]Outgoing, error) {
	switch e := ev.(type) {
	case JoinEvent:
		return m.applyJoin(e)
	case LeaveEvent:
		return m.applyLeave(e)
	case StartEvent:
		return m.applyStart()
	case BuzzEvent:
		return m.applyBuzz(e)
	case ChoiceEvent:
		return m.applyChoice(e)
	case AdvanceEvent:
		return m.applyAdvance()
	case ValidateEvent:
		return m.applyValidate(e)
	case ResetBuzzerEvent:
		return m.applyResetBuzzer()
	case EndEvent:
		return m.applyEnd()
	case ResetEvent:
		return m.applyReset()
	default:
		return nil, domain.ErrInvalidTransition
	}
}

func (m *Machine) applyJoin(e JoinEvent) ([]Outgoing, error) {
	if existing, ok := m.state.Players[e.PlayerID]; ok {
		// Same identity re-joining refreshes the profile, keeps the score.
		existing.DisplayName = e.DisplayName
		existing.AvatarRef = e.AvatarRef
	} else {
		// Mid-game the roster is closed to newcomers, but a player who
		// dropped may reconnect under the same identity with their score.
		score, returning := m.departed[e.PlayerID]
		if m.state.Phase != domain.PhaseLobby && !returning {
			return nil, domain.ErrInvalidTransition
		}
		delete(m.departed, e.PlayerID)
		m.state.Players[e.PlayerID] = &domain.Player{
			ID:          e.PlayerID,
			DisplayName: e.DisplayName,
			AvatarRef:   e.AvatarRef,
			Score:       score,
			JoinedAt:    m.clock.Now(),
		}
	}
	m.log.Info().Str("player", e.PlayerID).Str("name", e.DisplayName).Msg("player joined")

	confirm, err := m.encode(protocol.KindJoinConfirmed, protocol.JoinConfirmed{PlayerID: e.PlayerID})
	if err != nil {
		return nil, err
	}
	return append([]Outgoing{{To: e.PlayerID, Env: confirm}}, m.broadcastState()...), nil
}

func (m *Machine) applyLeave(e LeaveEvent) ([]Outgoing, error) {
	player, ok := m.state.Players[e.PlayerID]
	if !ok {
		return nil, domain.ErrUnknownPlayer
	}
	m.departed[e.PlayerID] = player.Score
	delete(m.state.Players, e.PlayerID)
	// Drop any pending answer or buzz they held; awarded scores stay awarded.
	if m.state.BuzzerWinner == e.PlayerID {
		m.state.BuzzerWinner = ""
	}
	kept := m.state.CurrentAnswers[:0]
	for _, a := range m.state.CurrentAnswers {
		if a.PlayerID != e.PlayerID {
			kept = append(kept, a)
		}
	}
	m.state.CurrentAnswers = kept
	m.log.Info().Str("player", e.PlayerID).Msg("player left")
	return m.broadcastState(), nil
}

func (m *Machine) applyStart() ([]Outgoing, error) {
	if m.state.Phase != domain.PhaseLobby {
		return nil, domain.ErrInvalidTransition
	}
	if len(m.state.Players) == 0 {
		return nil, domain.ErrNoPlayers
	}
	m.state.CurrentIndex = 0
	m.enterQuestion()
	return m.broadcastState(), nil
}

func (m *Machine) applyBuzz(e BuzzEvent) ([]Outgoing, error) {
	if m.state.Phase != domain.PhaseQuestion {
		return nil, domain.ErrInvalidTransition
	}
	q, ok := m.CurrentQuestion()
	if !ok || q.Type != domain.TypeBuzzer {
		return nil, domain.ErrInvalidTransition
	}
	if _, ok := m.state.Players[e.PlayerID]; !ok {
		return nil, domain.ErrUnknownPlayer
	}
	if m.state.BuzzerWinner != "" {
		// Lost the race; not an error.
		m.log.Debug().Str("player", e.PlayerID).Str("winner", m.state.BuzzerWinner).Msg("buzz after winner, ignored")
		return nil, nil
	}
	m.state.BuzzerWinner = e.PlayerID
	m.log.Info().Str("player", e.PlayerID).Time("clientTs", e.ClientTimestamp).Msg("buzzer won")
	return m.broadcastState(), nil
}

func (m *Machine) applyChoice(e ChoiceEvent) ([]Outgoing, error) {
	if m.state.Phase != domain.PhaseQuestion {
		return nil, domain.ErrInvalidTransition
	}
	q, ok := m.CurrentQuestion()
	if !ok || (q.Type != domain.TypeChoice && q.Type != domain.TypeTrueFalse) {
		return nil, domain.ErrInvalidTransition
	}
	if _, ok := m.state.Players[e.PlayerID]; !ok {
		return nil, domain.ErrUnknownPlayer
	}
	if m.state.HasAnswered(e.PlayerID) {
		// First submission wins; resubmissions cannot change the answer.
		m.log.Debug().Str("player", e.PlayerID).Msg("duplicate submission, ignored")
		return nil, nil
	}
	m.state.CurrentAnswers = append(m.state.CurrentAnswers, domain.Answer{
		PlayerID:   e.PlayerID,
		Value:      e.Choice,
		ReceivedAt: m.clock.Now(),
	})
	return m.broadcastState(), nil
}

func (m *Machine) applyAdvance() ([]Outgoing, error) {
	switch m.state.Phase {
	case domain.PhaseQuestion:
		if q, ok := m.CurrentQuestion(); ok && q.Type != domain.TypeBuzzer {
			m.scoreChoices(q)
		}
		m.state.Phase = domain.PhaseReveal
		return m.broadcastState(), nil
	case domain.PhaseReveal:
		if m.state.CurrentIndex+1 < len(m.state.QuestionOrder) {
			m.state.CurrentIndex++
			m.enterQuestion()
			return m.broadcastState(), nil
		}
		return m.finish()
	default:
		return nil, domain.ErrInvalidTransition
	}
}

func (m *Machine) applyValidate(e ValidateEvent) ([]Outgoing, error) {
	if m.state.Phase != domain.PhaseQuestion && m.state.Phase != domain.PhaseReveal {
		return nil, domain.ErrInvalidTransition
	}
	q, ok := m.CurrentQuestion()
	if !ok || q.Type != domain.TypeBuzzer {
		return nil, domain.ErrInvalidTransition
	}
	player, ok := m.state.Players[e.PlayerID]
	if !ok {
		return nil, domain.ErrUnknownPlayer
	}
	player.Score += ScoreOpenBuzzer(e.IsCorrect, q.Difficulty, m.scoring)

	verdict, err := m.encode(protocol.KindValidateAnswer, protocol.ValidateAnswer{
		PlayerID:  e.PlayerID,
		IsCorrect: e.IsCorrect,
		NewScore:  player.Score,
	})
	if err != nil {
		return nil, err
	}
	return append([]Outgoing{{Env: verdict}}, m.broadcastState()...), nil
}

func (m *Machine) applyResetBuzzer() ([]Outgoing, error) {
	if m.state.Phase != domain.PhaseQuestion {
		return nil, domain.ErrInvalidTransition
	}
	m.state.BuzzerWinner = ""
	reset, err := m.encode(protocol.KindResetBuzzer, protocol.ResetBuzzer{})
	if err != nil {
		return nil, err
	}
	return append([]Outgoing{{Env: reset}}, m.broadcastState()...), nil
}

func (m *Machine) applyEnd() ([]Outgoing, error) {
	if m.state.Phase == domain.PhaseFinal {
		return nil, domain.ErrInvalidTransition
	}
	return m.finish()
}

func (m *Machine) applyReset() ([]Outgoing, error) {
	if m.state.Phase != domain.PhaseFinal {
		return nil, domain.ErrInvalidTransition
	}
	for _, p := range m.state.Players {
		p.Score = 0
	}
	m.departed = make(map[string]int)
	m.state.Phase = domain.PhaseLobby
	m.state.CurrentIndex = 0
	m.state.CurrentQuestion = nil
	m.state.CurrentAnswers = nil
	m.state.BuzzerWinner = ""
	// Seq keeps increasing across resets so mirrors never mistake the fresh
	// lobby for a stale snapshot.
	return m.broadcastState(), nil
}

func (m *Machine) enterQuestion() {
	m.state.Phase = domain.PhaseQuestion
	m.state.CurrentAnswers = nil
	m.state.BuzzerWinner = ""
	if q, ok := m.CurrentQuestion(); ok {
		m.state.CurrentQuestion = &q
	} else {
		m.state.CurrentQuestion = nil
	}
}

// scoreChoices applies timed-choice awards in host-arrival order.
func (m *Machine) scoreChoices(q domain.Question) {
	results := make([]ChoiceResult, 0, len(m.state.CurrentAnswers))
	for _, a := range m.state.CurrentAnswers {
		results = append(results, ChoiceResult{
			PlayerID: a.PlayerID,
			Correct:  answerMatches(q, a.Value),
		})
	}
	for playerID, points := range ScoreTimedChoice(results, m.scoring) {
		if p, ok := m.state.Players[playerID]; ok {
			p.Score += points
		}
	}
}

func (m *Machine) finish() ([]Outgoing, error) {
	m.state.Phase = domain.PhaseFinal
	m.state.CurrentQuestion = nil
	end, err := m.encode(protocol.KindEndGame, protocol.EndGame{Scoreboard: m.Scoreboard()})
	if err != nil {
		return nil, err
	}
	return append([]Outgoing{{Env: end}}, m.broadcastState()...), nil
}

// Scoreboard returns the ranked standings: score descending, earlier joiners
// first on ties, then name.
func (m *Machine) Scoreboard() domain.Scoreboard {
	entries := make([]domain.ScoreboardEntry, 0, len(m.state.Players))
	for _, p := range m.state.Players {
		entries = append(entries, domain.ScoreboardEntry{
			PlayerID:    p.ID,
			DisplayName: p.DisplayName,
			AvatarRef:   p.AvatarRef,
			Score:       p.Score,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		pi := m.state.Players[entries[i].PlayerID]
		pj := m.state.Players[entries[j].PlayerID]
		if pi != nil && pj != nil && !pi.JoinedAt.Equal(pj.JoinedAt) {
			return pi.JoinedAt.Before(pj.JoinedAt)
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
	return domain.Scoreboard{
		Entries:        entries,
		TotalQuestions: len(m.state.QuestionOrder),
		UpdatedAt:      m.clock.Now(),
	}
}

func (m *Machine) broadcastState() []Outgoing {
	m.state.Seq++
	env, err := m.encode(protocol.KindStateBroadcast, protocol.StateBroadcast{State: *m.State()})
	if err != nil {
		m.log.Error().Err(err).Msg("encode state broadcast")
		return nil
	}
	return []Outgoing{{Env: env}}
}

func (m *Machine) encode(kind protocol.Kind, payload any) (protocol.Envelope, error) {
	return protocol.Encode(kind, protocol.OriginHost, m.clock.Now(), payload)
}

// answerMatches compares a submitted choice with the canonical answer.
// Packs may give the answer as text or, when text is absent, a choice index.
func answerMatches(q domain.Question, value string) bool {
	if q.Answer != "" {
		return value == q.Answer
	}
	if q.AnswerIndex >= 0 && q.AnswerIndex < len(q.Choices) {
		return value == q.Choices[q.AnswerIndex]
	}
	return false
}
