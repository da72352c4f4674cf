package domain

import "time"

// Phase is one state of the per-game lifecycle.
type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseQuestion Phase = "question"
	PhaseReveal   Phase = "reveal"
	PhaseFinal    Phase = "final"
)

// QuestionType selects how a question is answered and scored.
type QuestionType string

const (
	// TypeBuzzer is an open-response question resolved by first-buzz arbitration.
	TypeBuzzer QuestionType = "buzzer"
	// TypeChoice is a multiple-choice question answered by choice value.
	TypeChoice QuestionType = "choice"
	// TypeTrueFalse is a two-choice question; it shares the choice path.
	TypeTrueFalse QuestionType = "truefalse"
)

// Player represents a connected participant and their accumulated score.
type Player struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	AvatarRef   string    `json:"avatarRef,omitempty"`
	Score       int       `json:"score"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Question is immutable quiz content, loaded once per session.
type Question struct {
	ID          string       `json:"id"`
	Category    string       `json:"category"`
	Difficulty  int          `json:"difficulty"`
	Type        QuestionType `json:"type"`
	Prompt      string       `json:"prompt"`
	Choices     []string     `json:"choices,omitempty"`
	Answer      string       `json:"answer"`
	AnswerIndex int          `json:"answerIndex,omitempty"`
	Explanation string       `json:"explanation,omitempty"`
	MediaRefs   []string     `json:"mediaRefs,omitempty"`
}

// QuestionPack is a named collection of questions.
type QuestionPack struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// Answer records one choice submission as seen by the host.
// ReceivedAt is the host clock; client timestamps are informational only.
type Answer struct {
	PlayerID   string    `json:"playerId"`
	Value      string    `json:"value"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// GameState is the canonical session state. Exactly one mutable instance
// exists, owned by the host; players hold snapshots rebuilt from broadcasts.
type GameState struct {
	Seq             uint64             `json:"seq"`
	Phase           Phase              `json:"phase"`
	Players         map[string]*Player `json:"players"`
	QuestionOrder   []string           `json:"questionOrder"`
	CurrentIndex    int                `json:"currentIndex"`
	CurrentQuestion *Question          `json:"currentQuestion,omitempty"`
	CurrentAnswers  []Answer           `json:"currentAnswers,omitempty"`
	BuzzerWinner    string             `json:"buzzerWinner,omitempty"`
}

// HasAnswered reports whether playerID already submitted for the current question.
func (s *GameState) HasAnswered(playerID string) bool {
	for _, a := range s.CurrentAnswers {
		if a.PlayerID == playerID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *GameState) Clone() *GameState {
	out := *s
	out.Players = make(map[string]*Player, len(s.Players))
	for id, p := range s.Players {
		cp := *p
		out.Players[id] = &cp
	}
	out.QuestionOrder = append([]string(nil), s.QuestionOrder...)
	out.CurrentAnswers = append([]Answer(nil), s.CurrentAnswers...)
	if s.CurrentQuestion != nil {
		q := *s.CurrentQuestion
		out.CurrentQuestion = &q
	}
	return &out
}

// ScoreboardEntry is a snapshot-friendly ranked view of a player.
type ScoreboardEntry struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
	Score       int    `json:"score"`
}

// Scoreboard captures the ordered standings for a session.
type Scoreboard struct {
	Entries        []ScoreboardEntry `json:"entries"`
	TotalQuestions int               `json:"totalQuestions"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Progress reports how far through the question order the game is.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}
