package game

// ScoringConfig holds the externally configured point tables.
type ScoringConfig struct {
	// DifficultyPoints maps question difficulty to buzzer points.
	DifficultyPoints map[int]int
	// DefaultPoints is awarded for difficulties missing from the table.
	DefaultPoints int
	// ChoiceBase is the base award for a correct timed-choice answer.
	ChoiceBase int
	// SpeedBonuses are added to the fastest correct answers, in rank order.
	SpeedBonuses []int
}

// DefaultScoring mirrors the values the game shipped with.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		DifficultyPoints: map[int]int{1: 10, 2: 20, 3: 30},
		DefaultPoints:    10,
		ChoiceBase:       10,
		SpeedBonuses:     []int{5, 3, 2},
	}
}

// ScoreOpenBuzzer returns the award for a host-judged buzzer answer.
func ScoreOpenBuzzer(isCorrect bool, difficulty int, cfg ScoringConfig) int {
	if !isCorrect {
		return 0
	}
	if points, ok := cfg.DifficultyPoints[difficulty]; ok {
		return points
	}
	return cfg.DefaultPoints
}

// ChoiceResult is one judged submission, in host-arrival order.
type ChoiceResult struct {
	PlayerID string
	Correct  bool
}

// ScoreTimedChoice awards base points to every correct answer plus ordinal
// speed bonuses to the fastest correct ones. The input must already be
// ordered by host arrival; ties never reorder (first seen wins the bonus).
// Incorrect answers earn 0 regardless of timing.
func ScoreTimedChoice(ordered []ChoiceResult, cfg ScoringConfig) map[string]int {
	awards := make(map[string]int, len(ordered))
	rank := 0
	for _, res := range ordered {
		if !res.Correct {
			awards[res.PlayerID] = 0
			continue
		}
		points := cfg.ChoiceBase
		if rank < len(cfg.SpeedBonuses) {
			points += cfg.SpeedBonuses[rank]
		}
		rank++
		awards[res.PlayerID] = points
	}
	return awards
}
