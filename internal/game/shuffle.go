package game

import (
	"math/rand"

	"quiz-sync/internal/domain"
)

// DefaultShuffleAttempts bounds the random-retry phase of the shuffler.
const DefaultShuffleAttempts = 1000

// ShuffleQuestions returns a playable order (question IDs) in which no two
// adjacent questions share a category. It tries uniform shuffles up to
// maxAttempts, then falls back to a deterministic round-robin interleave.
//
// With a single category the constraint is unsatisfiable; the fallback still
// terminates and returns an order with adjacent repeats. Callers accept that.
func ShuffleQuestions(questions []domain.Question, rnd *rand.Rand, maxAttempts int) []string {
	if maxAttempts <= 0 {
		maxAttempts = DefaultShuffleAttempts
	}
	shuffled := make([]domain.Question, len(questions))
	copy(shuffled, questions)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		rnd.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		if !hasAdjacentCategory(shuffled) {
			return questionIDs(shuffled)
		}
	}

	return questionIDs(interleaveByCategory(questions))
}

func hasAdjacentCategory(qs []domain.Question) bool {
	for i := 0; i+1 < len(qs); i++ {
		if qs[i].Category == qs[i+1].Category {
			return true
		}
	}
	return false
}

func questionIDs(qs []domain.Question) []string {
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	return ids
}

// interleaveByCategory always produces a valid permutation of the input
// multiset: while categories with remaining questions exist it picks the
// least-recently-used category different from the previous pick, repeating
// a category back-to-back only when every other pool is empty.
func interleaveByCategory(questions []domain.Question) []domain.Question {
	pools := make(map[string][]domain.Question)
	var categories []string
	for _, q := range questions {
		if _, ok := pools[q.Category]; !ok {
			categories = append(categories, q.Category)
		}
		pools[q.Category] = append(pools[q.Category], q)
	}

	lastUsed := make(map[string]int, len(categories))
	result := make([]domain.Question, 0, len(questions))
	prev := ""
	tick := 0

	for len(result) < len(questions) {
		pick := ""
		for _, cat := range categories {
			if len(pools[cat]) == 0 || cat == prev {
				continue
			}
			if pick == "" || lastUsed[cat] < lastUsed[pick] {
				pick = cat
			}
		}
		// Unavoidable clash: only the previous category has questions left.
		if pick == "" {
			pick = prev
		}

		result = append(result, pools[pick][0])
		pools[pick] = pools[pick][1:]
		tick++
		lastUsed[pick] = tick
		prev = pick
	}

	return result
}
