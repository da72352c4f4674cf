package game

import (
	"time"

	"github.com/jonboulle/clockwork"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/protocol"
)

// SubmissionPhase tracks a local input between send and host confirmation.
// Pending is a real intermediate state: only a confirming broadcast moves it
// to Confirmed, and only an expired deadline lets the caller retry.
type SubmissionPhase int

const (
	SubmissionNone SubmissionPhase = iota
	SubmissionPending
	SubmissionConfirmed
)

// SubmissionKind says what kind of input the submission carries. A choice
// value may legitimately be empty, so the kind is tracked explicitly rather
// than inferred from the value.
type SubmissionKind int

const (
	SubmitBuzz SubmissionKind = iota
	SubmitChoice
)

// Submission is the locally tracked answer or buzz for the current question.
type Submission struct {
	Phase    SubmissionPhase
	Kind     SubmissionKind
	Value    string
	SentAt   time.Time
	Deadline time.Time
	ForIndex int
}

// Mirror reconstructs the host's GameState on a player device from
// stateBroadcast messages. It is read-only apart from the optimistic
// submission bookkeeping for the mirror's own player.
type Mirror struct {
	selfID     string
	clock      clockwork.Clock
	lastSeq    uint64
	state      *domain.GameState
	submission Submission
}

// NewMirror builds an empty mirror for the given player.
func NewMirror(selfID string, clock clockwork.Clock) *Mirror {
	return &Mirror{selfID: selfID, clock: clock}
}

// SelfID returns the player this mirror belongs to.
func (m *Mirror) SelfID() string { return m.selfID }

// State returns the last applied snapshot, or nil before the first broadcast.
func (m *Mirror) State() *domain.GameState { return m.state }

// Submission returns the current two-phase submission state.
func (m *Mirror) Submission() Submission { return m.submission }

// Apply ingests a broadcast snapshot wholesale. Stale or duplicate
// broadcasts (sequence number not beyond the last applied one) are
// discarded and reported via ErrStaleBroadcast; newer ones always win.
func (m *Mirror) Apply(b protocol.StateBroadcast) error {
	if m.state != nil && b.State.Seq <= m.lastSeq {
		return domain.ErrStaleBroadcast
	}
	snapshot := b.State.Clone()
	m.lastSeq = snapshot.Seq
	m.state = snapshot
	m.reconcileSubmission()
	return nil
}

// MarkPending records a locally sent buzz or answer awaiting confirmation.
// The core never auto-retries: once the deadline passes the caller decides
// whether to surface a retry.
func (m *Mirror) MarkPending(kind SubmissionKind, value string, timeout time.Duration) error {
	if m.submission.Phase == SubmissionPending && !m.pendingExpired() {
		return domain.ErrSubmissionPending
	}
	now := m.clock.Now()
	idx := 0
	if m.state != nil {
		idx = m.state.CurrentIndex
	}
	m.submission = Submission{
		Phase:    SubmissionPending,
		Kind:     kind,
		Value:    value,
		SentAt:   now,
		Deadline: now.Add(timeout),
		ForIndex: idx,
	}
	return nil
}

// PendingExpired reports whether a pending submission outlived its deadline
// without a confirming broadcast.
func (m *Mirror) PendingExpired() bool {
	return m.submission.Phase == SubmissionPending && m.pendingExpired()
}

func (m *Mirror) pendingExpired() bool {
	return m.clock.Now().After(m.submission.Deadline)
}

// HasAnswered reports whether this player's answer is visible in host state.
func (m *Mirror) HasAnswered() bool {
	return m.state != nil && m.state.HasAnswered(m.selfID)
}

// reconcileSubmission resolves the pending state against fresh host truth.
func (m *Mirror) reconcileSubmission() {
	switch {
	case m.submission.Phase == SubmissionNone:
		return
	case m.state.CurrentIndex != m.submission.ForIndex || m.state.Phase == domain.PhaseLobby:
		// Question moved on (or game restarted); the submission is history.
		m.submission = Submission{}
	case m.submission.Phase == SubmissionPending:
		switch m.submission.Kind {
		case SubmitBuzz:
			if m.state.BuzzerWinner == m.selfID {
				m.submission.Phase = SubmissionConfirmed
			} else if m.state.BuzzerWinner != "" {
				// A buzz that lost the race is settled, not pending.
				m.submission = Submission{}
			}
		case SubmitChoice:
			if m.state.HasAnswered(m.selfID) {
				m.submission.Phase = SubmissionConfirmed
			}
		}
	}
}
