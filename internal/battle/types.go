package battle

import (
	"errors"
	"time"

	"github.com/quizverse/arena-core/internal/content"
	"github.com/quizverse/arena-core/internal/economy"
)

type Phase string

const (
	PhaseConfirming Phase = "confirming"
	PhaseInProgress Phase = "in_progress"
	PhaseFinished   Phase = "finished"
	PhaseCancelled  Phase = "cancelled"
)

// SettlementState tracks what happened to the battle's credit
// movement after it finished.
type SettlementState string

const (
	SettlementPending SettlementState = "pending"
	SettlementApplied SettlementState = "applied"
	SettlementFailed  SettlementState = "failed"
)

const unanswered = -1

var (
	ErrBattleNotFound  = errors.New("battle not found")
	ErrNotParticipant  = errors.New("player is not in this battle")
	ErrWrongPhase      = errors.New("operation not valid in current phase")
	ErrQuestionClosed  = errors.New("question is no longer open")
	ErrInvalidChoice   = errors.New("choice index out of range")
	ErrAlreadyAnswered = errors.New("answer already recorded")
)

// Battle is the authoritative state of one match. All mutation goes
// through Manager under the battle's lock; once Phase reaches a
// terminal value the struct is immutable.
type Battle struct {
	ID        string
	Tier      economy.Tier
	Players   [2]string
	Questions []content.Question

	Phase      Phase
	Settlement SettlementState

	// Current is the index of the open question while in progress.
	Current   int
	Answers   map[string][]int
	Scores    map[string]int
	Confirmed map[string]bool

	CreatedAt     time.Time
	StartedAt     time.Time
	FinishedAt    time.Time
	PhaseDeadline time.Time

	WinnerID string
	Tie      bool
}

func (b *Battle) hasPlayer(playerID string) bool {
	return b.Players[0] == playerID || b.Players[1] == playerID
}

// Opponent returns the other participant, or "" for a non-participant.
func (b *Battle) Opponent(playerID string) string {
	switch playerID {
	case b.Players[0]:
		return b.Players[1]
	case b.Players[1]:
		return b.Players[0]
	}
	return ""
}

// CorrectCount reports how many of playerID's recorded answers match
// the question key. Unanswered slots never count.
func (b *Battle) CorrectCount(playerID string) int {
	n := 0
	for i, a := range b.Answers[playerID] {
		if a != unanswered && a == b.Questions[i].Answer {
			n++
		}
	}
	return n
}
