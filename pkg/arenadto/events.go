package arenadto

import "time"

// EventKind identifies an outbound realtime event.
type EventKind string

const (
	EventMatched           EventKind = "matched"
	EventPhaseChanged      EventKind = "phase_changed"
	EventQuestionAdvanced  EventKind = "question_advanced"
	EventBattleFinished    EventKind = "battle_finished"
	EventSettlementApplied EventKind = "settlement_applied"
	EventCommandRejected   EventKind = "command_rejected"
)

// Event is the envelope pushed to the realtime channel. Delivery is
// at-least-once; consumers must tolerate duplicates.
type Event struct {
	Kind     EventKind `json:"kind"`
	BattleID string    `json:"battle_id"`
	// Players the event concerns; the session layer fans out per player.
	Players []string  `json:"players,omitempty"`
	SentAt  time.Time `json:"sent_at"`

	Matched    *MatchedPayload    `json:"matched,omitempty"`
	Phase      *PhasePayload      `json:"phase,omitempty"`
	Question   *QuestionPayload   `json:"question,omitempty"`
	Finished   *FinishedPayload   `json:"finished,omitempty"`
	Settlement *SettlementPayload `json:"settlement,omitempty"`
	Rejected   *DomainError       `json:"rejected,omitempty"`
}

type MatchedPayload struct {
	Tier    string `json:"tier"`
	PlayerA string `json:"player_a"`
	PlayerB string `json:"player_b"`
}

type PhasePayload struct {
	Phase string `json:"phase"`
	// Absolute deadline of the new phase; clients render countdowns
	// from this timestamp, the server remains the sole authority.
	Deadline time.Time `json:"deadline,omitempty"`
}

type QuestionPayload struct {
	Index    int       `json:"index"`
	Total    int       `json:"total"`
	Deadline time.Time `json:"deadline"`
}

type FinishedPayload struct {
	Scores   map[string]int `json:"scores"`
	WinnerID string         `json:"winner_id,omitempty"`
	Tie      bool           `json:"tie"`
}

type SettlementPayload struct {
	Deltas map[string]int64 `json:"deltas"`
	Failed bool             `json:"failed,omitempty"`
}
