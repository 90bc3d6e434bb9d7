package arenadto

// CommandOp names an inbound player action.
type CommandOp string

const (
	OpDeposit CommandOp = "deposit"
	OpEnqueue CommandOp = "enqueue"
	OpCancel  CommandOp = "cancel"
	OpConfirm CommandOp = "confirm"
	OpAnswer  CommandOp = "answer"
)

// Command is the JSON envelope the session layer publishes on the
// command channel. Only the fields the op needs are set.
type Command struct {
	Op       CommandOp `json:"op"`
	PlayerID string    `json:"player_id"`

	Tier     string `json:"tier,omitempty"`
	TicketID string `json:"ticket_id,omitempty"`
	BattleID string `json:"battle_id,omitempty"`

	QuestionIndex int `json:"question_index,omitempty"`
	Choice        int `json:"choice,omitempty"`

	Amount  int64  `json:"amount,omitempty"`
	IdemKey string `json:"idem_key,omitempty"`
}
