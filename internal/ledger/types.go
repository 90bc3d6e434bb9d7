package ledger

import (
	"errors"
	"time"
)

// Reason categorizes a ledger entry. Merit bonuses get their own reason
// so platform-margin sourcing stays visible in the log.
type Reason string

const (
	ReasonDeposit    Reason = "deposit"
	ReasonEntryFee   Reason = "entry_fee"
	ReasonPrize      Reason = "prize"
	ReasonTieRefund  Reason = "tie_refund"
	ReasonMeritBonus Reason = "merit_bonus"
	ReasonAdjustment Reason = "adjustment"
)

// Entry is one append-only ledger movement. Delta is negative for
// debits, positive for credits.
type Entry struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"player_id"`
	Delta     int64     `json:"delta"`
	Reason    Reason    `json:"reason"`
	BattleID  string    `json:"battle_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrEmptyTransaction  = errors.New("transaction has no entries")
	ErrInvalidEntry      = errors.New("invalid ledger entry")
)
