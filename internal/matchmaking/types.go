package matchmaking

import (
	"context"
	"errors"
	"time"

	"github.com/quizverse/arena-core/internal/economy"
	"github.com/quizverse/arena-core/internal/profile"
)

var (
	ErrAlreadyQueued       = errors.New("player already has a live ticket")
	ErrPlayerBusy          = errors.New("player is confirming or in battle")
	ErrInsufficientBalance = errors.New("balance below tier entry fee")
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrAlreadyMatched      = errors.New("ticket already matched")
)

// Ticket is one waiting matchmaking request. It lives from Enqueue
// until it is paired or withdrawn.
type Ticket struct {
	ID         string
	PlayerID   string
	Tier       string
	EnqueuedAt time.Time
}

// EnqueueResult reports the immediate outcome of an Enqueue call: the
// ticket either waits or was paired on the spot.
type EnqueueResult struct {
	TicketID string
	Matched  bool
	BattleID string
}

// BalanceSource answers the entry-fee sufficiency pre-check.
type BalanceSource interface {
	GetBalance(ctx context.Context, playerID string) (int64, error)
}

// BattleStarter constructs a battle in its confirmation phase for two
// paired players. Called with the tier queue lock held so pairing is
// atomic; implementations must not call back into the queue.
type BattleStarter interface {
	StartBattle(ctx context.Context, tier economy.Tier, playerA, playerB string) (string, error)
}

// PresenceSource reflects and records player presence transitions.
type PresenceSource interface {
	GetStatus(ctx context.Context, playerID string) (profile.Status, error)
	SetStatus(ctx context.Context, playerID string, st profile.Status) error
}
