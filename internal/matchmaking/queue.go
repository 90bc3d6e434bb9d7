package matchmaking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quizverse/arena-core/internal/economy"
	"github.com/quizverse/arena-core/internal/obslog"
	"github.com/quizverse/arena-core/internal/profile"
)

// matchedHistory caps how many paired ticket ids are remembered for
// Cancel disambiguation before the oldest are evicted.
const matchedHistory = 4096

// Queue pairs waiting players strictly FIFO within each tier. All
// pairing for a tier happens under that tier's lock, so a waiting
// ticket can never be consumed by two opponents.
type Queue struct {
	catalog  *economy.Catalog
	balances BalanceSource
	starter  BattleStarter
	presence PresenceSource

	tierM sync.Mutex
	tiers map[string]*tierQueue

	// regM guards the cross-tier views below. Lock order is always
	// tierQueue.mu before regM, never the reverse.
	regM     sync.Mutex
	byPlayer map[string]*Ticket
	byTicket map[string]*Ticket
	matched  map[string]struct{}
	matchLog []string
}

type tierQueue struct {
	mu      sync.Mutex
	waiting []*Ticket
}

// NewQueue wires a matchmaking queue. presence may be nil when the
// caller does not track player status.
func NewQueue(catalog *economy.Catalog, balances BalanceSource, starter BattleStarter, presence PresenceSource) *Queue {
	return &Queue{
		catalog:  catalog,
		balances: balances,
		starter:  starter,
		presence: presence,
		tiers:    make(map[string]*tierQueue),
		byPlayer: make(map[string]*Ticket),
		byTicket: make(map[string]*Ticket),
		matched:  make(map[string]struct{}),
	}
}

func (q *Queue) tierFor(name string) *tierQueue {
	q.tierM.Lock()
	defer q.tierM.Unlock()
	tq, ok := q.tiers[name]
	if !ok {
		tq = &tierQueue{}
		q.tiers[name] = tq
	}
	return tq
}

// Enqueue places playerID into tierName's queue, pairing immediately
// with the oldest waiting ticket when one exists. The returned ticket
// id identifies the request either way; when Matched is true the
// battle is already created and the ticket is spent.
func (q *Queue) Enqueue(ctx context.Context, playerID, tierName string) (EnqueueResult, error) {
	tier, err := q.catalog.Lookup(tierName)
	if err != nil {
		return EnqueueResult{}, err
	}

	bal, err := q.balances.GetBalance(ctx, playerID)
	if err != nil {
		return EnqueueResult{}, err
	}
	if bal < tier.EntryFee {
		return EnqueueResult{}, ErrInsufficientBalance
	}

	if q.presence != nil {
		st, err := q.presence.GetStatus(ctx, playerID)
		if err == nil && (st == profile.StatusConfirming || st == profile.StatusInBattle) {
			return EnqueueResult{}, ErrPlayerBusy
		}
	}

	tq := q.tierFor(tierName)
	tq.mu.Lock()
	defer tq.mu.Unlock()

	ticket := &Ticket{
		ID:         uuid.NewString(),
		PlayerID:   playerID,
		Tier:       tierName,
		EnqueuedAt: time.Now(),
	}

	// Duplicate check and registration are one critical section: two
	// concurrent enqueues for the same player, even across tiers, can
	// never both pass the check before either registers.
	q.regM.Lock()
	if _, live := q.byPlayer[playerID]; live {
		q.regM.Unlock()
		return EnqueueResult{}, ErrAlreadyQueued
	}
	q.byPlayer[playerID] = ticket
	q.byTicket[ticket.ID] = ticket
	q.regM.Unlock()

	opp := q.popWaiting(tq, playerID)
	if opp == nil {
		tq.waiting = append(tq.waiting, ticket)
		q.setStatus(ctx, playerID, profile.StatusQueued)
		obslog.L().Info("mm_enqueue",
			zap.String("ticket", ticket.ID),
			zap.String("player", playerID),
			zap.String("tier", tierName))
		return EnqueueResult{TicketID: ticket.ID}, nil
	}

	battleID, err := q.starter.StartBattle(ctx, tier, opp.PlayerID, playerID)
	if err != nil {
		// Release the reservation; the opponent keeps their place at
		// the head of the line.
		q.regM.Lock()
		delete(q.byPlayer, playerID)
		delete(q.byTicket, ticket.ID)
		q.regM.Unlock()
		tq.waiting = append([]*Ticket{opp}, tq.waiting...)
		obslog.L().Warn("mm_start_failed",
			zap.String("tier", tierName),
			zap.String("player", playerID),
			zap.Error(err))
		return EnqueueResult{}, err
	}

	q.regM.Lock()
	delete(q.byPlayer, opp.PlayerID)
	delete(q.byTicket, opp.ID)
	delete(q.byPlayer, playerID)
	delete(q.byTicket, ticket.ID)
	q.markMatched(opp.ID)
	q.markMatched(ticket.ID)
	q.regM.Unlock()

	obslog.L().Info("mm_paired",
		zap.String("battle", battleID),
		zap.String("tier", tierName),
		zap.String("player_a", opp.PlayerID),
		zap.String("player_b", playerID),
		zap.Duration("waited", time.Since(opp.EnqueuedAt)))
	return EnqueueResult{TicketID: ticket.ID, Matched: true, BattleID: battleID}, nil
}

// popWaiting removes and returns the oldest waiting ticket, skipping a
// stale entry for the enqueueing player themselves. Caller holds tq.mu.
func (q *Queue) popWaiting(tq *tierQueue, playerID string) *Ticket {
	for i, t := range tq.waiting {
		if t.PlayerID == playerID {
			continue
		}
		tq.waiting = append(tq.waiting[:i], tq.waiting[i+1:]...)
		return t
	}
	return nil
}

// Cancel withdraws a waiting ticket. A ticket that has already been
// paired reports ErrAlreadyMatched so callers can tell a race from an
// unknown id.
func (q *Queue) Cancel(ctx context.Context, ticketID string) error {
	q.regM.Lock()
	ticket, ok := q.byTicket[ticketID]
	if !ok {
		_, wasMatched := q.matched[ticketID]
		q.regM.Unlock()
		if wasMatched {
			return ErrAlreadyMatched
		}
		return ErrTicketNotFound
	}
	tierName := ticket.Tier
	q.regM.Unlock()

	tq := q.tierFor(tierName)
	tq.mu.Lock()
	defer tq.mu.Unlock()

	// Re-check under the tier lock: a concurrent Enqueue may have
	// consumed the ticket between the lookup above and here.
	q.regM.Lock()
	ticket, ok = q.byTicket[ticketID]
	if !ok {
		_, wasMatched := q.matched[ticketID]
		q.regM.Unlock()
		if wasMatched {
			return ErrAlreadyMatched
		}
		return ErrTicketNotFound
	}
	delete(q.byTicket, ticketID)
	delete(q.byPlayer, ticket.PlayerID)
	q.regM.Unlock()

	for i, t := range tq.waiting {
		if t.ID == ticketID {
			tq.waiting = append(tq.waiting[:i], tq.waiting[i+1:]...)
			break
		}
	}

	q.setStatus(ctx, ticket.PlayerID, profile.StatusIdle)
	obslog.L().Info("mm_cancel",
		zap.String("ticket", ticketID),
		zap.String("player", ticket.PlayerID),
		zap.String("tier", tierName))
	return nil
}

// WaitingCount reports how many tickets a tier currently holds.
func (q *Queue) WaitingCount(tierName string) int {
	tq := q.tierFor(tierName)
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return len(tq.waiting)
}

// markMatched records a paired ticket id, evicting the oldest record
// once the history cap is reached. Caller holds regM.
func (q *Queue) markMatched(ticketID string) {
	if len(q.matchLog) >= matchedHistory {
		oldest := q.matchLog[0]
		q.matchLog = q.matchLog[1:]
		delete(q.matched, oldest)
	}
	q.matched[ticketID] = struct{}{}
	q.matchLog = append(q.matchLog, ticketID)
}

func (q *Queue) setStatus(ctx context.Context, playerID string, st profile.Status) {
	if q.presence == nil {
		return
	}
	if err := q.presence.SetStatus(ctx, playerID, st); err != nil {
		obslog.L().Warn("mm_status_update_failed",
			zap.String("player", playerID),
			zap.Error(err))
	}
}
