package settlement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quizverse/arena-core/internal/battle"
	"github.com/quizverse/arena-core/internal/ledger"
	"github.com/quizverse/arena-core/internal/merit"
	"github.com/quizverse/arena-core/internal/notify"
	"github.com/quizverse/arena-core/internal/obslog"
	"github.com/quizverse/arena-core/pkg/arenadto"
)

var ErrNotFinished = errors.New("battle is not finished")

// Ledger is the slice of the credit ledger the engine needs.
type Ledger interface {
	ApplyTransaction(ctx context.Context, entries []ledger.Entry, idemKey string) (bool, error)
}

// Profiles feeds merit ratings in and records outcomes back out.
type Profiles interface {
	GetStats(ctx context.Context, playerID string) (merit.Profile, error)
	RecordResult(ctx context.Context, playerID string, won bool, correct, total int, finishedAt time.Time) error
}

// ResultArchiver persists finished battles off the hot path.
type ResultArchiver interface {
	SaveBattleResult(ctx context.Context, b *battle.Battle) error
}

// Engine turns a finished battle into one atomic ledger transaction.
// The battle id doubles as the idempotency key, so replaying a
// settlement is always a no-op.
type Engine struct {
	ledger   Ledger
	profiles Profiles
	notifier notify.Publisher
	archive  ResultArchiver
}

// NewEngine wires a settlement engine. profiles and archive may be nil;
// a nil notifier falls back to a no-op publisher.
func NewEngine(l Ledger, profiles Profiles, notifier notify.Publisher, archive ResultArchiver) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{ledger: l, profiles: profiles, notifier: notifier, archive: archive}
}

// Settle debits both entry fees and pays out according to the outcome:
// the winner's prize plus any merit bonus, or refunds on a tie. The
// whole movement applies atomically or not at all.
func (e *Engine) Settle(ctx context.Context, b *battle.Battle) error {
	if b.Phase != battle.PhaseFinished {
		return ErrNotFinished
	}

	entries := e.buildEntries(ctx, b)
	idemKey := "battle:" + b.ID

	applied, err := e.ledger.ApplyTransaction(ctx, entries, idemKey)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			e.publish(ctx, arenadto.Event{
				Kind:       arenadto.EventSettlementApplied,
				BattleID:   b.ID,
				Players:    b.Players[:],
				Settlement: &arenadto.SettlementPayload{Failed: true},
			})
		}
		return fmt.Errorf("settle battle %s: %w", b.ID, err)
	}
	if !applied {
		obslog.L().Info("settlement_replayed", zap.String("battle", b.ID))
		return nil
	}

	e.recordResults(ctx, b)

	deltas := make(map[string]int64, 2)
	for _, en := range entries {
		deltas[en.PlayerID] += en.Delta
	}
	e.publish(ctx, arenadto.Event{
		Kind:       arenadto.EventSettlementApplied,
		BattleID:   b.ID,
		Players:    b.Players[:],
		Settlement: &arenadto.SettlementPayload{Deltas: deltas},
	})
	obslog.L().Info("settlement_applied",
		zap.String("battle", b.ID),
		zap.String("winner", b.WinnerID),
		zap.Bool("tie", b.Tie),
		zap.Int64("delta_a", deltas[b.Players[0]]),
		zap.Int64("delta_b", deltas[b.Players[1]]))

	if e.archive != nil {
		if err := e.archive.SaveBattleResult(ctx, b); err != nil {
			obslog.L().Warn("battle_archive_failed",
				zap.String("battle", b.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) buildEntries(ctx context.Context, b *battle.Battle) []ledger.Entry {
	now := time.Now()
	entry := func(playerID string, delta int64, reason ledger.Reason) ledger.Entry {
		return ledger.Entry{
			ID:        uuid.NewString(),
			PlayerID:  playerID,
			Delta:     delta,
			Reason:    reason,
			BattleID:  b.ID,
			CreatedAt: now,
		}
	}

	entries := []ledger.Entry{
		entry(b.Players[0], -b.Tier.EntryFee, ledger.ReasonEntryFee),
		entry(b.Players[1], -b.Tier.EntryFee, ledger.ReasonEntryFee),
	}

	if b.Tie {
		entries = append(entries,
			entry(b.Players[0], b.Tier.EntryFee, ledger.ReasonTieRefund),
			entry(b.Players[1], b.Tier.EntryFee, ledger.ReasonTieRefund),
		)
		return entries
	}

	entries = append(entries, entry(b.WinnerID, b.Tier.WinnerPrize, ledger.ReasonPrize))
	if bonus := e.meritBonus(ctx, b); bonus > 0 {
		entries = append(entries, entry(b.WinnerID, bonus, ledger.ReasonMeritBonus))
	}
	return entries
}

// meritBonus computes the winner's rating-based top-up. The bonus is
// funded by the platform, not the loser, so it sits outside the
// fee/prize/retention identity. Rating lookup failures just skip the
// bonus rather than block the settlement.
func (e *Engine) meritBonus(ctx context.Context, b *battle.Battle) int64 {
	if e.profiles == nil {
		return 0
	}
	stats, err := e.profiles.GetStats(ctx, b.WinnerID)
	if err != nil {
		obslog.L().Warn("merit_lookup_failed",
			zap.String("player", b.WinnerID),
			zap.Error(err))
		return 0
	}
	rating := merit.Compute(stats)
	if rating.Multiplier <= 1 {
		return 0
	}
	return int64(math.Round(float64(b.Tier.WinnerPrize) * (rating.Multiplier - 1)))
}

func (e *Engine) recordResults(ctx context.Context, b *battle.Battle) {
	if e.profiles == nil {
		return
	}
	total := len(b.Questions)
	for _, p := range b.Players {
		won := !b.Tie && p == b.WinnerID
		if err := e.profiles.RecordResult(ctx, p, won, b.CorrectCount(p), total, b.FinishedAt); err != nil {
			obslog.L().Warn("profile_update_failed",
				zap.String("player", p),
				zap.Error(err))
		}
	}
}

func (e *Engine) publish(ctx context.Context, ev arenadto.Event) {
	if err := e.notifier.Publish(ctx, ev); err != nil {
		obslog.L().Warn("event_publish_failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("battle", ev.BattleID),
			zap.Error(err))
	}
}
