package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/quizverse/arena-core/internal/battle"
	"github.com/quizverse/arena-core/internal/ledger"
)

// Repository persists finished battles and ledger movements to
// Postgres. Everything here is best-effort off the hot path; Redis
// stays the source of truth for balances.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveBattleResult upserts one finished battle row. Replayed
// settlements overwrite with identical data, so the upsert is safe.
func (r *Repository) SaveBattleResult(ctx context.Context, b *battle.Battle) error {
	if r == nil || r.db == nil || b == nil {
		return nil
	}

	scoresRaw, _ := json.Marshal(b.Scores)
	answersRaw, _ := json.Marshal(b.Answers)
	duration := b.FinishedAt.Sub(b.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO battles (
	    battle_id, tier, player_a, player_b,
	    winner_id, tie, scores, answers, question_count,
	    started_at, finished_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
	  ) ON CONFLICT (battle_id) DO UPDATE SET
	    winner_id=EXCLUDED.winner_id,
	    tie=EXCLUDED.tie,
	    scores=EXCLUDED.scores,
	    answers=EXCLUDED.answers,
	    finished_at=EXCLUDED.finished_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		b.ID, b.Tier.Name, b.Players[0], b.Players[1],
		nullable(b.WinnerID), b.Tie, scoresRaw, answersRaw, len(b.Questions),
		b.StartedAt, b.FinishedAt, duration,
	)
	return err
}

// SaveEntries inserts ledger entries, skipping ids already written.
// Implements ledger.Archiver.
func (r *Repository) SaveEntries(ctx context.Context, entries []ledger.Entry) error {
	if r == nil || r.db == nil || len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ledger_entries (
	    entry_id, player_id, delta, reason, battle_id, created_at
	  ) VALUES ($1,$2,$3,$4,$5,$6)
	  ON CONFLICT (entry_id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.PlayerID, e.Delta, string(e.Reason), nullable(e.BattleID), e.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
