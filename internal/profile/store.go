package profile

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quizverse/arena-core/internal/merit"
	"github.com/quizverse/arena-core/internal/obslog"
)

// Status is the player presence as seen by matchmaking and battles.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusQueued     Status = "queued"
	StatusConfirming Status = "confirming"
	StatusInBattle   Status = "in_battle"
)

const (
	// Activity window feeding the merit activity term.
	recentWindow = 30 * 24 * time.Hour
	statusTTL    = 24 * time.Hour
)

var ErrInvalidPlayer = errors.New("invalid player id")

// Store keeps the read-mostly player projection the core needs: display
// name, presence status and the rolling merit counters. The identity
// system of record lives elsewhere.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func statsKey(p string) string  { return "profile:stats:" + strings.TrimSpace(p) }
func recentKey(p string) string { return "profile:recent:" + strings.TrimSpace(p) }
func statusKey(p string) string { return "profile:status:" + strings.TrimSpace(p) }
func nameKey(p string) string   { return "profile:name:" + strings.TrimSpace(p) }

// SetDisplayName stores the projection of the player's display name.
func (s *Store) SetDisplayName(ctx context.Context, playerID, name string) error {
	if strings.TrimSpace(playerID) == "" {
		return ErrInvalidPlayer
	}
	return s.rdb.Set(ctx, nameKey(playerID), strings.TrimSpace(name), 0).Err()
}

func (s *Store) DisplayName(ctx context.Context, playerID string) (string, error) {
	v, err := s.rdb.Get(ctx, nameKey(playerID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// SetStatus records a presence transition. Best-effort from the hot
// paths; a stale status self-heals via TTL.
func (s *Store) SetStatus(ctx context.Context, playerID string, st Status) error {
	if strings.TrimSpace(playerID) == "" {
		return ErrInvalidPlayer
	}
	return s.rdb.Set(ctx, statusKey(playerID), string(st), statusTTL).Err()
}

func (s *Store) GetStatus(ctx context.Context, playerID string) (Status, error) {
	v, err := s.rdb.Get(ctx, statusKey(playerID)).Result()
	if err == redis.Nil {
		return StatusIdle, nil
	}
	if err != nil {
		return StatusIdle, err
	}
	return Status(v), nil
}

// GetStats loads the merit counters for a player. Unknown players get a
// zero profile.
func (s *Store) GetStats(ctx context.Context, playerID string) (merit.Profile, error) {
	p := merit.Profile{PlayerID: strings.TrimSpace(playerID)}
	if p.PlayerID == "" {
		return p, ErrInvalidPlayer
	}
	vals, err := s.rdb.HGetAll(ctx, statsKey(playerID)).Result()
	if err != nil {
		return p, err
	}
	p.TotalMatches = atoi(vals["total_matches"])
	p.Wins = atoi(vals["wins"])
	p.TotalQuestions = atoi(vals["total_questions"])
	p.TotalCorrect = atoi(vals["total_correct"])
	p.CurrentStreak = atoi(vals["current_streak"])
	p.BestStreak = atoi(vals["best_streak"])

	recent, err := s.countRecent(ctx, playerID, time.Now())
	if err != nil {
		return p, err
	}
	p.RecentMatches = recent
	return p, nil
}

// RecordResult folds one settled battle into the rolling counters.
// Called exactly once per settled battle per participant (the settlement
// engine guards the once).
func (s *Store) RecordResult(ctx context.Context, playerID string, won bool, correct, total int, finishedAt time.Time) error {
	if strings.TrimSpace(playerID) == "" {
		return ErrInvalidPlayer
	}
	key := statsKey(playerID)

	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "total_matches", 1)
	if won {
		pipe.HIncrBy(ctx, key, "wins", 1)
	}
	pipe.HIncrBy(ctx, key, "total_questions", int64(total))
	pipe.HIncrBy(ctx, key, "total_correct", int64(correct))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if err := s.updateStreak(ctx, playerID, won); err != nil {
		return err
	}
	if err := s.pushRecent(ctx, playerID, finishedAt); err != nil {
		return err
	}
	obslog.L().Debug("profile_result_recorded",
		zap.String("player_id", playerID),
		zap.Bool("won", won),
		zap.Int("correct", correct),
		zap.Int("total", total),
	)
	return nil
}

// updateStreak is not transactional with the counter update; a player is
// settled by one battle at a time, so there is a single writer.
func (s *Store) updateStreak(ctx context.Context, playerID string, won bool) error {
	key := statsKey(playerID)
	if !won {
		return s.rdb.HSet(ctx, key, "current_streak", 0).Err()
	}
	cur, err := s.rdb.HIncrBy(ctx, key, "current_streak", 1).Result()
	if err != nil {
		return err
	}
	bestRaw, err := s.rdb.HGet(ctx, key, "best_streak").Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if cur > int64(atoi(bestRaw)) {
		return s.rdb.HSet(ctx, key, "best_streak", cur).Err()
	}
	return nil
}

func (s *Store) pushRecent(ctx context.Context, playerID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	key := recentKey(playerID)
	if err := s.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: strconv.FormatInt(at.UnixNano(), 10),
	}).Err(); err != nil {
		return err
	}
	cutoff := at.Add(-recentWindow).UnixMilli()
	return s.rdb.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10)).Err()
}

func (s *Store) countRecent(ctx context.Context, playerID string, now time.Time) (int, error) {
	cutoff := now.Add(-recentWindow).UnixMilli()
	n, err := s.rdb.ZCount(ctx, recentKey(playerID), strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return int(n), nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
