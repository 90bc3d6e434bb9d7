package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quizverse/arena-core/internal/obslog"
)

const (
	// Applied markers outlive any plausible retry/replay horizon.
	appliedTTL   = 90 * 24 * time.Hour
	maxTxRetries = 5
)

// errAlreadyApplied is a flow-control sentinel inside the WATCH closure.
var errAlreadyApplied = errors.New("transaction already applied")

// Archiver receives settled entries for durable archival. Archival is
// best-effort; redis remains the authoritative store.
type Archiver interface {
	SaveEntries(ctx context.Context, entries []Entry) error
}

// Manager owns player credit balances and the append-only entry log.
// Multi-leg transactions commit atomically: either every leg applies or
// none does, and an idempotency key makes re-application a no-op.
type Manager struct {
	rdb     *redis.Client
	archive Archiver
}

func NewManager(redisURL string) (*Manager, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for ledger manager")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Manager{rdb: rdb}, nil
}

// NewWithClient wraps an existing redis client (shared across managers).
func NewWithClient(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

func (m *Manager) Close() error {
	if m == nil || m.rdb == nil {
		return nil
	}
	return m.rdb.Close()
}

// AttachArchive wires a durable archive for settled entries.
func (m *Manager) AttachArchive(a Archiver) {
	if m != nil {
		m.archive = a
	}
}

// GetBalance returns the current balance for a player. Unknown players
// have a zero balance.
func (m *Manager) GetBalance(ctx context.Context, playerID string) (int64, error) {
	v, err := m.rdb.Get(ctx, balanceKey(playerID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt balance for %s: %w", playerID, err)
	}
	return n, nil
}

// Deposit credits a player outside of battle settlement. Idempotent by
// the caller-supplied key.
func (m *Manager) Deposit(ctx context.Context, playerID string, amount int64, idemKey string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidEntry)
	}
	e := Entry{
		ID:        uuid.NewString(),
		PlayerID:  strings.TrimSpace(playerID),
		Delta:     amount,
		Reason:    ReasonDeposit,
		CreatedAt: time.Now(),
	}
	return m.ApplyTransaction(ctx, []Entry{e}, idemKey)
}

// ApplyTransaction commits all entries as one atomic unit keyed by
// idemKey. Returns (true, nil) when the movements were applied now,
// (false, nil) when the key was already applied (duplicate delivery),
// and ErrInsufficientFunds when any resulting balance would go
// negative — in which case no leg is applied.
func (m *Manager) ApplyTransaction(ctx context.Context, entries []Entry, idemKey string) (bool, error) {
	if len(entries) == 0 {
		return false, ErrEmptyTransaction
	}
	if strings.TrimSpace(idemKey) == "" {
		return false, fmt.Errorf("%w: empty idempotency key", ErrInvalidEntry)
	}
	for i := range entries {
		if strings.TrimSpace(entries[i].PlayerID) == "" {
			return false, fmt.Errorf("%w: empty player id", ErrInvalidEntry)
		}
		if entries[i].Delta == 0 {
			return false, fmt.Errorf("%w: zero delta", ErrInvalidEntry)
		}
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = time.Now()
		}
	}

	// Net delta per player; keys watched in sorted order so two
	// settlements touching overlapping players cannot deadlock.
	deltas := make(map[string]int64)
	for _, e := range entries {
		deltas[e.PlayerID] += e.Delta
	}
	players := make([]string, 0, len(deltas))
	for p := range deltas {
		players = append(players, p)
	}
	sort.Strings(players)

	watched := make([]string, 0, len(players)+1)
	watched = append(watched, appliedKey(idemKey))
	for _, p := range players {
		watched = append(watched, balanceKey(p))
	}

	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
			if n, err := tx.Exists(ctx, appliedKey(idemKey)).Result(); err != nil {
				return err
			} else if n > 0 {
				return errAlreadyApplied
			}

			// Pre-check every resulting balance before any write.
			for _, p := range players {
				cur, err := tx.Get(ctx, balanceKey(p)).Int64()
				if err == redis.Nil {
					cur = 0
				} else if err != nil {
					return err
				}
				if cur+deltas[p] < 0 {
					return fmt.Errorf("%w: player=%s have=%d need=%d", ErrInsufficientFunds, p, cur, -deltas[p])
				}
			}

			pipe := tx.TxPipeline()
			pipe.Set(ctx, appliedKey(idemKey), "1", appliedTTL)
			for _, p := range players {
				pipe.IncrBy(ctx, balanceKey(p), deltas[p])
			}
			for _, e := range entries {
				raw, merr := json.Marshal(&e)
				if merr != nil {
					return merr
				}
				pipe.RPush(ctx, logKey(e.PlayerID), raw)
			}
			_, err := pipe.Exec(ctx)
			return err
		}, watched...)

		if err == nil {
			obslog.L().Info("ledger_tx_applied",
				zap.String("idem_key", idemKey),
				zap.Int("entries", len(entries)),
				zap.Strings("players", players),
			)
			m.archiveAsync(entries)
			return true, nil
		}
		if errors.Is(err, errAlreadyApplied) {
			obslog.L().Info("ledger_tx_duplicate", zap.String("idem_key", idemKey))
			return false, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			lastErr = err
			continue
		}
		return false, err
	}
	return false, fmt.Errorf("ledger transaction contention: %w", lastErr)
}

// Entries returns up to limit most recent entries for a player, newest
// first.
func (m *Manager) Entries(ctx context.Context, playerID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	raws, err := m.rdb.LRange(ctx, logKey(playerID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		var e Entry
		if err := json.Unmarshal([]byte(raws[i]), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Manager) archiveAsync(entries []Entry) {
	if m.archive == nil {
		return
	}
	go func(batch []Entry) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.archive.SaveEntries(ctx, batch); err != nil {
			obslog.L().Error("ledger_archive_error", zap.Int("entries", len(batch)), zap.Error(err))
		}
	}(entries)
}

func balanceKey(playerID string) string { return "ledger:balance:" + strings.TrimSpace(playerID) }
func logKey(playerID string) string     { return "ledger:log:" + strings.TrimSpace(playerID) }
func appliedKey(idemKey string) string  { return "ledger:applied:" + strings.TrimSpace(idemKey) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
