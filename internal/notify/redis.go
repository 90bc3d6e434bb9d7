package notify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/quizverse/arena-core/pkg/arenadto"
)

const (
	// Firehose channel carrying every event; session gateways filter
	// per player.
	ChannelAll = "arena:events"
)

// BattleChannel is the per-battle event channel name.
func BattleChannel(battleID string) string {
	return "arena:battle:" + strings.TrimSpace(battleID)
}

// RedisPublisher publishes events over redis pub/sub.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev arenadto.Event) error {
	ev = stamp(ev)
	raw, err := json.Marshal(&ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, ChannelAll, raw).Err(); err != nil {
		return err
	}
	if ev.BattleID != "" {
		return p.rdb.Publish(ctx, BattleChannel(ev.BattleID), raw).Err()
	}
	return nil
}
