package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/quizverse/arena-core/pkg/arenadto"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisPublisherFanout(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, ChannelAll, BattleChannel("bt-1"))
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p := NewRedisPublisher(rdb)
	ev := arenadto.Event{
		Kind:     arenadto.EventPhaseChanged,
		BattleID: "bt-1",
		Phase:    &arenadto.PhasePayload{Phase: "in_progress"},
	}
	if err := p.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := 0
	deadline := time.After(2 * time.Second)
	for got < 2 {
		select {
		case msg := <-sub.Channel():
			var decoded arenadto.Event
			if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if decoded.Kind != arenadto.EventPhaseChanged || decoded.BattleID != "bt-1" {
				t.Fatalf("unexpected event: %+v", decoded)
			}
			if decoded.SentAt.IsZero() {
				t.Fatalf("event not stamped")
			}
			got++
		case <-deadline:
			t.Fatalf("timed out after %d messages", got)
		}
	}
}

func TestEgressDispatchesWithoutGateway(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, ChannelAll)
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	e := NewEgress(NewRedisPublisher(rdb), nil, 16)
	t.Cleanup(e.Close)

	if err := e.Publish(ctx, arenadto.Event{Kind: arenadto.EventMatched, BattleID: "bt-2"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var decoded arenadto.Event
		if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.Kind != arenadto.EventMatched {
			t.Fatalf("unexpected event: %+v", decoded)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("egress did not dispatch")
	}
}
