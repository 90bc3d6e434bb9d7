package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quizverse/arena-core/internal/obslog"
	"github.com/quizverse/arena-core/pkg/arenadto"
)

// Egress decouples event producers from transport. Events are queued
// and dispatched by a single worker: the websocket gateway gets the
// event when connected, the redis channel always does. When the queue
// is full the incoming event is logged and dropped; consumers recover
// from gaps by reading battle state.
type Egress struct {
	redis   *RedisPublisher
	gateway *Gateway

	queue    chan arenadto.Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewEgress(redis *RedisPublisher, gateway *Gateway, queueSize int) *Egress {
	if queueSize <= 0 {
		queueSize = 1024
	}
	e := &Egress{
		redis:   redis,
		gateway: gateway,
		queue:   make(chan arenadto.Event, queueSize),
		stopCh:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.worker()
	return e
}

// Publish enqueues the event for dispatch. Never blocks the caller.
func (e *Egress) Publish(_ context.Context, ev arenadto.Event) error {
	ev = stamp(ev)
	select {
	case e.queue <- ev:
		return nil
	default:
		obslog.L().Warn("egress_queue_full",
			zap.String("kind", string(ev.Kind)),
			zap.String("battle_id", ev.BattleID),
		)
		return nil
	}
}

func (e *Egress) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			// drain what is already queued
			for {
				select {
				case ev := <-e.queue:
					e.dispatch(ev)
				default:
					return
				}
			}
		case ev := <-e.queue:
			e.dispatch(ev)
		}
	}
}

func (e *Egress) dispatch(ev arenadto.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if e.gateway != nil && e.gateway.State() == GWStateConnected {
		if err := e.gateway.Send(ctx, ev); err != nil {
			obslog.L().Warn("egress_gateway_send_error",
				zap.String("kind", string(ev.Kind)),
				zap.String("battle_id", ev.BattleID),
				zap.Error(err),
			)
		}
	}
	if e.redis != nil {
		if err := e.redis.Publish(ctx, ev); err != nil {
			obslog.L().Error("egress_redis_publish_error",
				zap.String("kind", string(ev.Kind)),
				zap.String("battle_id", ev.BattleID),
				zap.Error(err),
			)
		}
	}
}

func (e *Egress) Close() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}
