package notify

import (
	"context"
	"time"

	"github.com/quizverse/arena-core/pkg/arenadto"
)

// Publisher pushes outbound events to the realtime channel. Delivery is
// at-least-once; consumers must tolerate duplicates.
type Publisher interface {
	Publish(ctx context.Context, ev arenadto.Event) error
}

// Nop discards events. Used in tests that don't observe notifications.
type Nop struct{}

func (Nop) Publish(context.Context, arenadto.Event) error { return nil }

func stamp(ev arenadto.Event) arenadto.Event {
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now()
	}
	return ev
}
