package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/quizverse/arena-core/internal/obslog"
	"github.com/quizverse/arena-core/pkg/arenadto"
)

type GatewayState string

const (
	GWStateDisconnected GatewayState = "disconnected"
	GWStateConnecting   GatewayState = "connecting"
	GWStateConnected    GatewayState = "connected"
	GWStateReconnecting GatewayState = "reconnecting"
	GWStateFailed       GatewayState = "failed"
)

// HeaderProvider injects handshake headers (gateway auth).
type HeaderProvider func() map[string]string

// Gateway is a write-side websocket client pushing events to the
// session gateway. It reconnects with backoff on write or ping failure.
type Gateway struct {
	wsURL string

	conn   *websocket.Conn
	state  GatewayState
	stateM sync.RWMutex

	writeM sync.Mutex

	maxReconnectAttempts int
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

func NewGateway(wsURL string, maxReconnectAttempts int) *Gateway {
	return &Gateway{
		wsURL:                wsURL,
		state:                GWStateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
	}
}

// SetHeaderProvider injects headers into the WS handshake.
func (g *Gateway) SetHeaderProvider(h HeaderProvider) { g.headerProvider = h }

func (g *Gateway) State() GatewayState {
	g.stateM.RLock()
	defer g.stateM.RUnlock()
	return g.state
}

func (g *Gateway) Connect(ctx context.Context) error {
	g.stateM.Lock()
	if g.state == GWStateConnected || g.state == GWStateConnecting {
		g.stateM.Unlock()
		return nil
	}
	g.stateM.Unlock()

	g.rootCtx, g.rootCancel = context.WithCancel(context.Background())
	g.setState(GWStateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, g.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      g.buildHeaders(),
	})
	if err != nil {
		g.setState(GWStateFailed)
		g.scheduleReconnect()
		return err
	}

	g.conn = conn
	g.setState(GWStateConnected)

	g.wg.Add(1)
	go g.pingLoop()
	return nil
}

// Send writes one event frame. Returns an error when the gateway is not
// connected; callers fall back to the redis channel.
func (g *Gateway) Send(ctx context.Context, ev arenadto.Event) error {
	if g.State() != GWStateConnected || g.conn == nil {
		return errors.New("gateway not connected")
	}
	dctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	// wsjson.Write is not safe for concurrent writers
	g.writeM.Lock()
	err := wsjson.Write(dctx, g.conn, &ev)
	g.writeM.Unlock()
	if err != nil {
		if g.isStopping() {
			return err
		}
		g.setState(GWStateDisconnected)
		_ = g.closeConn(websocket.StatusGoingAway, "write failure")
		g.scheduleReconnect()
	}
	return err
}

func (g *Gateway) pingLoop() {
	defer g.wg.Done()
	t := time.NewTicker(g.pingInterval)
	defer t.Stop()
	consecutiveFailures := 0
	for {
		select {
		case <-g.stopCh:
			return
		case <-t.C:
			if g.conn == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(g.rootCtx, 3*time.Second)
			err := g.conn.Ping(ctx)
			cancel()
			if err != nil {
				consecutiveFailures++
				if consecutiveFailures >= 2 {
					if g.isStopping() {
						return
					}
					g.setState(GWStateDisconnected)
					_ = g.closeConn(websocket.StatusGoingAway, "ping failure")
					g.scheduleReconnect()
					consecutiveFailures = 0
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

func (g *Gateway) scheduleReconnect() {
	if g.maxReconnectAttempts <= 0 {
		return
	}
	g.setState(GWStateReconnecting)

	go func() {
		for attempt := 1; attempt <= g.maxReconnectAttempts; attempt++ {
			select {
			case <-g.stopCh:
				return
			case <-time.After(reconnectBackoff(attempt)):
			}

			dialCtx, cancel := context.WithTimeout(g.rootCtx, 10*time.Second)
			conn, _, err := websocket.Dial(dialCtx, g.wsURL, &websocket.DialOptions{
				CompressionMode: websocket.CompressionNoContextTakeover,
				HTTPHeader:      g.buildHeaders(),
			})
			cancel()
			if err != nil {
				continue
			}

			g.conn = conn
			g.setState(GWStateConnected)
			obslog.L().Info("gateway_reconnected", zap.Int("attempt", attempt))

			g.wg.Add(1)
			go g.pingLoop()
			return
		}
		g.setState(GWStateFailed)
		obslog.L().Warn("gateway_reconnect_exhausted", zap.Int("attempts", g.maxReconnectAttempts))
	}()
}

func (g *Gateway) Close(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.stopCh) })
	_ = g.closeConn(websocket.StatusNormalClosure, "close")

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if g.rootCancel != nil {
			g.rootCancel()
		}
		return nil
	}
}

func (g *Gateway) setState(state GatewayState) {
	g.stateM.Lock()
	g.state = state
	g.stateM.Unlock()
}

func (g *Gateway) closeConn(code websocket.StatusCode, reason string) error {
	if g.conn == nil {
		return nil
	}
	defer func() { g.conn = nil }()
	return g.conn.Close(code, reason)
}

func (g *Gateway) isStopping() bool {
	select {
	case <-g.stopCh:
		return true
	default:
		return false
	}
}

func (g *Gateway) buildHeaders() http.Header {
	hdr := http.Header{}
	if g.headerProvider == nil {
		return hdr
	}
	for k, v := range g.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

func reconnectBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}
