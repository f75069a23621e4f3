package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type WSState int

const (
	WSStateDisconnected WSState = iota
	WSStateConnecting
	WSStateConnected
	WSStateReconnecting
	WSStateFailed
)

func (s WSState) String() string {
	switch s {
	case WSStateDisconnected:
		return "disconnected"
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateReconnecting:
		return "reconnecting"
	case WSStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// wsMessage is one JSON frame on the companion app link.
type wsMessage struct {
	Type  string `json:"type"`
	Line  string `json:"line,omitempty"`
	Board string `json:"board,omitempty"`
}

const (
	wsTypeHello = "hello"
	wsTypeLine  = "line"
)

// WebSocket carries protocol lines to a companion app as JSON frames.
// It reconnects with backoff and keeps the link alive with pings.
type WebSocket struct {
	wsURL   string
	boardID string
	log     *zap.Logger

	conn   *websocket.Conn
	connM  sync.RWMutex
	state  WSState
	stateM sync.RWMutex

	maxReconnectAttempts int
	pingInterval         time.Duration
	backoff              func(attempt int) time.Duration

	lines     chan string
	linesOnce sync.Once
	stopCh    chan struct{}
	stopOnce  sync.Once
	// lifeM orders wg.Add against Close so no goroutine starts once Close waits.
	lifeM sync.Mutex
	wg    sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewWebSocket(wsURL string, maxReconnectAttempts int, logger *zap.Logger) *WebSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocket{
		wsURL:                wsURL,
		boardID:              uuid.NewString(),
		log:                  logger,
		state:                WSStateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
		backoff:              backoffDuration,
		lines:                make(chan string, lineBuffer),
		stopCh:               make(chan struct{}),
		rootCtx:              ctx,
		rootCancel:           cancel,
	}
}

func (ws *WebSocket) Connect(ctx context.Context) error {
	ws.stateM.Lock()
	if ws.state == WSStateConnected || ws.state == WSStateConnecting {
		ws.stateM.Unlock()
		return nil
	}
	ws.stateM.Unlock()
	ws.setState(WSStateConnecting)

	if err := ws.dial(ctx); err != nil {
		ws.setState(WSStateFailed)
		ws.scheduleReconnect()
		return err
	}
	return nil
}

func (ws *WebSocket) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, ws.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", ws.wsURL, err)
	}
	hello := wsMessage{Type: wsTypeHello, Board: ws.boardID}
	if err := wsjson.Write(dialCtx, conn, hello); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "hello failed")
		return fmt.Errorf("send hello: %w", err)
	}

	ws.lifeM.Lock()
	if ws.isStopping() {
		ws.lifeM.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "close")
		return ErrClosed
	}
	ws.wg.Add(2)
	ws.connM.Lock()
	ws.conn = conn
	ws.connM.Unlock()
	ws.lifeM.Unlock()
	ws.setState(WSStateConnected)

	go ws.listen(conn)
	go ws.pingLoop(conn)
	return nil
}

func (ws *WebSocket) listen(conn *websocket.Conn) {
	defer ws.wg.Done()
	for {
		var msg wsMessage
		if err := wsjson.Read(ws.rootCtx, conn, &msg); err != nil {
			if ws.isStopping() {
				return
			}
			ws.log.Warn("ws_read_failed", zap.Error(err))
			ws.dropConn(conn, websocket.StatusGoingAway, "reconnect")
			ws.scheduleReconnect()
			return
		}
		if msg.Type != wsTypeLine {
			continue
		}
		select {
		case ws.lines <- cleanLine(msg.Line):
		case <-ws.stopCh:
			return
		}
	}
}

func (ws *WebSocket) pingLoop(conn *websocket.Conn) {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ws.stopCh:
			return
		case <-t.C:
			if ws.current() != conn {
				return
			}
			ctx, cancel := context.WithTimeout(ws.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if ws.isStopping() {
					return
				}
				ws.dropConn(conn, websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

// scheduleReconnect runs after the listener for the old connection has stopped
// sending, so giving up may close lines.
func (ws *WebSocket) scheduleReconnect() {
	if ws.maxReconnectAttempts <= 0 {
		ws.giveUp()
		return
	}
	if !ws.track(1) {
		return
	}
	ws.setState(WSStateReconnecting)

	go func() {
		defer ws.wg.Done()
		for attempt := 1; attempt <= ws.maxReconnectAttempts; attempt++ {
			select {
			case <-ws.stopCh:
				return
			case <-time.After(ws.backoff(attempt)):
			}
			if err := ws.dial(ws.rootCtx); err != nil {
				if ws.isStopping() {
					return
				}
				ws.log.Debug("ws_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			return
		}
		ws.giveUp()
	}()
}

func (ws *WebSocket) giveUp() {
	if ws.isStopping() {
		return
	}
	ws.setState(WSStateFailed)
	ws.log.Warn("ws_gave_up", zap.Int("max_attempts", ws.maxReconnectAttempts))
	ws.closeLines()
}

// track registers n goroutines unless Close has begun.
func (ws *WebSocket) track(n int) bool {
	ws.lifeM.Lock()
	defer ws.lifeM.Unlock()
	if ws.isStopping() {
		return false
	}
	ws.wg.Add(n)
	return true
}

func (ws *WebSocket) closeLines() {
	ws.linesOnce.Do(func() { close(ws.lines) })
}

func (ws *WebSocket) Lines() <-chan string { return ws.lines }

func (ws *WebSocket) Send(line string) error {
	if ws.isStopping() {
		return ErrClosed
	}
	conn := ws.current()
	if conn == nil {
		return fmt.Errorf("websocket %s: %w", ws.State(), ErrClosed)
	}
	ctx, cancel := context.WithTimeout(ws.rootCtx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, wsMessage{Type: wsTypeLine, Line: line}); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (ws *WebSocket) State() WSState {
	ws.stateM.RLock()
	defer ws.stateM.RUnlock()
	return ws.state
}

func (ws *WebSocket) setState(state WSState) {
	ws.stateM.Lock()
	prev := ws.state
	ws.state = state
	ws.stateM.Unlock()
	if prev != state {
		ws.log.Info("ws_state", zap.String("from", prev.String()), zap.String("to", state.String()))
	}
}

func (ws *WebSocket) Close() error {
	ws.lifeM.Lock()
	ws.stopOnce.Do(func() { close(ws.stopCh) })
	ws.lifeM.Unlock()
	if conn := ws.current(); conn != nil {
		ws.dropConn(conn, websocket.StatusNormalClosure, "close")
	}
	ws.rootCancel()

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("websocket close: timed out waiting for readers")
	}
	ws.closeLines()
	ws.setState(WSStateDisconnected)
	return nil
}

func (ws *WebSocket) current() *websocket.Conn {
	ws.connM.RLock()
	defer ws.connM.RUnlock()
	return ws.conn
}

func (ws *WebSocket) dropConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	ws.connM.Lock()
	if ws.conn == conn {
		ws.conn = nil
	}
	ws.connM.Unlock()
	_ = conn.Close(code, reason)
	if !ws.isStopping() {
		ws.setState(WSStateDisconnected)
	}
}

func (ws *WebSocket) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}
