package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fastBackoff(int) time.Duration { return 5 * time.Millisecond }

func waitClosed(t *testing.T, ch <-chan string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("lines channel not closed")
		}
	}
}

func TestWebSocketHelloAndLines(t *testing.T) {
	hellos := make(chan wsMessage, 1)
	sent := make(chan wsMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		var hello wsMessage
		if err := wsjson.Read(ctx, c, &hello); err != nil {
			return
		}
		hellos <- hello
		if err := wsjson.Write(ctx, c, wsMessage{Type: wsTypeLine, Line: "usermove e2e4\r\n"}); err != nil {
			return
		}
		for {
			var msg wsMessage
			if err := wsjson.Read(ctx, c, &msg); err != nil {
				return
			}
			if msg.Type == wsTypeLine {
				sent <- msg
			}
		}
	}))
	defer srv.Close()

	ws := NewWebSocket(wsURL(srv), 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := ws.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case h := <-hellos:
		if h.Type != wsTypeHello || h.Board == "" || h.Board != ws.boardID {
			t.Fatalf("unexpected hello %+v (board %s)", h, ws.boardID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no hello frame")
	}
	if l := waitLine(t, ws.Lines()); l != "usermove e2e4" {
		t.Fatalf("got %q", l)
	}

	if err := ws.Send("move e7e5"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case m := <-sent:
		if m.Line != "move e7e5" {
			t.Fatalf("server got %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server got no line frame")
	}

	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := Poll(ws, 0); ok {
		t.Fatalf("Poll after Close should report closed")
	}
	if err := ws.Send("move a7a6"); err == nil {
		t.Fatalf("Send after Close should fail")
	}
}

func TestWebSocketReconnectsAfterDrop(t *testing.T) {
	var conns atomic.Int32
	hellos := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		var hello wsMessage
		if err := wsjson.Read(ctx, c, &hello); err != nil {
			_ = c.Close(websocket.StatusInternalError, "")
			return
		}
		hellos <- hello.Board
		if n == 1 {
			_ = c.Close(websocket.StatusGoingAway, "restart")
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		if err := wsjson.Write(ctx, c, wsMessage{Type: wsTypeLine, Line: "ping 7"}); err != nil {
			return
		}
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ws := NewWebSocket(wsURL(srv), 3, nil)
	ws.backoff = fastBackoff
	defer ws.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := ws.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if l := waitLine(t, ws.Lines()); l != "ping 7" {
		t.Fatalf("got %q", l)
	}
	first, second := <-hellos, <-hellos
	if first != second || first != ws.boardID {
		t.Fatalf("board id changed across reconnect: %s then %s", first, second)
	}
	if ws.State() != WSStateConnected {
		t.Fatalf("state %s", ws.State())
	}
}

func TestWebSocketClosesLinesWhenReconnectGivesUp(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conns.Add(1) > 1 {
			http.Error(w, "gone", http.StatusServiceUnavailable)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		var hello wsMessage
		_ = wsjson.Read(r.Context(), c, &hello)
		_ = c.Close(websocket.StatusGoingAway, "shutdown")
	}))
	defer srv.Close()

	ws := NewWebSocket(wsURL(srv), 2, nil)
	ws.backoff = fastBackoff
	defer ws.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := ws.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitClosed(t, ws.Lines())
	if _, ok := Poll(ws, 0); ok {
		t.Fatalf("Poll should report closed once reconnects run out")
	}
	if ws.State() != WSStateFailed {
		t.Fatalf("state %s, want failed", ws.State())
	}
	if got := conns.Load(); got != 3 {
		t.Fatalf("server saw %d connection attempts, want 3", got)
	}
}
