package opponent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TimoKropp/openchessboard/internal/transport"
	"github.com/TimoKropp/openchessboard/internal/uci"
)

type scriptedEngine struct {
	mu      sync.Mutex
	replies []string
	reqs    []uci.SearchRequest
	gate    chan struct{}
	closed  bool
}

func (e *scriptedEngine) NewGame(context.Context) error { return nil }

func (e *scriptedEngine) BestMove(ctx context.Context, req uci.SearchRequest) (string, error) {
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	if len(e.replies) == 0 {
		return "", errors.New("out of moves")
	}
	mv := e.replies[0]
	e.replies = e.replies[1:]
	return mv, nil
}

func (e *scriptedEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func next(t *testing.T, l *Local) string {
	t.Helper()
	select {
	case line := <-l.Lines():
		return line
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a line")
		return ""
	}
}

func expect(t *testing.T, l *Local, want ...string) {
	t.Helper()
	for _, w := range want {
		if got := next(t, l); got != w {
			t.Fatalf("got %q, want %q", got, w)
		}
	}
}

func TestBoardWhiteExchange(t *testing.T) {
	eng := &scriptedEngine{replies: []string{"e7e5"}}
	l, err := Start(context.Background(), Options{Engine: eng, BoardWhite: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	expect(t, l, "xboard", "protover 2", "new", "go")

	if err := l.Send("feature setboard=1"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := l.Send("move e2e4"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	expect(t, l, "e7e5")
	if got := l.Moves(); len(got) != 2 || got[0] != "e2e4" || got[1] != "e7e5" {
		t.Fatalf("moves = %v", got)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !eng.closed {
		t.Fatalf("engine not closed")
	}
	if err := l.Send("move d2d4"); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestIllegalBoardMove(t *testing.T) {
	l, err := Start(context.Background(), Options{Engine: &scriptedEngine{}, BoardWhite: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Close()
	expect(t, l, "xboard", "protover 2", "new", "go")

	_ = l.Send("move e2e5")
	expect(t, l, "Illegal move: e2e5")
	if len(l.Moves()) != 0 {
		t.Fatalf("illegal move recorded: %v", l.Moves())
	}
}

func TestMissingPromotionResolved(t *testing.T) {
	eng := &scriptedEngine{replies: []string{"a8b7"}}
	fen := "k7/4P3/8/8/8/8/8/K7 w - - 0 1"
	l, err := Start(context.Background(), Options{Engine: eng, BoardWhite: true, FEN: fen})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Close()
	expect(t, l, "xboard", "protover 2", "new", "setboard "+fen, "go")

	_ = l.Send("move e7e8")
	expect(t, l, "Illegal move (without promotion): e7e8", "e7e8q", "a8b7")

	eng.mu.Lock()
	req := eng.reqs[0]
	eng.mu.Unlock()
	if req.FEN != fen || len(req.Moves) != 1 || req.Moves[0] != "e7e8q" {
		t.Fatalf("search request = %+v", req)
	}
}

func TestBoardBlackWaitsForEngine(t *testing.T) {
	eng := &scriptedEngine{replies: []string{"e2e4"}, gate: make(chan struct{})}
	l, err := Start(context.Background(), Options{Engine: eng})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Close()
	expect(t, l, "xboard", "protover 2", "new")

	_ = l.Send("move e7e5")
	expect(t, l, "Illegal move (out of turn): e7e5")

	close(eng.gate)
	expect(t, l, "e2e4")
}

func TestGameOverResult(t *testing.T) {
	// Fool's mate: the board plays black and delivers mate.
	eng := &scriptedEngine{replies: []string{"f2f3", "g2g4"}}
	l, err := Start(context.Background(), Options{Engine: eng})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Close()
	expect(t, l, "xboard", "protover 2", "new", "f2f3")
	_ = l.Send("move e7e5")
	expect(t, l, "g2g4")
	_ = l.Send("move d8h4")
	expect(t, l, "result 0-1 {game over}")

	_ = l.Send("move h4e1")
	expect(t, l, "Illegal move (game over): h4e1")
}
