package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TimoKropp/openchessboard/internal/board"
	"github.com/TimoKropp/openchessboard/internal/cecp"
	"github.com/TimoKropp/openchessboard/internal/device"
	"github.com/TimoKropp/openchessboard/internal/sensor"
)

type chanTransport struct {
	in   chan string
	mu   sync.Mutex
	sent []string
}

func newChanTransport() *chanTransport {
	return &chanTransport{in: make(chan string, 32)}
}

func (c *chanTransport) Lines() <-chan string { return c.in }

func (c *chanTransport) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, line)
	return nil
}

func (c *chanTransport) Close() error { return nil }

func (c *chanTransport) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type countingDevice struct {
	steps int
	err   error
}

func (d *countingDevice) OnNewGame(string)            {}
func (d *countingDevice) OnMove(string)               {}
func (d *countingDevice) OnDeviceMovePromoted(string) {}
func (d *countingDevice) OnDeviceMoveRejected(string) {}
func (d *countingDevice) AskDeviceMakeMove()          {}
func (d *countingDevice) AskDeviceStopMove()          {}
func (d *countingDevice) Step(time.Time) error {
	d.steps++
	return d.err
}

func TestRunStopsOnQuit(t *testing.T) {
	tr := newChanTransport()
	dev := &countingDevice{}
	r := New(Options{Transport: tr, Engine: cecp.NewEngine(dev, tr, nil), Device: dev, PollInterval: time.Millisecond})

	tr.in <- "xboard"
	tr.in <- "protover 2"
	tr.in <- "quit"
	tr.in <- "ping 1"
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sent := tr.Sent()
	if len(sent) != 1 || sent[0] != cecp.FeatureLine {
		t.Fatalf("sent = %v", sent)
	}
	if dev.steps != 0 {
		t.Fatalf("device stepped after quit: %d", dev.steps)
	}
}

func TestRunPeerGone(t *testing.T) {
	tr := newChanTransport()
	dev := &countingDevice{err: errors.New("scan failed")}
	r := New(Options{Transport: tr, Engine: cecp.NewEngine(dev, tr, nil), Device: dev, PollInterval: time.Millisecond})
	tr.in <- "ping 7"
	close(tr.in)
	if err := r.Run(context.Background()); !errors.Is(err, ErrPeerGone) {
		t.Fatalf("expected ErrPeerGone, got %v", err)
	}
	if sent := tr.Sent(); len(sent) != 1 || sent[0] != "pong 7" {
		t.Fatalf("sent = %v", sent)
	}
	if dev.steps != 1 {
		t.Fatalf("steps = %d", dev.steps)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	tr := newChanTransport()
	dev := &countingDevice{}
	r := New(Options{Transport: tr, Engine: cecp.NewEngine(dev, tr, nil), Device: dev, PollInterval: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Ticks() == 0 || dev.steps == 0 {
		t.Fatalf("expected at least one tick")
	}
}

func TestTickPlaysBoardMove(t *testing.T) {
	cat, err := sensor.LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	p, err := cat.Lookup("nano33iot")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	sim := sensor.NewSimBoard(p)
	sc, err := sensor.NewScanner(sim, p, sensor.WithSleep(func(time.Duration) {}))
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	dev, err := device.New(device.Options{Scanner: sc, Orientation: board.PlugTop, SyncCheck: true})
	if err != nil {
		t.Fatalf("device.New: %v", err)
	}
	var start board.Snapshot
	for file := 0; file < board.Size; file++ {
		for _, rank := range []int{0, 1, 6, 7} {
			start = start.With(board.PlugTop.FromSquare(board.Square{File: file, Rank: rank}), true)
		}
	}
	sim.Load(start)

	tr := newChanTransport()
	eng := cecp.NewEngine(dev, tr, nil)
	dev.Attach(eng)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(Options{Transport: tr, Engine: eng, Device: dev, Now: func() time.Time { return now }})
	tick := func() {
		t.Helper()
		now = now.Add(100 * time.Millisecond)
		if !r.Tick() {
			t.Fatalf("transport closed unexpectedly")
		}
	}

	tr.in <- "new"
	tr.in <- "go"
	tick()
	if !r.Session().DeviceMoveRequested {
		t.Fatalf("expected a pending device move after go")
	}

	e2 := board.PlugTop.FromSquare(board.Square{File: 4, Rank: 1})
	e4 := board.PlugTop.FromSquare(board.Square{File: 4, Rank: 3})
	sim.Set(e2, false)
	tick()
	sim.Set(e4, true)
	tick()
	tick()
	tick()

	sent := tr.Sent()
	if len(sent) != 1 || sent[0] != "move e2e4" {
		t.Fatalf("sent = %v", sent)
	}
	if r.Session().DeviceMoveRequested {
		t.Fatalf("request should be fulfilled")
	}
	if st := dev.Status(); len(st.Moves) != 1 || st.Moves[0] != "e2e4" {
		t.Fatalf("status = %+v", st)
	}
}
