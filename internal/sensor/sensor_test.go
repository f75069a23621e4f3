package sensor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TimoKropp/openchessboard/internal/board"
)

func newTestScanner(t *testing.T, variant string, opts ...Option) (*Scanner, *SimBoard) {
	t.Helper()
	cat, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	p, err := cat.Lookup(variant)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	sim := NewSimBoard(p)
	opts = append([]Option{WithSleep(func(time.Duration) {})}, opts...)
	sc, err := NewScanner(sim, p, opts...)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	return sc, sim
}

func TestCatalogDefaults(t *testing.T) {
	cat, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	names := cat.Names()
	if len(names) != 3 {
		t.Fatalf("expected 3 variants, got %v", names)
	}
	p, err := cat.Lookup("NanoESP32")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if p.Sense != 4 || p.Threshold != 100 || p.RowSettle != 500*time.Microsecond {
		t.Fatalf("unexpected pinout %+v", p)
	}
	legacy, _ := cat.Lookup("nano33iot-legacy")
	if legacy.Threshold != 200 || legacy.RowSettle != 0 {
		t.Fatalf("unexpected legacy pinout %+v", legacy)
	}
	if _, err := cat.Lookup("uno"); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
}

func TestCatalogOverrideDir(t *testing.T) {
	dir := t.TempDir()
	custom := []byte("variants:\n  bench:\n    row_select: [1, 2, 3]\n    col_select: [4, 5, 6]\n    sense: 7\n    threshold: 300\n    led: {data: 8, clock: 9, latch: 10, output_enable: 11, reset: 12}\n")
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), custom, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cat, err := LoadCatalog(dir)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	p, err := cat.Lookup("bench")
	if err != nil || p.Threshold != 300 {
		t.Fatalf("bench variant: %+v %v", p, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.yml"), custom, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadCatalog(dir); err == nil {
		t.Fatalf("expected duplicate variant error")
	}
}

func TestPinoutValidateCollision(t *testing.T) {
	led := LEDPins{Data: 10, Clock: 11, Latch: 12, OutputEnable: 13, Reset: 14}
	p := Pinout{RowSelect: [3]int{1, 2, 3}, ColSelect: [3]int{3, 4, 5}, Sense: 6, Threshold: 100, LED: led}
	if err := p.Validate(); err == nil {
		t.Fatalf("expected pin collision error")
	}
	p.ColSelect = [3]int{7, 8, 9}
	p.Sense = 1
	if err := p.Validate(); err == nil {
		t.Fatalf("expected sense collision error")
	}
	p.Sense = 6
	if err := p.Validate(); err != nil {
		t.Fatalf("valid wiring rejected: %v", err)
	}
}

func TestPinoutValidateLEDCollision(t *testing.T) {
	base := Pinout{
		RowSelect: [3]int{1, 2, 3},
		ColSelect: [3]int{4, 5, 6},
		Sense:     7,
		Threshold: 100,
		LED:       LEDPins{Data: 10, Clock: 11, Latch: 12, OutputEnable: 13, Reset: 14},
	}
	cases := map[string]func(p *Pinout){
		"data on row select":   func(p *Pinout) { p.LED.Data = 2 },
		"clock on col select":  func(p *Pinout) { p.LED.Clock = 5 },
		"latch on sense":       func(p *Pinout) { p.LED.Latch = 7 },
		"reset on output line": func(p *Pinout) { p.LED.Reset = 13 },
	}
	for name, mutate := range cases {
		p := base
		mutate(&p)
		if err := p.Validate(); err == nil {
			t.Fatalf("%s: expected collision error", name)
		}
	}
}

func TestScanEmptyAndIdempotent(t *testing.T) {
	sc, sim := newTestScanner(t, "nano33iot")
	a, err := sc.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if a.Count() != 0 {
		t.Fatalf("expected empty board, got %d", a.Count())
	}
	if sim.Reads() != 64 {
		t.Fatalf("expected 64 reads per scan, got %d", sim.Reads())
	}
	sim.Set(board.Cell{Row: 6, Col: 3}, true)
	sim.Set(board.Cell{Row: 0, Col: 7}, true)
	b, _ := sc.Scan()
	c, _ := sc.Scan()
	if b != c {
		t.Fatalf("consecutive scans differ: %v vs %v", b, c)
	}
	if !b.Occupied(board.Cell{Row: 6, Col: 3}) || !b.Occupied(board.Cell{Row: 0, Col: 7}) || b.Count() != 2 {
		t.Fatalf("unexpected snapshot %v", b)
	}
}

func TestScanThreshold(t *testing.T) {
	sc, sim := newTestScanner(t, "nano33iot")
	cell := board.Cell{Row: 2, Col: 2}
	sim.SetLevel(cell, 100)
	snap, _ := sc.Scan()
	if snap.Occupied(cell) {
		t.Fatalf("reading equal to threshold must read empty")
	}
	sim.SetLevel(cell, 99)
	snap, _ = sc.Scan()
	if !snap.Occupied(cell) {
		t.Fatalf("reading below threshold must read occupied")
	}

	sc2, sim2 := newTestScanner(t, "nano33iot", WithThreshold(150))
	sim2.SetLevel(cell, 120)
	snap, _ = sc2.Scan()
	if sc2.Threshold() != 150 || !snap.Occupied(cell) {
		t.Fatalf("threshold override not applied")
	}
}

func TestScanSettleDelays(t *testing.T) {
	var total time.Duration
	sc, _ := newTestScanner(t, "nanoesp32", WithSleep(func(d time.Duration) { total += d }))
	if _, err := sc.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := 8*500*time.Microsecond + 64*300*time.Microsecond
	if total != want {
		t.Fatalf("settle total = %v, want %v", total, want)
	}
}

type failingGPIO struct{ *SimBoard }

func (f *failingGPIO) ReadAnalog(int) (int, error) { return 0, errors.New("adc fault") }

func TestScanPropagatesReadError(t *testing.T) {
	cat, _ := LoadCatalog("")
	p, _ := cat.Lookup("nano33iot")
	g := &failingGPIO{SimBoard: NewSimBoard(p)}
	sc, err := NewScanner(g, p, WithSleep(func(time.Duration) {}))
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	if _, err := sc.Scan(); err == nil {
		t.Fatalf("expected read error")
	}
}
