package display

import (
	"sync"

	"go.uber.org/zap"

	"github.com/TimoKropp/openchessboard/internal/board"
)

// Driver gives the player visual feedback. Calls never fail from the caller's view.
type Driver interface {
	ShowLift(sq board.Square)
	ShowMove(m board.Move)
	ShowSquares(squares []board.Square)
	Clear()
}

// FrameWriter pushes a frame to the LED hardware.
type FrameWriter interface {
	WriteFrame(f Frame) error
}

// FrameDriver renders feedback as LED frames through a FrameWriter and keeps
// the last frame for diagnostics.
type FrameDriver struct {
	orient board.Orientation
	w      FrameWriter
	log    *zap.Logger

	mu      sync.Mutex
	current Frame
}

func NewFrameDriver(o board.Orientation, w FrameWriter, logger *zap.Logger) *FrameDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FrameDriver{orient: o, w: w, log: logger}
}

func (d *FrameDriver) ShowLift(sq board.Square) {
	d.show(FrameFor(d.orient, sq))
}

func (d *FrameDriver) ShowMove(m board.Move) {
	d.show(FrameFor(d.orient, m.From, m.To))
}

func (d *FrameDriver) ShowSquares(squares []board.Square) {
	d.show(FrameFor(d.orient, squares...))
}

func (d *FrameDriver) Clear() {
	d.show(Frame{})
}

// Current returns the last frame written.
func (d *FrameDriver) Current() Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Lit returns the squares of the last frame.
func (d *FrameDriver) Lit() []board.Square {
	return d.Current().Squares(d.orient)
}

func (d *FrameDriver) show(f Frame) {
	d.mu.Lock()
	d.current = f
	d.mu.Unlock()
	if d.w == nil {
		return
	}
	if err := d.w.WriteFrame(f); err != nil {
		d.log.Warn("led_write_failed", zap.Error(err))
	}
}

// LogDriver reports feedback as log events, for headless runs.
type LogDriver struct {
	log *zap.Logger
}

func NewLogDriver(logger *zap.Logger) *LogDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDriver{log: logger}
}

func (d *LogDriver) ShowLift(sq board.Square) {
	d.log.Info("display_lift", zap.String("square", sq.String()))
}

func (d *LogDriver) ShowMove(m board.Move) {
	d.log.Info("display_move", zap.String("move", m.String()))
}

func (d *LogDriver) ShowSquares(squares []board.Square) {
	names := make([]string, 0, len(squares))
	for _, sq := range squares {
		names = append(names, sq.String())
	}
	d.log.Info("display_squares", zap.Strings("squares", names))
}

func (d *LogDriver) Clear() {
	d.log.Debug("display_clear")
}

// Multi fans every call out to all drivers in order.
type Multi []Driver

func (m Multi) ShowLift(sq board.Square) {
	for _, d := range m {
		d.ShowLift(sq)
	}
}

func (m Multi) ShowMove(mv board.Move) {
	for _, d := range m {
		d.ShowMove(mv)
	}
}

func (m Multi) ShowSquares(squares []board.Square) {
	for _, d := range m {
		d.ShowSquares(squares)
	}
}

func (m Multi) Clear() {
	for _, d := range m {
		d.Clear()
	}
}
