package sensor

import (
	"fmt"
	"time"

	"github.com/TimoKropp/openchessboard/internal/board"
)

// GPIO is the pin-level driver the scanner runs on. Platform code supplies it.
type GPIO interface {
	SetPin(pin int, high bool) error
	ReadAnalog(pin int) (int, error)
}

// Scanner samples the 8x8 hall sensor matrix through the row and column multiplexers.
type Scanner struct {
	gpio      GPIO
	pins      Pinout
	threshold int
	sleep     func(time.Duration)
}

type Option func(*Scanner)

// WithThreshold overrides the variant's default threshold (field calibration).
func WithThreshold(v int) Option {
	return func(s *Scanner) {
		if v > 0 {
			s.threshold = v
		}
	}
}

// WithSleep replaces time.Sleep for settle delays.
func WithSleep(fn func(time.Duration)) Option {
	return func(s *Scanner) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

func NewScanner(g GPIO, p Pinout, opts ...Option) (*Scanner, error) {
	if g == nil {
		return nil, fmt.Errorf("nil gpio driver")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("pinout %s: %w", p.Name, err)
	}
	s := &Scanner{gpio: g, pins: p, threshold: p.Threshold, sleep: time.Sleep}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scanner) Threshold() int { return s.threshold }

func (s *Scanner) Pinout() Pinout { return s.pins }

// Scan reads all 64 cells once, row-major. A reading below the threshold is occupied.
func (s *Scanner) Scan() (board.Snapshot, error) {
	var snap board.Snapshot
	for row := 0; row < board.Size; row++ {
		if err := s.selectAddress(s.pins.RowSelect, row); err != nil {
			return board.Snapshot{}, fmt.Errorf("select row %d: %w", row, err)
		}
		if s.pins.RowSettle > 0 {
			s.sleep(s.pins.RowSettle)
		}
		for col := 0; col < board.Size; col++ {
			if err := s.selectAddress(s.pins.ColSelect, col); err != nil {
				return board.Snapshot{}, fmt.Errorf("select col %d: %w", col, err)
			}
			if s.pins.ColSettle > 0 {
				s.sleep(s.pins.ColSettle)
			}
			v, err := s.gpio.ReadAnalog(s.pins.Sense)
			if err != nil {
				return board.Snapshot{}, fmt.Errorf("read cell %d,%d: %w", row, col, err)
			}
			if v < s.threshold {
				snap[row] |= 1 << uint(col)
			}
		}
	}
	return snap, nil
}

func (s *Scanner) selectAddress(lines [3]int, addr int) error {
	for bit, pin := range lines {
		if err := s.gpio.SetPin(pin, addr&(1<<uint(bit)) != 0); err != nil {
			return err
		}
	}
	return nil
}
