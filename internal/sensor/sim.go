package sensor

import (
	"fmt"
	"sync"

	"github.com/TimoKropp/openchessboard/internal/board"
)

const (
	simOccupiedLevel = 20
	simEmptyLevel    = 800
)

// SimBoard is an in-memory GPIO driver behaving like the physical matrix:
// the select lines address a cell and the sense pin returns that cell's level.
// It stands in for hardware in tests and in SIMULATE mode.
type SimBoard struct {
	mu     sync.Mutex
	pins   Pinout
	levels [board.Size][board.Size]int
	pin    map[int]bool
	reads  int
}

func NewSimBoard(p Pinout) *SimBoard {
	s := &SimBoard{pins: p, pin: make(map[int]bool)}
	for r := range s.levels {
		for c := range s.levels[r] {
			s.levels[r][c] = simEmptyLevel
		}
	}
	return s
}

func (s *SimBoard) SetPin(pin int, high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pin[pin] = high
	return nil
}

func (s *SimBoard) ReadAnalog(pin int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pin != s.pins.Sense {
		return 0, fmt.Errorf("pin %d is not an analog input", pin)
	}
	s.reads++
	row := s.address(s.pins.RowSelect)
	col := s.address(s.pins.ColSelect)
	return s.levels[row][col], nil
}

func (s *SimBoard) address(lines [3]int) int {
	a := 0
	for bit, pin := range lines {
		if s.pin[pin] {
			a |= 1 << uint(bit)
		}
	}
	return a
}

// Set places or removes a piece on a physical cell.
func (s *SimBoard) Set(c board.Cell, occupied bool) {
	lvl := simEmptyLevel
	if occupied {
		lvl = simOccupiedLevel
	}
	s.SetLevel(c, lvl)
}

// SetLevel sets the raw analog reading of a cell.
func (s *SimBoard) SetLevel(c board.Cell, level int) {
	if !c.Valid() {
		return
	}
	s.mu.Lock()
	s.levels[c.Row][c.Col] = level
	s.mu.Unlock()
}

// Toggle flips the occupancy of a cell and returns the new state.
func (s *SimBoard) Toggle(c board.Cell) bool {
	if !c.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.levels[c.Row][c.Col] < s.pins.Threshold {
		s.levels[c.Row][c.Col] = simEmptyLevel
		return false
	}
	s.levels[c.Row][c.Col] = simOccupiedLevel
	return true
}

// Load replaces the whole board with the snapshot's occupancy.
func (s *SimBoard) Load(snap board.Snapshot) {
	for r := 0; r < board.Size; r++ {
		for c := 0; c < board.Size; c++ {
			cell := board.Cell{Row: r, Col: c}
			s.Set(cell, snap.Occupied(cell))
		}
	}
}

// Reads returns the number of analog samples taken so far.
func (s *SimBoard) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
