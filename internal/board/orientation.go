package board

import (
	"fmt"
	"strings"
)

// Orientation maps physical sensor cells to algebraic squares and back.
// It is selected once at startup and injected into the detector and the display.
type Orientation struct {
	Name       string
	ToSquare   func(Cell) Square
	FromSquare func(Square) Cell
}

const (
	OrientationPlugTop   = "plug-top"
	OrientationPlugRight = "plug-right"
)

// PlugTop is the mounting with the power plug at the top edge.
var PlugTop = Orientation{
	Name: OrientationPlugTop,
	ToSquare: func(c Cell) Square {
		return Square{File: 7 - c.Col, Rank: 7 - c.Row}
	},
	FromSquare: func(s Square) Cell {
		return Cell{Row: 7 - s.Rank, Col: 7 - s.File}
	},
}

// PlugRight is the mounting with the power plug at the right edge.
var PlugRight = Orientation{
	Name: OrientationPlugRight,
	ToSquare: func(c Cell) Square {
		return Square{File: 7 - c.Row, Rank: c.Col}
	},
	FromSquare: func(s Square) Cell {
		return Cell{Row: 7 - s.File, Col: s.Rank}
	},
}

// OrientationByName resolves a configured orientation. Empty selects plug-top.
func OrientationByName(name string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", OrientationPlugTop, "top":
		return PlugTop, nil
	case OrientationPlugRight, "right":
		return PlugRight, nil
	default:
		return Orientation{}, fmt.Errorf("unknown board orientation %q", name)
	}
}
