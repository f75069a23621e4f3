package display

import "github.com/TimoKropp/openchessboard/internal/board"

// Frame is one LED image in shift-out order: one byte per register, LSB first.
type Frame [board.Size]uint8

// FrameFor lights the given squares. The LED chain is mounted mirrored to the
// sensor matrix, so a cell (row, col) is register 7-row, bit 7-col.
func FrameFor(o board.Orientation, squares ...board.Square) Frame {
	var f Frame
	for _, sq := range squares {
		if !sq.Valid() {
			continue
		}
		c := o.FromSquare(sq)
		f[board.Size-1-c.Row] |= 1 << uint(board.Size-1-c.Col)
	}
	return f
}

// Squares lists the lit squares, ordered a1..h8.
func (f Frame) Squares(o board.Orientation) []board.Square {
	if f == (Frame{}) {
		return nil
	}
	var out []board.Square
	for rank := 0; rank < board.Size; rank++ {
		for file := 0; file < board.Size; file++ {
			sq := board.Square{File: file, Rank: rank}
			if f.Lit(o, sq) {
				out = append(out, sq)
			}
		}
	}
	return out
}

func (f Frame) Lit(o board.Orientation, sq board.Square) bool {
	c := o.FromSquare(sq)
	return f[board.Size-1-c.Row]&(1<<uint(board.Size-1-c.Col)) != 0
}
