package board

import "strings"

// Snapshot is one full read of the sensor matrix, one byte per multiplexer row
// and one bit per column. It is a value type; copies never alias.
type Snapshot [Size]uint8

// Occupied reports whether the sensor at the given physical cell detected a piece.
func (s Snapshot) Occupied(c Cell) bool {
	return s[c.Row]&(1<<uint(c.Col)) != 0
}

// With returns a copy with the cell set to the given occupancy.
func (s Snapshot) With(c Cell, occupied bool) Snapshot {
	if occupied {
		s[c.Row] |= 1 << uint(c.Col)
	} else {
		s[c.Row] &^= 1 << uint(c.Col)
	}
	return s
}

// Count returns the number of occupied cells.
func (s Snapshot) Count() int {
	n := 0
	for _, row := range s {
		for ; row != 0; row &= row - 1 {
			n++
		}
	}
	return n
}

// Diff returns the cells whose occupancy differs between s and other, in scan order (row-major).
func (s Snapshot) Diff(other Snapshot) []Cell {
	var out []Cell
	for row := 0; row < Size; row++ {
		x := s[row] ^ other[row]
		if x == 0 {
			continue
		}
		for col := 0; col < Size; col++ {
			if x&(1<<uint(col)) != 0 {
				out = append(out, Cell{Row: row, Col: col})
			}
		}
	}
	return out
}

// Grid renders the snapshot as an 8x8 text grid in algebraic layout, rank 8 first.
func (s Snapshot) Grid(o Orientation) string {
	var b strings.Builder
	for rank := Size - 1; rank >= 0; rank-- {
		b.WriteByte(byte('1' + rank))
		b.WriteByte(' ')
		for file := 0; file < Size; file++ {
			if s.Occupied(o.FromSquare(Square{File: file, Rank: rank})) {
				b.WriteString(" x")
			} else {
				b.WriteString(" .")
			}
		}
		b.WriteByte('\n')
	}
	b.WriteString("   a b c d e f g h\n")
	return b.String()
}
