package board

import (
	nchess "github.com/corentings/chess/v2"
)

// ExpectedOccupancy builds the snapshot a correctly set-up board would read for the given position.
func ExpectedOccupancy(b *nchess.Board, o Orientation) Snapshot {
	var snap Snapshot
	if b == nil {
		return snap
	}
	pieces := b.SquareMap()
	for rank := 0; rank < Size; rank++ {
		for file := 0; file < Size; file++ {
			sq := Square{File: file, Rank: rank}
			if p, ok := pieces[sq.Chess()]; ok && p != nchess.NoPiece {
				snap = snap.With(o.FromSquare(sq), true)
			}
		}
	}
	return snap
}

// Mismatches lists the squares where the physical snapshot disagrees with the position,
// ordered a1..h8.
func Mismatches(snap Snapshot, b *nchess.Board, o Orientation) []Square {
	want := ExpectedOccupancy(b, o)
	var out []Square
	for rank := 0; rank < Size; rank++ {
		for file := 0; file < Size; file++ {
			sq := Square{File: file, Rank: rank}
			c := o.FromSquare(sq)
			if snap.Occupied(c) != want.Occupied(c) {
				out = append(out, sq)
			}
		}
	}
	return out
}

// InSync reports whether the physical occupancy matches the position.
func InSync(snap Snapshot, b *nchess.Board, o Orientation) bool {
	return snap == ExpectedOccupancy(b, o)
}
