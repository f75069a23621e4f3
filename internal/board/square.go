package board

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

const Size = 8

// Square is an algebraic (file, rank) pair, both in [0,7]. File 0 is 'a', rank 0 is '1'.
type Square struct {
	File int
	Rank int
}

// Cell is a physical sensor position: the multiplexer row and column address.
type Cell struct {
	Row int
	Col int
}

func (s Square) Valid() bool {
	return s.File >= 0 && s.File < Size && s.Rank >= 0 && s.Rank < Size
}

func (s Square) String() string {
	if !s.Valid() {
		return "??"
	}
	return string([]byte{byte('a' + s.File), byte('1' + s.Rank)})
}

// Chess converts to the chess library square index.
func (s Square) Chess() nchess.Square {
	return nchess.NewSquare(nchess.File(s.File), nchess.Rank(s.Rank))
}

// ParseSquare parses "e2" style coordinates (case-insensitive file).
func ParseSquare(s string) (Square, error) {
	s = strings.TrimSpace(s)
	if len(s) != 2 {
		return Square{}, fmt.Errorf("invalid square %q", s)
	}
	f := strings.ToLower(s[:1])[0]
	r := s[1]
	if f < 'a' || f > 'h' || r < '1' || r > '8' {
		return Square{}, fmt.Errorf("invalid square %q", s)
	}
	return Square{File: int(f - 'a'), Rank: int(r - '1')}, nil
}

func (c Cell) Valid() bool {
	return c.Row >= 0 && c.Row < Size && c.Col >= 0 && c.Col < Size
}
