package board

import (
	"fmt"
	"regexp"
	"strings"
)

var moveToken = regexp.MustCompile(`^[a-hA-H][1-8][a-hA-H][1-8][nbrqNBRQ]?$`)

// Move is a finalised piece movement. Promotion is 0 or one of 'q','r','b','n'.
type Move struct {
	From      Square
	To        Square
	Promotion byte
}

// String serialises to the 4 or 5 character wire token, e.g. "e2e4" or "e7e8q".
func (m Move) String() string {
	s := m.From.String() + m.To.String()
	if m.Promotion != 0 {
		s += string(m.Promotion)
	}
	return s
}

// IsMoveToken reports whether s looks like a coordinate move token.
func IsMoveToken(s string) bool {
	return moveToken.MatchString(strings.TrimSpace(s))
}

// ParseMove parses a coordinate move token.
func ParseMove(s string) (Move, error) {
	s = strings.TrimSpace(s)
	if !moveToken.MatchString(s) {
		return Move{}, fmt.Errorf("invalid move token %q", s)
	}
	from, err := ParseSquare(s[0:2])
	if err != nil {
		return Move{}, err
	}
	to, err := ParseSquare(s[2:4])
	if err != nil {
		return Move{}, err
	}
	m := Move{From: from, To: to}
	if len(s) == 5 {
		m.Promotion = strings.ToLower(s[4:])[0]
	}
	return m, nil
}
