package transport

import (
	"errors"
	"strings"
)

// ErrClosed is returned by Send after Close or once the link has gone away.
var ErrClosed = errors.New("transport closed")

// Transport carries newline-delimited protocol lines.
// Inbound lines arrive on Lines from a reader goroutine; the channel is closed
// when the peer disconnects for good. Send may be called from the runner only.
type Transport interface {
	Lines() <-chan string
	Send(line string) error
	Close() error
}

// Poll drains the lines that are ready without blocking. ok is false once the
// inbound side is closed and empty.
func Poll(t Transport, max int) (lines []string, ok bool) {
	ch := t.Lines()
	for max <= 0 || len(lines) < max {
		select {
		case l, open := <-ch:
			if !open {
				return lines, false
			}
			lines = append(lines, l)
		default:
			return lines, true
		}
	}
	return lines, true
}

func cleanLine(s string) string {
	return strings.TrimRight(s, "\r\n")
}

const lineBuffer = 64
