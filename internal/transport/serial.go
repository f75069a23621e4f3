//go:build linux || darwin || freebsd || netbsd || openbsd

package transport

import (
	"fmt"

	"github.com/pkg/term"
	"go.uber.org/zap"
)

const DefaultBaud = 115200

// OpenSerial opens a USB serial line in raw mode and runs the protocol over it.
func OpenSerial(device string, baud int, logger *zap.Logger) (*Stream, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	t, err := term.Open(device, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	// Drop whatever the peer sent before we were listening.
	if err := t.Flush(); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("flush serial %s: %w", device, err)
	}
	if logger != nil {
		logger.Info("serial_opened", zap.String("device", device), zap.Int("baud", baud))
	}
	return NewStream("serial:"+device, t, t, t, logger), nil
}
