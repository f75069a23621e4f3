//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package transport

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

const DefaultBaud = 115200

func OpenSerial(device string, baud int, logger *zap.Logger) (*Stream, error) {
	return nil, fmt.Errorf("serial transport not supported on %s", runtime.GOOS)
}
