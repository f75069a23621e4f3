package cecp

import (
	"strings"

	"go.uber.org/zap"

	"github.com/TimoKropp/openchessboard/internal/board"
)

// FeatureLine is the capability announcement sent in reply to protover.
const FeatureLine = "feature setboard=1"

// Device is the board side of the protocol.
type Device interface {
	OnNewGame(fen string)
	OnMove(mv string)
	OnDeviceMovePromoted(mv string)
	OnDeviceMoveRejected(mv string)
	AskDeviceMakeMove()
	AskDeviceStopMove()
}

// Resetter is implemented by devices that reset their position on new.
type Resetter interface {
	OnReset()
}

// Sender writes one outbound protocol line. The transport adds the newline.
type Sender interface {
	Send(line string) error
}

// Session is the protocol state shared between the peer and the device.
type Session struct {
	ForceMode              bool
	DeviceMoveRequested    bool
	ForcedPromotionPending bool
}

// Engine interprets xboard (CECP) lines from the peer and drives the Device.
// It is not safe for concurrent use; the runner owns it.
type Engine struct {
	dev     Device
	out     Sender
	log     *zap.Logger
	session Session
	quit    bool
}

func NewEngine(dev Device, out Sender, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{dev: dev, out: out, log: logger}
}

func (e *Engine) Session() Session { return e.session }

// Quit reports whether the peer sent quit.
func (e *Engine) Quit() bool { return e.quit }

// HandleLine dispatches one inbound line. The first matching prefix wins.
func (e *Engine) HandleLine(raw string) {
	cmd := strings.TrimRight(raw, "\r\n")
	if strings.TrimSpace(cmd) == "" {
		return
	}
	e.log.Debug("cecp_in", zap.String("line", cmd))

	switch {
	case strings.HasPrefix(cmd, "xboard"), strings.HasPrefix(cmd, "accepted"):
	case strings.HasPrefix(cmd, "protover"):
		e.send(FeatureLine)
	case strings.HasPrefix(cmd, "new"):
		e.session.ForceMode = false
		e.askStopMove()
		if r, ok := e.dev.(Resetter); ok {
			r.OnReset()
		}
	case strings.HasPrefix(cmd, "setboard"):
		e.dev.OnNewGame(cmdParams(cmd))
	case strings.HasPrefix(cmd, "go"):
		e.session.ForceMode = false
		e.askMakeMove()
	case strings.HasPrefix(cmd, "force"):
		e.session.ForceMode = true
		e.askStopMove()
	case strings.HasPrefix(cmd, "Illegal move (without promotion)"):
		e.session.ForcedPromotionPending = true
	case strings.HasPrefix(cmd, "Illegal move"):
		mv := illegalMove(cmd)
		e.log.Info("device_move_rejected", zap.String("move", mv))
		e.dev.OnDeviceMoveRejected(mv)
		e.askMakeMove()
	case strings.HasPrefix(cmd, "ping"):
		e.send("pong" + strings.TrimPrefix(cmd, "ping"))
	case strings.HasPrefix(cmd, "quit"):
		e.quit = true
		e.askStopMove()
	case board.IsMoveToken(cmd):
		mv := strings.TrimSpace(cmd)
		if e.session.ForcedPromotionPending {
			e.dev.OnDeviceMovePromoted(mv)
		} else {
			e.dev.OnMove(mv)
		}
		if !e.session.ForceMode {
			e.askMakeMove()
		}
		e.session.ForcedPromotionPending = false
	default:
		e.log.Debug("cecp_ignored", zap.String("line", cmd))
	}
}

// OnDeviceMove reports a move made on the board to the peer.
// The outstanding move request is fulfilled by it.
func (e *Engine) OnDeviceMove(mv string) {
	e.session.DeviceMoveRequested = false
	e.send("move " + mv)
}

func (e *Engine) TellUser(text string) {
	e.send("telluser " + text)
}

func (e *Engine) askMakeMove() {
	if !e.session.DeviceMoveRequested {
		e.dev.AskDeviceMakeMove()
	}
	e.session.DeviceMoveRequested = true
}

func (e *Engine) askStopMove() {
	if e.session.DeviceMoveRequested {
		e.dev.AskDeviceStopMove()
	}
	e.session.DeviceMoveRequested = false
}

func (e *Engine) send(line string) {
	if e.out == nil {
		return
	}
	if err := e.out.Send(line); err != nil {
		e.log.Warn("cecp_send_failed", zap.String("line", line), zap.Error(err))
		return
	}
	e.log.Debug("cecp_out", zap.String("line", line))
}

func cmdParams(cmd string) string {
	i := strings.IndexByte(cmd, ' ')
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(cmd[i+1:])
}

// illegalMove extracts the token from "Illegal move: e2e5" or
// "Illegal move (reason): e2e5". Without a colon the last field is used.
func illegalMove(cmd string) string {
	if i := strings.Index(cmd, ": "); i >= 0 {
		return strings.TrimSpace(cmd[i+2:])
	}
	f := strings.Fields(cmd)
	if len(f) <= 2 {
		return ""
	}
	return f[len(f)-1]
}
