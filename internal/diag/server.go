package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/TimoKropp/openchessboard/internal/board"
	"github.com/TimoKropp/openchessboard/internal/cecp"
	"github.com/TimoKropp/openchessboard/internal/device"
	"github.com/TimoKropp/openchessboard/internal/sensor"
)

// StatusSource yields a copy of the board state.
type StatusSource interface {
	Status() device.Status
}

// SessionSource yields a copy of the protocol session.
type SessionSource interface {
	Session() cecp.Session
}

// LitSource yields the squares currently lit on the LED grid.
type LitSource interface {
	Lit() []board.Square
}

// HistorySource yields the most recent outbound protocol lines, newest first.
type HistorySource interface {
	History(ctx context.Context, n int) ([]string, error)
}

type Options struct {
	Addr        string
	Orientation board.Orientation
	Device      StatusSource
	Session     SessionSource
	LEDs        LitSource
	// History enables /transcript when the transport keeps one.
	History HistorySource
	// Sim enables /sim/toggle for boards without hardware.
	Sim    *sensor.SimBoard
	Logger *zap.Logger
}

// Server exposes the board state over HTTP for bring-up and debugging.
type Server struct {
	opts Options
	log  *zap.Logger
	srv  *fasthttp.Server
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Orientation.FromSquare == nil {
		opts.Orientation = board.PlugTop
	}
	s := &Server{opts: opts, log: opts.Logger}
	s.srv = &fasthttp.Server{
		Handler:               s.handle,
		Name:                  "openchessboard",
		NoDefaultServerHeader: true,
	}
	return s
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("diag_listening", zap.String("addr", ln.Addr().String()))
	return s.srv.Serve(ln)
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("diag listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/healthz":
		ctx.SetContentType("text/plain; charset=utf-8")
		ctx.SetBodyString("ok")
	case "/snapshot":
		s.handleSnapshot(ctx)
	case "/snapshot.png":
		s.handleSnapshotPNG(ctx)
	case "/session":
		s.handleSession(ctx)
	case "/sim/toggle":
		s.handleSimToggle(ctx)
	case "/transcript":
		s.handleTranscript(ctx)
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) status() device.Status {
	if s.opts.Device == nil {
		return device.Status{}
	}
	return s.opts.Device.Status()
}

func (s *Server) handleSnapshot(ctx *fasthttp.RequestCtx) {
	st := s.status()
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.SetBodyString(st.Snapshot.Grid(s.opts.Orientation))
}

func (s *Server) handleSnapshotPNG(ctx *fasthttp.RequestCtx) {
	st := s.status()
	in := RenderInput{Snapshot: st.Snapshot, Orientation: s.opts.Orientation}
	if s.opts.LEDs != nil {
		in.Lit = s.opts.LEDs.Lit()
	}
	for _, name := range st.Mismatches {
		if sq, err := board.ParseSquare(name); err == nil {
			in.Mismatches = append(in.Mismatches, sq)
		}
	}
	img, err := RenderSnapshotPNG(in)
	if err != nil {
		s.log.Error("diag_render_failed", zap.Error(err))
		ctx.Error("render failed", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("image/png")
	ctx.SetBody(img)
}

type sessionView struct {
	Board    device.Status `json:"board"`
	Protocol *cecp.Session `json:"protocol,omitempty"`
	Occupied int           `json:"occupied"`
}

func (s *Server) handleSession(ctx *fasthttp.RequestCtx) {
	st := s.status()
	view := sessionView{Board: st, Occupied: st.Snapshot.Count()}
	if s.opts.Session != nil {
		sess := s.opts.Session.Session()
		view.Protocol = &sess
	}
	raw, err := json.Marshal(view)
	if err != nil {
		ctx.Error("encode failed", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(raw)
}

func (s *Server) handleSimToggle(ctx *fasthttp.RequestCtx) {
	if s.opts.Sim == nil {
		ctx.Error("simulator disabled", fasthttp.StatusNotFound)
		return
	}
	if !ctx.IsPost() && !ctx.IsGet() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimSpace(string(ctx.QueryArgs().Peek("square")))
	sq, err := board.ParseSquare(name)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}
	occupied := s.opts.Sim.Toggle(s.opts.Orientation.FromSquare(sq))
	s.log.Info("sim_toggle", zap.String("square", sq.String()), zap.Bool("occupied", occupied))
	ctx.SetContentType("application/json")
	ctx.SetBodyString(fmt.Sprintf(`{"square":%q,"occupied":%t}`, sq.String(), occupied))
}

func (s *Server) handleTranscript(ctx *fasthttp.RequestCtx) {
	if s.opts.History == nil {
		ctx.Error("transcript unavailable", fasthttp.StatusNotFound)
		return
	}
	n := 0
	if v := strings.TrimSpace(string(ctx.QueryArgs().Peek("n"))); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			ctx.Error("bad n", fasthttp.StatusBadRequest)
			return
		}
		n = parsed
	}
	hctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	lines, err := s.opts.History.History(hctx, n)
	if err != nil {
		s.log.Warn("diag_transcript_failed", zap.Error(err))
		ctx.Error("transcript failed", fasthttp.StatusBadGateway)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	raw, err := json.Marshal(map[string][]string{"lines": lines})
	if err != nil {
		ctx.Error("encode failed", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(raw)
}
