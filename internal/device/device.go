package device

import (
	"fmt"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TimoKropp/openchessboard/internal/board"
	"github.com/TimoKropp/openchessboard/internal/detector"
	"github.com/TimoKropp/openchessboard/internal/display"
)

// StartFEN is the standard initial position, used until the peer sends setboard.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Scanner produces full-board snapshots.
type Scanner interface {
	Scan() (board.Snapshot, error)
}

// Announcer is the protocol side the board reports to.
type Announcer interface {
	OnDeviceMove(mv string)
	TellUser(text string)
}

type Options struct {
	Scanner     Scanner
	Detector    *detector.Detector
	Display     display.Driver
	Orientation board.Orientation
	Logger      *zap.Logger
	// SyncCheck makes the board wait until the pieces match the position
	// before it detects the next move.
	SyncCheck bool
}

// Status is a copy of the board state for diagnostics.
type Status struct {
	GameID        string         `json:"game_id"`
	FEN           string         `json:"fen"`
	Moves         []string       `json:"moves"`
	MoveRequested bool           `json:"move_requested"`
	AwaitingSync  bool           `json:"awaiting_sync"`
	Mismatches    []string       `json:"mismatches,omitempty"`
	Detector      string         `json:"detector"`
	Snapshot      board.Snapshot `json:"-"`
	ScannedAt     time.Time      `json:"scanned_at"`
}

// Board is the physical chessboard behind the protocol engine. It owns the
// game position, runs the move detector while a move is requested and
// drives the display.
type Board struct {
	scanner   Scanner
	det       *detector.Detector
	disp      display.Driver
	orient    board.Orientation
	log       *zap.Logger
	syncCheck bool
	out       Announcer

	gameID    string
	startFEN  string
	moves     []string
	game      *nchess.Game
	unapplied string

	requested  bool
	ownLast    bool
	awaitSync  bool
	mismatches []board.Square
	last       board.Snapshot
	scannedAt  time.Time

	mu     sync.RWMutex
	status Status
}

func New(opts Options) (*Board, error) {
	if opts.Scanner == nil {
		return nil, fmt.Errorf("scanner required")
	}
	if opts.Orientation.ToSquare == nil {
		opts.Orientation = board.PlugTop
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Detector == nil {
		opts.Detector = detector.New(opts.Orientation, detector.DefaultInterval, opts.Logger)
	}
	if opts.Display == nil {
		opts.Display = display.NewLogDriver(opts.Logger)
	}
	b := &Board{
		scanner:   opts.Scanner,
		det:       opts.Detector,
		disp:      opts.Display,
		orient:    opts.Orientation,
		log:       opts.Logger,
		syncCheck: opts.SyncCheck,
	}
	if err := b.reset(StartFEN); err != nil {
		return nil, err
	}
	b.publish()
	return b, nil
}

// Attach sets the protocol side. It must be called before the first Step.
func (b *Board) Attach(out Announcer) { b.out = out }

func (b *Board) OnNewGame(fen string) {
	fen = strings.TrimSpace(fen)
	if err := b.reset(fen); err != nil {
		b.log.Warn("setboard_invalid", zap.String("fen", fen), zap.Error(err))
		b.tell("invalid position")
		return
	}
	b.log.Info("game_started", zap.String("game_id", b.gameID), zap.String("fen", fen))
	b.publish()
}

// OnReset returns to the standard initial position.
func (b *Board) OnReset() {
	b.OnNewGame(StartFEN)
}

func (b *Board) OnMove(mv string) {
	m, err := board.ParseMove(mv)
	if err != nil {
		b.log.Warn("peer_move_invalid", zap.String("move", mv), zap.Error(err))
		return
	}
	tok := m.String()
	if err := b.push(tok); err != nil {
		b.log.Warn("peer_move_not_applied", zap.String("game_id", b.gameID), zap.String("move", tok), zap.Error(err))
		b.tell("board cannot apply " + tok)
	}
	b.ownLast = false
	b.disp.ShowMove(m)
	b.startSync()
	b.log.Info("peer_move", zap.String("game_id", b.gameID), zap.String("move", tok))
	b.publish()
}

// OnDeviceMovePromoted replaces the board's last move with its promotion resolution.
func (b *Board) OnDeviceMovePromoted(mv string) {
	m, err := board.ParseMove(mv)
	if err != nil {
		b.log.Warn("promotion_invalid", zap.String("move", mv), zap.Error(err))
		return
	}
	tok := m.String()
	base := tok[:4]
	switch {
	case b.unapplied != "" && b.unapplied[:4] == base:
		b.unapplied = ""
	case b.ownLast && len(b.moves) > 0 && b.moves[len(b.moves)-1][:4] == base:
		b.moves = b.moves[:len(b.moves)-1]
		b.rebuild()
	}
	if err := b.push(tok); err != nil {
		b.log.Warn("promotion_not_applied", zap.String("move", tok), zap.Error(err))
		b.unapplied = tok
	}
	b.ownLast = true
	b.startSync()
	b.log.Info("device_move_promoted", zap.String("game_id", b.gameID), zap.String("move", tok))
	b.publish()
}

// OnDeviceMoveRejected takes back the board's last move.
func (b *Board) OnDeviceMoveRejected(mv string) {
	tok := strings.ToLower(strings.TrimSpace(mv))
	switch {
	case b.unapplied != "" && (tok == "" || b.unapplied == tok):
		b.unapplied = ""
	case b.ownLast && len(b.moves) > 0 && (tok == "" || b.moves[len(b.moves)-1] == tok):
		b.moves = b.moves[:len(b.moves)-1]
		b.rebuild()
	default:
		b.log.Warn("rejected_move_unknown", zap.String("move", mv))
	}
	b.ownLast = false
	b.startSync()
	b.log.Info("device_move_taken_back", zap.String("game_id", b.gameID), zap.String("move", tok))
	b.publish()
}

func (b *Board) AskDeviceMakeMove() {
	b.requested = true
	b.det.Reset()
	b.log.Debug("device_move_requested", zap.String("game_id", b.gameID))
	b.publish()
}

func (b *Board) AskDeviceStopMove() {
	b.requested = false
	b.det.Reset()
	b.disp.Clear()
	b.log.Debug("device_move_stopped", zap.String("game_id", b.gameID))
	b.publish()
}

// Step scans the board once and advances sync waiting or move detection.
func (b *Board) Step(now time.Time) error {
	snap, err := b.scanner.Scan()
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	b.last = snap
	b.scannedAt = now
	defer b.publish()

	if b.awaitSync {
		b.checkSync(snap)
		return nil
	}
	if !b.requested || b.ownLast {
		return nil
	}

	ev, ok := b.det.Step(snap, now)
	if !ok {
		return nil
	}
	switch ev.Kind {
	case detector.EventLift:
		b.disp.ShowLift(ev.Square)
	case detector.EventCancelled:
		b.disp.Clear()
	case detector.EventPlaced:
		b.placed(ev.Move)
	}
	return nil
}

func (b *Board) placed(m board.Move) {
	tok := m.String()
	b.disp.ShowMove(m)
	if err := b.push(tok); err != nil {
		// The peer is the rules authority; it answers with Illegal move.
		b.log.Info("device_move_unverified", zap.String("move", tok), zap.Error(err))
		b.unapplied = tok
	}
	b.ownLast = true
	b.requested = false
	b.startSync()
	b.log.Info("device_move", zap.String("game_id", b.gameID), zap.String("move", tok))
	if b.out != nil {
		b.out.OnDeviceMove(tok)
	}
}

func (b *Board) checkSync(snap board.Snapshot) {
	pos := b.game.Position().Board()
	mm := board.Mismatches(snap, pos, b.orient)
	if !b.syncCheck || len(mm) == 0 {
		b.awaitSync = false
		b.mismatches = nil
		b.disp.Clear()
		b.det.Rebaseline(snap)
		b.log.Debug("board_in_sync", zap.String("game_id", b.gameID))
		return
	}
	if !sameSquares(mm, b.mismatches) {
		b.mismatches = mm
		b.disp.ShowSquares(mm)
	}
}

func (b *Board) startSync() {
	b.awaitSync = true
	b.mismatches = nil
	b.det.Reset()
}

func (b *Board) reset(fen string) error {
	if fen == "" {
		fen = StartFEN
	}
	g, err := newGame(fen, nil)
	if err != nil {
		return err
	}
	b.game = g
	b.startFEN = fen
	b.moves = nil
	b.unapplied = ""
	b.ownLast = false
	b.gameID = uuid.NewString()
	b.startSync()
	return nil
}

func (b *Board) push(tok string) error {
	if err := b.game.PushNotationMove(tok, nchess.UCINotation{}, nil); err != nil {
		return err
	}
	b.moves = append(b.moves, tok)
	return nil
}

func (b *Board) rebuild() {
	g, err := newGame(b.startFEN, b.moves)
	if err != nil {
		b.log.Error("position_rebuild_failed", zap.String("game_id", b.gameID), zap.Error(err))
		return
	}
	b.game = g
}

func (b *Board) tell(text string) {
	if b.out != nil {
		b.out.TellUser(text)
	}
}

func (b *Board) publish() {
	st := Status{
		GameID:        b.gameID,
		FEN:           b.game.FEN(),
		Moves:         append([]string(nil), b.moves...),
		MoveRequested: b.requested,
		AwaitingSync:  b.awaitSync,
		Detector:      b.det.State().String(),
		Snapshot:      b.last,
		ScannedAt:     b.scannedAt,
	}
	for _, sq := range b.mismatches {
		st.Mismatches = append(st.Mismatches, sq.String())
	}
	b.mu.Lock()
	b.status = st
	b.mu.Unlock()
}

// Status is safe to call from other goroutines.
func (b *Board) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// newGame rebuilds a position from a FEN and the UCI moves played since.
func newGame(fen string, moves []string) (*nchess.Game, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	g := nchess.NewGame(opt)
	for _, mv := range moves {
		if err := g.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay %s: %w", mv, err)
		}
	}
	return g, nil
}

func sameSquares(a, b []board.Square) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
