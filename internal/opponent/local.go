package opponent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/TimoKropp/openchessboard/internal/board"
	"github.com/TimoKropp/openchessboard/internal/transport"
	"github.com/TimoKropp/openchessboard/internal/uci"
)

// Engine is the move source for the side the board does not play.
type Engine interface {
	NewGame(ctx context.Context) error
	BestMove(ctx context.Context, req uci.SearchRequest) (string, error)
	Close() error
}

type Options struct {
	Engine Engine
	// BoardWhite makes the physical board play white.
	BoardWhite bool
	// FEN is the starting position; empty is the standard setup.
	FEN    string
	Limits uci.Limits
	Logger *zap.Logger
}

// Local is an in-process xboard peer: it referees the board's moves with the
// chess rules and answers with moves from a UCI engine. It implements
// transport.Transport so the runner drives it like any remote GUI.
type Local struct {
	eng        Engine
	limits     uci.Limits
	boardColor nchess.Color
	log        *zap.Logger

	mu       sync.Mutex
	startFEN string
	game     *nchess.Game
	moves    []string

	lines  chan string
	reqs   chan uci.SearchRequest
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Start opens a game and queues the xboard handshake for the board.
func Start(ctx context.Context, opts Options) (*Local, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Limits == (uci.Limits{}) {
		opts.Limits = uci.Limits{MoveTimeMillis: 500}
	}
	game := nchess.NewGame()
	if opts.FEN != "" {
		opt, err := nchess.FEN(opts.FEN)
		if err != nil {
			return nil, fmt.Errorf("start position: %w", err)
		}
		game = nchess.NewGame(opt)
	}
	if err := opts.Engine.NewGame(ctx); err != nil {
		return nil, fmt.Errorf("engine new game: %w", err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &Local{
		eng:        opts.Engine,
		limits:     opts.Limits,
		boardColor: nchess.Black,
		log:        opts.Logger,
		startFEN:   opts.FEN,
		game:       game,
		lines:      make(chan string, 64),
		reqs:       make(chan uci.SearchRequest, 1),
		ctx:        lctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	if opts.BoardWhite {
		l.boardColor = nchess.White
	}

	l.wg.Add(1)
	go l.worker()

	l.emit("xboard")
	l.emit("protover 2")
	l.emit("new")
	if opts.FEN != "" {
		l.emit("setboard " + opts.FEN)
	}
	if game.Position().Turn() == l.boardColor {
		l.emit("go")
	} else {
		l.requestReply()
	}
	l.log.Info("opponent_started", zap.Bool("board_white", opts.BoardWhite), zap.String("fen", game.FEN()))
	return l, nil
}

func (l *Local) Lines() <-chan string { return l.lines }

// Send receives one line from the board.
func (l *Local) Send(line string) error {
	select {
	case <-l.done:
		return transport.ErrClosed
	default:
	}
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "move "):
		l.boardMove(strings.TrimSpace(strings.TrimPrefix(line, "move ")))
	case strings.HasPrefix(line, "telluser "):
		l.log.Info("board_message", zap.String("text", strings.TrimPrefix(line, "telluser ")))
	default:
		l.log.Debug("opponent_ignored", zap.String("line", line))
	}
	return nil
}

// Moves returns the game record in UCI notation.
func (l *Local) Moves() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.moves...)
}

func (l *Local) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		l.cancel()
		l.wg.Wait()
		err = l.eng.Close()
		close(l.lines)
	})
	return err
}

func (l *Local) boardMove(tok string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.game.Outcome() != nchess.NoOutcome {
		l.emit("Illegal move (game over): " + tok)
		return
	}
	if l.game.Position().Turn() != l.boardColor {
		l.emit("Illegal move (out of turn): " + tok)
		return
	}
	if !board.IsMoveToken(tok) {
		l.emit("Illegal move: " + tok)
		return
	}
	tok = strings.ToLower(tok)
	if err := l.game.PushNotationMove(tok, nchess.UCINotation{}, nil); err != nil {
		if len(tok) == 4 && l.legal(tok+"q") {
			// Promotion squares carry no piece identity; the board gets a queen.
			l.emit("Illegal move (without promotion): " + tok)
			tok += "q"
			if err := l.game.PushNotationMove(tok, nchess.UCINotation{}, nil); err != nil {
				l.log.Error("promotion_not_applied", zap.String("move", tok), zap.Error(err))
				return
			}
			l.emit(tok)
		} else {
			l.log.Info("board_move_illegal", zap.String("move", tok))
			l.emit("Illegal move: " + tok)
			return
		}
	}
	l.moves = append(l.moves, tok)
	l.log.Info("board_move", zap.String("move", tok), zap.Int("ply", len(l.moves)))
	if l.finished() {
		return
	}
	l.requestReply()
}

func (l *Local) legal(tok string) bool {
	opt, err := nchess.FEN(l.game.FEN())
	if err != nil {
		return false
	}
	return nchess.NewGame(opt).PushNotationMove(tok, nchess.UCINotation{}, nil) == nil
}

// finished emits the result line once the game has ended. Caller holds mu.
func (l *Local) finished() bool {
	outcome := l.game.Outcome()
	if outcome == nchess.NoOutcome {
		return false
	}
	l.log.Info("game_over", zap.String("outcome", string(outcome)), zap.Int("ply", len(l.moves)))
	l.emit(fmt.Sprintf("result %s {game over}", outcome))
	return true
}

func (l *Local) requestReply() {
	req := uci.SearchRequest{FEN: l.startFEN, Moves: append([]string(nil), l.moves...), Limits: l.limits}
	select {
	case l.reqs <- req:
	case <-l.done:
	}
}

func (l *Local) worker() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case req := <-l.reqs:
			mv, err := l.eng.BestMove(l.ctx, req)
			if err != nil {
				l.log.Error("opponent_search_failed", zap.Int("ply", len(req.Moves)), zap.Error(err))
				continue
			}
			l.engineMove(mv)
		}
	}
}

func (l *Local) engineMove(mv string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
		l.log.Error("engine_move_rejected", zap.String("move", mv), zap.Error(err))
		return
	}
	l.moves = append(l.moves, mv)
	l.log.Info("engine_move", zap.String("move", mv), zap.Int("ply", len(l.moves)))
	l.emit(mv)
	l.finished()
}

func (l *Local) emit(line string) {
	select {
	case l.lines <- line:
	case <-l.done:
	}
}
