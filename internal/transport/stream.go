package transport

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Stream is a Transport over a byte stream such as stdio or a serial port.
type Stream struct {
	name   string
	w      io.Writer
	closer io.Closer
	log    *zap.Logger

	lines chan string
	mu    sync.Mutex
	done  chan struct{}
	once  sync.Once
}

func NewStream(name string, r io.Reader, w io.Writer, closer io.Closer, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stream{
		name:   name,
		w:      w,
		closer: closer,
		log:    logger,
		lines:  make(chan string, lineBuffer),
		done:   make(chan struct{}),
	}
	go s.readLoop(r)
	return s
}

// Stdio runs the protocol over the process's stdin and stdout, the way an
// xboard-compatible GUI launches an engine.
func Stdio(logger *zap.Logger) *Stream {
	return NewStream("stdio", os.Stdin, os.Stdout, nil, logger)
}

func (s *Stream) readLoop(r io.Reader) {
	defer close(s.lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := cleanLine(sc.Text())
		select {
		case s.lines <- line:
		case <-s.done:
			return
		}
	}
	if err := sc.Err(); err != nil {
		s.log.Warn("transport_read_failed", zap.String("transport", s.name), zap.Error(err))
		return
	}
	s.log.Info("transport_eof", zap.String("transport", s.name))
}

func (s *Stream) Lines() <-chan string { return s.lines }

func (s *Stream) Send(line string) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, line+"\n"); err != nil {
		return fmt.Errorf("%s write: %w", s.name, err)
	}
	return nil
}

func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}
