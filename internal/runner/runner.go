package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TimoKropp/openchessboard/internal/cecp"
	"github.com/TimoKropp/openchessboard/internal/transport"
)

// DefaultPollInterval is the pause between two scan cycles.
const DefaultPollInterval = 20 * time.Millisecond

// maxLinesPerTick bounds how many inbound lines one tick handles before scanning again.
const maxLinesPerTick = 16

// ErrPeerGone is returned by Run when the transport closes its inbound side.
var ErrPeerGone = errors.New("peer disconnected")

// Device is the part of the board the loop drives directly.
type Device interface {
	Step(now time.Time) error
}

type Options struct {
	Transport    transport.Transport
	Engine       *cecp.Engine
	Device       Device
	PollInterval time.Duration
	Logger       *zap.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

// Runner interleaves protocol input with board scans on a single goroutine.
// Engine and Device are only touched from Run.
type Runner struct {
	opts Options
	log  *zap.Logger

	mu      sync.RWMutex
	session cecp.Session
	ticks   uint64
}

func New(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts, log: opts.Logger}
}

// Session returns the protocol session as of the last tick. Safe for any goroutine.
func (r *Runner) Session() cecp.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// Ticks reports how many loop iterations have completed.
func (r *Runner) Ticks() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ticks
}

// Run loops until ctx is cancelled, the peer sends quit, or the peer goes away.
// A quit or cancellation returns nil.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	r.log.Info("runner_started", zap.Duration("poll_interval", r.opts.PollInterval))
	for {
		open := r.Tick()
		if r.opts.Engine.Quit() {
			r.log.Info("runner_quit")
			return nil
		}
		if !open {
			r.log.Warn("runner_peer_gone")
			return ErrPeerGone
		}

		select {
		case <-ctx.Done():
			r.log.Info("runner_stopped", zap.Error(ctx.Err()))
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one cycle: pending protocol lines, then one board step.
// It reports false once the transport has no more input to give.
func (r *Runner) Tick() bool {
	lines, open := transport.Poll(r.opts.Transport, maxLinesPerTick)
	for _, line := range lines {
		r.opts.Engine.HandleLine(line)
		if r.opts.Engine.Quit() {
			break
		}
	}
	if !r.opts.Engine.Quit() {
		if err := r.opts.Device.Step(r.opts.Now()); err != nil {
			r.log.Warn("device_step_failed", zap.Error(err))
		}
	}

	r.mu.Lock()
	r.session = r.opts.Engine.Session()
	r.ticks++
	r.mu.Unlock()
	return open
}
