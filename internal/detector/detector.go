package detector

import (
	"time"

	"go.uber.org/zap"

	"github.com/TimoKropp/openchessboard/internal/board"
)

// DefaultInterval is the minimum spacing of the two stable reads that confirm a placement.
const DefaultInterval = 100 * time.Millisecond

type State int

const (
	Idle State = iota
	Lifted
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Lifted:
		return "lifted"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventLift EventKind = iota + 1
	EventPlaced
	EventCancelled
)

// Event is emitted by Step. Square is set for lift and cancel, Move for placed.
type Event struct {
	Kind   EventKind
	Square board.Square
	Move   board.Move
}

// reading is how long one cell has held the same changed value since the lift.
type reading struct {
	occupied bool
	since    time.Time
}

// Detector turns a stream of snapshots into piece lift and placement events.
// It never sleeps; the caller feeds it snapshots at its own pace.
type Detector struct {
	orient   board.Orientation
	interval time.Duration
	log      *zap.Logger

	state       State
	hasBaseline bool
	baseline    board.Snapshot
	afterLift   board.Snapshot
	origin      board.Square
	pending     map[board.Cell]reading
}

func New(o board.Orientation, interval time.Duration, logger *zap.Logger) *Detector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{orient: o, interval: interval, log: logger}
}

func (d *Detector) State() State { return d.state }

// Reset drops any partial move. The next snapshot becomes the baseline.
func (d *Detector) Reset() {
	d.state = Idle
	d.hasBaseline = false
	d.pending = nil
}

// Rebaseline resets to Idle with snap as the reference position.
func (d *Detector) Rebaseline(snap board.Snapshot) {
	d.Reset()
	d.baseline = snap
	d.hasBaseline = true
}

// Step advances the state machine with one snapshot taken at now.
func (d *Detector) Step(snap board.Snapshot, now time.Time) (Event, bool) {
	if !d.hasBaseline {
		d.Rebaseline(snap)
		return Event{}, false
	}
	switch d.state {
	case Idle:
		return d.stepIdle(snap)
	case Lifted:
		return d.stepLifted(snap, now)
	default:
		d.Reset()
		return Event{}, false
	}
}

func (d *Detector) stepIdle(snap board.Snapshot) (Event, bool) {
	diff := d.baseline.Diff(snap)
	if len(diff) == 0 {
		return Event{}, false
	}
	cell := diff[0]
	for _, c := range diff {
		if d.baseline.Occupied(c) && !snap.Occupied(c) {
			cell = c
			break
		}
	}
	d.state = Lifted
	d.afterLift = snap
	d.origin = d.orient.ToSquare(cell)
	d.pending = map[board.Cell]reading{}
	d.log.Debug("piece_lifted", zap.String("square", d.origin.String()), zap.Int("changed", len(diff)))
	return Event{Kind: EventLift, Square: d.origin}, true
}

func (d *Detector) stepLifted(snap board.Snapshot, now time.Time) (Event, bool) {
	diff := d.afterLift.Diff(snap)
	changed := make(map[board.Cell]reading, len(diff))
	var stable []board.Cell
	for _, c := range diff {
		r := reading{occupied: snap.Occupied(c), since: now}
		if prev, ok := d.pending[c]; ok && prev.occupied == r.occupied {
			r.since = prev.since
		}
		changed[c] = r
		if r.since.Before(now) && now.Sub(r.since) >= d.interval {
			stable = append(stable, c)
		}
	}
	d.pending = changed
	if len(stable) == 0 {
		return Event{}, false
	}

	cell := stable[0]
	for _, c := range stable {
		if !d.afterLift.Occupied(c) && snap.Occupied(c) {
			cell = c
			break
		}
	}
	dest := d.orient.ToSquare(cell)
	origin := d.origin

	// Cells still in transit keep their post-lift value in the new baseline.
	settled := d.afterLift
	for _, c := range stable {
		settled = settled.With(c, snap.Occupied(c))
	}
	d.state = Done
	d.Rebaseline(settled)

	if dest == origin {
		d.log.Debug("lift_cancelled", zap.String("square", origin.String()))
		return Event{Kind: EventCancelled, Square: origin}, true
	}
	mv := board.Move{From: origin, To: dest}
	d.log.Debug("piece_placed", zap.String("move", mv.String()), zap.Int("changed", len(diff)), zap.Int("stable", len(stable)))
	return Event{Kind: EventPlaced, Move: mv}, true
}
