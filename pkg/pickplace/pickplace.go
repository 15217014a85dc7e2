// Package pickplace sequences pick-and-place cycles over the tray grid. A
// session walks a linear index over the cells in serpentine order; every
// cycle picks an item at the pickup point, places it on the current cell and
// returns to the idle point above the pickup.
package pickplace

import (
	"context"
	"fmt"

	uuid "github.com/satori/go.uuid"

	"gantry-go/pkg/config"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/grid"
	"gantry-go/pkg/log"
	"gantry-go/pkg/motion"
	"gantry-go/pkg/tool"
)

// Point is an XY coordinate in machine units.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Direction is the last navigation step of a session.
type Direction int

const (
	DirNone Direction = iota
	DirForward
	DirBack
)

func (d Direction) String() string {
	switch d {
	case DirForward:
		return "forward"
	case DirBack:
		return "back"
	}
	return "none"
}

// Params are the operator settings a session runs with.
type Params struct {
	Grid       grid.Config
	Pickup     Point
	FirstPlace Point
	XY         motion.Profile
	Y          motion.Profile
	Z          motion.Profile
}

// Session is one open pick-and-place run.
type Session struct {
	ID       uuid.UUID
	Index    int
	Last     Direction
	Cycles   int
	Skipped  int
	params   Params
	complete bool
}

// Total returns the number of cells.
func (s *Session) Total() int { return s.params.Grid.Cells() }

// Complete reports whether every cell was visited.
func (s *Session) Complete() bool { return s.complete }

// StepResult describes the session after a navigation call.
type StepResult struct {
	Index    int   `json:"index"`
	Col      int   `json:"col"`
	Row      int   `json:"row"`
	Target   Point `json:"target"`
	Complete bool  `json:"complete"`
}

// Sequencer runs pick-and-place sessions.
type Sequencer struct {
	exec    *motion.Executor
	tool    *tool.PickTool
	cfg     config.PickPlaceConfig
	log     *log.Logger
	session *Session
}

// New creates a sequencer.
func New(exec *motion.Executor, t *tool.PickTool, cfg config.PickPlaceConfig) *Sequencer {
	return &Sequencer{exec: exec, tool: t, cfg: cfg, log: log.GetLogger("pickplace")}
}

// Session returns the open session, or nil.
func (s *Sequencer) Session() *Session { return s.session }

// Active reports whether a session is open.
func (s *Sequencer) Active() bool { return s.session != nil }

// IdlePoint returns the rest position above the pickup point.
func (s *Sequencer) IdlePoint(p Params) Point {
	return Point{X: p.Pickup.X, Y: p.Pickup.Y + s.cfg.IdleYOffset}
}

// Placement returns the placement coordinate of cell index.
func Placement(g grid.Config, first Point, index int) (col, row int, at Point) {
	col, row = g.Cell(index)
	dx, dy := g.Offset(col, row)
	return col, row, Point{X: first.X + dx, Y: first.Y + dy}
}

func (s *Sequencer) moveOpts(p Params) motion.Options {
	return motion.Options{XY: p.XY, Y: p.Y, Z: p.Z, ClampZ: true, Timeout: s.cfg.MoveTimeout, Point: "pnp"}
}

// travel raises Z to its home position, the top of its travel, and then
// moves XY to pt.
func (s *Sequencer) travel(ctx context.Context, p Params, pt Point) error {
	z := s.exec.Axes().Z
	t := motion.XY(pt.X, pt.Y)
	if z != nil && z.Available() {
		t.Z = motion.F(z.HomePosition())
	}
	return s.exec.MoveTo(ctx, t, s.moveOpts(p))
}

// Enter opens a session at index 0 and moves to the idle point. The session
// is discarded when that move fails.
func (s *Sequencer) Enter(ctx context.Context, p Params) (*Session, error) {
	if p.Grid.Cells() <= 0 {
		return nil, errors.InvalidParameter("grid", "no cells")
	}
	if s.tool == nil || !s.tool.Available() {
		return nil, errors.HardwareUnavailable("pick tool")
	}
	sess := &Session{ID: uuid.NewV4(), params: p}
	if err := s.travel(ctx, p, s.IdlePoint(p)); err != nil {
		return nil, err
	}
	s.session = sess
	s.log.WithField("session", sess.ID.String()).Infof("pick and place entered, %d cells", sess.Total())
	return sess, nil
}

// resultOf describes sess. It does not read s.session, which STOP may clear
// while a step is still unwinding.
func resultOf(sess *Session) StepResult {
	r := StepResult{Index: sess.Index, Complete: sess.complete}
	if !sess.complete {
		r.Col, r.Row, r.Target = Placement(sess.params.Grid, sess.params.FirstPlace, sess.Index)
	}
	return r
}

func (s *Sequencer) active(op string) (*Session, error) {
	if s.session == nil {
		return nil, errors.InvalidMode(op, "Idle")
	}
	return s.session, nil
}

func (s *Sequencer) advance(sess *Session) {
	sess.Index++
	sess.Last = DirForward
	if sess.Index >= sess.Total() {
		sess.Index = sess.Total()
		sess.complete = true
		s.log.WithField("session", sess.ID.String()).Infof("pick and place complete after %d cycles", sess.Cycles)
	}
}

// Next runs one full cycle on the current cell and advances. Any failure
// leaves the index unchanged.
func (s *Sequencer) Next(ctx context.Context) (StepResult, error) {
	sess, err := s.active("run a pick and place step")
	if err != nil {
		return StepResult{}, err
	}
	if sess.complete {
		return resultOf(sess), errors.InvalidMode("run a pick and place step", "PickPlaceComplete")
	}
	p := sess.params
	col, row, target := Placement(p.Grid, p.FirstPlace, sess.Index)
	entry := s.log.WithFields(log.Fields{"session": sess.ID.String(), "index": sess.Index})
	entry.Debugf("cycle cell %d,%d at %.3f,%.3f", col, row, target.X, target.Y)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"move to pickup", func() error { return s.travel(ctx, p, p.Pickup) }},
		{"pick", func() error { return s.tool.Pick(ctx) }},
		{"move to place", func() error { return s.travel(ctx, p, target) }},
		{"place", func() error { return s.tool.Place(ctx) }},
		{"return to idle", func() error { return s.travel(ctx, p, s.IdlePoint(p)) }},
	}
	for _, st := range steps {
		if err := st.fn(); err != nil {
			entry.WithError(err).Errorf("%s failed", st.name)
			return resultOf(sess), err
		}
	}
	sess.Cycles++
	s.advance(sess)
	return resultOf(sess), nil
}

// Skip advances past the current cell without motion.
func (s *Sequencer) Skip() (StepResult, error) {
	sess, err := s.active("skip a location")
	if err != nil {
		return StepResult{}, err
	}
	if sess.complete {
		return resultOf(sess), errors.InvalidMode("skip a location", "PickPlaceComplete")
	}
	sess.Skipped++
	s.advance(sess)
	return resultOf(sess), nil
}

// Back steps to the previous cell without motion, stopping at 0. Stepping
// back from a complete session reopens its last cell.
func (s *Sequencer) Back() (StepResult, error) {
	sess, err := s.active("go back a location")
	if err != nil {
		return StepResult{}, err
	}
	if sess.Index > 0 {
		sess.Index--
	}
	sess.complete = false
	sess.Last = DirBack
	return resultOf(sess), nil
}

// Exit closes the session.
func (s *Sequencer) Exit() {
	if s.session == nil {
		return
	}
	s.log.WithField("session", s.session.ID.String()).Infof("pick and place exited at %d/%d", s.session.Index, s.session.Total())
	s.session = nil
}

// Describe formats a result for status messages. Rows and columns count
// from 1.
func Describe(r StepResult) string {
	if r.Complete {
		return "PnP sequence complete."
	}
	return fmt.Sprintf("Ready for step %d,%d (%.2f, %.2f).", r.Row+1, r.Col+1, r.Target.X, r.Target.Y)
}
