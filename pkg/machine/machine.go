// Package machine is the top-level coordinator. Every intent passes one
// guard table, checked in the order busy, homed, mode, before it reaches
// the sequencers, and only this package changes the machine's mode and
// activity. Long operations run on the reactor goroutine and yield while
// they wait; STOP, which arrives through the reactor's async queue, cancels
// the running operation at its next yield.
package machine

import (
	"context"
	"fmt"
	"strings"

	"gantry-go/pkg/errors"
	"gantry-go/pkg/grid"
	"gantry-go/pkg/homing"
	"gantry-go/pkg/log"
	"gantry-go/pkg/metrics"
	"gantry-go/pkg/motion"
	"gantry-go/pkg/paint"
	"gantry-go/pkg/pickplace"
	"gantry-go/pkg/reactor"
	"gantry-go/pkg/safety"
	"gantry-go/pkg/settings"
	"gantry-go/pkg/tool"
)

// Deps are the components the machine coordinates. PickPlace, Paint,
// Pitch, Safety, Metrics and Button are optional; intents that need a
// missing component are rejected as unavailable.
type Deps struct {
	Reactor   *reactor.Reactor
	Exec      *motion.Executor
	Homing    *homing.Sequencer
	PickPlace *pickplace.Sequencer
	Paint     *paint.Runner
	Pitch     *tool.PitchServo
	Grid      *grid.Calculator
	Store     settings.KV
	Safety    *safety.Manager
	Metrics   *metrics.MachineMetrics
	Button    Button
}

// Machine owns Mode and Activity.
type Machine struct {
	d   Deps
	log *log.Logger

	mode     Mode
	activity Activity

	settings settings.Settings
	grid     grid.Config

	notifiers []Notifier

	cancel      context.CancelFunc
	opDepth     int
	generation  uint64
	pendingHome bool
	sideStart   float64
}

// New creates the machine and loads the stored settings. Unreadable
// settings fall back to the defaults.
func New(d Deps) (*Machine, error) {
	switch {
	case d.Reactor == nil:
		return nil, errors.RuntimeErrorInit("machine", "reactor is required")
	case d.Exec == nil:
		return nil, errors.RuntimeErrorInit("machine", "motion executor is required")
	case d.Homing == nil:
		return nil, errors.RuntimeErrorInit("machine", "homing sequencer is required")
	case d.Grid == nil:
		return nil, errors.RuntimeErrorInit("machine", "grid calculator is required")
	case d.Store == nil:
		return nil, errors.RuntimeErrorInit("machine", "settings store is required")
	}
	m := &Machine{d: d, log: log.GetLogger("machine")}

	s, err := settings.Load(d.Store)
	if err != nil {
		m.log.WithError(err).Warn("some stored settings unusable, defaults kept for them")
	}
	g, err := d.Grid.Recompute(s.GridCols, s.GridRows, s.TrayWidth, s.TrayHeight)
	if err != nil {
		return nil, err
	}
	if w := g.Warning(); w != nil {
		m.log.Warn("%s", errors.Reason(w))
	}
	s.GapX, s.GapY = g.GapX, g.GapY
	m.settings, m.grid = s, g

	if d.Metrics != nil {
		d.Exec.OnMoveStarted(func(motion.Target) { d.Metrics.RecordMove() })
	}
	if d.Paint != nil {
		d.Paint.OnSideDone(m.sideDone)
	}
	if d.Safety != nil {
		d.Safety.OnShutdown(func(reason safety.ShutdownReason, msg string) {
			if err := d.Reactor.RegisterAsyncCallback(func(float64) { m.abort(reason, msg) }); err != nil {
				m.log.WithError(err).Error("cannot post shutdown to reactor")
			}
		})
	}
	d.Reactor.RegisterHook("machine", m.loop)
	return m, nil
}

// AddNotifier registers n for status events.
func (m *Machine) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// State returns the current state.
func (m *Machine) State() State {
	return State{Mode: m.mode, Activity: m.activity, Homed: m.d.Homing.AllHomed()}
}

// Settings returns a copy of the current settings.
func (m *Machine) Settings() settings.Settings { return m.settings.Clone() }

// Grid returns the current grid.
func (m *Machine) Grid() grid.Config { return m.grid }

// PendingHome reports whether a deferred homing pass is queued.
func (m *Machine) PendingHome() bool { return m.pendingHome }

// RequestTransition validates in against the guard table and runs it. A nil
// result means the intent was accepted and completed; otherwise the error
// carries the rejection or failure reason and an Error status was emitted.
// It must be called on the reactor goroutine.
func (m *Machine) RequestTransition(in Intent) (err error) {
	g, ok := guards[in.Kind]
	if !ok {
		return errors.InvalidParameter("intent", fmt.Sprintf("unknown kind %d", in.Kind))
	}
	if m.d.Metrics != nil {
		defer func() { m.d.Metrics.RecordIntent(g.name, err) }()
	}
	if in.Kind == KindStop {
		m.stop()
		return nil
	}
	if err := m.check(in, g); err != nil {
		m.log.WithField("intent", g.name).Infof("rejected: %s", errors.Reason(err))
		m.fail(err)
		return err
	}
	return m.run(in, g)
}

// check applies the guard row g.
func (m *Machine) check(in Intent, g guard) error {
	if m.d.Safety != nil && in.Kind != KindGetStatus && in.Kind != KindReset {
		if err := m.d.Safety.CheckOperational(); err != nil {
			return err
		}
	}
	if g.busy && (m.activity != ActivityIdle || m.opDepth > 0) {
		return errors.Busy(m.activity.String())
	}
	if g.homed && !m.d.Homing.AllHomed() {
		return errors.NotHomed(g.op)
	}
	if g.modes != nil {
		allowed := false
		for _, mode := range g.modes {
			if mode == m.mode {
				allowed = true
				break
			}
		}
		if !allowed {
			return errors.InvalidMode(g.op, m.mode.String())
		}
	}
	if in.Kind == KindPnPNext || in.Kind == KindPnPSkip {
		if sess := m.session(); sess != nil && sess.Complete() {
			return errors.InvalidMode(g.op, string(StatusPickPlaceComplete))
		}
	}
	return nil
}

// run executes an accepted intent. Intents with an activity hold it, and a
// cancellable context, until they return.
func (m *Machine) run(in Intent, g guard) error {
	ctx := context.Background()
	gen := m.generation
	if g.activity != ActivityIdle {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		m.cancel = cancel
		m.opDepth++
		m.setActivity(g.activity)
		status := StatusMoving
		if g.activity == ActivityHoming {
			status = StatusHoming
		}
		m.emit(m.event(status, startMessage(in)))
	}

	ev, err := m.apply(ctx, in)

	if g.activity != ActivityIdle {
		m.opDepth--
		if m.generation != gen {
			// STOP or a shutdown already reset the state and reported it.
			if err == nil {
				err = errors.Stopped(g.op)
			}
			return err
		}
		m.cancel = nil
		m.setActivity(ActivityIdle)
	}
	if m.d.Metrics != nil {
		p := m.d.Exec.Position()
		m.d.Metrics.SetPosition(p.X, p.Y, p.Z, p.Rot)
	}
	if err != nil {
		m.log.WithField("intent", g.name).WithError(err).Warn("failed")
		m.fail(err)
		return err
	}
	m.emit(ev)
	return nil
}

func startMessage(in Intent) string {
	switch in.Kind {
	case KindHome:
		return "Homing all axes simultaneously..."
	case KindEnterPickPlace:
		return "Entering Pick/Place mode..."
	case KindPnPNext:
		return "Running pick and place step..."
	case KindMove, KindMoveXY:
		return "Moving to position..."
	case KindJog:
		return "Jogging..."
	case KindRotate:
		return fmt.Sprintf("Rotating tray by %.0f degrees...", in.Value)
	case KindPaintSide:
		return fmt.Sprintf("Starting Paint Sequence for Side %d...", in.Side)
	case KindPaintAll:
		return "Starting Paint All sequence..."
	case KindCleanGun:
		return "Cleaning paint gun..."
	}
	return "Working..."
}

// stop cancels the running operation, halts every motor and output, closes
// any session and returns to Idle/Idle. A homing pass is queued only when a
// move was cut short; a pending one is dropped otherwise. Stopping a homing
// pass leaves the machine unhomed and says so.
func (m *Machine) stop() {
	interrupted := m.activity == ActivityMoving || (m.activity == ActivityIdle && m.d.Exec.Busy())
	homingCut := m.activity == ActivityHoming
	m.generation++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if err := m.d.Exec.HaltAll(); err != nil {
		m.log.WithError(err).Error("halt failed")
	}
	if m.d.Safety != nil {
		if err := m.d.Safety.Stop(); err != nil {
			m.log.WithError(err).Error("safety stop incomplete")
		}
	}
	if m.d.PickPlace != nil {
		m.d.PickPlace.Exit()
	}
	m.mode = ModeIdle
	m.setActivity(ActivityIdle)
	m.pendingHome = false
	if m.d.Metrics != nil {
		m.d.Metrics.RecordStop()
	}

	if interrupted {
		for _, a := range m.d.Exec.Axes().All() {
			a.ClearHomed()
		}
		m.pendingHome = true
		m.log.Warn("stop interrupted motion, re-homing")
		m.emit(m.event(StatusBusy, "STOP initiated. Homing axes..."))
		return
	}
	if homingCut {
		for _, a := range m.d.Exec.Axes().All() {
			a.ClearHomed()
		}
		m.log.Warn("stop interrupted homing")
		m.emit(m.event(StatusReady, "Stopped. Homing required."))
		return
	}
	m.log.Info("stopped")
	m.emit(m.event(StatusReady, "Stopped."))
}

// abort handles a safety shutdown on the reactor goroutine.
func (m *Machine) abort(reason safety.ShutdownReason, msg string) {
	m.generation++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.d.PickPlace != nil {
		m.d.PickPlace.Exit()
	}
	m.mode = ModeIdle
	m.setActivity(ActivityIdle)
	m.pendingHome = false
	for _, a := range m.d.Exec.Axes().All() {
		a.ClearHomed()
	}
	if m.d.Metrics != nil {
		m.d.Metrics.RecordShutdown(string(reason))
	}
	ev := m.event(StatusError, fmt.Sprintf("Shutdown (%s): %s", reason, msg))
	ev.Code = string(errors.ErrHardwareUnavailable)
	m.emit(ev)
}

// loop runs on every idle scheduler pass. It advances pick and place on a
// button press and starts a queued homing pass once nothing is running.
func (m *Machine) loop(eventtime float64) {
	pressed := m.d.Button != nil && m.d.Button.TakeEdge()
	if m.opDepth > 0 || m.activity != ActivityIdle {
		if pressed {
			m.log.Debug("advance button ignored while busy")
		}
		return
	}
	if pressed && m.mode == ModePickPlace {
		m.log.Info("advance button pressed")
		_ = m.RequestTransition(PnPNext())
		return
	}
	if m.pendingHome {
		if m.d.Safety != nil && !m.d.Safety.IsOperational() {
			return
		}
		m.pendingHome = false
		_ = m.RequestTransition(Home())
	}
}

func (m *Machine) setActivity(a Activity) {
	m.activity = a
	if m.d.Metrics != nil {
		m.d.Metrics.SetState(int(m.mode), int(a))
	}
}

func (m *Machine) setMode(mode Mode) {
	m.mode = mode
	if m.d.Metrics != nil {
		m.d.Metrics.SetState(int(mode), int(m.activity))
	}
}

func (m *Machine) event(status Status, msg string) Event {
	return Event{
		Status:   status,
		Message:  msg,
		Homed:    m.d.Homing.AllHomed(),
		Mode:     m.mode.String(),
		Activity: m.activity.String(),
	}
}

func (m *Machine) snapshot() *Snapshot {
	return &Snapshot{Settings: m.settings.Clone(), Grid: m.grid}
}

func (m *Machine) position() *motion.Position {
	p := m.d.Exec.Position()
	return &p
}

// fail reports err as a Busy or Error status.
func (m *Machine) fail(err error) {
	status := StatusError
	if errors.Is(err, errors.ErrBusy) {
		status = StatusBusy
	}
	msg := errors.Reason(err)
	if axes := errors.TimedOutAxes(err); len(axes) > 0 {
		msg = "Homing Failed for: " + strings.Join(axes, ", ")
	}
	ev := m.event(status, msg)
	ev.Code = string(errors.CodeOf(err))
	m.emit(ev)
}

func (m *Machine) emit(ev Event) {
	entry := m.log.WithFields(log.Fields{"status": string(ev.Status), "mode": ev.Mode, "activity": ev.Activity})
	if ev.Status == StatusError {
		entry.Warnf("%s", ev.Message)
	} else {
		entry.Debugf("%s", ev.Message)
	}
	for _, n := range m.notifiers {
		n.Notify(ev)
	}
}

// currentStatus derives the steady status from the state.
func (m *Machine) currentStatus() Status {
	switch m.activity {
	case ActivityHoming:
		return StatusHoming
	case ActivityMoving:
		return StatusMoving
	}
	switch m.mode {
	case ModePickPlace:
		if sess := m.session(); sess != nil && sess.Complete() {
			return StatusPickPlaceComplete
		}
		return StatusPickPlaceReady
	case ModeCalibration:
		return StatusCalibrationActive
	}
	return StatusReady
}

func (m *Machine) session() *pickplace.Session {
	if m.d.PickPlace == nil {
		return nil
	}
	return m.d.PickPlace.Session()
}

func (m *Machine) sideDone(side int, p paint.Path) {
	now := m.d.Reactor.Monotonic()
	if m.d.Metrics != nil {
		m.d.Metrics.RecordPaintSide(p.Name, now-m.sideStart)
	}
	m.sideStart = now
	m.emit(m.event(StatusBusy, fmt.Sprintf("Painting Side %d complete.", side)))
}
