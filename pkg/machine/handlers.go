package machine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang/geo/r2"

	"gantry-go/pkg/axis"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/grid"
	"gantry-go/pkg/log"
	"gantry-go/pkg/motion"
	"gantry-go/pkg/paint"
	"gantry-go/pkg/pickplace"
	"gantry-go/pkg/settings"
)

// apply dispatches an accepted intent and returns the event to emit on
// success.
func (m *Machine) apply(ctx context.Context, in Intent) (Event, error) {
	switch in.Kind {
	case KindHome:
		return m.home(ctx)
	case KindReset:
		return m.reset()
	case KindGetStatus:
		return m.status(), nil

	case KindEnterPickPlace:
		return m.enterPickPlace(ctx)
	case KindExitPickPlace:
		m.d.PickPlace.Exit()
		m.setMode(ModeIdle)
		m.pendingHome = in.RequestHome
		msg := "Exited Pick/Place mode."
		if in.RequestHome {
			msg = "Exited Pick/Place mode. Homing queued."
		}
		return m.event(StatusReady, msg), nil
	case KindPnPNext:
		res, err := m.d.PickPlace.Next(ctx)
		if err == nil && m.d.Metrics != nil {
			m.d.Metrics.RecordPnPCycle(res.Index)
		}
		return m.pnpStep(res, err)
	case KindPnPSkip:
		res, err := m.d.PickPlace.Skip()
		if err == nil && m.d.Metrics != nil {
			m.d.Metrics.RecordPnPSkip(res.Index)
		}
		return m.pnpStep(res, err)
	case KindPnPBack:
		return m.pnpStep(m.d.PickPlace.Back())

	case KindEnterCalibration:
		m.setMode(ModeCalibration)
		ev := m.event(StatusCalibrationActive, "Calibration mode active.")
		ev.Position = m.position()
		return ev, nil
	case KindExitCalibration:
		m.setMode(ModeIdle)
		return m.event(StatusReady, "Exited calibration mode."), nil

	case KindMove:
		return m.move(ctx, in.Target)
	case KindMoveXY:
		if in.X < 0 || in.Y < 0 {
			return Event{}, errors.InvalidParameter("position", fmt.Sprintf("%.3f,%.3f must not be negative", in.X, in.Y))
		}
		return m.move(ctx, motion.XY(in.X, in.Y))
	case KindJog:
		return m.jog(ctx, in.Axis, in.Value)
	case KindRotate:
		return m.rotate(ctx, in.Value)
	case KindSetRotZero:
		rot := m.d.Exec.Axes().Rot
		if rot == nil || !rot.Available() {
			return Event{}, errors.HardwareUnavailable("rotation axis")
		}
		if err := rot.SetPosition(0); err != nil {
			return Event{}, err
		}
		ev := m.event(StatusReady, "Rotation zero set.")
		ev.Position = m.position()
		return ev, nil

	case KindPaintSide:
		return m.paintSide(ctx, in.Side)
	case KindPaintAll:
		return m.paintAll(ctx)
	case KindCleanGun:
		if m.d.Paint == nil {
			return Event{}, errors.HardwareUnavailable("paint gun")
		}
		if err := m.d.Paint.CleanGun(ctx, m.paintJob()); err != nil {
			return Event{}, err
		}
		return m.event(StatusReady, "Gun cleaning complete."), nil
	case KindSetServoPitch:
		return m.setPitch(in.Pitch)

	case KindSetPnPOffset:
		return m.saveXY("PnP offset", "pnp_offset_x", "pnp_offset_y", in.X, in.Y, func(s *settings.Settings) {
			s.PnPOffsetX, s.PnPOffsetY = in.X, in.Y
		})
	case KindSetPnPOffsetFromCurrent:
		p := m.d.Exec.Position()
		return m.saveXY("PnP offset", "pnp_offset_x", "pnp_offset_y", p.X, p.Y, func(s *settings.Settings) {
			s.PnPOffsetX, s.PnPOffsetY = p.X, p.Y
		})
	case KindSetFirstPlace:
		return m.saveXY("First place", "first_place_x", "first_place_y", in.X, in.Y, func(s *settings.Settings) {
			s.FirstPlaceX, s.FirstPlaceY = in.X, in.Y
		})
	case KindSetFirstPlaceFromCurrent:
		p := m.d.Exec.Position()
		return m.saveXY("First place", "first_place_x", "first_place_y", p.X, p.Y, func(s *settings.Settings) {
			s.FirstPlaceX, s.FirstPlaceY = p.X, p.Y
		})
	case KindSetGunOffset:
		return m.saveXY("Gun offset", "gun_offset_x", "gun_offset_y", in.X, in.Y, func(s *settings.Settings) {
			s.GunOffsetX, s.GunOffsetY = in.X, in.Y
		})
	case KindSetPnPSpeeds:
		if !(in.X > 0) || !(in.Y > 0) {
			return Event{}, errors.InvalidParameter("speed", "must be > 0")
		}
		return m.saveXY("Speeds", "x_speed", "y_speed", in.X, in.Y, func(s *settings.Settings) {
			s.XSpeed, s.YSpeed = in.X, in.Y
		})
	case KindSetGrid:
		return m.setGrid(in.Cols, in.Rows, m.settings.TrayWidth, m.settings.TrayHeight)
	case KindSetTraySize:
		return m.setGrid(m.settings.GridCols, m.settings.GridRows, in.X, in.Y)
	case KindSetSideSettings:
		return m.setSide(in)
	}
	return Event{}, errors.InvalidParameter("intent", fmt.Sprintf("unhandled kind %d", in.Kind))
}

func (m *Machine) home(ctx context.Context) (Event, error) {
	if m.d.PickPlace != nil {
		m.d.PickPlace.Exit()
	}
	m.setMode(ModeIdle)
	m.pendingHome = false
	res, err := m.d.Homing.HomeAll(ctx)
	if m.d.Metrics != nil {
		m.d.Metrics.RecordHoming(res.Duration, err)
	}
	if err != nil {
		return Event{}, err
	}
	msg := "All axes homed successfully."
	if len(res.Skipped) > 0 {
		msg = fmt.Sprintf("Homed %s; skipped %s.", strings.Join(res.Homed, ","), strings.Join(res.Skipped, ","))
	}
	ev := m.event(StatusReady, msg)
	ev.Position = m.position()
	return ev, nil
}

func (m *Machine) reset() (Event, error) {
	if m.d.Safety != nil && !m.d.Safety.IsOperational() {
		reason, msg, at := m.d.Safety.GetShutdownInfo()
		if err := m.d.Safety.Reset(); err != nil {
			return Event{}, err
		}
		m.log.WithFields(log.Fields{"reason": string(reason), "since": at.Format(time.RFC3339)}).
			Infof("cleared shutdown: %s", msg)
	}
	for _, a := range m.d.Exec.Axes().All() {
		a.ClearHomed()
	}
	return m.event(StatusReady, "Reset. Home the machine before moving."), nil
}

func (m *Machine) status() Event {
	ev := m.event(m.currentStatus(), "Status.")
	ev.Settings = m.snapshot()
	if m.d.Safety != nil {
		st := m.d.Safety.GetStatus()
		ev.Safety = &st
	}
	if ev.Homed {
		ev.Position = m.position()
	}
	if sess := m.session(); sess != nil {
		res := pickplace.StepResult{Index: sess.Index, Complete: sess.Complete()}
		if !res.Complete {
			res.Col, res.Row, res.Target = pickplace.Placement(m.grid, m.firstPlace(), sess.Index)
		}
		ev.PnP = &res
	}
	return ev
}

func (m *Machine) firstPlace() pickplace.Point {
	return pickplace.Point{X: m.settings.FirstPlaceX, Y: m.settings.FirstPlaceY}
}

func (m *Machine) pnpParams() pickplace.Params {
	s := m.settings
	return pickplace.Params{
		Grid:       m.grid,
		Pickup:     pickplace.Point{X: s.PnPOffsetX, Y: s.PnPOffsetY},
		FirstPlace: m.firstPlace(),
		XY:         motion.Profile{Speed: s.XSpeed, Accel: s.XAccel},
		Y:          motion.Profile{Speed: s.YSpeed, Accel: s.YAccel},
		Z:          motion.Profile{Speed: s.ZSpeed, Accel: s.ZAccel},
	}
}

func (m *Machine) enterPickPlace(ctx context.Context) (Event, error) {
	if m.d.PickPlace == nil {
		return Event{}, errors.HardwareUnavailable("pick tool")
	}
	sess, err := m.d.PickPlace.Enter(ctx, m.pnpParams())
	if err != nil {
		return Event{}, err
	}
	m.setMode(ModePickPlace)
	res := pickplace.StepResult{Index: sess.Index}
	res.Col, res.Row, res.Target = pickplace.Placement(m.grid, m.firstPlace(), sess.Index)
	ev := m.event(StatusPickPlaceReady, "Pick/Place mode. "+pickplace.Describe(res))
	ev.PnP = &res
	return ev, nil
}

func (m *Machine) pnpStep(res pickplace.StepResult, err error) (Event, error) {
	if err != nil {
		return Event{}, err
	}
	status := StatusPickPlaceReady
	if res.Complete {
		status = StatusPickPlaceComplete
	}
	ev := m.event(status, pickplace.Describe(res))
	ev.PnP = &res
	return ev, nil
}

func (m *Machine) move(ctx context.Context, t motion.Target) (Event, error) {
	s := m.settings
	opts := motion.Options{
		XY: motion.Profile{Speed: s.XSpeed, Accel: s.XAccel},
		Y:  motion.Profile{Speed: s.YSpeed, Accel: s.YAccel},
		Z:  motion.Profile{Speed: s.ZSpeed, Accel: s.ZAccel},
	}
	if err := m.d.Exec.MoveTo(ctx, t, opts); err != nil {
		return Event{}, err
	}
	status := StatusReady
	if m.mode == ModeCalibration {
		status = StatusCalibrationActive
	}
	ev := m.event(status, "Move complete.")
	ev.Position = m.position()
	return ev, nil
}

func (m *Machine) axisNamed(name string) (*axis.Axis, error) {
	axes := m.d.Exec.Axes()
	var a *axis.Axis
	switch strings.ToLower(name) {
	case "x":
		a = axes.X
	case "y":
		a = axes.Y
	case "z":
		a = axes.Z
	default:
		return nil, errors.InvalidParameter("axis", fmt.Sprintf("%q is not x, y or z", name))
	}
	if a == nil || !a.Available() {
		return nil, errors.HardwareUnavailable(name + " axis")
	}
	return a, nil
}

// jog moves one axis relative to its position. Z is clamped to its travel;
// X and Y must stay inside theirs.
func (m *Machine) jog(ctx context.Context, name string, delta float64) (Event, error) {
	a, err := m.axisNamed(name)
	if err != nil {
		return Event{}, err
	}
	target := a.Position() + delta
	var t motion.Target
	switch a {
	case m.d.Exec.Axes().Z:
		t.Z = motion.F(a.Clamp(target))
	case m.d.Exec.Axes().X:
		t.X = motion.F(target)
	default:
		t.Y = motion.F(target)
	}
	if t.Z == nil {
		if err := a.CheckBounds(target); err != nil {
			return Event{}, err
		}
	}
	return m.move(ctx, t)
}

func (m *Machine) rotate(ctx context.Context, delta float64) (Event, error) {
	rot := m.d.Exec.Axes().Rot
	if rot == nil || !rot.Available() {
		return Event{}, errors.HardwareUnavailable("rotation axis")
	}
	target := math.Round(rot.Position() + delta)
	if err := m.d.Exec.RotateTo(ctx, target, motion.Options{Point: "rotate"}); err != nil {
		return Event{}, err
	}
	ev := m.event(StatusReady, fmt.Sprintf("Rotation complete at %.0f degrees.", target))
	ev.Position = m.position()
	return ev, nil
}

func (m *Machine) paintJob() paint.Job {
	s := m.settings
	var job paint.Job
	for i := range job.Profiles {
		job.Profiles[i] = paint.Profile{
			ZHeight: s.SideZ[i],
			Pitch:   s.SidePitch[i],
			Pattern: paint.Pattern(s.SidePattern[i]),
			Speed:   s.SideSpeed[i],
		}
	}
	job.Grid = m.grid
	job.Frame = paint.Frame{
		FirstPlace: r2.Point{X: s.FirstPlaceX, Y: s.FirstPlaceY},
		GunOffset:  r2.Point{X: s.GunOffsetX, Y: s.GunOffsetY},
	}
	job.Accel = s.XAccel
	job.ZProfile = motion.Profile{Speed: s.ZSpeed, Accel: s.ZAccel}
	job.CleanSpeed, job.CleanAccel = s.XSpeed, s.XAccel
	return job
}

func (m *Machine) paintSide(ctx context.Context, side int) (Event, error) {
	if side < 0 || side >= settings.Sides {
		return Event{}, errors.InvalidParameter("side", "must be 0-3")
	}
	if m.d.Paint == nil {
		return Event{}, errors.HardwareUnavailable("paint gun")
	}
	m.sideStart = m.d.Reactor.Monotonic()
	p, err := m.d.Paint.PaintSide(ctx, side, m.paintJob())
	if err != nil {
		return Event{}, err
	}
	ev := m.event(StatusReady, fmt.Sprintf("Paint Side %d (%s) complete.", side, p.Name))
	ev.Position = m.position()
	return ev, nil
}

// PreviewSide generates the path PaintSide would run, without moving.
func (m *Machine) PreviewSide(side int) (paint.Path, error) {
	if side < 0 || side >= settings.Sides {
		return paint.Path{}, errors.InvalidParameter("side", "must be 0-3")
	}
	if m.d.Paint == nil {
		return paint.Path{}, errors.HardwareUnavailable("paint gun")
	}
	job := m.paintJob()
	gen := m.d.Paint.Generator()
	prof := job.Profiles[side]
	prof.Speed = gen.ClampSpeed(prof.Speed)
	return gen.GeneratePath(side, prof, job.Grid, job.Frame)
}

func (m *Machine) paintAll(ctx context.Context) (Event, error) {
	if m.d.Paint == nil {
		return Event{}, errors.HardwareUnavailable("paint gun")
	}
	m.sideStart = m.d.Reactor.Monotonic()
	if err := m.d.Paint.PaintAll(ctx, m.paintJob()); err != nil {
		return Event{}, err
	}
	ev := m.event(StatusReady, "Paint All complete.")
	ev.Position = m.position()
	return ev, nil
}

func (m *Machine) setPitch(angle int) (Event, error) {
	if angle < 0 || angle > 180 {
		return Event{}, errors.InvalidParameter("angle", fmt.Sprintf("%d must be 0-180", angle))
	}
	if m.d.Pitch == nil {
		return Event{}, errors.HardwareUnavailable("pitch servo")
	}
	applied, err := m.d.Pitch.Set(angle)
	if err != nil {
		return Event{}, err
	}
	msg := fmt.Sprintf("Servo pitch set to %d.", applied)
	if applied != angle {
		msg = fmt.Sprintf("Servo pitch %d limited to %d.", angle, applied)
	}
	return m.event(m.currentStatus(), msg), nil
}

// commit persists pairs and adopts next only when every write succeeded.
func (m *Machine) commit(next settings.Settings, pairs ...any) error {
	if err := settings.SavePairs(m.d.Store, pairs...); err != nil {
		return err
	}
	m.settings = next
	return nil
}

func (m *Machine) saved(msg string) Event {
	ev := m.event(m.currentStatus(), msg)
	ev.Settings = m.snapshot()
	return ev
}

func (m *Machine) saveXY(what, kx, ky string, x, y float64, set func(*settings.Settings)) (Event, error) {
	next := m.settings.Clone()
	set(&next)
	if err := m.commit(next, kx, x, ky, y); err != nil {
		return Event{}, err
	}
	return m.saved(fmt.Sprintf("%s set to %.3f, %.3f.", what, x, y)), nil
}

func (m *Machine) setGrid(cols, rows int, w, h float64) (Event, error) {
	g, err := m.d.Grid.Recompute(cols, rows, w, h)
	if err != nil {
		return Event{}, err
	}
	next := m.settings.Clone()
	next.GridCols, next.GridRows = cols, rows
	next.TrayWidth, next.TrayHeight = w, h
	next.GapX, next.GapY = g.GapX, g.GapY
	if err := m.commit(next,
		"grid_cols", cols, "grid_rows", rows,
		"tray_width", w, "tray_height", h,
		"gap_x", g.GapX, "gap_y", g.GapY,
	); err != nil {
		return Event{}, err
	}
	m.grid = g
	return m.saved(gridMessage(g)), nil
}

func gridMessage(g grid.Config) string {
	msg := fmt.Sprintf("Grid %dx%d on %.2fx%.2f tray, gaps %.3f, %.3f.", g.Cols, g.Rows, g.TrayWidth, g.TrayHeight, g.GapX, g.GapY)
	if w := g.Warning(); w != nil {
		msg += " Warning: " + errors.Reason(w)
	}
	return msg
}

func (m *Machine) setSide(in Intent) (Event, error) {
	switch {
	case in.Side < 0 || in.Side >= settings.Sides:
		return Event{}, errors.InvalidParameter("side", "must be 0-3")
	case in.Pitch < 0 || in.Pitch > 180:
		return Event{}, errors.InvalidParameter("pitch", fmt.Sprintf("%d must be 0-180", in.Pitch))
	case !(in.Speed > 0):
		return Event{}, errors.InvalidParameter("speed", "must be > 0")
	}
	if _, err := paint.ParsePattern(in.Pattern); err != nil {
		return Event{}, err
	}
	if z := m.d.Exec.Axes().Z; z != nil {
		if err := z.CheckBounds(in.Z); err != nil {
			return Event{}, err
		}
	}
	next := m.settings.Clone()
	next.SideZ[in.Side] = in.Z
	next.SidePitch[in.Side] = in.Pitch
	next.SidePattern[in.Side] = in.Pattern
	next.SideSpeed[in.Side] = in.Speed
	if err := settings.SaveSides(m.d.Store, next); err != nil {
		return Event{}, err
	}
	m.settings = next
	return m.saved(fmt.Sprintf("Side %d settings saved.", in.Side)), nil
}
