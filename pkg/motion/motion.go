// Package motion issues coordinated point-to-point moves. Z always completes
// before X and Y start, and X and Y are commanded together. Waits yield to
// the reactor and observe cancellation of the operation's context.
package motion

import (
	"context"
	"fmt"
	"strings"

	"gantry-go/pkg/axis"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/log"
	"gantry-go/pkg/reactor"
)

// Target is a partial destination; nil coordinates are left alone.
type Target struct {
	X, Y, Z *float64
}

// F returns a pointer to v, for building targets inline.
func F(v float64) *float64 { return &v }

// XY returns a target for X and Y only.
func XY(x, y float64) Target { return Target{X: F(x), Y: F(y)} }

// XYZ returns a target for all three linear axes.
func XYZ(x, y, z float64) Target { return Target{X: F(x), Y: F(y), Z: F(z)} }

// ZOnly returns a target for Z only.
func ZOnly(z float64) Target { return Target{Z: F(z)} }

func (t Target) String() string {
	var parts []string
	for _, c := range []struct {
		name string
		v    *float64
	}{{"x", t.X}, {"y", t.Y}, {"z", t.Z}} {
		if c.v != nil {
			parts = append(parts, fmt.Sprintf("%s=%.3f", c.name, *c.v))
		}
	}
	return strings.Join(parts, " ")
}

// Profile is a speed (steps/s) and acceleration (steps/s^2). Zero values
// keep the axis' current setting.
type Profile struct {
	Speed float64
	Accel float64
}

// Options control a move.
type Options struct {
	XY Profile
	// Y, when set, replaces XY for the Y axis.
	Y Profile
	Z Profile
	// ClampZ limits Z to the axis travel instead of rejecting it.
	ClampZ bool
	// Timeout in seconds for each phase; zero waits forever.
	Timeout float64
	// Async returns once X and Y are commanded; Z still completes first.
	Async bool
	// Point names the reactor yield point, "move" by default.
	Point string
}

// Position is a telemetry snapshot in engineering units.
type Position struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z"`
	Rot float64 `json:"rot"`
}

// Axes bundles the machine axes.
type Axes struct {
	X, Y, Z, Rot *axis.Axis
}

// All returns the axes that exist.
func (a Axes) All() []*axis.Axis {
	var out []*axis.Axis
	for _, ax := range []*axis.Axis{a.X, a.Y, a.Z, a.Rot} {
		if ax != nil {
			out = append(out, ax)
		}
	}
	return out
}

// Executor runs moves on the reactor goroutine.
type Executor struct {
	r       *reactor.Reactor
	axes    Axes
	log     *log.Logger
	started []func(Target)
}

// New creates an executor.
func New(r *reactor.Reactor, axes Axes) *Executor {
	return &Executor{r: r, axes: axes, log: log.GetLogger("motion")}
}

// Axes returns the axes driven by the executor.
func (e *Executor) Axes() Axes { return e.axes }

// OnMoveStarted registers fn to run whenever a move actually commands a
// motor.
func (e *Executor) OnMoveStarted(fn func(Target)) {
	e.started = append(e.started, fn)
}

func (e *Executor) emitStarted(t Target) {
	for _, fn := range e.started {
		fn(t)
	}
}

// Position returns the current position of every axis.
func (e *Executor) Position() Position {
	var p Position
	if e.axes.X != nil {
		p.X = e.axes.X.Position()
	}
	if e.axes.Y != nil {
		p.Y = e.axes.Y.Position()
	}
	if e.axes.Z != nil {
		p.Z = e.axes.Z.Position()
	}
	if e.axes.Rot != nil {
		p.Rot = e.axes.Rot.Position()
	}
	return p
}

// Busy reports whether any axis is running.
func (e *Executor) Busy() bool {
	for _, a := range e.axes.All() {
		if a.IsRunning() {
			return true
		}
	}
	return false
}

// HaltAll stops every axis immediately.
func (e *Executor) HaltAll() error {
	var first error
	for _, a := range e.axes.All() {
		if err := a.Halt(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (e *Executor) resolve(a *axis.Axis, v *float64, clamp bool) (float64, error) {
	if a == nil || !a.Available() {
		name := "axis"
		if a != nil {
			name = "axis " + a.Name()
		}
		return 0, errors.HardwareUnavailable(name)
	}
	if clamp {
		return a.Clamp(*v), nil
	}
	return *v, a.CheckBounds(*v)
}

func applyProfile(a *axis.Axis, p Profile) error {
	if p.Speed == 0 && p.Accel == 0 {
		return nil
	}
	speed, accel := a.Profile()
	if p.Speed > 0 {
		speed = p.Speed
	}
	if p.Accel > 0 {
		accel = p.Accel
	}
	return a.SetProfile(speed, accel)
}

// MoveTo moves to t. Every coordinate is validated before any motor moves.
// A move whose step targets equal the current positions issues no command
// and emits no start event.
func (e *Executor) MoveTo(ctx context.Context, t Target, opts Options) error {
	point := opts.Point
	if point == "" {
		point = "move"
	}

	var x, y, z float64
	var err error
	if t.Z != nil {
		if z, err = e.resolve(e.axes.Z, t.Z, opts.ClampZ); err != nil {
			return err
		}
	}
	if t.X != nil {
		if x, err = e.resolve(e.axes.X, t.X, false); err != nil {
			return err
		}
	}
	if t.Y != nil {
		if y, err = e.resolve(e.axes.Y, t.Y, false); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return errors.Stopped("Move")
	}

	announced := false
	announce := func() {
		if !announced {
			announced = true
			e.log.Debug("move %s", t)
			e.emitStarted(t)
		}
	}

	if t.Z != nil {
		if err := applyProfile(e.axes.Z, opts.Z); err != nil {
			return err
		}
		moved, err := e.axes.Z.MoveTo(z)
		if err != nil {
			return err
		}
		if moved {
			announce()
			if err := e.Wait(ctx, point, opts.Timeout, e.axes.Z); err != nil {
				return err
			}
		}
	}

	var xy []*axis.Axis
	for _, c := range []struct {
		a *axis.Axis
		v *float64
		u float64
	}{{e.axes.X, t.X, x}, {e.axes.Y, t.Y, y}} {
		if c.v == nil {
			continue
		}
		prof := opts.XY
		if c.a == e.axes.Y && (opts.Y.Speed > 0 || opts.Y.Accel > 0) {
			prof = opts.Y
		}
		if err := applyProfile(c.a, prof); err != nil {
			return err
		}
		moved, err := c.a.MoveTo(c.u)
		if err != nil {
			e.HaltAll()
			return err
		}
		if moved {
			announce()
			xy = append(xy, c.a)
		}
	}
	if len(xy) == 0 || opts.Async {
		return nil
	}
	return e.Wait(ctx, point, opts.Timeout, xy...)
}

// RotateTo turns the rotation axis to deg and waits.
func (e *Executor) RotateTo(ctx context.Context, deg float64, opts Options) error {
	rot := e.axes.Rot
	if rot == nil || !rot.Available() {
		return errors.HardwareUnavailable("axis rot")
	}
	if err := rot.CheckBounds(deg); err != nil {
		return err
	}
	if err := applyProfile(rot, opts.XY); err != nil {
		return err
	}
	moved, err := rot.MoveTo(deg)
	if err != nil || !moved {
		return err
	}
	e.emitStarted(Target{})
	point := opts.Point
	if point == "" {
		point = "move"
	}
	return e.Wait(ctx, point, opts.Timeout, rot)
}

// Wait yields at point until none of axes is running. Cancellation of ctx
// halts every axis and returns a Stopped error; exceeding timeout seconds
// halts and returns a MoveTimeout error.
func (e *Executor) Wait(ctx context.Context, point string, timeout float64, axes ...*axis.Axis) error {
	start := e.r.Monotonic()
	for {
		running := false
		for _, a := range axes {
			if a.IsRunning() {
				running = true
				break
			}
		}
		if !running {
			return nil
		}
		if ctx.Err() != nil {
			e.HaltAll()
			return errors.Stopped("Move")
		}
		if timeout > 0 && e.r.Monotonic()-start > timeout {
			e.HaltAll()
			return errors.MoveTimeout("Move", timeout)
		}
		e.r.Yield(point)
	}
}

// Dwell waits seconds at point. It returns a Stopped error when ctx is
// cancelled first.
func (e *Executor) Dwell(ctx context.Context, seconds float64, point string) error {
	if point == "" {
		point = "dwell"
	}
	if !e.r.Pause(point, e.r.Monotonic()+seconds, func() bool { return ctx.Err() != nil }) {
		return errors.Stopped("Dwell")
	}
	if ctx.Err() != nil {
		return errors.Stopped("Dwell")
	}
	return nil
}
