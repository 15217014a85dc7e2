// Package tool drives the end effectors: the pick cylinder with its suction
// cup, the paint gun with its pressure pot, and the gun pitch servo. All
// outputs are open loop.
package tool

import (
	"context"

	"gantry-go/pkg/config"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/iolink"
	"gantry-go/pkg/log"
)

// Dweller waits on the reactor, returning an error when the operation is
// cancelled. motion.Executor implements it.
type Dweller interface {
	Dwell(ctx context.Context, seconds float64, point string) error
}

// PickTool is the pneumatic pick head.
type PickTool struct {
	cylinder iolink.Output
	suction  iolink.Output
	cfg      config.PickPlaceConfig
	dwell    Dweller
	log      *log.Logger
}

// NewPickTool creates a pick head. Either output may be nil when the I/O
// line is missing; the tool then reports itself unavailable.
func NewPickTool(cylinder, suction iolink.Output, cfg config.PickPlaceConfig, d Dweller) *PickTool {
	return &PickTool{
		cylinder: cylinder,
		suction:  suction,
		cfg:      cfg,
		dwell:    d,
		log:      log.GetLogger("tool.pick"),
	}
}

// Available reports whether both outputs exist.
func (t *PickTool) Available() bool {
	return t.cylinder != nil && t.suction != nil
}

func (t *PickTool) set(out iolink.Output, name string, on bool) error {
	if err := out.Set(on); err != nil {
		return errors.IOError(name, err)
	}
	return nil
}

type action struct {
	out   iolink.Output
	name  string
	on    bool
	dwell float64
}

func (t *PickTool) run(ctx context.Context, steps []action) error {
	if !t.Available() {
		return errors.HardwareUnavailable("pick tool")
	}
	for _, s := range steps {
		if s.out != nil {
			if err := t.set(s.out, s.name, s.on); err != nil {
				return err
			}
		}
		if s.dwell > 0 {
			if err := t.dwell.Dwell(ctx, s.dwell, "dwell"); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pick grabs an item: suction on, extend, wait, retract, wait. Suction stays
// on afterwards.
func (t *PickTool) Pick(ctx context.Context) error {
	t.log.Debug("pick")
	return t.run(ctx, []action{
		{out: t.suction, name: "suction", on: true},
		{out: t.cylinder, name: "cylinder", on: true, dwell: t.cfg.ExtendDwell},
		{out: t.cylinder, name: "cylinder", on: false, dwell: t.cfg.PickRetractDwell},
	})
}

// Place releases the item: extend, wait, suction off, wait, retract, wait.
func (t *PickTool) Place(ctx context.Context) error {
	t.log.Debug("place")
	return t.run(ctx, []action{
		{out: t.cylinder, name: "cylinder", on: true, dwell: t.cfg.ExtendDwell},
		{out: t.suction, name: "suction", on: false, dwell: t.cfg.ReleaseDwell},
		{out: t.cylinder, name: "cylinder", on: false, dwell: t.cfg.PlaceRetractDwell},
	})
}

// Release retracts the cylinder and drops suction without waiting.
func (t *PickTool) Release() error {
	if !t.Available() {
		return nil
	}
	err := t.set(t.cylinder, "cylinder", false)
	if serr := t.set(t.suction, "suction", false); err == nil {
		err = serr
	}
	return err
}

// PaintGun is the spray gun and its pressure pot.
type PaintGun struct {
	gun iolink.Output
	pot iolink.Output
	log *log.Logger
}

// NewPaintGun creates a paint gun.
func NewPaintGun(gun, pot iolink.Output) *PaintGun {
	return &PaintGun{gun: gun, pot: pot, log: log.GetLogger("tool.gun")}
}

// Available reports whether the gun output exists.
func (g *PaintGun) Available() bool { return g.gun != nil }

// Spraying reports whether the gun is open.
func (g *PaintGun) Spraying() bool {
	return g.gun != nil && g.gun.State()
}

// On opens the gun, pressurizing the pot first.
func (g *PaintGun) On() error {
	if !g.Available() {
		return errors.HardwareUnavailable("paint gun")
	}
	if g.pot != nil && !g.pot.State() {
		if err := g.pot.Set(true); err != nil {
			return errors.IOError("pressure pot", err)
		}
	}
	if g.gun.State() {
		return nil
	}
	if err := g.gun.Set(true); err != nil {
		return errors.IOError("paint gun", err)
	}
	return nil
}

// Close shuts the gun and leaves the pot pressurized.
func (g *PaintGun) Close() error {
	if !g.Available() || !g.gun.State() {
		return nil
	}
	if err := g.gun.Set(false); err != nil {
		return errors.IOError("paint gun", err)
	}
	return nil
}

// Off shuts the gun and depressurizes the pot.
func (g *PaintGun) Off() error {
	if !g.Available() {
		return nil
	}
	err := g.gun.Set(false)
	if g.pot != nil {
		if perr := g.pot.Set(false); err == nil {
			err = perr
		}
	}
	if err != nil {
		return errors.IOError("paint gun", err)
	}
	return nil
}

// UpdateForSegment opens the gun for a spraying segment and closes it
// otherwise.
func (g *PaintGun) UpdateForSegment(spray bool) error {
	if spray {
		return g.On()
	}
	return g.Close()
}

// ServoWriter drives a hobby servo channel. iolink.Board implements it.
type ServoWriter interface {
	SetServo(channel, deg int) error
}

// ServoFunc adapts a function to ServoWriter.
type ServoFunc func(channel, deg int) error

// SetServo implements ServoWriter.
func (f ServoFunc) SetServo(channel, deg int) error { return f(channel, deg) }

// PitchServo tilts the paint gun.
type PitchServo struct {
	w        ServoWriter
	channel  int
	min, max int
	angle    int
}

// NewPitchServo creates a pitch servo limited to [min, max] degrees.
func NewPitchServo(w ServoWriter, channel, min, max int) *PitchServo {
	return &PitchServo{w: w, channel: channel, min: min, max: max, angle: -1}
}

// Init moves the servo to its resting angle, the top of its range.
func (s *PitchServo) Init() error {
	_, err := s.Set(s.max)
	return err
}

// Clamp limits angle to the mechanical range.
func (s *PitchServo) Clamp(angle int) int {
	if angle < s.min {
		return s.min
	}
	if angle > s.max {
		return s.max
	}
	return angle
}

// Set drives the servo to angle clamped to the mechanical range and returns
// the angle applied.
func (s *PitchServo) Set(angle int) (int, error) {
	if s.w == nil {
		return 0, errors.HardwareUnavailable("pitch servo")
	}
	applied := s.Clamp(angle)
	if err := s.w.SetServo(s.channel, applied); err != nil {
		return 0, errors.IOError("pitch servo", err)
	}
	s.angle = applied
	return applied, nil
}

// Angle returns the last applied angle, or -1 before the first write.
func (s *PitchServo) Angle() int { return s.angle }
