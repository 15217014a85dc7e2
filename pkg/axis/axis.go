// Package axis drives one logical machine axis. An axis owns one or two
// motor outputs; a ganged pair always receives identical commands and is
// never addressed one side at a time, except that each motor latches its own
// home switch during homing so the gantry squares itself.
package axis

import (
	"fmt"
	"math"

	"gantry-go/pkg/config"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/log"
)

// Motor is one stepper output on the driver board.
type Motor interface {
	MoveTo(target int64) error
	Run(forward bool) error
	SetSpeed(hz float64) error
	SetAcceleration(hz2 float64) error
	// StopMove decelerates to a stop.
	StopMove() error
	// ForceStop stops immediately without a ramp.
	ForceStop() error
	IsRunning() bool
	CurrentPosition() int64
	SetCurrentPosition(pos int64) error
}

// Switch is a debounced home switch.
type Switch interface {
	Name() string
	Triggered() bool
}

// Axis is a single degree of freedom.
type Axis struct {
	cfg      config.AxisConfig
	motors   []Motor
	switches []Switch
	homed    []bool
	speed    float64
	accel    float64
	log      *log.Logger
}

// New creates an axis. motors may be empty when the driver channel failed to
// initialize; the axis then reports itself unavailable.
func New(cfg config.AxisConfig, motors []Motor, switches []Switch) (*Axis, error) {
	if len(motors) > 0 && len(motors) != len(cfg.Channels) {
		return nil, errors.RuntimeErrorInit("axis "+cfg.Name, "motor count does not match channels")
	}
	if len(switches) > 0 && len(switches) != len(motors) {
		return nil, errors.RuntimeErrorInit("axis "+cfg.Name, "need one home switch per motor")
	}
	if cfg.StepsPerUnit <= 0 {
		return nil, errors.RuntimeErrorInit("axis "+cfg.Name, "steps_per_unit must be positive")
	}
	a := &Axis{
		cfg:      cfg,
		motors:   motors,
		switches: switches,
		homed:    make([]bool, len(motors)),
		log:      log.GetLogger("axis." + cfg.Name),
	}
	if err := a.SetProfile(cfg.Speed, cfg.Accel); err != nil {
		return nil, err
	}
	return a, nil
}

// Name returns the axis name.
func (a *Axis) Name() string { return a.cfg.Name }

// Config returns the axis configuration.
func (a *Axis) Config() config.AxisConfig { return a.cfg }

// Available reports whether the axis has working motors.
func (a *Axis) Available() bool { return len(a.motors) > 0 }

// HasSwitch reports whether the axis homes against switches.
func (a *Axis) HasSwitch() bool { return len(a.switches) > 0 }

// Ganged reports whether more than one motor drives the axis.
func (a *Axis) Ganged() bool { return len(a.motors) > 1 }

// ToSteps converts engineering units to the nearest step.
func (a *Axis) ToSteps(units float64) int64 {
	return int64(math.Round(units * a.cfg.StepsPerUnit))
}

// ToUnits converts steps to engineering units.
func (a *Axis) ToUnits(steps int64) float64 {
	return float64(steps) / a.cfg.StepsPerUnit
}

// PositionSteps returns the position of the reference (first) motor.
func (a *Axis) PositionSteps() int64 {
	if !a.Available() {
		return 0
	}
	return a.motors[0].CurrentPosition()
}

// Position returns the current position in units.
func (a *Axis) Position() float64 {
	return a.ToUnits(a.PositionSteps())
}

// Profile returns the speed and acceleration last applied.
func (a *Axis) Profile() (speed, accel float64) {
	return a.speed, a.accel
}

// CheckBounds validates a target against the configured travel.
func (a *Axis) CheckBounds(units float64) error {
	if math.IsNaN(units) || units < a.cfg.PositionMin || units > a.cfg.PositionMax {
		return errors.InvalidParameter(a.cfg.Name,
			formatRange(units, a.cfg.PositionMin, a.cfg.PositionMax))
	}
	return nil
}

// Clamp limits units to the configured travel.
func (a *Axis) Clamp(units float64) float64 {
	return math.Max(a.cfg.PositionMin, math.Min(a.cfg.PositionMax, units))
}

// SetProfile applies speed (steps/s) and acceleration (steps/s^2) to every
// motor of the axis.
func (a *Axis) SetProfile(speed, accel float64) error {
	if speed <= 0 || accel <= 0 {
		return errors.InvalidParameter(a.cfg.Name+" profile", "speed and accel must be positive")
	}
	for _, m := range a.motors {
		if err := m.SetSpeed(speed); err != nil {
			return errors.IOError("axis "+a.cfg.Name, err)
		}
		if err := m.SetAcceleration(accel); err != nil {
			return errors.IOError("axis "+a.cfg.Name, err)
		}
	}
	a.speed, a.accel = speed, accel
	return nil
}

// MoveTo commands every motor toward units. It returns false without
// issuing a command when all motors already rest on the target step.
func (a *Axis) MoveTo(units float64) (bool, error) {
	if !a.Available() {
		return false, errors.HardwareUnavailable("axis " + a.cfg.Name)
	}
	target := a.ToSteps(units)
	if !a.IsRunning() && a.atSteps(target) {
		return false, nil
	}
	for _, m := range a.motors {
		if err := m.MoveTo(target); err != nil {
			return false, errors.IOError("axis "+a.cfg.Name, err)
		}
	}
	a.log.Debug("move to %.4f (%d steps)", units, target)
	return true, nil
}

func (a *Axis) atSteps(target int64) bool {
	for _, m := range a.motors {
		if m.CurrentPosition() != target {
			return false
		}
	}
	return true
}

// IsRunning reports whether any motor of the axis is moving.
func (a *Axis) IsRunning() bool {
	for _, m := range a.motors {
		if m.IsRunning() {
			return true
		}
	}
	return false
}

// Stop ramps every motor down and then forces it to rest.
func (a *Axis) Stop() error {
	var first error
	for _, m := range a.motors {
		if err := m.StopMove(); err != nil && first == nil {
			first = err
		}
		if err := m.ForceStop(); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return errors.IOError("axis "+a.cfg.Name, first)
	}
	return nil
}

// Halt stops every motor immediately.
func (a *Axis) Halt() error {
	var first error
	for _, m := range a.motors {
		if err := m.ForceStop(); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return errors.IOError("axis "+a.cfg.Name, first)
	}
	return nil
}

// DisableMotors implements safety.MotorDisabler.
func (a *Axis) DisableMotors() error {
	return a.Halt()
}

// SetPosition redefines the current position of every motor as units.
func (a *Axis) SetPosition(units float64) error {
	steps := a.ToSteps(units)
	for _, m := range a.motors {
		if err := m.SetCurrentPosition(steps); err != nil {
			return errors.IOError("axis "+a.cfg.Name, err)
		}
	}
	return nil
}

// Homed reports whether every motor of the axis latched its home.
func (a *Axis) Homed() bool {
	if !a.Available() {
		return false
	}
	for _, h := range a.homed {
		if !h {
			return false
		}
	}
	return true
}

// ClearHomed forgets the home reference.
func (a *Axis) ClearHomed() {
	for i := range a.homed {
		a.homed[i] = false
	}
}

// MarkHomed records a home reference for axes without switches.
func (a *Axis) MarkHomed() {
	for i := range a.homed {
		a.homed[i] = true
	}
}

// HomePosition is the position assigned to the switch location.
func (a *Axis) HomePosition() float64 {
	if a.cfg.HomingPositive {
		return a.cfg.PositionMax
	}
	return a.cfg.PositionMin
}

// BackoffTarget is the position distance units away from the switch.
func (a *Axis) BackoffTarget(distance float64) float64 {
	if a.cfg.HomingPositive {
		return a.HomePosition() - distance
	}
	return a.HomePosition() + distance
}

// BeginHoming clears the home flags and runs every motor toward its switch
// with the given profile.
func (a *Axis) BeginHoming(speed, accel float64) error {
	if !a.Available() {
		return errors.HardwareUnavailable("axis " + a.cfg.Name)
	}
	if !a.HasSwitch() {
		return errors.RuntimeError("axis " + a.cfg.Name + " has no home switch")
	}
	a.ClearHomed()
	if err := a.SetProfile(speed, accel); err != nil {
		return err
	}
	for _, m := range a.motors {
		if err := m.Run(a.cfg.HomingPositive); err != nil {
			return errors.IOError("axis "+a.cfg.Name, err)
		}
	}
	return nil
}

// PollHoming checks each unlatched motor's switch. A triggered motor is
// stopped, zeroed at the home position and latched on its own. It returns
// true once every motor latched.
func (a *Axis) PollHoming() (bool, error) {
	home := a.ToSteps(a.HomePosition())
	for i, m := range a.motors {
		if a.homed[i] || !a.switches[i].Triggered() {
			continue
		}
		if err := m.StopMove(); err != nil {
			return false, errors.IOError("axis "+a.cfg.Name, err)
		}
		if err := m.ForceStop(); err != nil {
			return false, errors.IOError("axis "+a.cfg.Name, err)
		}
		if err := m.SetCurrentPosition(home); err != nil {
			return false, errors.IOError("axis "+a.cfg.Name, err)
		}
		a.homed[i] = true
		a.log.Info("%s home switch %s triggered", a.cfg.Name, a.switches[i].Name())
	}
	return a.Homed(), nil
}

// Pending returns the names of the switches not yet latched.
func (a *Axis) Pending() []string {
	var out []string
	for i, h := range a.homed {
		if !h && i < len(a.switches) {
			out = append(out, a.switches[i].Name())
		}
	}
	return out
}

func formatRange(v, lo, hi float64) string {
	return fmt.Sprintf("%.3f outside travel [%.3f, %.3f]", v, lo, hi)
}
