// Package stepdriver implements the axis.Motor outputs: a simulated motor
// for tests and dry runs, and a line protocol client for the external step
// generator board.
package stepdriver

import (
	"math"
	"sync"

	"gantry-go/pkg/reactor"
)

type simMode int

const (
	simIdle simMode = iota
	simTarget
	simContinuous
)

// SimMotor is a constant-velocity motor model on a reactor clock. Its
// physical position is independent of the logical position so that a
// simulated switch stays put when the host re-zeroes the motor.
type SimMotor struct {
	mu      sync.Mutex
	clock   reactor.Clock
	channel int

	speed   float64
	accel   float64
	phys    float64 // steps from the physical origin
	offset  float64 // phys - logical
	target  int64
	mode    simMode
	forward bool
	last    float64

	commands int
	stalled  bool
}

// NewSimMotor creates a simulated motor resting at physical step start.
func NewSimMotor(channel int, clock reactor.Clock, start int64) *SimMotor {
	return &SimMotor{
		channel: channel,
		clock:   clock,
		speed:   1000,
		accel:   1000,
		phys:    float64(start),
		offset:  float64(start),
		last:    clock.Monotonic(),
	}
}

// Channel returns the driver channel number.
func (m *SimMotor) Channel() int { return m.channel }

// update integrates motion up to now. Callers hold mu.
func (m *SimMotor) update() {
	now := m.clock.Monotonic()
	dt := now - m.last
	m.last = now
	if dt <= 0 || m.stalled {
		return
	}
	step := m.speed * dt
	switch m.mode {
	case simTarget:
		goal := float64(m.target) + m.offset
		remaining := goal - m.phys
		if math.Abs(remaining) <= step {
			m.phys = goal
			m.mode = simIdle
		} else if remaining > 0 {
			m.phys += step
		} else {
			m.phys -= step
		}
	case simContinuous:
		if m.forward {
			m.phys += step
		} else {
			m.phys -= step
		}
	}
}

// MoveTo implements axis.Motor.
func (m *SimMotor) MoveTo(target int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update()
	m.target = target
	m.mode = simTarget
	m.commands++
	return nil
}

// Run implements axis.Motor.
func (m *SimMotor) Run(forward bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update()
	m.forward = forward
	m.mode = simContinuous
	m.commands++
	return nil
}

// SetSpeed implements axis.Motor.
func (m *SimMotor) SetSpeed(hz float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update()
	m.speed = hz
	return nil
}

// SetAcceleration implements axis.Motor. The model ignores ramps.
func (m *SimMotor) SetAcceleration(hz2 float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accel = hz2
	return nil
}

// StopMove implements axis.Motor.
func (m *SimMotor) StopMove() error {
	return m.ForceStop()
}

// ForceStop implements axis.Motor.
func (m *SimMotor) ForceStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update()
	m.phys = math.Round(m.phys)
	m.mode = simIdle
	return nil
}

// IsRunning implements axis.Motor.
func (m *SimMotor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update()
	return m.mode != simIdle
}

// CurrentPosition implements axis.Motor.
func (m *SimMotor) CurrentPosition() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update()
	return int64(math.Round(m.phys - m.offset))
}

// SetCurrentPosition implements axis.Motor.
func (m *SimMotor) SetCurrentPosition(pos int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update()
	m.offset = m.phys - float64(pos)
	return nil
}

// Commands returns how many motion commands were issued.
func (m *SimMotor) Commands() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commands
}

// Speed returns the configured speed.
func (m *SimMotor) Speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed
}

// SetStalled freezes the motor in place while it still reports running.
func (m *SimMotor) SetStalled(stalled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update()
	m.stalled = stalled
}

// PhysicalPosition returns the position relative to the physical origin.
func (m *SimMotor) PhysicalPosition() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update()
	return m.phys
}

// HomeSensor returns a raw input that reads true while the motor is at or
// beyond the physical origin in the homing direction.
func (m *SimMotor) HomeSensor(positive bool, limit int64) func() (bool, error) {
	return func() (bool, error) {
		p := m.PhysicalPosition()
		if positive {
			return p >= float64(limit), nil
		}
		return p <= float64(limit), nil
	}
}
