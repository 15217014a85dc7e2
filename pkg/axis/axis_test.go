package axis

import (
	"fmt"
	"testing"

	"gantry-go/pkg/config"
	"gantry-go/pkg/errors"
)

// fakeMotor records commands and completes moves instantly.
type fakeMotor struct {
	pos      int64
	running  bool
	forward  bool
	speed    float64
	accel    float64
	moves    []int64
	stops    int
	forced   int
	failNext error
}

func (m *fakeMotor) fail() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *fakeMotor) MoveTo(target int64) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.moves = append(m.moves, target)
	m.pos = target
	return nil
}
func (m *fakeMotor) Run(forward bool) error {
	m.running, m.forward = true, forward
	return m.fail()
}
func (m *fakeMotor) SetSpeed(hz float64) error         { m.speed = hz; return nil }
func (m *fakeMotor) SetAcceleration(hz2 float64) error { m.accel = hz2; return nil }
func (m *fakeMotor) StopMove() error                   { m.stops++; return nil }
func (m *fakeMotor) ForceStop() error                  { m.forced++; m.running = false; return nil }
func (m *fakeMotor) IsRunning() bool                   { return m.running }
func (m *fakeMotor) CurrentPosition() int64            { return m.pos }
func (m *fakeMotor) SetCurrentPosition(pos int64) error {
	m.pos = pos
	return nil
}

type fakeSwitch struct {
	name string
	on   bool
}

func (s *fakeSwitch) Name() string    { return s.name }
func (s *fakeSwitch) Triggered() bool { return s.on }

func yConfig() config.AxisConfig {
	return config.AxisConfig{
		Name:         "y",
		Channels:     []int{1, 2},
		StepsPerUnit: 254,
		PositionMin:  0,
		PositionMax:  30,
		Speed:        20000,
		Accel:        20000,
	}
}

func newGang(t *testing.T) (*Axis, []*fakeMotor, []*fakeSwitch) {
	t.Helper()
	left, right := &fakeMotor{}, &fakeMotor{}
	sl, sr := &fakeSwitch{name: "y_left"}, &fakeSwitch{name: "y_right"}
	a, err := New(yConfig(), []Motor{left, right}, []Switch{sl, sr})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a, []*fakeMotor{left, right}, []*fakeSwitch{sl, sr}
}

func TestNewValidation(t *testing.T) {
	cfg := yConfig()
	if _, err := New(cfg, []Motor{&fakeMotor{}}, nil); err == nil {
		t.Error("expected error for a short gang")
	}
	if _, err := New(cfg, []Motor{&fakeMotor{}, &fakeMotor{}}, []Switch{&fakeSwitch{}}); err == nil {
		t.Error("expected error for missing switch")
	}
	a, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() without motors error = %v", err)
	}
	if a.Available() || a.Homed() {
		t.Error("axis without motors should be unavailable and unhomed")
	}
	if _, err := a.MoveTo(1); !errors.Is(err, errors.ErrHardwareUnavailable) {
		t.Errorf("MoveTo() error = %v, want %v", err, errors.ErrHardwareUnavailable)
	}
}

func TestUnitConversion(t *testing.T) {
	a, _, _ := newGang(t)
	tests := []struct {
		units float64
		steps int64
	}{
		{0, 0},
		{1, 254},
		{0.5, 127},
		{3.8333, 974},
		{-1, -254},
	}
	for _, tt := range tests {
		if got := a.ToSteps(tt.units); got != tt.steps {
			t.Errorf("ToSteps(%v) = %d, want %d", tt.units, got, tt.steps)
		}
	}
	if got := a.ToUnits(508); got != 2 {
		t.Errorf("ToUnits(508) = %v, want 2", got)
	}
}

func TestGangReceivesIdenticalCommands(t *testing.T) {
	a, motors, _ := newGang(t)
	if err := a.SetProfile(5000, 8000); err != nil {
		t.Fatalf("SetProfile() error = %v", err)
	}
	moved, err := a.MoveTo(10)
	if err != nil || !moved {
		t.Fatalf("MoveTo(10) = %v, %v", moved, err)
	}
	for i, m := range motors {
		if m.speed != 5000 || m.accel != 8000 {
			t.Errorf("motor %d profile = %v/%v", i, m.speed, m.accel)
		}
		if len(m.moves) != 1 || m.moves[0] != 2540 {
			t.Errorf("motor %d moves = %v, want [2540]", i, m.moves)
		}
	}
	if a.Position() != 10 {
		t.Errorf("Position() = %v, want 10", a.Position())
	}
}

func TestMoveToSameTargetIsNoop(t *testing.T) {
	a, motors, _ := newGang(t)
	a.MoveTo(5)
	moved, err := a.MoveTo(5.001)
	if err != nil {
		t.Fatalf("MoveTo() error = %v", err)
	}
	if moved {
		t.Error("MoveTo() to the same step target issued a command")
	}
	if len(motors[0].moves) != 1 {
		t.Errorf("moves = %v, want one", motors[0].moves)
	}
}

func TestMoveToIOError(t *testing.T) {
	a, motors, _ := newGang(t)
	motors[1].failNext = fmt.Errorf("write failed")
	if _, err := a.MoveTo(3); !errors.Is(err, errors.ErrRuntimeIO) {
		t.Errorf("MoveTo() error = %v, want %v", err, errors.ErrRuntimeIO)
	}
}

func TestBounds(t *testing.T) {
	a, _, _ := newGang(t)
	for _, v := range []float64{-0.1, 30.1} {
		if err := a.CheckBounds(v); !errors.Is(err, errors.ErrInvalidParameter) {
			t.Errorf("CheckBounds(%v) error = %v", v, err)
		}
	}
	if err := a.CheckBounds(30); err != nil {
		t.Errorf("CheckBounds(30) error = %v", err)
	}
	if got := a.Clamp(42); got != 30 {
		t.Errorf("Clamp(42) = %v, want 30", got)
	}
}

func TestHomingLatchesEachMotor(t *testing.T) {
	a, motors, switches := newGang(t)
	motors[0].pos, motors[1].pos = 900, 950

	if err := a.BeginHoming(3500, 12500); err != nil {
		t.Fatalf("BeginHoming() error = %v", err)
	}
	for i, m := range motors {
		if !m.running || m.forward {
			t.Errorf("motor %d not running toward the switch", i)
		}
		if m.speed != 3500 || m.accel != 12500 {
			t.Errorf("motor %d homing profile = %v/%v", i, m.speed, m.accel)
		}
	}

	switches[1].on = true
	done, err := a.PollHoming()
	if err != nil || done {
		t.Fatalf("PollHoming() = %v, %v, want false", done, err)
	}
	if motors[1].running || motors[1].pos != 0 {
		t.Errorf("right motor not stopped and zeroed: %+v", motors[1])
	}
	if !motors[0].running {
		t.Error("left motor stopped before its own switch")
	}
	if got := a.Pending(); len(got) != 1 || got[0] != "y_left" {
		t.Errorf("Pending() = %v, want [y_left]", got)
	}

	switches[0].on = true
	if done, _ := a.PollHoming(); !done || !a.Homed() {
		t.Error("axis not homed after both switches")
	}
	if motors[0].stops != 1 || motors[0].forced != 1 {
		t.Errorf("left motor stops = %d/%d, want ramp then hard", motors[0].stops, motors[0].forced)
	}
	if got := a.BackoffTarget(0.5); got != 0.5 {
		t.Errorf("BackoffTarget(0.5) = %v", got)
	}
}

func TestBeginHomingClearsHomed(t *testing.T) {
	a, _, switches := newGang(t)
	switches[0].on, switches[1].on = true, true
	a.BeginHoming(3500, 12500)
	a.PollHoming()
	if !a.Homed() {
		t.Fatal("not homed")
	}
	switches[0].on, switches[1].on = false, false
	a.BeginHoming(3500, 12500)
	if a.Homed() {
		t.Error("homed flag survived a new homing pass")
	}
}

func TestPositiveHoming(t *testing.T) {
	cfg := yConfig()
	cfg.Name, cfg.Channels, cfg.HomingPositive = "x", []int{0}, true
	m, s := &fakeMotor{}, &fakeSwitch{name: "x", on: true}
	a, _ := New(cfg, []Motor{m}, []Switch{s})
	a.BeginHoming(3500, 12500)
	if !m.forward {
		t.Error("positive homing should run forward")
	}
	a.PollHoming()
	if a.Position() != 30 {
		t.Errorf("Position() = %v, want 30", a.Position())
	}
	if got := a.BackoffTarget(0.5); got != 29.5 {
		t.Errorf("BackoffTarget(0.5) = %v, want 29.5", got)
	}
}

func TestHaltAndSetPosition(t *testing.T) {
	a, motors, _ := newGang(t)
	motors[0].running, motors[1].running = true, true
	if err := a.DisableMotors(); err != nil {
		t.Fatalf("DisableMotors() error = %v", err)
	}
	if a.IsRunning() {
		t.Error("IsRunning() after Halt")
	}
	a.SetPosition(2)
	for i, m := range motors {
		if m.pos != 508 {
			t.Errorf("motor %d pos = %d, want 508", i, m.pos)
		}
	}
	noSwitch, _ := New(yConfig(), []Motor{&fakeMotor{}, &fakeMotor{}}, nil)
	if err := noSwitch.BeginHoming(1, 1); err == nil {
		t.Error("BeginHoming() without switches should fail")
	}
	noSwitch.MarkHomed()
	if !noSwitch.Homed() {
		t.Error("MarkHomed() did not mark the axis")
	}
}
