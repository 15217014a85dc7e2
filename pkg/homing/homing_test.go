package homing

import (
	"context"
	"math"
	"testing"

	"gantry-go/pkg/axis"
	"gantry-go/pkg/config"
	"gantry-go/pkg/endstop"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/motion"
	"gantry-go/pkg/reactor"
	"gantry-go/pkg/stepdriver"
)

type rig struct {
	r      *reactor.Reactor
	seq    *Sequencer
	exec   *motion.Executor
	x      *stepdriver.SimMotor
	yl, yr *stepdriver.SimMotor
	z      *stepdriver.SimMotor
}

func homingConfig() config.HomingConfig {
	return config.HomingConfig{Speed: 3500, Accel: 12500, Timeout: 2, Backoff: 0.5, Debounce: 0.005}
}

func newRig(t *testing.T, xSwitchDead bool) *rig {
	t.Helper()
	clock := reactor.NewSimClock(0)
	rg := &rig{r: reactor.New(reactor.WithClock(clock))}
	rg.x = stepdriver.NewSimMotor(0, clock, 2540)
	rg.yl = stepdriver.NewSimMotor(1, clock, 1000)
	rg.yr = stepdriver.NewSimMotor(2, clock, 1200)
	rg.z = stepdriver.NewSimMotor(3, clock, 0)
	rot := stepdriver.NewSimMotor(4, clock, 0)

	sw := func(name string, fn func() (bool, error)) *endstop.Endstop {
		return endstop.New(endstop.EndstopConfig{Name: name, Debounce: 0.005}, endstop.InputFunc(fn), clock)
	}
	xSense := rg.x.HomeSensor(false, 0)
	if xSwitchDead {
		xSense = func() (bool, error) { return false, nil }
	}

	build := func(cfg config.AxisConfig, motors []axis.Motor, switches []axis.Switch) *axis.Axis {
		a, err := axis.New(cfg, motors, switches)
		if err != nil {
			t.Fatalf("axis.New(%s) error = %v", cfg.Name, err)
		}
		return a
	}
	axes := motion.Axes{
		X: build(config.AxisConfig{Name: "x", Channels: []int{0}, StepsPerUnit: 254, PositionMax: 30, Speed: 20000, Accel: 20000},
			[]axis.Motor{rg.x}, []axis.Switch{sw("x", xSense)}),
		Y: build(config.AxisConfig{Name: "y", Channels: []int{1, 2}, StepsPerUnit: 254, PositionMax: 30, Speed: 20000, Accel: 20000},
			[]axis.Motor{rg.yl, rg.yr},
			[]axis.Switch{sw("y_left", rg.yl.HomeSensor(false, 0)), sw("y_right", rg.yr.HomeSensor(false, 0))}),
		Z: build(config.AxisConfig{Name: "z", Channels: []int{3}, StepsPerUnit: 254, PositionMax: 2.75, Speed: 5000, Accel: 13000, HomingPositive: true},
			[]axis.Motor{rg.z}, []axis.Switch{sw("z", rg.z.HomeSensor(true, 300))}),
		Rot: build(config.AxisConfig{Name: "rot", Channels: []int{4}, StepsPerUnit: 4000.0 / 360.0, PositionMax: 3600, Speed: 2000, Accel: 1000},
			[]axis.Motor{rot}, nil),
	}
	rg.exec = motion.New(rg.r, axes)
	rg.seq = New(rg.r, rg.exec, homingConfig())
	return rg
}

func TestHomeAll(t *testing.T) {
	rg := newRig(t, false)
	if rg.seq.AllHomed() {
		t.Fatal("AllHomed() before homing")
	}
	res, err := rg.seq.HomeAll(context.Background())
	if err != nil {
		t.Fatalf("HomeAll() error = %v", err)
	}
	if !rg.seq.AllHomed() {
		t.Error("AllHomed() = false after homing")
	}
	if len(res.Homed) != 4 {
		t.Errorf("Homed = %v, want all four axes", res.Homed)
	}

	p := rg.exec.Position()
	tests := []struct {
		name      string
		got, want float64
	}{
		{"x", p.X, 0.5},
		{"y", p.Y, 0.5},
		{"z", p.Z, 2.25},
		{"rot", p.Rot, 0},
	}
	for _, tt := range tests {
		if math.Abs(tt.got-tt.want) > 0.01 {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	// Both gang motors latched on their own switch, so the skew is gone.
	if d := math.Abs(rg.yl.PhysicalPosition() - rg.yr.PhysicalPosition()); d > 10 {
		t.Errorf("y gang skew after homing = %v steps", d)
	}
	if rg.r.YieldCount("homing") == 0 {
		t.Error("homing never yielded")
	}
}

func TestHomingTimeoutKeepsOtherAxes(t *testing.T) {
	rg := newRig(t, true)
	_, err := rg.seq.HomeAll(context.Background())
	if !errors.Is(err, errors.ErrHomingTimeout) {
		t.Fatalf("HomeAll() error = %v, want %v", err, errors.ErrHomingTimeout)
	}
	axes := errors.TimedOutAxes(err)
	if len(axes) != 1 || axes[0] != "x" {
		t.Errorf("timed out axes = %v, want [x]", axes)
	}
	a := rg.exec.Axes()
	if a.X.Homed() {
		t.Error("x homed without its switch")
	}
	if !a.Y.Homed() || !a.Z.Homed() {
		t.Error("y and z should keep their reference")
	}
	if rg.seq.AllHomed() {
		t.Error("AllHomed() = true after a timeout")
	}
	if rg.exec.Busy() {
		t.Error("axes still running after a timeout")
	}
	if now := rg.r.Monotonic(); now < 2 || now > 2.1 {
		t.Errorf("timeout fired at %v s, want about 2", now)
	}
}

func TestHomingCancelled(t *testing.T) {
	rg := newRig(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	rg.r.RegisterTimer(func(eventtime float64) float64 {
		cancel()
		return reactor.NEVER
	}, 0.2)
	if _, err := rg.seq.HomeAll(ctx); !errors.Is(err, errors.ErrStopped) {
		t.Fatalf("HomeAll() error = %v, want %v", err, errors.ErrStopped)
	}
	if rg.exec.Axes().X.Homed() {
		t.Error("x homed after cancellation")
	}
	if rg.exec.Busy() {
		t.Error("axes still running after cancellation")
	}
}
