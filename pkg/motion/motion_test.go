package motion

import (
	"context"
	"testing"

	"gantry-go/pkg/axis"
	"gantry-go/pkg/config"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/reactor"
	"gantry-go/pkg/stepdriver"
)

// orderMotor records which axis was commanded and whether Z was still
// moving at that moment.
type orderMotor struct {
	*stepdriver.SimMotor
	name  string
	trace *[]string
	z     *stepdriver.SimMotor
}

func (m *orderMotor) MoveTo(target int64) error {
	entry := m.name
	if m.z != nil && m.z.IsRunning() {
		entry += "(z running)"
	}
	*m.trace = append(*m.trace, entry)
	return m.SimMotor.MoveTo(target)
}

type rig struct {
	r       *reactor.Reactor
	exec    *Executor
	x, y, z *stepdriver.SimMotor
	trace   []string
}

func axisConfig(name string, max, speed float64) config.AxisConfig {
	return config.AxisConfig{
		Name:         name,
		Channels:     []int{0},
		StepsPerUnit: 254,
		PositionMax:  max,
		Speed:        speed,
		Accel:        speed,
	}
}

func newRig(t *testing.T) *rig {
	t.Helper()
	clock := reactor.NewSimClock(0)
	rg := &rig{r: reactor.New(reactor.WithClock(clock))}
	rg.x = stepdriver.NewSimMotor(0, clock, 0)
	rg.y = stepdriver.NewSimMotor(1, clock, 0)
	rg.z = stepdriver.NewSimMotor(3, clock, 0)

	build := func(cfg config.AxisConfig, m axis.Motor) *axis.Axis {
		a, err := axis.New(cfg, []axis.Motor{m}, nil)
		if err != nil {
			t.Fatalf("axis.New(%s) error = %v", cfg.Name, err)
		}
		return a
	}
	rg.exec = New(rg.r, Axes{
		X: build(axisConfig("x", 30, 20000), &orderMotor{SimMotor: rg.x, name: "x", trace: &rg.trace, z: rg.z}),
		Y: build(axisConfig("y", 30, 20000), &orderMotor{SimMotor: rg.y, name: "y", trace: &rg.trace, z: rg.z}),
		Z: build(axisConfig("z", 2.75, 5000), &orderMotor{SimMotor: rg.z, name: "z", trace: &rg.trace}),
	})
	return rg
}

func TestZCompletesBeforeXY(t *testing.T) {
	rg := newRig(t)
	if err := rg.exec.MoveTo(context.Background(), XYZ(10, 5, 2), Options{}); err != nil {
		t.Fatalf("MoveTo() error = %v", err)
	}
	want := []string{"z", "x", "y"}
	if len(rg.trace) != len(want) {
		t.Fatalf("command trace = %v, want %v", rg.trace, want)
	}
	for i := range want {
		if rg.trace[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, rg.trace[i], want[i])
		}
	}
	p := rg.exec.Position()
	if p.X != 10 || p.Y != 5 || p.Z != 2 {
		t.Errorf("Position() = %+v, want x=10 y=5 z=2", p)
	}
	if rg.r.YieldCount("move") == 0 {
		t.Error("MoveTo() never yielded")
	}
}

func TestOutOfBoundsRejectedBeforeMotion(t *testing.T) {
	rg := newRig(t)
	tests := []struct {
		name   string
		target Target
	}{
		{"x above travel", XYZ(31, 5, 1)},
		{"y below travel", XY(1, -0.5)},
		{"z above travel", ZOnly(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rg.exec.MoveTo(context.Background(), tt.target, Options{})
			if !errors.Is(err, errors.ErrInvalidParameter) {
				t.Errorf("MoveTo() error = %v, want %v", err, errors.ErrInvalidParameter)
			}
		})
	}
	if len(rg.trace) != 0 {
		t.Errorf("motors commanded after rejected moves: %v", rg.trace)
	}
}

func TestNoOpMoveEmitsNothing(t *testing.T) {
	rg := newRig(t)
	starts := 0
	rg.exec.OnMoveStarted(func(Target) { starts++ })

	ctx := context.Background()
	if err := rg.exec.MoveTo(ctx, XY(4, 4), Options{}); err != nil {
		t.Fatalf("MoveTo() error = %v", err)
	}
	if err := rg.exec.MoveTo(ctx, XY(4, 4), Options{}); err != nil {
		t.Fatalf("repeated MoveTo() error = %v", err)
	}
	if starts != 1 {
		t.Errorf("move started events = %d, want 1", starts)
	}
	if len(rg.trace) != 2 {
		t.Errorf("command trace = %v, want one command per axis", rg.trace)
	}
}

func TestClampZ(t *testing.T) {
	rg := newRig(t)
	if err := rg.exec.MoveTo(context.Background(), ZOnly(9), Options{ClampZ: true}); err != nil {
		t.Fatalf("MoveTo() error = %v", err)
	}
	if got := rg.exec.Position().Z; got < 2.74 || got > 2.76 {
		t.Errorf("Z = %v, want 2.75", got)
	}
}

func TestMoveTimeoutHalts(t *testing.T) {
	rg := newRig(t)
	rg.x.SetStalled(true)
	err := rg.exec.MoveTo(context.Background(), XY(10, 0), Options{Timeout: 0.05})
	if !errors.Is(err, errors.ErrMoveTimeout) {
		t.Fatalf("MoveTo() error = %v, want %v", err, errors.ErrMoveTimeout)
	}
	if rg.exec.Busy() {
		t.Error("axes still running after timeout")
	}
}

func TestCancelStopsMove(t *testing.T) {
	rg := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	rg.r.RegisterTimer(func(eventtime float64) float64 {
		cancel()
		return reactor.NEVER
	}, 0.01)

	err := rg.exec.MoveTo(ctx, XY(25, 25), Options{})
	if !errors.Is(err, errors.ErrStopped) {
		t.Fatalf("MoveTo() error = %v, want %v", err, errors.ErrStopped)
	}
	if rg.exec.Busy() {
		t.Error("axes still running after cancellation")
	}
	if x := rg.exec.Position().X; x <= 0 || x >= 25 {
		t.Errorf("X = %v, want a point part way along the move", x)
	}
}

func TestAsyncReturnsWhileMoving(t *testing.T) {
	rg := newRig(t)
	if err := rg.exec.MoveTo(context.Background(), XY(20, 0), Options{Async: true}); err != nil {
		t.Fatalf("MoveTo() error = %v", err)
	}
	if !rg.exec.Busy() {
		t.Fatal("async move finished immediately")
	}
	if err := rg.exec.Wait(context.Background(), "move", 0, rg.exec.Axes().All()...); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if rg.exec.Position().X != 20 {
		t.Errorf("X = %v, want 20", rg.exec.Position().X)
	}
}

func TestDwell(t *testing.T) {
	rg := newRig(t)
	start := rg.r.Monotonic()
	if err := rg.exec.Dwell(context.Background(), 0.5, ""); err != nil {
		t.Fatalf("Dwell() error = %v", err)
	}
	if elapsed := rg.r.Monotonic() - start; elapsed < 0.5 {
		t.Errorf("Dwell() returned after %v s", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rg.exec.Dwell(ctx, 1, ""); !errors.Is(err, errors.ErrStopped) {
		t.Errorf("cancelled Dwell() error = %v, want %v", err, errors.ErrStopped)
	}
}

func TestUnavailableAxis(t *testing.T) {
	rg := newRig(t)
	if err := rg.exec.RotateTo(context.Background(), 90, Options{}); !errors.Is(err, errors.ErrHardwareUnavailable) {
		t.Errorf("RotateTo() error = %v, want %v", err, errors.ErrHardwareUnavailable)
	}
}
