package paint

import (
	"context"
	"math"
	"reflect"
	"testing"

	"gantry-go/pkg/axis"
	"gantry-go/pkg/config"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/iolink"
	"gantry-go/pkg/motion"
	"gantry-go/pkg/reactor"
	"gantry-go/pkg/stepdriver"
	"gantry-go/pkg/tool"
)

type watchPin struct {
	iolink.MemPin
	onSet func(on bool)
}

func (w *watchPin) Set(on bool) error {
	if w.onSet != nil {
		w.onSet(on)
	}
	return w.MemPin.Set(on)
}

type runRig struct {
	runner *Runner
	exec   *motion.Executor
	gun    *watchPin
	pot    *iolink.MemPin
	servo  []int
	job    Job
}

func newRunRig(t *testing.T, withRot bool) *runRig {
	t.Helper()
	clock := reactor.NewSimClock(0)
	r := reactor.New(reactor.WithClock(clock))
	build := func(cfg config.AxisConfig, ch int) *axis.Axis {
		cfg.Channels = []int{ch}
		cfg.Accel = cfg.Speed
		a, err := axis.New(cfg, []axis.Motor{stepdriver.NewSimMotor(ch, clock, 0)}, nil)
		if err != nil {
			t.Fatalf("axis.New(%s) error = %v", cfg.Name, err)
		}
		return a
	}
	axes := motion.Axes{
		X: build(config.AxisConfig{Name: "x", StepsPerUnit: 254, PositionMax: 30, Speed: 20000}, 0),
		Y: build(config.AxisConfig{Name: "y", StepsPerUnit: 254, PositionMax: 30, Speed: 20000}, 1),
		Z: build(config.AxisConfig{Name: "z", StepsPerUnit: 254, PositionMax: 2.75, Speed: 5000, HomingPositive: true}, 3),
	}
	if withRot {
		axes.Rot = build(config.AxisConfig{Name: "rot", StepsPerUnit: 4000.0 / 360, PositionMax: 360, Speed: 20000}, 4)
	}
	rg := &runRig{exec: motion.New(r, axes), gun: &watchPin{}, pot: &iolink.MemPin{}}
	pitch := tool.NewPitchServo(tool.ServoFunc(func(ch, deg int) error {
		rg.servo = append(rg.servo, deg)
		return nil
	}), 0, 150, 180)
	rg.runner = NewRunner(rg.exec, tool.NewPaintGun(rg.gun, rg.pot), pitch, paintConfig())

	prof := Profile{ZHeight: 1, Pitch: 165, Pattern: Vertical, Speed: 20000}
	rg.job = Job{
		Profiles:   [4]Profile{prof, prof, prof, prof},
		Grid:       gridOf(t, 4, 5),
		Frame:      testFrame(),
		Accel:      20000,
		CleanSpeed: 20000,
		CleanAccel: 20000,
	}
	return rg
}

func TestPaintSide(t *testing.T) {
	rg := newRunRig(t, true)
	rg.job.Profiles[1].Pitch = 120
	rg.job.Profiles[1].Speed = 50000

	var moves int
	rg.exec.OnMoveStarted(func(motion.Target) { moves++ })
	path, err := rg.runner.PaintSide(context.Background(), 1, rg.job)
	if err != nil {
		t.Fatalf("PaintSide() error = %v", err)
	}
	if path.Profile.Speed != 20000 {
		t.Errorf("speed = %v, want clamped to 20000", path.Profile.Speed)
	}
	if got := rg.servo[len(rg.servo)-1]; got != 150 {
		t.Errorf("pitch = %d, want clamped to 150", got)
	}
	pos := rg.exec.Position()
	end := path.Segments[len(path.Segments)-1].To
	if math.Abs(pos.X-end.X) > 0.01 || math.Abs(pos.Y-end.Y) > 0.01 || math.Abs(pos.Z-1) > 0.01 {
		t.Errorf("position = %+v, want path end %v", pos, end)
	}
	if math.Abs(pos.Rot-90) > 0.1 {
		t.Errorf("rot = %v, want 90", pos.Rot)
	}
	if rg.gun.State() {
		t.Error("gun left open after the side")
	}
	if !rg.pot.State() {
		t.Error("pot depressurized between sides")
	}
	// One open per column sweep.
	opens := 0
	for _, on := range rg.gun.Writes() {
		if on {
			opens++
		}
	}
	if opens != 4 {
		t.Errorf("gun opened %d times, want 4", opens)
	}
	if moves < len(path.Segments) {
		t.Errorf("move events = %d, want at least %d", moves, len(path.Segments))
	}
}

func TestPaintSideRejectsOutOfTravel(t *testing.T) {
	rg := newRunRig(t, true)
	rg.job.Profiles[0].ZHeight = 5
	_, err := rg.runner.PaintSide(context.Background(), 0, rg.job)
	if !errors.Is(err, errors.ErrInvalidParameter) {
		t.Fatalf("PaintSide() error = %v, want %v", err, errors.ErrInvalidParameter)
	}
	if p := rg.exec.Position(); p.X != 0 || p.Y != 0 || p.Z != 0 {
		t.Errorf("machine moved to %+v", p)
	}
	if len(rg.gun.Writes()) != 0 {
		t.Error("gun actuated for a rejected path")
	}
}

func TestPaintSideStopped(t *testing.T) {
	rg := newRunRig(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	rg.runner.OnSideDone(func(int, Path) { t.Error("side reported done after stop") })
	rg.exec.OnMoveStarted(func(tg motion.Target) {
		if tg.Y != nil && tg.X != nil && rg.gun.State() {
			cancel()
		}
	})
	_, err := rg.runner.PaintSide(ctx, 0, rg.job)
	if !errors.Is(err, errors.ErrStopped) {
		t.Fatalf("PaintSide() error = %v, want %v", err, errors.ErrStopped)
	}
	if rg.gun.State() || rg.pot.State() {
		t.Error("gun or pot left on after stop")
	}
}

func TestPaintAll(t *testing.T) {
	rg := newRunRig(t, true)
	var order []int
	rg.runner.OnSideDone(func(side int, _ Path) { order = append(order, side) })
	if err := rg.runner.PaintAll(context.Background(), rg.job); err != nil {
		t.Fatalf("PaintAll() error = %v", err)
	}
	if !reflect.DeepEqual(order, PaintAllOrder) {
		t.Errorf("order = %v, want %v", order, PaintAllOrder)
	}
	p := rg.exec.Position()
	if math.Abs(p.X) > 0.01 || math.Abs(p.Y) > 0.01 || math.Abs(p.Z-2.75) > 0.01 || math.Abs(p.Rot) > 0.1 {
		t.Errorf("parked at %+v, want 0,0 z 2.75 rot 0", p)
	}
	if rg.gun.State() || rg.pot.State() {
		t.Error("gun or pot on after PaintAll")
	}
}

func TestPaintWithoutRotation(t *testing.T) {
	rg := newRunRig(t, false)
	if _, err := rg.runner.PaintSide(context.Background(), 2, rg.job); err != nil {
		t.Errorf("PaintSide() without rotation error = %v", err)
	}
}

func TestCleanGun(t *testing.T) {
	rg := newRunRig(t, true)
	var sawStation bool
	rg.gun.onSet = func(on bool) {
		p := rg.exec.Position()
		if on && math.Abs(p.X-3) < 0.01 && math.Abs(p.Y-10) < 0.01 {
			sawStation = true
		}
	}
	if err := rg.runner.CleanGun(context.Background(), rg.job); err != nil {
		t.Fatalf("CleanGun() error = %v", err)
	}
	if !sawStation {
		t.Error("gun was not open at the cleaning station")
	}
	if rg.gun.State() || rg.pot.State() {
		t.Error("gun left on after cleaning")
	}
	if rg.servo[0] != 180 {
		t.Errorf("pitch = %v, want rest at 180", rg.servo)
	}
	if p := rg.exec.Position(); math.Abs(p.X) > 0.01 || math.Abs(p.Y) > 0.01 {
		t.Errorf("position = %+v, want origin", p)
	}
}
