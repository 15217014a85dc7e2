package paint

import (
	"context"

	uuid "github.com/satori/go.uuid"

	"gantry-go/pkg/config"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/grid"
	"gantry-go/pkg/log"
	"gantry-go/pkg/motion"
	"gantry-go/pkg/tool"
)

// PaintAllOrder is the side order of a full paint run.
var PaintAllOrder = []int{0, 2, 3, 1}

// Job carries the operator settings for painting.
type Job struct {
	Profiles [4]Profile
	Grid     grid.Config
	Frame    Frame
	// Accel applies to X and Y sweeps; Z moves use ZProfile.
	Accel    float64
	ZProfile motion.Profile
	// CleanSpeed and CleanAccel drive the gun cleaning move before halving.
	CleanSpeed float64
	CleanAccel float64
}

// Runner executes paint paths on the machine.
type Runner struct {
	exec  *motion.Executor
	gun   *tool.PaintGun
	pitch *tool.PitchServo
	gen   *Generator
	cfg   config.PaintConfig
	log   *log.Logger

	sideDone []func(side int, p Path)
}

// NewRunner creates a runner.
func NewRunner(exec *motion.Executor, gun *tool.PaintGun, pitch *tool.PitchServo, cfg config.PaintConfig) *Runner {
	return &Runner{
		exec:  exec,
		gun:   gun,
		pitch: pitch,
		gen:   NewGenerator(cfg),
		cfg:   cfg,
		log:   log.GetLogger("paint"),
	}
}

// Generator returns the path generator.
func (r *Runner) Generator() *Generator { return r.gen }

// OnSideDone registers fn to run after each painted side.
func (r *Runner) OnSideDone(fn func(side int, p Path)) {
	r.sideDone = append(r.sideDone, fn)
}

// checkTravel rejects a path that leaves the axis travel.
func (r *Runner) checkTravel(p Path) error {
	axes := r.exec.Axes()
	if axes.Z != nil {
		if err := axes.Z.CheckBounds(p.Profile.ZHeight); err != nil {
			return err
		}
	}
	for _, w := range p.Waypoints() {
		if axes.X != nil {
			if err := axes.X.CheckBounds(w.X); err != nil {
				return err
			}
		}
		if axes.Y != nil {
			if err := axes.Y.CheckBounds(w.Y); err != nil {
				return err
			}
		}
	}
	return nil
}

// PaintSide paints one side: rotate the part to the side's angle, set the
// gun pitch, lower Z, position at the start with the gun closed and run the
// segments. The gun is always shut afterwards.
func (r *Runner) PaintSide(ctx context.Context, side int, job Job) (Path, error) {
	if side < 0 || side >= len(job.Profiles) {
		return Path{}, errors.InvalidParameter("side", "must be 0-3")
	}
	if !r.gun.Available() {
		return Path{}, errors.HardwareUnavailable("paint gun")
	}
	prof := job.Profiles[side]
	prof.Speed = r.gen.ClampSpeed(prof.Speed)
	path, err := r.gen.GeneratePath(side, prof, job.Grid, job.Frame)
	if err != nil {
		return Path{}, err
	}
	if err := r.checkTravel(path); err != nil {
		return Path{}, err
	}

	run := uuid.NewV4().String()
	entry := r.log.WithFields(log.Fields{"run": run, "side": path.Name})
	entry.Infof("painting %s side, %s layout, %d segments, %.2f spray length",
		path.Name, path.Layout, len(path.Segments), path.SprayLength())

	err = r.runPath(ctx, path, job)
	if gerr := r.gun.Close(); err == nil {
		err = gerr
	}
	if err != nil {
		r.gun.Off()
		entry.WithError(err).Error("paint side aborted")
		return path, err
	}
	for _, fn := range r.sideDone {
		fn(side, path)
	}
	return path, nil
}

func (r *Runner) runPath(ctx context.Context, path Path, job Job) error {
	opts := motion.Options{
		XY:    motion.Profile{Speed: path.Profile.Speed, Accel: job.Accel},
		Z:     job.ZProfile,
		Point: "paint",
	}
	if err := r.rotate(ctx, path.Angle); err != nil {
		return err
	}
	if r.pitch != nil {
		if _, err := r.pitch.Set(path.Profile.Pitch); err != nil {
			return err
		}
	}
	if err := r.exec.MoveTo(ctx, motion.ZOnly(path.Profile.ZHeight), opts); err != nil {
		return err
	}
	if err := r.gun.UpdateForSegment(false); err != nil {
		return err
	}
	if err := r.exec.MoveTo(ctx, motion.XY(path.Start.X, path.Start.Y), opts); err != nil {
		return err
	}
	for _, s := range path.Segments {
		if err := r.gun.UpdateForSegment(s.Spray); err != nil {
			return err
		}
		if err := r.exec.MoveTo(ctx, motion.XY(s.To.X, s.To.Y), opts); err != nil {
			return err
		}
	}
	return nil
}

// park shuts the gun, raises Z to its home and returns XY and rotation to
// zero.
func (r *Runner) park(ctx context.Context, job Job) error {
	if err := r.gun.Off(); err != nil {
		return err
	}
	t := motion.XY(0, 0)
	if z := r.exec.Axes().Z; z != nil && z.Available() {
		t.Z = motion.F(z.HomePosition())
	}
	opts := motion.Options{Z: job.ZProfile, Point: "paint"}
	if err := r.exec.MoveTo(ctx, t, opts); err != nil {
		return err
	}
	return r.rotate(ctx, 0)
}

// rotate turns the part with the rotation axis' own profile. Machines
// without a rotation axis paint in place.
func (r *Runner) rotate(ctx context.Context, deg float64) error {
	rot := r.exec.Axes().Rot
	if rot == nil || !rot.Available() {
		r.log.Warn("no rotation axis, skipping rotation to %.0f", deg)
		return nil
	}
	return r.exec.RotateTo(ctx, deg, motion.Options{Point: "paint"})
}

// PaintAll paints every side in PaintAllOrder and parks the machine.
func (r *Runner) PaintAll(ctx context.Context, job Job) error {
	for _, side := range PaintAllOrder {
		if _, err := r.PaintSide(ctx, side, job); err != nil {
			return err
		}
	}
	return r.park(ctx, job)
}

// CleanGun flushes the gun at the cleaning station: pitch to rest, rotation
// to zero, move at half speed to the station, spray, shut off and return to
// the origin.
func (r *Runner) CleanGun(ctx context.Context, job Job) error {
	if !r.gun.Available() {
		return errors.HardwareUnavailable("paint gun")
	}
	err := r.clean(ctx, job)
	if offErr := r.gun.Off(); err == nil {
		err = offErr
	}
	if err != nil {
		return err
	}
	return r.exec.MoveTo(ctx, motion.XY(0, 0), motion.Options{Point: "paint"})
}

func (r *Runner) clean(ctx context.Context, job Job) error {
	if r.pitch != nil {
		if err := r.pitch.Init(); err != nil {
			return err
		}
	}
	opts := motion.Options{
		XY:    motion.Profile{Speed: job.CleanSpeed / 2, Accel: job.CleanAccel / 2},
		Point: "paint",
	}
	if err := r.rotate(ctx, 0); err != nil {
		return err
	}
	if err := r.exec.MoveTo(ctx, motion.XY(r.cfg.CleanX, r.cfg.CleanY), opts); err != nil {
		return err
	}
	if err := r.gun.On(); err != nil {
		return err
	}
	return r.exec.Dwell(ctx, r.cfg.CleanTime, "paint")
}
