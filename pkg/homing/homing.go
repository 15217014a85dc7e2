// Package homing establishes the machine reference. All switched axes seek
// their home switches at once; each motor of a ganged axis latches on its
// own switch. One timeout bounds the whole pass.
package homing

import (
	"context"
	"strings"

	"gantry-go/pkg/axis"
	"gantry-go/pkg/config"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/log"
	"gantry-go/pkg/motion"
	"gantry-go/pkg/reactor"
)

// Result describes a completed homing pass.
type Result struct {
	Homed    []string
	Skipped  []string
	Duration float64
}

// Sequencer runs homing passes.
type Sequencer struct {
	r    *reactor.Reactor
	exec *motion.Executor
	cfg  config.HomingConfig
	log  *log.Logger
}

// New creates a homing sequencer.
func New(r *reactor.Reactor, exec *motion.Executor, cfg config.HomingConfig) *Sequencer {
	return &Sequencer{r: r, exec: exec, cfg: cfg, log: log.GetLogger("homing")}
}

// Config returns the homing parameters.
func (s *Sequencer) Config() config.HomingConfig { return s.cfg }

// AllHomed reports whether every available axis holds a home reference.
func (s *Sequencer) AllHomed() bool {
	found := false
	for _, a := range s.exec.Axes().All() {
		if !a.Available() {
			continue
		}
		found = true
		if !a.Homed() {
			return false
		}
	}
	return found
}

// HomeAll homes every axis. Switched axes run toward their switches
// together; when the pass times out every axis is halted and the error
// lists the axes still seeking, while axes that latched keep their
// reference. Latched axes then back off the switches and the rotation axis,
// which has no switch, turns to zero.
func (s *Sequencer) HomeAll(ctx context.Context) (Result, error) {
	var res Result
	start := s.r.Monotonic()
	axes := s.exec.Axes()

	var seeking []*axis.Axis
	for _, a := range []*axis.Axis{axes.X, axes.Y, axes.Z} {
		if a == nil {
			continue
		}
		if !a.Available() || !a.HasSwitch() {
			s.log.Warn("axis %s cannot home: no motor or switch", a.Name())
			res.Skipped = append(res.Skipped, a.Name())
			continue
		}
		if err := a.BeginHoming(s.cfg.Speed, s.cfg.Accel); err != nil {
			s.exec.HaltAll()
			return res, err
		}
		seeking = append(seeking, a)
	}
	s.log.Info("homing %d axes", len(seeking))

	latched, err := s.seek(ctx, seeking, start)
	for _, a := range latched {
		res.Homed = append(res.Homed, a.Name())
	}
	for _, a := range latched {
		cfg := a.Config()
		if perr := a.SetProfile(cfg.Speed, cfg.Accel); perr != nil && err == nil {
			err = perr
		}
	}
	if err != nil {
		res.Duration = s.r.Monotonic() - start
		return res, err
	}

	if err := s.backoff(ctx, latched); err != nil {
		res.Duration = s.r.Monotonic() - start
		return res, err
	}

	if rot := axes.Rot; rot != nil && rot.Available() {
		if err := s.exec.RotateTo(ctx, 0, motion.Options{Point: "homing"}); err != nil {
			res.Duration = s.r.Monotonic() - start
			return res, err
		}
		rot.MarkHomed()
		res.Homed = append(res.Homed, rot.Name())
	}

	res.Duration = s.r.Monotonic() - start
	s.log.Info("homing complete in %.2fs: %s", res.Duration, strings.Join(res.Homed, ","))
	return res, nil
}

// seek polls the switches until every seeking axis latched, the timeout
// passes, or ctx is cancelled. It returns the axes that latched.
func (s *Sequencer) seek(ctx context.Context, seeking []*axis.Axis, start float64) ([]*axis.Axis, error) {
	done := make([]bool, len(seeking))
	for {
		remaining := 0
		for i, a := range seeking {
			if done[i] {
				continue
			}
			ok, err := a.PollHoming()
			if err != nil {
				s.exec.HaltAll()
				return latchedOf(seeking, done), err
			}
			if ok {
				done[i] = true
				continue
			}
			remaining++
		}
		if remaining == 0 {
			return seeking, nil
		}
		if ctx.Err() != nil {
			s.exec.HaltAll()
			return latchedOf(seeking, done), errors.Stopped("Home")
		}
		if s.cfg.Timeout > 0 && s.r.Monotonic()-start > s.cfg.Timeout {
			s.exec.HaltAll()
			var pending []string
			for i, a := range seeking {
				if !done[i] {
					pending = append(pending, a.Name())
					s.log.Error("axis %s never reached switches %v", a.Name(), a.Pending())
				}
			}
			return latchedOf(seeking, done), errors.HomingTimeout(pending)
		}
		s.r.Yield("homing")
	}
}

func latchedOf(seeking []*axis.Axis, done []bool) []*axis.Axis {
	var out []*axis.Axis
	for i, a := range seeking {
		if done[i] {
			out = append(out, a)
		}
	}
	return out
}

// backoff moves latched axes off their switches, Z first.
func (s *Sequencer) backoff(ctx context.Context, latched []*axis.Axis) error {
	if s.cfg.Backoff <= 0 || len(latched) == 0 {
		return nil
	}
	axes := s.exec.Axes()
	var t motion.Target
	for _, a := range latched {
		v := a.BackoffTarget(s.cfg.Backoff)
		switch a {
		case axes.X:
			t.X = motion.F(v)
		case axes.Y:
			t.Y = motion.F(v)
		case axes.Z:
			t.Z = motion.F(v)
		}
	}
	return s.exec.MoveTo(ctx, t, motion.Options{Point: "homing", ClampZ: true})
}
