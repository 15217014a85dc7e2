// Package reactor provides the cooperative scheduling loop that owns all
// machine state. A single goroutine runs the loop; blocking operations
// (homing, moves, dwells) call Yield at named points so that timers, loop
// hooks and commands posted from other goroutines keep being serviced.
package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Constants
const (
	NOW   = 0.0
	NEVER = 9999999999999999.0

	// DefaultTick is the sleep between two scheduler passes, in seconds.
	DefaultTick = 0.001
)

// Common errors
var (
	ErrReactorClosed = errors.New("reactor: reactor closed")
	ErrQueueFull     = errors.New("reactor: async queue full")
)

// Clock is the time source of a reactor.
type Clock interface {
	// Monotonic returns the current time in seconds.
	Monotonic() float64
	// Sleep blocks (or advances simulated time) for d seconds.
	Sleep(d float64)
}

type wallClock struct {
	start time.Time
}

func (c *wallClock) Monotonic() float64 {
	return time.Since(c.start).Seconds()
}

func (c *wallClock) Sleep(d float64) {
	if d > 0 {
		time.Sleep(time.Duration(d * float64(time.Second)))
	}
}

// SimClock is a deterministic clock for tests and simulation. Sleep advances
// the simulated time instead of blocking.
type SimClock struct {
	mu  sync.Mutex
	now float64
}

// NewSimClock returns a simulated clock starting at start seconds.
func NewSimClock(start float64) *SimClock {
	return &SimClock{now: start}
}

func (c *SimClock) Monotonic() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *SimClock) Sleep(d float64) {
	c.Advance(d)
}

// Advance moves the simulated time forward by d seconds.
func (c *SimClock) Advance(d float64) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// TimerCallback is called when a timer fires.
// The callback receives the event time and returns the next wake time.
// Return NEVER to park the timer.
type TimerCallback func(eventtime float64) float64

// Timer represents a registered timer.
type Timer struct {
	id        uint64
	callback  TimerCallback
	waketime  float64
	isRunning bool
}

// Waketime returns the timer's current wake time.
func (t *Timer) Waketime() float64 {
	return t.waketime
}

// Hook runs once per scheduler pass.
type Hook func(eventtime float64)

type namedHook struct {
	name string
	fn   Hook
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(r *Reactor) { r.clock = c }
}

// WithTick sets the sleep between scheduler passes, in seconds.
func WithTick(tick float64) Option {
	return func(r *Reactor) {
		if tick > 0 {
			r.tick = tick
		}
	}
}

// Reactor manages timers, loop hooks and the async callback queue.
// Everything except RegisterAsyncCallback, End and YieldCount must be called
// from the loop goroutine.
type Reactor struct {
	clock       Clock
	tick        float64
	timers      []*Timer
	nextTimerID uint64
	nextWake    float64
	hooks       []namedHook
	hookDepth   int

	// Commands posted from other goroutines
	asyncQueue chan func(eventtime float64)

	statsMu sync.Mutex
	yields  map[string]uint64

	running atomic.Bool
	closed  atomic.Bool
}

// New creates a new Reactor.
func New(opts ...Option) *Reactor {
	r := &Reactor{
		clock:      &wallClock{start: time.Now()},
		tick:       DefaultTick,
		timers:     make([]*Timer, 0),
		nextWake:   NEVER,
		asyncQueue: make(chan func(eventtime float64), 1000),
		yields:     make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Monotonic returns the current monotonic time in seconds.
func (r *Reactor) Monotonic() float64 {
	return r.clock.Monotonic()
}

// Clock returns the reactor's time source.
func (r *Reactor) Clock() Clock {
	return r.clock
}

// RegisterTimer registers a new timer with the given callback and wake time.
func (r *Reactor) RegisterTimer(callback TimerCallback, waketime float64) *Timer {
	r.nextTimerID++
	timer := &Timer{
		id:       r.nextTimerID,
		callback: callback,
		waketime: waketime,
	}
	r.timers = append(r.timers, timer)
	if waketime < r.nextWake {
		r.nextWake = waketime
	}
	return timer
}

// UnregisterTimer removes a timer.
func (r *Reactor) UnregisterTimer(timer *Timer) {
	timer.waketime = NEVER
	for i, t := range r.timers {
		if t.id == timer.id {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			break
		}
	}
}

// UpdateTimer updates a timer's wake time.
func (r *Reactor) UpdateTimer(timer *Timer, waketime float64) {
	if timer.isRunning {
		return
	}
	timer.waketime = waketime
	if waketime < r.nextWake {
		r.nextWake = waketime
	}
}

// RegisterHook adds a function that runs on every scheduler pass. Hooks are
// not re-entered: yields made from inside a hook skip the hook list.
func (r *Reactor) RegisterHook(name string, fn Hook) {
	r.hooks = append(r.hooks, namedHook{name: name, fn: fn})
}

// RegisterAsyncCallback queues fn to run on the loop goroutine at the next
// yield point. Safe to call from any goroutine.
func (r *Reactor) RegisterAsyncCallback(fn func(eventtime float64)) error {
	if r.closed.Load() {
		return ErrReactorClosed
	}
	select {
	case r.asyncQueue <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Yield runs one scheduler pass at the named suspension point: it drains the
// async queue, fires due timers, runs loop hooks and sleeps one tick.
// It returns the time after the pass.
func (r *Reactor) Yield(point string) float64 {
	r.statsMu.Lock()
	r.yields[point]++
	r.statsMu.Unlock()

	eventtime := r.clock.Monotonic()
	r.processAsyncCallbacks(eventtime)
	r.checkTimers(eventtime)
	if r.hookDepth == 0 {
		r.hookDepth++
		for _, h := range r.hooks {
			h.fn(eventtime)
		}
		r.hookDepth--
	}
	r.clock.Sleep(r.tick)
	return r.clock.Monotonic()
}

// YieldCount returns how many passes were made at point.
func (r *Reactor) YieldCount(point string) uint64 {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.yields[point]
}

// Pause yields at point until waketime is reached. It returns false as soon
// as abort reports true.
func (r *Reactor) Pause(point string, waketime float64, abort func() bool) bool {
	for r.clock.Monotonic() < waketime {
		r.Yield(point)
		if abort != nil && abort() {
			return false
		}
	}
	return true
}

// Run drives the idle loop until ctx is done or End is called.
func (r *Reactor) Run(ctx context.Context) error {
	if r.running.Swap(true) {
		return nil
	}
	defer r.running.Store(false)
	for !r.closed.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		r.Yield("idle")
	}
	return nil
}

// End signals the reactor to stop after the current pass.
func (r *Reactor) End() {
	r.closed.Store(true)
}

// Closed reports whether End was called.
func (r *Reactor) Closed() bool {
	return r.closed.Load()
}

// processAsyncCallbacks runs pending async callbacks.
func (r *Reactor) processAsyncCallbacks(eventtime float64) {
	for {
		select {
		case fn := <-r.asyncQueue:
			fn(eventtime)
		default:
			return
		}
	}
}

// checkTimers fires due timers.
func (r *Reactor) checkTimers(eventtime float64) {
	if eventtime < r.nextWake {
		return
	}
	timers := make([]*Timer, len(r.timers))
	copy(timers, r.timers)

	r.nextWake = NEVER
	for _, timer := range timers {
		if eventtime >= timer.waketime {
			timer.waketime = NEVER
			timer.isRunning = true
			newWaketime := timer.callback(eventtime)
			timer.isRunning = false
			if newWaketime < timer.waketime {
				timer.waketime = newWaketime
			}
		}
		if timer.waketime < r.nextWake {
			r.nextWake = timer.waketime
		}
	}
}
