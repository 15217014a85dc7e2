// Package endstop provides debounced switch inputs: the home switches of the
// axes and the operator's advance button.
package endstop

import (
	"errors"
	"sync"

	"gantry-go/pkg/reactor"
)

// Common errors
var (
	ErrNoInput = errors.New("endstop: no input attached")
)

// EndstopState represents the current state of an endstop.
type EndstopState int

const (
	StateOpen EndstopState = iota
	StateTriggered
	StateUnknown
)

func (s EndstopState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateTriggered:
		return "triggered"
	default:
		return "unknown"
	}
}

// Input reads the raw electrical level of a switch line.
type Input interface {
	Read() (bool, error)
}

// InputFunc adapts a function to the Input interface.
type InputFunc func() (bool, error)

// Read implements Input.
func (f InputFunc) Read() (bool, error) { return f() }

// Endstop is a single debounced switch. A level change is accepted once it
// has been observed unchanged for the debounce time.
type Endstop struct {
	mu sync.Mutex

	// Configuration
	name     string
	pin      string
	inverted bool
	debounce float64
	input    Input
	clock    reactor.Clock

	// State
	state          EndstopState
	candidate      bool
	candidateSince float64
	haveCandidate  bool
	lastTrigger    float64
	edge           bool
	lastErr        error

	onTrigger func(eventtime float64)
}

// EndstopConfig holds configuration for an endstop.
type EndstopConfig struct {
	Name     string
	Pin      string
	Inverted bool
	Debounce float64 // seconds
}

// DefaultEndstopConfig returns a default endstop configuration.
func DefaultEndstopConfig() EndstopConfig {
	return EndstopConfig{
		Name:     "endstop",
		Debounce: 0.005,
	}
}

// New creates an endstop reading input against clock.
func New(cfg EndstopConfig, input Input, clock reactor.Clock) *Endstop {
	return &Endstop{
		name:     cfg.Name,
		pin:      cfg.Pin,
		inverted: cfg.Inverted,
		debounce: cfg.Debounce,
		input:    input,
		clock:    clock,
		state:    StateUnknown,
	}
}

// SetTriggerCallback sets the callback run on every open->triggered edge.
func (e *Endstop) SetTriggerCallback(fn func(eventtime float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTrigger = fn
}

// Sample reads the input once and advances the debounce filter.
func (e *Endstop) Sample(eventtime float64) (EndstopState, error) {
	e.mu.Lock()
	if e.input == nil {
		e.mu.Unlock()
		return StateUnknown, ErrNoInput
	}
	raw, err := e.input.Read()
	if err != nil {
		e.lastErr = err
		state := e.state
		e.mu.Unlock()
		return state, err
	}
	e.lastErr = nil
	if e.inverted {
		raw = !raw
	}

	var fire func(float64)
	switch {
	case e.state != StateUnknown && raw == (e.state == StateTriggered):
		e.haveCandidate = false
	case !e.haveCandidate || e.candidate != raw:
		e.candidate = raw
		e.candidateSince = eventtime
		e.haveCandidate = true
	}
	if e.haveCandidate && eventtime-e.candidateSince >= e.debounce {
		e.haveCandidate = false
		prev := e.state
		if e.candidate {
			e.state = StateTriggered
			if prev == StateOpen {
				e.edge = true
				e.lastTrigger = eventtime
				fire = e.onTrigger
			}
		} else {
			e.state = StateOpen
		}
	}
	state := e.state
	e.mu.Unlock()

	if fire != nil {
		fire(eventtime)
	}
	return state, nil
}

// Triggered samples the switch now and reports the debounced level. Read
// failures report the last known level.
func (e *Endstop) Triggered() bool {
	state, _ := e.Sample(e.clock.Monotonic())
	return state == StateTriggered
}

// TakeEdge returns true once per accepted open->triggered transition.
func (e *Endstop) TakeEdge() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	edge := e.edge
	e.edge = false
	return edge
}

// GetState returns the last known state.
func (e *Endstop) GetState() EndstopState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Name returns the endstop name.
func (e *Endstop) Name() string {
	return e.name
}

// GetPin returns the pin name.
func (e *Endstop) GetPin() string {
	return e.pin
}

// Status holds endstop status information.
type Status struct {
	Name        string  `json:"name"`
	Pin         string  `json:"pin"`
	State       string  `json:"state"`
	LastTrigger float64 `json:"last_trigger"`
	Error       string  `json:"error,omitempty"`
}

// GetStatus returns the current endstop status.
func (e *Endstop) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Status{
		Name:        e.name,
		Pin:         e.pin,
		State:       e.state.String(),
		LastTrigger: e.lastTrigger,
	}
	if e.lastErr != nil {
		s.Error = e.lastErr.Error()
	}
	return s
}

// Group samples a set of endstops from a reactor timer so that edges are
// latched even when nobody is polling them.
type Group struct {
	mu       sync.Mutex
	name     string
	endstops []*Endstop
	timer    *reactor.Timer
}

// NewGroup creates a new endstop group.
func NewGroup(name string) *Group {
	return &Group{name: name}
}

// Add adds an endstop to the group.
func (g *Group) Add(e *Endstop) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endstops = append(g.endstops, e)
}

// Endstops returns the members of the group.
func (g *Group) Endstops() []*Endstop {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Endstop, len(g.endstops))
	copy(out, g.endstops)
	return out
}

// AnyTriggered returns true if any endstop in the group is triggered.
func (g *Group) AnyTriggered() bool {
	for _, e := range g.Endstops() {
		if e.GetState() == StateTriggered {
			return true
		}
	}
	return false
}

// SampleAll samples every member once.
func (g *Group) SampleAll(eventtime float64) {
	for _, e := range g.Endstops() {
		e.Sample(eventtime)
	}
}

// Attach samples the group every interval seconds on r.
func (g *Group) Attach(r *reactor.Reactor, interval float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		return
	}
	g.timer = r.RegisterTimer(func(eventtime float64) float64 {
		g.SampleAll(eventtime)
		return eventtime + interval
	}, reactor.NOW)
}

// GetStatus returns the status of every member.
func (g *Group) GetStatus() []Status {
	var out []Status
	for _, e := range g.Endstops() {
		out = append(out, e.GetStatus())
	}
	return out
}
