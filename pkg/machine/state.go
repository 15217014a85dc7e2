package machine

import (
	"gantry-go/pkg/grid"
	"gantry-go/pkg/motion"
	"gantry-go/pkg/pickplace"
	"gantry-go/pkg/safety"
	"gantry-go/pkg/settings"
)

// Mode is the operating context. Exactly one is active.
type Mode int

const (
	ModeIdle Mode = iota
	ModePickPlace
	ModeCalibration
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "Idle"
	case ModePickPlace:
		return "PickPlace"
	case ModeCalibration:
		return "Calibration"
	}
	return "Unknown"
}

// Activity is the transient busy state, orthogonal to Mode.
type Activity int

const (
	ActivityIdle Activity = iota
	ActivityHoming
	ActivityMoving
)

func (a Activity) String() string {
	switch a {
	case ActivityIdle:
		return "Idle"
	case ActivityHoming:
		return "Homing"
	case ActivityMoving:
		return "Moving"
	}
	return "Unknown"
}

// State is a snapshot of the machine state.
type State struct {
	Mode     Mode
	Activity Activity
	Homed    bool
}

// Status is the kind of a status event.
type Status string

const (
	StatusReady             Status = "Ready"
	StatusBusy              Status = "Busy"
	StatusHoming            Status = "Homing"
	StatusMoving            Status = "Moving"
	StatusPickPlaceReady    Status = "PickPlaceReady"
	StatusPickPlaceComplete Status = "PickPlaceComplete"
	StatusCalibrationActive Status = "CalibrationActive"
	StatusError             Status = "Error"
)

// Snapshot is the settings part of a status event.
type Snapshot struct {
	settings.Settings
	Grid grid.Config `json:"grid"`
}

// Event is a status event.
type Event struct {
	Status   Status                `json:"status"`
	Message  string                `json:"message"`
	Homed    bool                  `json:"homed"`
	Mode     string                `json:"mode"`
	Activity string                `json:"activity"`
	Code     string                `json:"code,omitempty"`
	Settings *Snapshot             `json:"settings,omitempty"`
	Position *motion.Position      `json:"position,omitempty"`
	PnP      *pickplace.StepResult `json:"pnp,omitempty"`
	Safety   *safety.Status        `json:"safety,omitempty"`
}

// Notifier receives status events. Notify runs on the reactor goroutine and
// must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify implements Notifier.
func (f NotifierFunc) Notify(e Event) { f(e) }

// Button is the physical advance button.
type Button interface {
	TakeEdge() bool
}
