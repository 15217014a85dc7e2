package machine

import "gantry-go/pkg/motion"

// Kind identifies an intent.
type Kind int

const (
	KindHome Kind = iota
	KindStop
	KindReset
	KindGetStatus
	KindEnterPickPlace
	KindExitPickPlace
	KindPnPNext
	KindPnPSkip
	KindPnPBack
	KindEnterCalibration
	KindExitCalibration
	KindMove
	KindMoveXY
	KindJog
	KindRotate
	KindSetRotZero
	KindPaintSide
	KindPaintAll
	KindCleanGun
	KindSetServoPitch
	KindSetPnPOffset
	KindSetPnPOffsetFromCurrent
	KindSetFirstPlace
	KindSetFirstPlaceFromCurrent
	KindSetGrid
	KindSetTraySize
	KindSetPnPSpeeds
	KindSetGunOffset
	KindSetSideSettings
)

// Intent is a request to the state machine. Only the fields used by its
// Kind are read.
type Intent struct {
	Kind Kind

	Target motion.Target
	Axis   string
	X, Y   float64
	Value  float64

	Side    int
	Z       float64
	Pitch   int
	Pattern int
	Speed   float64

	Cols, Rows  int
	RequestHome bool
}

func (in Intent) String() string {
	if g, ok := guards[in.Kind]; ok {
		return g.name
	}
	return "unknown"
}

// guard is one row of the guard table. Checks run in the order busy,
// homed, modes.
type guard struct {
	name string
	op   string
	// busy rejects the intent while Activity is not Idle.
	busy  bool
	homed bool
	// modes lists the modes the intent is allowed in; nil allows all.
	modes []Mode
	// activity is held while the intent runs. Idle intents complete
	// without yielding.
	activity Activity
}

var (
	idleOnly     = []Mode{ModeIdle}
	notPickPlace = []Mode{ModeIdle, ModeCalibration}
	pickPlace    = []Mode{ModePickPlace}
	calibration  = []Mode{ModeCalibration}
)

var guards = map[Kind]guard{
	KindHome:      {name: "home", op: "home", busy: true, activity: ActivityHoming},
	KindStop:      {name: "stop", op: "stop"},
	KindReset:     {name: "reset", op: "reset", busy: true},
	KindGetStatus: {name: "get_status", op: "report status"},

	KindEnterPickPlace: {name: "enter_pickplace", op: "enter Pick/Place", busy: true, homed: true, modes: idleOnly, activity: ActivityMoving},
	KindExitPickPlace:  {name: "exit_pickplace", op: "exit Pick/Place", busy: true, modes: pickPlace},
	KindPnPNext:        {name: "pnp_next", op: "run a pick and place step", busy: true, modes: pickPlace, activity: ActivityMoving},
	KindPnPSkip:        {name: "pnp_skip", op: "skip a location", busy: true, modes: pickPlace},
	KindPnPBack:        {name: "pnp_back", op: "go back a location", busy: true, modes: pickPlace},

	KindEnterCalibration: {name: "enter_calibration", op: "enter calibration", busy: true, homed: true, modes: idleOnly},
	KindExitCalibration:  {name: "exit_calibration", op: "exit calibration", busy: true, modes: calibration},

	KindMove:       {name: "move", op: "move", busy: true, homed: true, modes: notPickPlace, activity: ActivityMoving},
	KindMoveXY:     {name: "move_xy", op: "move to coordinates", busy: true, homed: true, modes: calibration, activity: ActivityMoving},
	KindJog:        {name: "jog", op: "jog", busy: true, homed: true, modes: notPickPlace, activity: ActivityMoving},
	KindRotate:     {name: "rotate", op: "rotate", busy: true, homed: true, modes: idleOnly, activity: ActivityMoving},
	KindSetRotZero: {name: "set_rot_zero", op: "set rotation zero", busy: true, homed: true, modes: idleOnly},

	KindPaintSide:     {name: "paint_side", op: "paint", busy: true, homed: true, modes: idleOnly, activity: ActivityMoving},
	KindPaintAll:      {name: "paint_all", op: "paint all sides", busy: true, homed: true, modes: idleOnly, activity: ActivityMoving},
	KindCleanGun:      {name: "clean_gun", op: "clean the gun", busy: true, homed: true, modes: idleOnly, activity: ActivityMoving},
	KindSetServoPitch: {name: "set_servo_pitch", op: "set the pitch servo", busy: true},

	KindSetPnPOffset:             {name: "set_pnp_offset", op: "set the pickup offset", busy: true, modes: notPickPlace},
	KindSetPnPOffsetFromCurrent:  {name: "set_pnp_offset_from_current", op: "capture the pickup offset", busy: true, homed: true, modes: calibration},
	KindSetFirstPlace:            {name: "set_first_place", op: "set the first place", busy: true, modes: notPickPlace},
	KindSetFirstPlaceFromCurrent: {name: "set_first_place_from_current", op: "capture the first place", busy: true, homed: true, modes: calibration},
	KindSetGrid:                  {name: "set_grid", op: "set the grid", busy: true},
	KindSetTraySize:              {name: "set_tray_size", op: "set the tray size", busy: true},
	KindSetPnPSpeeds:             {name: "set_pnp_speeds", op: "set speeds", busy: true},
	KindSetGunOffset:             {name: "set_gun_offset", op: "set the gun offset", busy: true},
	KindSetSideSettings:          {name: "set_side_settings", op: "set paint side settings", busy: true},
}

// Home homes every axis.
func Home() Intent { return Intent{Kind: KindHome} }

// Stop halts everything.
func Stop() Intent { return Intent{Kind: KindStop} }

// Reset clears a safety shutdown.
func Reset() Intent { return Intent{Kind: KindReset} }

// GetStatus reports settings and, once homed, the position.
func GetStatus() Intent { return Intent{Kind: KindGetStatus} }

// EnterPickPlace opens a pick-and-place session.
func EnterPickPlace() Intent { return Intent{Kind: KindEnterPickPlace} }

// ExitPickPlace closes the session, optionally queueing a homing pass.
func ExitPickPlace(requestHome bool) Intent {
	return Intent{Kind: KindExitPickPlace, RequestHome: requestHome}
}

// PnPNext runs one pick-and-place cycle.
func PnPNext() Intent { return Intent{Kind: KindPnPNext} }

// PnPSkip skips the current cell.
func PnPSkip() Intent { return Intent{Kind: KindPnPSkip} }

// PnPBack steps back one cell.
func PnPBack() Intent { return Intent{Kind: KindPnPBack} }

// EnterCalibration enters calibration mode.
func EnterCalibration() Intent { return Intent{Kind: KindEnterCalibration} }

// ExitCalibration leaves calibration mode.
func ExitCalibration() Intent { return Intent{Kind: KindExitCalibration} }

// Move moves to t, Z first.
func Move(t motion.Target) Intent { return Intent{Kind: KindMove, Target: t} }

// MoveXY moves X and Y to non-negative coordinates in calibration mode.
func MoveXY(x, y float64) Intent { return Intent{Kind: KindMoveXY, X: x, Y: y} }

// Jog moves one axis by delta.
func Jog(axis string, delta float64) Intent { return Intent{Kind: KindJog, Axis: axis, Value: delta} }

// Rotate turns the part by delta degrees.
func Rotate(delta float64) Intent { return Intent{Kind: KindRotate, Value: delta} }

// SetRotZero makes the current rotation the zero angle.
func SetRotZero() Intent { return Intent{Kind: KindSetRotZero} }

// PaintSide paints side i.
func PaintSide(i int) Intent { return Intent{Kind: KindPaintSide, Side: i} }

// PaintAll paints every side and parks.
func PaintAll() Intent { return Intent{Kind: KindPaintAll} }

// CleanGun flushes the paint gun.
func CleanGun() Intent { return Intent{Kind: KindCleanGun} }

// SetServoPitch sets the gun pitch to angle degrees.
func SetServoPitch(angle int) Intent { return Intent{Kind: KindSetServoPitch, Pitch: angle} }

// SetPnPOffset sets the pickup point.
func SetPnPOffset(x, y float64) Intent { return Intent{Kind: KindSetPnPOffset, X: x, Y: y} }

// SetPnPOffsetFromCurrent captures the pickup point from the position.
func SetPnPOffsetFromCurrent() Intent { return Intent{Kind: KindSetPnPOffsetFromCurrent} }

// SetFirstPlace sets the first placement point.
func SetFirstPlace(x, y float64) Intent { return Intent{Kind: KindSetFirstPlace, X: x, Y: y} }

// SetFirstPlaceFromCurrent captures the first placement from the position.
func SetFirstPlaceFromCurrent() Intent { return Intent{Kind: KindSetFirstPlaceFromCurrent} }

// SetGrid sets the grid size.
func SetGrid(cols, rows int) Intent { return Intent{Kind: KindSetGrid, Cols: cols, Rows: rows} }

// SetTraySize sets the tray dimensions.
func SetTraySize(w, h float64) Intent { return Intent{Kind: KindSetTraySize, X: w, Y: h} }

// SetPnPSpeeds sets the X and Y speeds.
func SetPnPSpeeds(xs, ys float64) Intent { return Intent{Kind: KindSetPnPSpeeds, X: xs, Y: ys} }

// SetGunOffset sets the paint gun offset.
func SetGunOffset(x, y float64) Intent { return Intent{Kind: KindSetGunOffset, X: x, Y: y} }

// SetSideSettings sets the profile of one paint side.
func SetSideSettings(side int, z float64, pitch, pattern int, speed float64) Intent {
	return Intent{Kind: KindSetSideSettings, Side: side, Z: z, Pitch: pitch, Pattern: pattern, Speed: speed}
}
