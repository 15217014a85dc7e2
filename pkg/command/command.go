// Package command maps operator command lines to machine intents.
//
// A line is a command name followed by positional arguments, split with
// shell quoting rules. Text after ';' is a comment. Names are case
// insensitive.
package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"gantry-go/pkg/errors"
	"gantry-go/pkg/log"
	"gantry-go/pkg/machine"
	"gantry-go/pkg/motion"
)

// Requester accepts intents. *machine.Machine implements it.
type Requester interface {
	RequestTransition(in machine.Intent) error
}

// Command is one entry of the command table.
type Command struct {
	Name  string
	Usage string
	Help  string
	// Args is the number of positional arguments.
	Args  int
	build func(a args) (machine.Intent, error)
}

// args are the positional arguments of one line.
type args struct {
	cmd string
	v   []string
}

func (a args) floatArg(i int, name string) (float64, error) {
	f, err := strconv.ParseFloat(a.v[i], 64)
	if err != nil {
		return 0, errors.InvalidParameter(name, fmt.Sprintf("%s: %q is not a number", a.cmd, a.v[i]))
	}
	return f, nil
}

func (a args) intArg(i int, name string) (int, error) {
	n, err := strconv.Atoi(a.v[i])
	if err != nil {
		return 0, errors.InvalidParameter(name, fmt.Sprintf("%s: %q is not an integer", a.cmd, a.v[i]))
	}
	return n, nil
}

func (a args) pair(n1, n2 string) (float64, float64, error) {
	x, err := a.floatArg(0, n1)
	if err != nil {
		return 0, 0, err
	}
	y, err := a.floatArg(1, n2)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func fixed(in machine.Intent) func(args) (machine.Intent, error) {
	return func(args) (machine.Intent, error) { return in, nil }
}

func xy(fn func(x, y float64) machine.Intent, n1, n2 string) func(args) (machine.Intent, error) {
	return func(a args) (machine.Intent, error) {
		x, y, err := a.pair(n1, n2)
		if err != nil {
			return machine.Intent{}, err
		}
		return fn(x, y), nil
	}
}

var table = []Command{
	{Name: "HOME", Help: "home all axes", build: fixed(machine.Home())},
	{Name: "STOP", Help: "halt all motion and outputs", build: fixed(machine.Stop())},
	{Name: "RESET", Help: "clear a safety shutdown", build: fixed(machine.Reset())},
	{Name: "GET_STATUS", Help: "report settings and position", build: fixed(machine.GetStatus())},

	{Name: "ENTER_PICKPLACE", Help: "open a pick and place session", build: fixed(machine.EnterPickPlace())},
	{Name: "EXIT_PICKPLACE", Help: "close the session and re-home", build: fixed(machine.ExitPickPlace(true))},
	{Name: "PNP_NEXT_STEP", Help: "run one pick and place cycle", build: fixed(machine.PnPNext())},
	{Name: "PNP_SKIP_LOCATION", Help: "skip the current cell", build: fixed(machine.PnPSkip())},
	{Name: "PNP_BACK_LOCATION", Help: "step back one cell", build: fixed(machine.PnPBack())},

	{Name: "ENTER_CALIBRATION", Help: "enter calibration mode", build: fixed(machine.EnterCalibration())},
	{Name: "EXIT_CALIBRATION", Help: "leave calibration mode", build: fixed(machine.ExitCalibration())},
	{Name: "JOG", Usage: "axis distance", Args: 2, Help: "move one axis relative", build: func(a args) (machine.Intent, error) {
		d, err := a.floatArg(1, "distance")
		if err != nil {
			return machine.Intent{}, err
		}
		return machine.Jog(a.v[0], d), nil
	}},
	{Name: "MOVE_TO_COORDS", Usage: "x y", Args: 2, Help: "move X and Y in calibration mode", build: xy(machine.MoveXY, "x", "y")},
	{Name: "GOTO_5_5_0", Help: "move to 5,5,0", build: fixed(machine.Move(motion.XYZ(5, 5, 0)))},
	{Name: "GOTO_20_20_0", Help: "move to 20,20,0", build: fixed(machine.Move(motion.XYZ(20, 20, 0)))},
	{Name: "ROTATE", Usage: "degrees", Args: 1, Help: "turn the part", build: func(a args) (machine.Intent, error) {
		d, err := a.floatArg(0, "degrees")
		if err != nil {
			return machine.Intent{}, err
		}
		return machine.Rotate(d), nil
	}},
	{Name: "SET_ROT_ZERO", Help: "make the current rotation zero", build: fixed(machine.SetRotZero())},

	{Name: "PAINT_SIDE_0", Help: "paint the back side", build: fixed(machine.PaintSide(0))},
	{Name: "PAINT_SIDE_1", Help: "paint the right side", build: fixed(machine.PaintSide(1))},
	{Name: "PAINT_SIDE_2", Help: "paint the front side", build: fixed(machine.PaintSide(2))},
	{Name: "PAINT_SIDE_3", Help: "paint the left side", build: fixed(machine.PaintSide(3))},
	{Name: "PAINT_ALL", Help: "paint every side and park", build: fixed(machine.PaintAll())},
	{Name: "CLEAN_GUN", Help: "flush the paint gun", build: fixed(machine.CleanGun())},
	{Name: "SET_SERVO_PITCH", Usage: "angle", Args: 1, Help: "tilt the paint gun", build: func(a args) (machine.Intent, error) {
		n, err := a.intArg(0, "angle")
		if err != nil {
			return machine.Intent{}, err
		}
		return machine.SetServoPitch(n), nil
	}},

	{Name: "SET_PNP_OFFSET", Usage: "x y", Args: 2, Help: "set the pickup point", build: xy(machine.SetPnPOffset, "x", "y")},
	{Name: "SET_OFFSET_FROM_CURRENT", Help: "capture the pickup point", build: fixed(machine.SetPnPOffsetFromCurrent())},
	{Name: "SET_FIRST_PLACE_ABS", Usage: "x y", Args: 2, Help: "set the first placement", build: xy(machine.SetFirstPlace, "x", "y")},
	{Name: "SET_FIRST_PLACE_ABS_FROM_CURRENT", Help: "capture the first placement", build: fixed(machine.SetFirstPlaceFromCurrent())},
	{Name: "SET_GRID_SPACING", Usage: "cols rows", Args: 2, Help: "set the grid and recompute gaps", build: func(a args) (machine.Intent, error) {
		cols, err := a.intArg(0, "cols")
		if err != nil {
			return machine.Intent{}, err
		}
		rows, err := a.intArg(1, "rows")
		if err != nil {
			return machine.Intent{}, err
		}
		return machine.SetGrid(cols, rows), nil
	}},
	{Name: "SET_TRAY_SIZE", Usage: "width height", Args: 2, Help: "set the tray and recompute gaps", build: xy(machine.SetTraySize, "width", "height")},
	{Name: "SET_PNP_SPEEDS", Usage: "x_speed y_speed", Args: 2, Help: "set the XY speeds", build: xy(machine.SetPnPSpeeds, "x_speed", "y_speed")},
	{Name: "SET_PAINT_GUN_OFFSET", Usage: "x y", Args: 2, Help: "set the gun offset", build: xy(machine.SetGunOffset, "x", "y")},
	{Name: "SET_PAINT_SIDE_SETTINGS", Usage: "side z pitch pattern speed", Args: 5, Help: "set one side's paint profile", build: func(a args) (machine.Intent, error) {
		side, err := a.intArg(0, "side")
		if err != nil {
			return machine.Intent{}, err
		}
		z, err := a.floatArg(1, "z")
		if err != nil {
			return machine.Intent{}, err
		}
		pitch, err := a.intArg(2, "pitch")
		if err != nil {
			return machine.Intent{}, err
		}
		pattern, err := a.intArg(3, "pattern")
		if err != nil {
			return machine.Intent{}, err
		}
		speed, err := a.floatArg(4, "speed")
		if err != nil {
			return machine.Intent{}, err
		}
		return machine.SetSideSettings(side, z, pitch, pattern, speed), nil
	}},
}

// Dispatcher parses lines and forwards their intents.
type Dispatcher struct {
	req      Requester
	commands map[string]Command
	log      *log.Logger
}

// New creates a dispatcher over the full command table.
func New(req Requester) *Dispatcher {
	d := &Dispatcher{req: req, commands: make(map[string]Command, len(table)), log: log.GetLogger("command")}
	for _, c := range table {
		d.commands[c.Name] = c
	}
	return d
}

// Split tokenizes line. It returns no tokens for blank and comment lines.
func Split(line string) ([]string, error) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCommandParse, "split command")
	}
	return tokens, nil
}

// Parse resolves line to an intent. ok is false for blank lines.
func (d *Dispatcher) Parse(line string) (in machine.Intent, ok bool, err error) {
	tokens, err := Split(line)
	if err != nil || len(tokens) == 0 {
		return machine.Intent{}, false, err
	}
	name := strings.ToUpper(tokens[0])
	c, found := d.commands[name]
	if !found {
		return machine.Intent{}, false, errors.Newf(errors.ErrUnknownCommand, "unknown command %q", tokens[0])
	}
	if len(tokens)-1 != c.Args {
		usage := c.Name
		if c.Usage != "" {
			usage += " " + c.Usage
		}
		return machine.Intent{}, false, errors.InvalidParameter("arguments", fmt.Sprintf("usage: %s", usage))
	}
	in, err = c.build(args{cmd: c.Name, v: tokens[1:]})
	if err != nil {
		return machine.Intent{}, false, err
	}
	return in, true, nil
}

// Execute parses line and requests its intent. It must run on the reactor
// goroutine.
func (d *Dispatcher) Execute(line string) error {
	in, ok, err := d.Parse(line)
	if err != nil {
		d.log.WithField("line", line).Warnf("%s", errors.Reason(err))
		return err
	}
	if !ok {
		return nil
	}
	d.log.Debug("%s -> %s", strings.TrimSpace(line), in)
	return d.req.RequestTransition(in)
}

// Commands returns the table sorted by name.
func (d *Dispatcher) Commands() []Command {
	out := make([]Command, 0, len(d.commands))
	for _, c := range d.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
