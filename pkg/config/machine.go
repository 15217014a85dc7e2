package config

import (
	"os"
	"path/filepath"
	"strings"

	"gantry-go/pkg/errors"
)

// AxisConfig describes one logical axis. Channels lists the driver board
// channels of the gang; EndstopPins, when present, has one pin per channel.
type AxisConfig struct {
	Name           string
	Channels       []int
	EndstopPins    []Pin
	StepsPerUnit   float64
	PositionMin    float64
	PositionMax    float64
	Speed          float64
	Accel          float64
	HomingPositive bool
}

// HasEndstops reports whether the axis is homed against switches.
func (a AxisConfig) HasEndstops() bool {
	return len(a.EndstopPins) > 0
}

// HomingConfig holds the parameters of the simultaneous homing pass.
type HomingConfig struct {
	Speed    float64 // steps/s
	Accel    float64 // steps/s^2
	Timeout  float64 // s, whole pass
	Backoff  float64 // units moved off the switch after homing
	Debounce float64 // s
}

// GridConfig holds the per-deployment item and border sizes.
type GridConfig struct {
	ItemWidth  float64
	ItemHeight float64
	Border     float64
}

// PickPlaceConfig holds the pick-and-place tool wiring and timings.
type PickPlaceConfig struct {
	CylinderPin       Pin
	SuctionPin        Pin
	ButtonPin         Pin
	IdleYOffset       float64
	MoveTimeout       float64
	ExtendDwell       float64
	PickRetractDwell  float64
	ReleaseDwell      float64
	PlaceRetractDwell float64
}

// SideLayout binds a paint side to a start corner and maps each pattern
// orientation onto a sweep layout ("columns" or "rows").
type SideLayout struct {
	Name        string
	Angle       float64
	StartCorner string // "top_left" or "top_right"
	Vertical    string
	Horizontal  string
}

// PaintConfig holds the paint tool wiring and path limits.
type PaintConfig struct {
	GunPin       Pin
	PotPin       Pin
	ServoChannel int
	PitchMin     int
	PitchMax     int
	SpeedMin     float64
	SpeedMax     float64
	RowPitch     float64
	CleanX       float64
	CleanY       float64
	CleanTime    float64
	Sides        [4]SideLayout
}

// SerialConfig names a serial device. An empty device selects the
// simulated backend.
type SerialConfig struct {
	Device string
	Baud   int
}

// ServerConfig holds listen addresses. Empty disables a server.
type ServerConfig struct {
	StatusAddr  string
	MetricsAddr string
}

// MachineConfig is the typed form of the machine configuration file.
type MachineConfig struct {
	X, Y, Z, Rot AxisConfig
	Homing       HomingConfig
	Grid         GridConfig
	PickPlace    PickPlaceConfig
	Paint        PaintConfig
	Driver       SerialConfig
	IO           SerialConfig
	Server       ServerConfig
	SettingsPath string
}

// Axes returns the axes in homing order.
func (m *MachineConfig) Axes() []AxisConfig {
	return []AxisConfig{m.X, m.Y, m.Z, m.Rot}
}

// SideNames are the paint side names by index.
var SideNames = [4]string{"back", "right", "front", "left"}

type axisDefaults struct {
	channels     []int
	pins         string
	stepsPerUnit float64
	max          float64
	speed        float64
	accel        float64
}

var defaultAxes = map[string]axisDefaults{
	"x":   {[]int{0}, "5", 254, 30, 20000, 20000},
	"y":   {[]int{1, 2}, "16, 18", 254, 30, 20000, 20000},
	"z":   {[]int{3}, "4", 254, 2.75, 5000, 13000},
	"rot": {[]int{4}, "", 4000.0 / 360.0, 3600, 2000, 1000},
}

var defaultSides = [4]SideLayout{
	{Name: "back", Angle: 0, StartCorner: "top_right", Vertical: "columns", Horizontal: "rows"},
	{Name: "right", Angle: 90, StartCorner: "top_right", Vertical: "columns", Horizontal: "rows"},
	{Name: "front", Angle: 180, StartCorner: "top_left", Vertical: "columns", Horizontal: "rows"},
	{Name: "left", Angle: 270, StartCorner: "top_left", Vertical: "columns", Horizontal: "rows"},
}

// ParseMachineConfig builds a MachineConfig. Absent sections and options
// take the stock machine's values.
func ParseMachineConfig(c *Config) (*MachineConfig, error) {
	m := &MachineConfig{}
	var err error
	axes := []struct {
		name string
		dst  *AxisConfig
	}{{"x", &m.X}, {"y", &m.Y}, {"z", &m.Z}, {"rot", &m.Rot}}
	for _, a := range axes {
		if *a.dst, err = parseAxis(c.GetSectionOptional("stepper_"+a.name), a.name); err != nil {
			return nil, err
		}
	}
	if len(m.Y.Channels) > 2 {
		return nil, errors.ConfigValidationError("stepper_y", "channel", "at most two ganged motors")
	}
	if m.Homing, err = parseHoming(c.GetSectionOptional("homing")); err != nil {
		return nil, err
	}
	if m.Grid, err = parseGrid(c.GetSectionOptional("grid")); err != nil {
		return nil, err
	}
	if m.PickPlace, err = parsePickPlace(c.GetSectionOptional("pickplace")); err != nil {
		return nil, err
	}
	if m.Paint, err = parsePaint(c); err != nil {
		return nil, err
	}
	if m.Driver, err = parseSerial(c.GetSectionOptional("driver"), 250000); err != nil {
		return nil, err
	}
	if m.IO, err = parseSerial(c.GetSectionOptional("io"), 115200); err != nil {
		return nil, err
	}

	srv := c.GetSectionOptional("server")
	if m.Server.StatusAddr, err = srv.Get("status_addr", ":7125"); err != nil {
		return nil, err
	}
	if m.Server.MetricsAddr, err = srv.Get("metrics_addr", ":9101"); err != nil {
		return nil, err
	}

	path, err := c.GetSectionOptional("settings").Get("path", "~/gantry_variables.cfg")
	if err != nil {
		return nil, err
	}
	m.SettingsPath = expandHome(path)
	return m, nil
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

func parseAxis(s *Section, name string) (AxisConfig, error) {
	d := defaultAxes[name]
	a := AxisConfig{Name: name}
	var err error
	if a.Channels, err = s.GetIntList("channel", d.channels); err != nil {
		return a, err
	}
	if len(a.Channels) == 0 {
		return a, errors.ConfigValidationError(s.GetName(), "channel", "at least one channel required")
	}
	if a.EndstopPins, err = s.GetPinList("endstop_pin", d.pins); err != nil {
		return a, err
	}
	if len(a.EndstopPins) > 0 && len(a.EndstopPins) != len(a.Channels) {
		return a, errors.ConfigValidationError(s.GetName(), "endstop_pin", "need one endstop per channel")
	}
	if a.StepsPerUnit, err = s.GetFloatWithBounds("steps_per_unit", FloatBounds{Above: Above(0)}, d.stepsPerUnit); err != nil {
		return a, err
	}
	if a.PositionMin, err = s.GetFloat("position_min", 0); err != nil {
		return a, err
	}
	if a.PositionMax, err = s.GetFloatWithBounds("position_max", FloatBounds{Above: Above(a.PositionMin)}, d.max); err != nil {
		return a, err
	}
	if name == "rot" && !s.HasOption("position_min") {
		a.PositionMin = -a.PositionMax
	}
	if a.Speed, err = s.GetFloatWithBounds("speed", FloatBounds{Above: Above(0)}, d.speed); err != nil {
		return a, err
	}
	if a.Accel, err = s.GetFloatWithBounds("accel", FloatBounds{Above: Above(0)}, d.accel); err != nil {
		return a, err
	}
	if a.HomingPositive, err = s.GetBool("homing_positive_dir", false); err != nil {
		return a, err
	}
	return a, nil
}

func parseHoming(s *Section) (HomingConfig, error) {
	var h HomingConfig
	var err error
	if h.Speed, err = s.GetFloatWithBounds("speed", FloatBounds{Above: Above(0)}, 3500); err != nil {
		return h, err
	}
	if h.Accel, err = s.GetFloatWithBounds("accel", FloatBounds{Above: Above(0)}, 12500); err != nil {
		return h, err
	}
	if h.Timeout, err = s.GetFloatWithBounds("timeout", FloatBounds{Above: Above(0)}, 15); err != nil {
		return h, err
	}
	if h.Backoff, err = s.GetFloatWithBounds("backoff", FloatBounds{MinVal: Min(0)}, 0.5); err != nil {
		return h, err
	}
	if h.Debounce, err = s.GetFloatWithBounds("debounce", FloatBounds{MinVal: Min(0), MaxVal: Max(1)}, 0.005); err != nil {
		return h, err
	}
	return h, nil
}

func parseGrid(s *Section) (GridConfig, error) {
	var g GridConfig
	var err error
	if g.ItemWidth, err = s.GetFloatWithBounds("item_width", FloatBounds{Above: Above(0)}, 3.0); err != nil {
		return g, err
	}
	if g.ItemHeight, err = s.GetFloatWithBounds("item_height", FloatBounds{Above: Above(0)}, 3.0); err != nil {
		return g, err
	}
	if g.Border, err = s.GetFloatWithBounds("border", FloatBounds{MinVal: Min(0)}, 0.25); err != nil {
		return g, err
	}
	return g, nil
}

func parsePickPlace(s *Section) (PickPlaceConfig, error) {
	var p PickPlaceConfig
	var err error
	if p.CylinderPin, err = s.GetPin("cylinder_pin", Pin{Index: 10}); err != nil {
		return p, err
	}
	if p.SuctionPin, err = s.GetPin("suction_pin", Pin{Index: 11}); err != nil {
		return p, err
	}
	if p.ButtonPin, err = s.GetPin("button_pin", Pin{Index: 17, Pullup: true, Invert: true}); err != nil {
		return p, err
	}
	floats := []struct {
		option string
		dst    *float64
		def    float64
	}{
		{"idle_y_offset", &p.IdleYOffset, 2.0},
		{"move_timeout", &p.MoveTimeout, 15},
		{"extend_dwell", &p.ExtendDwell, 0.5},
		{"pick_retract_dwell", &p.PickRetractDwell, 0.2},
		{"release_dwell", &p.ReleaseDwell, 0.1},
		{"place_retract_dwell", &p.PlaceRetractDwell, 0.15},
	}
	for _, f := range floats {
		if *f.dst, err = s.GetFloatWithBounds(f.option, FloatBounds{MinVal: Min(0)}, f.def); err != nil {
			return p, err
		}
	}
	return p, nil
}

func parsePaint(c *Config) (PaintConfig, error) {
	s := c.GetSectionOptional("paint")
	p := PaintConfig{Sides: defaultSides}
	var err error
	if p.GunPin, err = s.GetPin("gun_pin", Pin{Index: 12}); err != nil {
		return p, err
	}
	if p.PotPin, err = s.GetPin("pot_pin", Pin{Index: 13}); err != nil {
		return p, err
	}
	if p.ServoChannel, err = s.GetInt("servo_channel", 0); err != nil {
		return p, err
	}
	if p.PitchMin, err = s.GetIntWithBounds("pitch_min", 0, 180, 150); err != nil {
		return p, err
	}
	if p.PitchMax, err = s.GetIntWithBounds("pitch_max", p.PitchMin, 180, 180); err != nil {
		return p, err
	}
	if p.SpeedMin, err = s.GetFloatWithBounds("speed_min", FloatBounds{Above: Above(0)}, 500); err != nil {
		return p, err
	}
	if p.SpeedMax, err = s.GetFloatWithBounds("speed_max", FloatBounds{MinVal: Min(p.SpeedMin)}, 20000); err != nil {
		return p, err
	}
	if p.RowPitch, err = s.GetFloatWithBounds("row_pitch", FloatBounds{Above: Above(0)}, 3.0); err != nil {
		return p, err
	}
	if p.CleanX, err = s.GetFloat("clean_x", 3.0); err != nil {
		return p, err
	}
	if p.CleanY, err = s.GetFloat("clean_y", 10.0); err != nil {
		return p, err
	}
	if p.CleanTime, err = s.GetFloatWithBounds("clean_time", FloatBounds{MinVal: Min(0)}, 3.0); err != nil {
		return p, err
	}

	layouts := []string{"columns", "rows"}
	for i, name := range SideNames {
		side := c.GetSectionOptional("paint_side " + name)
		l := &p.Sides[i]
		if l.Angle, err = side.GetFloat("angle", l.Angle); err != nil {
			return p, err
		}
		if l.StartCorner, err = side.GetChoice("start_corner", []string{"top_left", "top_right"}, l.StartCorner); err != nil {
			return p, err
		}
		if l.Vertical, err = side.GetChoice("vertical", layouts, l.Vertical); err != nil {
			return p, err
		}
		if l.Horizontal, err = side.GetChoice("horizontal", layouts, l.Horizontal); err != nil {
			return p, err
		}
	}
	return p, nil
}

func parseSerial(s *Section, baud int) (SerialConfig, error) {
	var sc SerialConfig
	var err error
	if sc.Device, err = s.Get("serial", ""); err != nil {
		return sc, err
	}
	if sc.Baud, err = s.GetInt("baud", baud); err != nil {
		return sc, err
	}
	return sc, nil
}
