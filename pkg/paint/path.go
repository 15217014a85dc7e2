// Package paint generates and runs the spray paths for the four sides of a
// tray. A path is a serpentine over the grid cells, either column by column
// or row by row, and every segment records the axis it travels along so the
// gun can be switched deterministically.
package paint

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"

	"gantry-go/pkg/config"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/grid"
)

// Pattern is the spray orientation of a side.
type Pattern int

const (
	// Vertical sprays while travelling along Y.
	Vertical Pattern = 0
	// Horizontal sprays while travelling along X.
	Horizontal Pattern = 90
)

// ParsePattern validates a pattern value.
func ParsePattern(v int) (Pattern, error) {
	switch Pattern(v) {
	case Vertical, Horizontal:
		return Pattern(v), nil
	}
	return 0, errors.InvalidParameter("pattern", fmt.Sprintf("%d is not 0 or 90", v))
}

func (p Pattern) String() string {
	if p == Horizontal {
		return "horizontal"
	}
	return "vertical"
}

// Layout names.
const (
	LayoutColumns = "columns"
	LayoutRows    = "rows"
)

// Profile holds the operator settings of one side.
type Profile struct {
	ZHeight float64 `json:"z" mapstructure:"z"`
	Pitch   int     `json:"pitch" mapstructure:"pitch"`
	Pattern Pattern `json:"pattern" mapstructure:"pattern"`
	Speed   float64 `json:"speed" mapstructure:"speed"`
}

// Travel is the axis a segment moves along.
type Travel int

const (
	TravelXY Travel = iota
	TravelX
	TravelY
)

func (t Travel) String() string {
	switch t {
	case TravelX:
		return "x"
	case TravelY:
		return "y"
	}
	return "xy"
}

// Segment is one straight move of a path.
type Segment struct {
	From, To r3.Vector
	Travel   Travel
	Spray    bool
}

// Length returns the segment length.
func (s Segment) Length() float64 {
	return s.To.Sub(s.From).Norm()
}

// Path is a generated coverage path in machine coordinates. Start is the
// first waypoint; Segments continue from it.
type Path struct {
	Side     int
	Name     string
	Angle    float64
	Layout   string
	Profile  Profile
	Start    r3.Vector
	Segments []Segment
	// Tray is the tray rectangle in machine coordinates.
	Tray r2.Rect
}

// Waypoints returns the start followed by every segment end.
func (p Path) Waypoints() []r3.Vector {
	out := []r3.Vector{p.Start}
	for _, s := range p.Segments {
		out = append(out, s.To)
	}
	return out
}

func (p Path) lengths(spray bool, all bool) float64 {
	l := make([]float64, 0, len(p.Segments))
	for _, s := range p.Segments {
		if all || s.Spray == spray {
			l = append(l, s.Length())
		}
	}
	return floats.Sum(l)
}

// Length returns the total travel after the start point.
func (p Path) Length() float64 { return p.lengths(false, true) }

// SprayLength returns the travel with the gun open.
func (p Path) SprayLength() float64 { return p.lengths(true, false) }

// Frame places the tray frame in machine coordinates: the first placement
// cell sits at FirstPlace and the gun is offset from the tool point by
// GunOffset.
type Frame struct {
	FirstPlace r2.Point
	GunOffset  r2.Point
}

// Generator builds paths from side layouts.
type Generator struct {
	cfg config.PaintConfig
}

// NewGenerator creates a generator.
func NewGenerator(cfg config.PaintConfig) *Generator {
	return &Generator{cfg: cfg}
}

// Side returns the layout of side i.
func (g *Generator) Side(i int) (config.SideLayout, error) {
	if i < 0 || i >= len(g.cfg.Sides) {
		return config.SideLayout{}, errors.InvalidParameter("side", fmt.Sprintf("%d is not 0-3", i))
	}
	return g.cfg.Sides[i], nil
}

// ClampSpeed limits a sweep speed to the configured range.
func (g *Generator) ClampSpeed(speed float64) float64 {
	return math.Max(g.cfg.SpeedMin, math.Min(g.cfg.SpeedMax, speed))
}

func sprays(p Pattern, t Travel) bool {
	return (p == Vertical && t == TravelY) || (p == Horizontal && t == TravelX)
}

const trayEpsilon = 1e-9

// GeneratePath builds the path for side. Waypoints are computed in the tray
// frame, whose origin is the tray's lower left corner, and must stay inside
// the tray; a waypoint outside it is a configuration error.
func (g *Generator) GeneratePath(side int, prof Profile, gc grid.Config, frame Frame) (Path, error) {
	layout, err := g.Side(side)
	if err != nil {
		return Path{}, err
	}
	if gc.Cells() <= 0 {
		return Path{}, errors.InvalidParameter("grid", "no cells")
	}
	sweep := layout.Vertical
	if prof.Pattern == Horizontal {
		sweep = layout.Horizontal
	}

	var pts []r2.Point
	var travel []Travel
	switch sweep {
	case LayoutColumns:
		pts, travel = g.columns(gc, layout.StartCorner == "top_right")
	case LayoutRows:
		pts, travel = g.rows(gc, layout.StartCorner == "top_right")
	default:
		return Path{}, errors.ConfigValidationError("paint", "side_"+layout.Name, "unknown sweep layout "+sweep)
	}

	tray := r2.RectFromPoints(r2.Point{}, r2.Point{X: gc.TrayWidth, Y: gc.TrayHeight})
	for _, p := range pts {
		if p.X < -trayEpsilon || p.Y < -trayEpsilon || p.X > gc.TrayWidth+trayEpsilon || p.Y > gc.TrayHeight+trayEpsilon {
			return Path{}, errors.ConfigValidationError("paint", "side_"+layout.Name,
				fmt.Sprintf("waypoint %.3f,%.3f outside %.2fx%.2f tray", p.X, p.Y, gc.TrayWidth, gc.TrayHeight))
		}
	}

	tx, ty := gc.TrayPoint(0, 0)
	origin := frame.FirstPlace.Sub(r2.Point{X: tx, Y: ty}).Add(frame.GunOffset)
	machine := func(p r2.Point) r3.Vector {
		m := p.Add(origin)
		return r3.Vector{X: m.X, Y: m.Y, Z: prof.ZHeight}
	}

	path := Path{
		Side:    side,
		Name:    layout.Name,
		Angle:   layout.Angle,
		Layout:  sweep,
		Profile: prof,
		Start:   machine(pts[0]),
		Tray:    r2.RectFromPoints(tray.Lo().Add(origin), tray.Hi().Add(origin)),
	}
	for i := 1; i < len(pts); i++ {
		from, to := machine(pts[i-1]), machine(pts[i])
		path.Segments = append(path.Segments, Segment{
			From:   from,
			To:     to,
			Travel: travel[i],
			Spray:  sprays(prof.Pattern, travel[i]),
		})
	}
	return path, nil
}

// columns walks the columns from the start corner, sweeping each column
// top to bottom and back alternately. Single-row grids skip the sweeps.
func (g *Generator) columns(gc grid.Config, topRight bool) ([]r2.Point, []Travel) {
	order := make([]int, gc.Cols)
	for i := range order {
		if topRight {
			order[i] = i
		} else {
			order[i] = gc.Cols - 1 - i
		}
	}
	var pts []r2.Point
	var travel []Travel
	add := func(col, row int, t Travel) {
		x, y := gc.TrayPoint(col, row)
		pts = append(pts, r2.Point{X: x, Y: y})
		travel = append(travel, t)
	}
	down := true
	for i, col := range order {
		top, bottom := 0, gc.Rows-1
		if !down {
			top, bottom = bottom, top
		}
		if i == 0 {
			add(col, top, TravelXY)
		} else {
			add(col, top, TravelX)
		}
		if gc.Rows > 1 {
			add(col, bottom, TravelY)
		}
		down = !down
	}
	return pts, travel
}

// rows walks the rows downward from the start corner with the fixed row
// pitch, sweeping the full row width alternately left and right.
func (g *Generator) rows(gc grid.Config, topRight bool) ([]r2.Point, []Travel) {
	pitch := g.cfg.RowPitch + gc.GapY
	xr, top := gc.TrayPoint(0, 0)
	xl, _ := gc.TrayPoint(gc.Cols-1, 0)
	near, far := xl, xr
	if topRight {
		near, far = xr, xl
	}
	var pts []r2.Point
	var travel []Travel
	for r := 0; r < gc.Rows; r++ {
		y := top - float64(r)*pitch
		t := TravelY
		if r == 0 {
			t = TravelXY
		}
		pts = append(pts, r2.Point{X: near, Y: y})
		travel = append(travel, t)
		if gc.Cols > 1 {
			pts = append(pts, r2.Point{X: far, Y: y})
			travel = append(travel, TravelX)
		}
		near, far = far, near
	}
	return pts, travel
}
