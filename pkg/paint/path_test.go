package paint

import (
	"math"
	"strings"
	"testing"

	"github.com/golang/geo/r2"

	"gantry-go/pkg/config"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/grid"
)

func paintConfig() config.PaintConfig {
	return config.PaintConfig{
		PitchMin:  150,
		PitchMax:  180,
		SpeedMin:  500,
		SpeedMax:  20000,
		RowPitch:  3,
		CleanX:    3,
		CleanY:    10,
		CleanTime: 3,
		Sides: [4]config.SideLayout{
			{Name: "back", Angle: 0, StartCorner: "top_right", Vertical: LayoutColumns, Horizontal: LayoutRows},
			{Name: "right", Angle: 90, StartCorner: "top_right", Vertical: LayoutColumns, Horizontal: LayoutRows},
			{Name: "front", Angle: 180, StartCorner: "top_left", Vertical: LayoutColumns, Horizontal: LayoutRows},
			{Name: "left", Angle: 270, StartCorner: "top_left", Vertical: LayoutColumns, Horizontal: LayoutRows},
		},
	}
}

func gridOf(t *testing.T, cols, rows int) grid.Config {
	t.Helper()
	g, err := grid.NewCalculator(config.GridConfig{ItemWidth: 3, ItemHeight: 3, Border: 0.25}).Recompute(cols, rows, 24, 18)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	return g
}

func testFrame() Frame {
	return Frame{FirstPlace: r2.Point{X: 22.25, Y: 16.25}, GunOffset: r2.Point{X: 0.5, Y: -0.5}}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBackSingleColumn(t *testing.T) {
	g := gridOf(t, 1, 5)
	p, err := NewGenerator(paintConfig()).GeneratePath(0, Profile{Pattern: Vertical, ZHeight: 1}, g, testFrame())
	if err != nil {
		t.Fatalf("GeneratePath() error = %v", err)
	}
	if len(p.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(p.Segments))
	}
	s := p.Segments[0]
	want := 4 * (g.ItemHeight + g.GapY)
	if !approx(s.Length(), want) || s.Travel != TravelY || !s.Spray {
		t.Errorf("sweep = %.4f along %v spray %v, want %.4f along y spraying", s.Length(), s.Travel, s.Spray, want)
	}
	if s.From.X != s.To.X {
		t.Error("single column sweep moved in X")
	}
	if s.To.Y >= s.From.Y {
		t.Error("first sweep should go down")
	}
}

func TestBackColumns(t *testing.T) {
	g := gridOf(t, 4, 5)
	p, err := NewGenerator(paintConfig()).GeneratePath(0, Profile{Pattern: Vertical, ZHeight: 1}, g, testFrame())
	if err != nil {
		t.Fatalf("GeneratePath() error = %v", err)
	}
	if !approx(p.Start.X, 22.75) || !approx(p.Start.Y, 15.75) || p.Start.Z != 1 {
		t.Errorf("Start = %v, want first place plus gun offset at z 1", p.Start)
	}
	wantTravel := []Travel{TravelY, TravelX, TravelY, TravelX, TravelY, TravelX, TravelY}
	if len(p.Segments) != len(wantTravel) {
		t.Fatalf("segments = %d, want %d", len(p.Segments), len(wantTravel))
	}
	for i, s := range p.Segments {
		if s.Travel != wantTravel[i] {
			t.Errorf("segment %d travel = %v, want %v", i, s.Travel, wantTravel[i])
		}
		if s.Spray != (s.Travel == TravelY) {
			t.Errorf("segment %d spray = %v on %v travel", i, s.Spray, s.Travel)
		}
		if s.Travel == TravelX && !approx(s.To.X-s.From.X, -g.PitchX()) {
			t.Errorf("segment %d shift = %.4f, want %.4f", i, s.To.X-s.From.X, -g.PitchX())
		}
	}
	if p.Segments[2].To.Y <= p.Segments[2].From.Y {
		t.Error("second column should sweep up")
	}
	wantLen := 4*4*g.PitchY() + 3*g.PitchX()
	if !approx(p.Length(), wantLen) || !approx(p.SprayLength(), 4*4*g.PitchY()) {
		t.Errorf("Length() = %.4f spray %.4f, want %.4f spray %.4f", p.Length(), p.SprayLength(), wantLen, 16*g.PitchY())
	}
}

func TestFrontStartsTopLeft(t *testing.T) {
	g := gridOf(t, 4, 5)
	p, err := NewGenerator(paintConfig()).GeneratePath(2, Profile{Pattern: Vertical}, g, testFrame())
	if err != nil {
		t.Fatalf("GeneratePath() error = %v", err)
	}
	wantX := 22.25 - 3*g.PitchX() + 0.5
	if !approx(p.Start.X, wantX) {
		t.Errorf("Start.X = %.4f, want %.4f", p.Start.X, wantX)
	}
	if p.Segments[1].To.X <= p.Segments[1].From.X {
		t.Error("front columns should advance toward +X")
	}
	if p.Angle != 180 || p.Name != "front" {
		t.Errorf("side = %s at %v", p.Name, p.Angle)
	}
}

func TestHorizontalRows(t *testing.T) {
	g := gridOf(t, 4, 5)
	p, err := NewGenerator(paintConfig()).GeneratePath(0, Profile{Pattern: Horizontal}, g, testFrame())
	if err != nil {
		t.Fatalf("GeneratePath() error = %v", err)
	}
	if p.Layout != LayoutRows {
		t.Fatalf("Layout = %q, want rows", p.Layout)
	}
	if len(p.Segments) != 9 {
		t.Fatalf("segments = %d, want 9", len(p.Segments))
	}
	first := p.Segments[0]
	if first.Travel != TravelX || !first.Spray || first.To.X >= first.From.X {
		t.Errorf("first segment = %+v, want a leftward spraying X sweep", first)
	}
	if !approx(first.Length(), 3*g.PitchX()) {
		t.Errorf("row sweep = %.4f, want %.4f", first.Length(), 3*g.PitchX())
	}
	shift := p.Segments[1]
	if shift.Travel != TravelY || shift.Spray || !approx(shift.From.Y-shift.To.Y, 3+g.GapY) {
		t.Errorf("row shift = %+v, want %.4f down without spray", shift, 3+g.GapY)
	}
}

func TestOutsideTrayIsConfigError(t *testing.T) {
	cfg := paintConfig()
	cfg.RowPitch = 5
	_, err := NewGenerator(cfg).GeneratePath(0, Profile{Pattern: Horizontal}, gridOf(t, 4, 5), testFrame())
	if !errors.IsConfig(err) {
		t.Errorf("GeneratePath() error = %v, want a config error", err)
	}
}

func TestGeneratorRejects(t *testing.T) {
	gen := NewGenerator(paintConfig())
	if _, err := gen.GeneratePath(4, Profile{}, gridOf(t, 2, 2), testFrame()); !errors.Is(err, errors.ErrInvalidParameter) {
		t.Errorf("side 4 error = %v, want %v", err, errors.ErrInvalidParameter)
	}
	if _, err := ParsePattern(45); !errors.Is(err, errors.ErrInvalidParameter) {
		t.Errorf("ParsePattern(45) error = %v", err)
	}
	if p, err := ParsePattern(90); err != nil || p != Horizontal {
		t.Errorf("ParsePattern(90) = %v, %v", p, err)
	}
	tests := []struct{ in, want float64 }{{100, 500}, {8000, 8000}, {50000, 20000}}
	for _, tt := range tests {
		if got := gen.ClampSpeed(tt.in); got != tt.want {
			t.Errorf("ClampSpeed(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRenderSVG(t *testing.T) {
	p, err := NewGenerator(paintConfig()).GeneratePath(0, Profile{Pattern: Vertical}, gridOf(t, 4, 5), testFrame())
	if err != nil {
		t.Fatalf("GeneratePath() error = %v", err)
	}
	svg, err := RenderSVG(p)
	if err != nil {
		t.Fatalf("RenderSVG() error = %v", err)
	}
	if !strings.HasPrefix(svg, "<svg") {
		t.Errorf("RenderSVG() does not start with <svg: %.40q", svg)
	}
	if n := strings.Count(svg, "<line"); n != len(p.Segments) {
		t.Errorf("lines = %d, want %d", n, len(p.Segments))
	}
	if n := strings.Count(svg, "stroke-dasharray"); n != 3 {
		t.Errorf("dashed lines = %d, want 3", n)
	}
}
