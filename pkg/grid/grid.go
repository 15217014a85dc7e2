// Package grid derives the item spacing of the tray grid. Gaps are never set
// directly: they follow from the grid size, the tray size and the fixed item
// and border dimensions, and are always recomputed together.
package grid

import (
	"fmt"

	"gantry-go/pkg/config"
	"gantry-go/pkg/errors"
)

// Config is a computed grid.
type Config struct {
	Cols       int     `json:"cols"`
	Rows       int     `json:"rows"`
	TrayWidth  float64 `json:"tray_width"`
	TrayHeight float64 `json:"tray_height"`
	ItemWidth  float64 `json:"item_width"`
	ItemHeight float64 `json:"item_height"`
	Border     float64 `json:"border"`
	GapX       float64 `json:"gap_x"`
	GapY       float64 `json:"gap_y"`
	// FitWarning is set when a gap had to be clamped to zero because the
	// items do not fit the tray at this density.
	FitWarning bool `json:"fit_warning"`
}

// Calculator holds the per-deployment item and border sizes.
type Calculator struct {
	itemWidth  float64
	itemHeight float64
	border     float64
}

// NewCalculator creates a calculator from the [grid] configuration.
func NewCalculator(cfg config.GridConfig) *Calculator {
	return &Calculator{
		itemWidth:  cfg.ItemWidth,
		itemHeight: cfg.ItemHeight,
		border:     cfg.Border,
	}
}

// gap returns the spacing for n items of size item over length, and whether
// it had to be clamped.
func (c *Calculator) gap(n int, length, item float64) (float64, bool) {
	if n <= 1 {
		return 0, false
	}
	g := (length - 2*c.border - item*float64(n)) / float64(n-1)
	if g < 0 {
		return 0, true
	}
	return g, false
}

// Recompute derives both gaps. The result is a pure function of its inputs.
// A grid that does not fit is still returned, with clamped gaps and
// FitWarning set.
func (c *Calculator) Recompute(cols, rows int, trayW, trayH float64) (Config, error) {
	switch {
	case cols <= 0:
		return Config{}, errors.InvalidParameter("cols", fmt.Sprintf("%d must be > 0", cols))
	case rows <= 0:
		return Config{}, errors.InvalidParameter("rows", fmt.Sprintf("%d must be > 0", rows))
	case !(trayW > 0):
		return Config{}, errors.InvalidParameter("tray_width", fmt.Sprintf("%g must be > 0", trayW))
	case !(trayH > 0):
		return Config{}, errors.InvalidParameter("tray_height", fmt.Sprintf("%g must be > 0", trayH))
	}
	gx, clampX := c.gap(cols, trayW, c.itemWidth)
	gy, clampY := c.gap(rows, trayH, c.itemHeight)
	return Config{
		Cols:       cols,
		Rows:       rows,
		TrayWidth:  trayW,
		TrayHeight: trayH,
		ItemWidth:  c.itemWidth,
		ItemHeight: c.itemHeight,
		Border:     c.border,
		GapX:       gx,
		GapY:       gy,
		FitWarning: clampX || clampY,
	}, nil
}

// Warning returns the fit warning as an error, or nil.
func (g Config) Warning() error {
	if !g.FitWarning {
		return nil
	}
	return errors.GeometryFit(g.Cols, g.Rows, g.TrayWidth, g.TrayHeight)
}

// PitchX is the distance between adjacent column centres.
func (g Config) PitchX() float64 { return g.ItemWidth + g.GapX }

// PitchY is the distance between adjacent row centres.
func (g Config) PitchY() float64 { return g.ItemHeight + g.GapY }

// Cells returns the number of grid cells.
func (g Config) Cells() int { return g.Cols * g.Rows }

// Cell maps a linear placement index to its column and row. Even rows run
// columns 0..cols-1, odd rows run back.
func (g Config) Cell(index int) (col, row int) {
	row = index / g.Cols
	col = index % g.Cols
	if row%2 == 1 {
		col = g.Cols - 1 - col
	}
	return col, row
}

// Offset returns the displacement of cell (col, row) from cell (0, 0).
// Columns advance toward -X and rows toward -Y.
func (g Config) Offset(col, row int) (dx, dy float64) {
	return -float64(col) * g.PitchX(), -float64(row) * g.PitchY()
}

// TrayPoint returns the centre of cell (col, row) in tray coordinates, with
// the tray's lower-left corner at the origin. Cell (0, 0) is the top-right
// cell.
func (g Config) TrayPoint(col, row int) (x, y float64) {
	x = g.Border + g.ItemWidth/2 + float64(g.Cols-1-col)*g.PitchX()
	y = g.Border + g.ItemHeight/2 + float64(g.Rows-1-row)*g.PitchY()
	return x, y
}
