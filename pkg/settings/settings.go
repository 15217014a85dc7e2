package settings

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"gantry-go/pkg/errors"
	"gantry-go/pkg/log"
)

// Sides is the number of paint sides.
const Sides = 4

// Settings are the operator-adjustable values that survive restarts.
// Per-side paint values are comma lists indexed by side.
type Settings struct {
	XSpeed float64 `mapstructure:"x_speed" json:"x_speed"`
	XAccel float64 `mapstructure:"x_accel" json:"x_accel"`
	YSpeed float64 `mapstructure:"y_speed" json:"y_speed"`
	YAccel float64 `mapstructure:"y_accel" json:"y_accel"`
	ZSpeed float64 `mapstructure:"z_speed" json:"z_speed"`
	ZAccel float64 `mapstructure:"z_accel" json:"z_accel"`

	PnPOffsetX  float64 `mapstructure:"pnp_offset_x" json:"pnp_offset_x"`
	PnPOffsetY  float64 `mapstructure:"pnp_offset_y" json:"pnp_offset_y"`
	FirstPlaceX float64 `mapstructure:"first_place_x" json:"first_place_x"`
	FirstPlaceY float64 `mapstructure:"first_place_y" json:"first_place_y"`

	GridCols   int     `mapstructure:"grid_cols" json:"grid_cols"`
	GridRows   int     `mapstructure:"grid_rows" json:"grid_rows"`
	GapX       float64 `mapstructure:"gap_x" json:"gap_x"`
	GapY       float64 `mapstructure:"gap_y" json:"gap_y"`
	TrayWidth  float64 `mapstructure:"tray_width" json:"tray_width"`
	TrayHeight float64 `mapstructure:"tray_height" json:"tray_height"`

	GunOffsetX float64 `mapstructure:"gun_offset_x" json:"gun_offset_x"`
	GunOffsetY float64 `mapstructure:"gun_offset_y" json:"gun_offset_y"`

	SideZ       []float64 `mapstructure:"side_z" json:"side_z"`
	SidePitch   []int     `mapstructure:"side_pitch" json:"side_pitch"`
	SidePattern []int     `mapstructure:"side_pattern" json:"side_pattern"`
	SideSpeed   []float64 `mapstructure:"side_speed" json:"side_speed"`
}

// Keys lists every stored key.
var Keys = []string{
	"x_speed", "x_accel", "y_speed", "y_accel", "z_speed", "z_accel",
	"pnp_offset_x", "pnp_offset_y", "first_place_x", "first_place_y",
	"grid_cols", "grid_rows", "gap_x", "gap_y", "tray_width", "tray_height",
	"gun_offset_x", "gun_offset_y",
	"side_z", "side_pitch", "side_pattern", "side_speed",
}

// Defaults returns the factory settings.
func Defaults() Settings {
	return Settings{
		XSpeed: 20000, XAccel: 20000,
		YSpeed: 20000, YAccel: 20000,
		ZSpeed: 5000, ZAccel: 13000,
		PnPOffsetX: 15, PnPOffsetY: 0,
		FirstPlaceX: 20, FirstPlaceY: 20,
		GridCols: 4, GridRows: 5,
		TrayWidth: 24, TrayHeight: 18,
		GunOffsetX: 0, GunOffsetY: 1.5,
		SideZ:       []float64{1, 1, 1, 1},
		SidePitch:   []int{180, 180, 180, 180},
		SidePattern: []int{0, 90, 0, 90},
		SideSpeed:   []float64{10000, 10000, 10000, 10000},
	}
}

// Load decodes the stored values over the defaults. Values are weakly typed
// so "12" and 12 both decode into numeric fields, and per-side lists are
// stored as comma separated strings. A key that does not decode keeps its
// default; the returned settings are always usable and the error names the
// first bad key.
func Load(kv KV) (Settings, error) {
	s := Defaults()
	var first error
	for _, k := range Keys {
		v, ok := kv.Get(k)
		if !ok {
			continue
		}
		next := s.Clone()
		if err := decodeKey(&next, k, v); err != nil {
			log.GetLogger("settings").WithError(err).Warnf("%s unusable, keeping default", k)
			if first == nil {
				first = err
			}
			continue
		}
		s = next
	}
	s.normalize()
	return s, first
}

// listKeys are stored as comma separated strings.
var listKeys = map[string]bool{"side_z": true, "side_pitch": true, "side_pattern": true, "side_speed": true}

func decodeKey(s *Settings, key string, v any) error {
	if str, ok := v.(string); ok && listKeys[key] {
		parts := strings.Split(str, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		v = parts
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ZeroFields:       true,
		Result:           s,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigType, "settings decoder")
	}
	if err := dec.Decode(map[string]any{key: v}); err != nil {
		return errors.ConfigTypeError("settings", key, fmt.Sprint(v), "setting", err)
	}
	if n := sideLen(s, key); listKeys[key] && n != Sides {
		return badSide(key, n)
	}
	return nil
}

func sideLen(s *Settings, key string) int {
	switch key {
	case "side_z":
		return len(s.SideZ)
	case "side_pitch":
		return len(s.SidePitch)
	case "side_pattern":
		return len(s.SidePattern)
	case "side_speed":
		return len(s.SideSpeed)
	}
	return 0
}

// normalize replaces an invalid grid or tray with the defaults.
func (s *Settings) normalize() {
	d := Defaults()
	if s.GridCols <= 0 || s.GridRows <= 0 {
		log.GetLogger("settings").Warn("grid %dx%d invalid, using %dx%d", s.GridCols, s.GridRows, d.GridCols, d.GridRows)
		s.GridCols, s.GridRows = d.GridCols, d.GridRows
	}
	if s.TrayWidth <= 0 || s.TrayHeight <= 0 {
		s.TrayWidth, s.TrayHeight = d.TrayWidth, d.TrayHeight
	}
}

func badSide(key string, n int) error {
	return errors.ConfigValidationError("settings", key, fmt.Sprintf("has %d entries, want %d", n, Sides))
}

// Save writes one key.
func Save(kv KV, key string, value any) error {
	return kv.Put(key, value)
}

// SavePairs writes several keys, stopping at the first failure.
func SavePairs(kv KV, pairs ...any) error {
	if len(pairs)%2 != 0 {
		return errors.InvalidParameter("pairs", "odd number of arguments")
	}
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return errors.InvalidParameter("pairs", fmt.Sprintf("key %v is not a string", pairs[i]))
		}
		if err := Save(kv, key, pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// SaveSides writes the four per-side lists.
func SaveSides(kv KV, s Settings) error {
	return SavePairs(kv,
		"side_z", joinFloats(s.SideZ),
		"side_pitch", joinInts(s.SidePitch),
		"side_pattern", joinInts(s.SidePattern),
		"side_speed", joinFloats(s.SideSpeed),
	)
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	c := s
	c.SideZ = append([]float64(nil), s.SideZ...)
	c.SidePitch = append([]int(nil), s.SidePitch...)
	c.SidePattern = append([]int(nil), s.SidePattern...)
	c.SideSpeed = append([]float64(nil), s.SideSpeed...)
	return c
}
