package settings

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gantry-go/pkg/errors"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gantry_settings.cfg")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := SavePairs(s, "grid_cols", 6, "tray_width", 20.5, "side_pitch", "150,160,170,180", "enabled", true); err != nil {
		t.Fatalf("SavePairs() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "[Variables]\nenabled = True\ngrid_cols = 6\nside_pitch = '150,160,170,180'\ntray_width = 20.5\n"
	if string(data) != want {
		t.Errorf("file =\n%s\nwant\n%s", data, want)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() again error = %v", err)
	}
	tests := []struct {
		key  string
		want any
	}{
		{"grid_cols", int64(6)},
		{"tray_width", 20.5},
		{"side_pitch", "150,160,170,180"},
		{"enabled", true},
	}
	for _, tt := range tests {
		got, ok := reopened.Get(tt.key)
		if !ok || got != tt.want {
			t.Errorf("Get(%q) = %v (%T), want %v (%T)", tt.key, got, got, tt.want, tt.want)
		}
	}
	if err := reopened.Delete("enabled"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	if _, ok := reopened.Get("enabled"); ok {
		t.Error("enabled still present after Delete()")
	}
}

func TestFileStoreIgnoresOtherSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vars.cfg")
	content := "[Other]\ngrid_cols = 9\n[Variables]\ngrid_rows = 3\nname = \"tray\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, ok := s.Get("grid_cols"); ok {
		t.Error("value outside [Variables] was loaded")
	}
	if v, _ := s.Get("name"); v != "tray" {
		t.Errorf("name = %v, want tray", v)
	}
	if v, _ := s.Get("grid_rows"); v != int64(3) {
		t.Errorf("grid_rows = %v, want 3", v)
	}
}

func TestPutRejectsBadKeys(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "vars.cfg"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for _, key := range []string{"", "GridCols", "a b", "x=y"} {
		if err := s.Put(key, 1); !errors.Is(err, errors.ErrInvalidParameter) {
			t.Errorf("Put(%q) error = %v, want %v", key, err, errors.ErrInvalidParameter)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	got, err := Load(NewMemStore())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, Defaults()) {
		t.Errorf("Load(empty) = %+v, want defaults", got)
	}
}

func TestLoadWeaklyTyped(t *testing.T) {
	kv := NewMemStore()
	kv.Put("grid_cols", "6")
	kv.Put("grid_rows", int64(2))
	kv.Put("first_place_x", int64(22))
	kv.Put("side_pattern", "90,0,90,0")
	kv.Put("side_z", "1.5,1.25,1,0.75")

	s, err := Load(kv)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.GridCols != 6 || s.GridRows != 2 || s.FirstPlaceX != 22 {
		t.Errorf("grid %dx%d first x %v, want 6x2 and 22", s.GridCols, s.GridRows, s.FirstPlaceX)
	}
	if !reflect.DeepEqual(s.SidePattern, []int{90, 0, 90, 0}) {
		t.Errorf("SidePattern = %v", s.SidePattern)
	}
	if !reflect.DeepEqual(s.SideZ, []float64{1.5, 1.25, 1, 0.75}) {
		t.Errorf("SideZ = %v", s.SideZ)
	}
	if !reflect.DeepEqual(s.SideSpeed, Defaults().SideSpeed) {
		t.Errorf("SideSpeed = %v, want defaults", s.SideSpeed)
	}
}

func TestLoadRejectsShortSideList(t *testing.T) {
	kv := NewMemStore()
	kv.Put("side_speed", "1000,2000")
	kv.Put("pnp_offset_x", 7.5)
	kv.Put("side_z", "1,1,1.5,1")
	s, err := Load(kv)
	if !errors.IsConfig(err) {
		t.Fatalf("Load() error = %v, want config error", err)
	}
	if !strings.Contains(err.Error(), "side_speed") {
		t.Errorf("error %q does not name side_speed", err)
	}
	if !reflect.DeepEqual(s.SideSpeed, Defaults().SideSpeed) {
		t.Errorf("SideSpeed = %v, want defaults", s.SideSpeed)
	}
	if s.PnPOffsetX != 7.5 || !reflect.DeepEqual(s.SideZ, []float64{1, 1, 1.5, 1}) {
		t.Errorf("good keys lost: pnp_offset_x %v side_z %v", s.PnPOffsetX, s.SideZ)
	}
}

func TestLoadBadValueKeepsOthers(t *testing.T) {
	kv := NewMemStore()
	kv.Put("grid_cols", "lots")
	kv.Put("first_place_y", "12.5")
	kv.Put("side_pitch", "170, 160,150,180")
	s, err := Load(kv)
	if !errors.Is(err, errors.ErrConfigType) {
		t.Errorf("Load() error = %v, want %v", err, errors.ErrConfigType)
	}
	if s.GridCols != Defaults().GridCols {
		t.Errorf("GridCols = %d, want default %d", s.GridCols, Defaults().GridCols)
	}
	if s.FirstPlaceY != 12.5 {
		t.Errorf("FirstPlaceY = %v, want 12.5", s.FirstPlaceY)
	}
	if !reflect.DeepEqual(s.SidePitch, []int{170, 160, 150, 180}) {
		t.Errorf("SidePitch = %v", s.SidePitch)
	}
}

func TestLoadFileStoreSides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vars.cfg")
	fs, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s := Defaults()
	s.SideZ[1] = 1.25
	s.PnPOffsetY = 3
	if err := SaveSides(fs, s); err != nil {
		t.Fatalf("SaveSides() error = %v", err)
	}
	if err := Save(fs, "pnp_offset_y", 3.0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	back, err := Load(reopened)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(back, s) {
		t.Errorf("Load(reopened) = %+v, want %+v", back, s)
	}
}

func TestSaveSides(t *testing.T) {
	kv := NewMemStore()
	s := Defaults()
	s.SideSpeed[2] = 8000
	if err := SaveSides(kv, s); err != nil {
		t.Fatalf("SaveSides() error = %v", err)
	}
	if v, _ := kv.Get("side_speed"); v != "10000,10000,8000,10000" {
		t.Errorf("side_speed = %v", v)
	}
	back, err := Load(kv)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(back, s) {
		t.Errorf("Load(SaveSides()) = %+v, want %+v", back, s)
	}
	if err := SavePairs(kv, "only_key"); !errors.Is(err, errors.ErrInvalidParameter) {
		t.Errorf("SavePairs(odd) error = %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	a := Defaults()
	b := a.Clone()
	b.SidePitch[0] = 150
	if a.SidePitch[0] != 180 {
		t.Error("Clone() shares SidePitch")
	}
}
