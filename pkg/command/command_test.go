package command

import (
	"testing"

	"gantry-go/pkg/errors"
	"gantry-go/pkg/machine"
)

type recorder struct {
	got []machine.Intent
	err error
}

func (r *recorder) RequestTransition(in machine.Intent) error {
	r.got = append(r.got, in)
	return r.err
}

func TestParse(t *testing.T) {
	d := New(&recorder{})
	tests := []struct {
		line string
		want machine.Intent
	}{
		{"HOME", machine.Home()},
		{"  stop ", machine.Stop()},
		{"EXIT_PICKPLACE", machine.ExitPickPlace(true)},
		{"JOG z -0.25", machine.Jog("z", -0.25)},
		{"MOVE_TO_COORDS 12 3.5", machine.MoveXY(12, 3.5)},
		{"ROTATE 90 ; quarter turn", machine.Rotate(90)},
		{"PAINT_SIDE_2", machine.PaintSide(2)},
		{"SET_SERVO_PITCH 160", machine.SetServoPitch(160)},
		{"SET_GRID_SPACING 4 5", machine.SetGrid(4, 5)},
		{"SET_TRAY_SIZE 24 18", machine.SetTraySize(24, 18)},
		{"SET_PNP_SPEEDS '20000' \"15000\"", machine.SetPnPSpeeds(20000, 15000)},
		{"SET_PAINT_SIDE_SETTINGS 1 1.5 170 90 8000", machine.SetSideSettings(1, 1.5, 170, 90, 8000)},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok, err := d.Parse(tt.line)
			if err != nil || !ok {
				t.Fatalf("Parse(%q) = %v, %v", tt.line, ok, err)
			}
			if got.Kind != tt.want.Kind || got.Axis != tt.want.Axis || got.X != tt.want.X || got.Y != tt.want.Y ||
				got.Value != tt.want.Value || got.Side != tt.want.Side || got.Pitch != tt.want.Pitch ||
				got.Pattern != tt.want.Pattern || got.Z != tt.want.Z || got.Speed != tt.want.Speed ||
				got.Cols != tt.want.Cols || got.Rows != tt.want.Rows || got.RequestHome != tt.want.RequestHome {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseGoto(t *testing.T) {
	in, _, err := New(&recorder{}).Parse("GOTO_20_20_0")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	tg := in.Target
	if in.Kind != machine.KindMove || tg.X == nil || *tg.X != 20 || tg.Y == nil || *tg.Y != 20 || tg.Z == nil || *tg.Z != 0 {
		t.Errorf("GOTO_20_20_0 = %+v", in)
	}
}

func TestParseErrors(t *testing.T) {
	d := New(&recorder{})
	tests := []struct {
		line string
		code errors.ErrorCode
	}{
		{"FLY_AWAY", errors.ErrUnknownCommand},
		{"JOG x", errors.ErrInvalidParameter},
		{"ROTATE ninety", errors.ErrInvalidParameter},
		{"SET_GRID_SPACING 4 5.5", errors.ErrInvalidParameter},
		{"HOME now", errors.ErrInvalidParameter},
		{"JOG x 'unterminated", errors.ErrCommandParse},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, _, err := d.Parse(tt.line)
			if !errors.Is(err, tt.code) {
				t.Errorf("Parse(%q) error = %v, want %v", tt.line, err, tt.code)
			}
		})
	}
}

func TestExecute(t *testing.T) {
	rec := &recorder{}
	d := New(rec)
	for _, line := range []string{"", "   ", "; comment only"} {
		if err := d.Execute(line); err != nil {
			t.Errorf("Execute(%q) error = %v", line, err)
		}
	}
	if len(rec.got) != 0 {
		t.Fatalf("blank lines produced %d intents", len(rec.got))
	}

	if err := d.Execute("PNP_NEXT_STEP"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(rec.got) != 1 || rec.got[0].Kind != machine.KindPnPNext {
		t.Errorf("intents = %+v", rec.got)
	}

	rec.err = errors.Busy("Moving")
	if err := d.Execute("HOME"); !errors.Is(err, errors.ErrBusy) {
		t.Errorf("Execute() error = %v, want the machine's rejection", err)
	}
	if err := d.Execute("NOPE"); !errors.Is(err, errors.ErrUnknownCommand) {
		t.Errorf("Execute(NOPE) error = %v", err)
	}
	if len(rec.got) != 2 {
		t.Errorf("unknown command reached the machine")
	}
}

func TestCommandsSorted(t *testing.T) {
	cmds := New(&recorder{}).Commands()
	if len(cmds) != len(table) {
		t.Fatalf("Commands() has %d entries, want %d", len(cmds), len(table))
	}
	for i := 1; i < len(cmds); i++ {
		if cmds[i-1].Name >= cmds[i].Name {
			t.Errorf("Commands() not sorted at %s, %s", cmds[i-1].Name, cmds[i].Name)
		}
	}
}
