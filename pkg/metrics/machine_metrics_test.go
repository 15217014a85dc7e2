// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	stderrors "errors"
	"strings"
	"testing"

	"gantry-go/pkg/errors"
)

func TestRecordHoming(t *testing.T) {
	mm := NewMachineMetrics()
	mm.RecordHoming(4, nil)
	mm.RecordHoming(15, errors.HomingTimeout([]string{"x", "z"}))
	mm.RecordHoming(1, errors.Stopped("home"))

	if n := mm.HomingAttempts.Get(nil); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
	for _, axis := range []string{"x", "z"} {
		if n := mm.HomingTimeouts.Get(Labels{"axis": axis}); n != 1 {
			t.Errorf("timeouts{%s} = %d, want 1", axis, n)
		}
	}
	if n := mm.HomingTime.GetSnapshot(nil).Count; n != 1 {
		t.Errorf("durations = %d, want 1", n)
	}
}

func TestRecordIntent(t *testing.T) {
	mm := NewMachineMetrics()
	mm.RecordIntent("next", nil)
	mm.RecordIntent("next", errors.Busy("homing"))
	mm.RecordIntent("home", stderrors.New("plain"))

	if n := mm.Intents.Get(Labels{"intent": "next"}); n != 2 {
		t.Errorf("intents{next} = %d, want 2", n)
	}
	if n := mm.IntentsRejected.Get(Labels{"intent": "next", "code": string(errors.ErrBusy)}); n != 1 {
		t.Errorf("rejected{busy} = %d, want 1", n)
	}
	if n := mm.IntentsRejected.Get(Labels{"intent": "home", "code": string(errors.ErrRuntime)}); n != 1 {
		t.Errorf("rejected{runtime} = %d, want 1", n)
	}
}

func TestPickPlaceAndState(t *testing.T) {
	mm := NewMachineMetrics()
	mm.RecordPnPCycle(1)
	mm.RecordPnPSkip(2)
	mm.RecordPnPCycle(3)
	mm.SetState(1, 2)
	mm.RecordStop()
	mm.RecordShutdown("emergency_stop")
	mm.RecordLinkError("io")
	mm.RecordMove()

	if mm.PnPCycles.Get(nil) != 2 || mm.PnPSkips.Get(nil) != 1 || mm.PnPIndex.Get(nil) != 3 {
		t.Errorf("pnp = %d cycles %d skips index %v", mm.PnPCycles.Get(nil), mm.PnPSkips.Get(nil), mm.PnPIndex.Get(nil))
	}
	if mm.Mode.Get(nil) != 1 || mm.Activity.Get(nil) != 2 {
		t.Errorf("mode %v activity %v, want 1 2", mm.Mode.Get(nil), mm.Activity.Get(nil))
	}
	out := mm.Gather()
	for _, want := range []string{
		"gantry_stops_total 1",
		`gantry_shutdown_events_total{reason="emergency_stop"} 1`,
		`gantry_link_errors_total{board="io"} 1`,
		"gantry_moves_total 1",
		"gantry_host_uptime_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Gather() missing %q", want)
		}
	}
}
