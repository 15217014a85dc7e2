// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestHostErrorFormat(t *testing.T) {
	err := ConfigOptionError("stepper_x", "steps_per_unit")
	if got := err.Error(); !strings.Contains(got, "[CONFIG_OPTION:steps_per_unit]") {
		t.Errorf("Error() = %q", got)
	}
	wrapped := IOError("driver", fmt.Errorf("broken pipe"))
	if got := wrapped.Error(); !strings.HasSuffix(got, ": broken pipe") {
		t.Errorf("Error() = %q, want wrapped cause", got)
	}
	if Reason(wrapped) != "driver I/O failed: broken pipe" {
		t.Errorf("Reason() = %q", Reason(wrapped))
	}
}

func TestIsAcrossWrapping(t *testing.T) {
	base := Busy("Moving")
	wrapped := fmt.Errorf("dispatch: %w", base)

	if !Is(wrapped, ErrBusy) {
		t.Error("Is(wrapped, ErrBusy) = false")
	}
	if Is(wrapped, ErrNotHomed) {
		t.Error("Is(wrapped, ErrNotHomed) = true")
	}
	if !stderrors.Is(wrapped, New(ErrBusy, "")) {
		t.Error("errors.Is did not match by code")
	}
	if CodeOf(fmt.Errorf("plain")) != ErrRuntime {
		t.Errorf("CodeOf(plain) = %v, want %v", CodeOf(fmt.Errorf("plain")), ErrRuntime)
	}
}

func TestHomingTimeoutAxes(t *testing.T) {
	err := HomingTimeout([]string{"x"})
	if got := TimedOutAxes(err); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("TimedOutAxes() = %v, want [x]", got)
	}
	if got := TimedOutAxes(Busy("Homing")); got != nil {
		t.Errorf("TimedOutAxes(Busy) = %v, want nil", got)
	}
	if Reason(err) != "Homing timed out on x." {
		t.Errorf("Reason() = %q", Reason(err))
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		err       error
		config    bool
		rejection bool
	}{
		{ConfigSectionError("grid"), true, false},
		{ConfigTypeError("grid", "border", "x", "float", fmt.Errorf("bad")), true, false},
		{NotHomed("paint"), false, true},
		{InvalidMode("jog", "PickPlace"), false, true},
		{InvalidParameter("cols", "must be > 0"), false, true},
		{HomingTimeout([]string{"z"}), false, false},
		{Stopped("Homing"), false, false},
	}
	for _, tt := range tests {
		if got := IsConfig(tt.err); got != tt.config {
			t.Errorf("IsConfig(%v) = %v, want %v", tt.err, got, tt.config)
		}
		if got := IsRejection(tt.err); got != tt.rejection {
			t.Errorf("IsRejection(%v) = %v, want %v", tt.err, got, tt.rejection)
		}
	}
}

func TestRecoverPanic(t *testing.T) {
	var got *HostError
	func() {
		defer func() { got = RecoverPanic(recover()) }()
		panic("axis table corrupt")
	}()
	if got == nil || got.Code != ErrRuntime || !strings.Contains(got.Message, "axis table corrupt") {
		t.Errorf("RecoverPanic() = %v", got)
	}
	if RecoverPanic(nil) != nil {
		t.Error("RecoverPanic(nil) != nil")
	}
}
