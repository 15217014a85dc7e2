// Coded errors for the gantry host
//
// Every rejection the machine can produce carries an ErrorCode so that the
// dispatcher, the status channel and the metrics can tell a Busy rejection
// from a homing timeout without parsing strings.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// Command channel errors
	ErrCommandParse   ErrorCode = "COMMAND_PARSE"
	ErrUnknownCommand ErrorCode = "UNKNOWN_COMMAND"

	// Intent rejections
	ErrBusy                ErrorCode = "BUSY"
	ErrNotHomed            ErrorCode = "NOT_HOMED"
	ErrInvalidMode         ErrorCode = "INVALID_MODE"
	ErrHomingTimeout       ErrorCode = "HOMING_TIMEOUT"
	ErrInvalidParameter    ErrorCode = "INVALID_PARAMETER"
	ErrGeometryFit         ErrorCode = "GEOMETRY_FIT"
	ErrHardwareUnavailable ErrorCode = "HARDWARE_UNAVAILABLE"
	ErrStopped             ErrorCode = "STOPPED"
	ErrMoveTimeout         ErrorCode = "MOVE_TIMEOUT"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
	ErrRuntimeIO   ErrorCode = "RUNTIME_IO"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or subsystem
	Section string

	// Option is the config option or parameter name
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional structured detail
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	where := e.Section
	if e.Option != "" {
		where = e.Option
	}
	msg := fmt.Sprintf("[%s:%s] %s", e.Code, where, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match two HostErrors by code.
func (e *HostError) Is(target error) bool {
	t, ok := target.(*HostError)
	return ok && t.Code == e.Code
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the option or parameter name
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message}
}

// Newf creates a new HostError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *HostError {
	return &HostError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message, Err: err}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *HostError {
	return Newf(ErrConfigSection, "section '%s' not found", section).SetSection(section)
}

// ConfigOptionError creates an error for missing config option
func ConfigOptionError(section, option string) *HostError {
	return Newf(ErrConfigOption, "option '%s' not found in section '%s'", option, section).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return Newf(ErrConfigValidation, "option '%s' in section '%s': %s", option, section, reason).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for config type conversion failure
func ConfigTypeError(section, option, value string, targetType string, err error) *HostError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// Intent rejections

// Busy reports that an operation arrived while the machine was active.
func Busy(activity string) *HostError {
	return Newf(ErrBusy, "Machine is busy (%s).", activity).SetContext("activity", activity)
}

// NotHomed reports an operation that needs a completed homing pass.
func NotHomed(op string) *HostError {
	return Newf(ErrNotHomed, "Machine not homed, cannot %s.", op)
}

// InvalidMode reports an operation that is not allowed in the current mode.
func InvalidMode(op, mode string) *HostError {
	return Newf(ErrInvalidMode, "Cannot %s in %s mode.", op, mode).SetContext("mode", mode)
}

// HomingTimeout reports the axes that never reached their switch.
func HomingTimeout(axes []string) *HostError {
	return Newf(ErrHomingTimeout, "Homing timed out on %s.", strings.Join(axes, ", ")).
		SetSection("homing").
		SetContext("axes", axes)
}

// InvalidParameter reports a missing or out-of-range parameter.
func InvalidParameter(name, reason string) *HostError {
	return Newf(ErrInvalidParameter, "Invalid %s: %s", name, reason).SetOption(name)
}

// GeometryFit reports a grid that does not fit its tray. The grid is still
// usable with clamped gaps.
func GeometryFit(cols, rows int, trayW, trayH float64) *HostError {
	return Newf(ErrGeometryFit, "%dx%d grid does not fit a %.2fx%.2f tray, gaps clamped to 0.", cols, rows, trayW, trayH).
		SetSection("grid")
}

// HardwareUnavailable reports a component that failed to initialize.
func HardwareUnavailable(component string) *HostError {
	return Newf(ErrHardwareUnavailable, "%s unavailable.", component).SetSection(component)
}

// Stopped reports an operation cancelled by STOP.
func Stopped(op string) *HostError {
	return Newf(ErrStopped, "%s stopped.", op)
}

// MoveTimeout reports a guarded move that did not finish in time.
func MoveTimeout(op string, seconds float64) *HostError {
	return Newf(ErrMoveTimeout, "%s did not finish within %.1fs.", op, seconds)
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// RuntimeErrorInit creates an error for initialization failure
func RuntimeErrorInit(component string, reason string) *HostError {
	return Newf(ErrRuntimeInit, "failed to initialize %s: %s", component, reason).SetSection(component)
}

// IOError wraps a transport failure on a driver or I/O link.
func IOError(device string, err error) *HostError {
	return Wrap(err, ErrRuntimeIO, fmt.Sprintf("%s I/O failed", device)).SetSection(device)
}

// RecoverPanic converts a recovered panic value into an error. It must be
// called directly from a deferred function.
func RecoverPanic(r interface{}) *HostError {
	if r == nil {
		return nil
	}
	switch x := r.(type) {
	case error:
		return Wrap(x, ErrRuntime, "panic")
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// As returns the first HostError in err's chain.
func As(err error) (*HostError, bool) {
	var he *HostError
	if stderrors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// Is checks if any error in err's chain has the given code.
func Is(err error, code ErrorCode) bool {
	he, ok := As(err)
	return ok && he.Code == code
}

// CodeOf returns the code of err, or ErrRuntime for foreign errors.
func CodeOf(err error) ErrorCode {
	if he, ok := As(err); ok {
		return he.Code
	}
	return ErrRuntime
}

// Reason returns the operator-facing message of err.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if he, ok := As(err); ok {
		if he.Err != nil && he.Code == ErrRuntimeIO {
			return he.Message + ": " + he.Err.Error()
		}
		return he.Message
	}
	return err.Error()
}

// TimedOutAxes returns the axes recorded on a homing timeout.
func TimedOutAxes(err error) []string {
	he, ok := As(err)
	if !ok || he.Code != ErrHomingTimeout {
		return nil
	}
	axes, _ := he.Context["axes"].([]string)
	return axes
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	switch CodeOf(err) {
	case ErrConfigSection, ErrConfigOption, ErrConfigValidation, ErrConfigType:
		return true
	}
	return false
}

// IsRejection reports whether err is an intent rejection rather than a
// failure inside an accepted operation.
func IsRejection(err error) bool {
	switch CodeOf(err) {
	case ErrBusy, ErrNotHomed, ErrInvalidMode, ErrInvalidParameter, ErrCommandParse, ErrUnknownCommand:
		return true
	}
	return false
}
