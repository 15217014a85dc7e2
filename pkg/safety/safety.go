// Package safety owns the machine's shutdown state. A Stop halts every
// registered motor and turns off every registered output without latching;
// a shutdown does the same and then refuses further operation until Reset.
package safety

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"gantry-go/pkg/errors"
	"gantry-go/pkg/log"
)

// ShutdownState is the machine's shutdown state.
type ShutdownState int

const (
	StateRunning ShutdownState = iota
	StateShuttingDown
	StateShutdown
	StateError
)

func (s ShutdownState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ShutdownReason describes why the machine was shut down.
type ShutdownReason string

const (
	ReasonNone            ShutdownReason = ""
	ReasonEmergencyStop   ShutdownReason = "emergency_stop"
	ReasonWatchdogTimeout ShutdownReason = "watchdog_timeout"
	ReasonDriverError     ShutdownReason = "driver_error"
	ReasonCommunication   ShutdownReason = "communication_error"
	ReasonUserRequest     ShutdownReason = "user_request"
)

// MotorHalter stops motors at once. axis.Axis implements it.
type MotorHalter interface {
	Halt() error
}

// MotorDisabler releases motor holding current. Motors implementing it are
// disabled after a shutdown.
type MotorDisabler interface {
	DisableMotors() error
}

// OutputDisabler switches an actuator to its safe state.
type OutputDisabler interface {
	Off() error
}

// OffFunc adapts a function to OutputDisabler.
type OffFunc func() error

// Off implements OutputDisabler.
func (f OffFunc) Off() error { return f() }

// Manager tracks shutdown state and the components it must stop.
type Manager struct {
	mu sync.RWMutex

	state          ShutdownState
	shutdownReason ShutdownReason
	shutdownMsg    string
	shutdownTime   time.Time

	motors  []MotorHalter
	outputs []OutputDisabler

	watchdogCtx     context.Context
	watchdogCancel  context.CancelFunc
	watchdogTimeout time.Duration
	lastHeartbeat   time.Time
	// armed survives a shutdown so Reset can restart the watchdog.
	armed      bool
	watchdogMu sync.Mutex

	onShutdown    []func(reason ShutdownReason, msg string)
	onStateChange []func(oldState, newState ShutdownState)

	log *log.Logger
}

// New creates a Manager.
func New() *Manager {
	return &Manager{
		state:           StateRunning,
		watchdogTimeout: 5 * time.Second,
		log:             log.GetLogger("safety"),
	}
}

// Config holds manager settings.
type Config struct {
	WatchdogTimeout time.Duration
}

// Configure applies cfg.
func (m *Manager) Configure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.WatchdogTimeout > 0 {
		m.watchdogTimeout = cfg.WatchdogTimeout
	}
}

// RegisterMotor registers a motor group to halt on stop.
func (m *Manager) RegisterMotor(motor MotorHalter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.motors = append(m.motors, motor)
}

// RegisterOutput registers an actuator to switch off on stop.
func (m *Manager) RegisterOutput(out OutputDisabler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, out)
}

// OnShutdown registers fn to run after a shutdown.
func (m *Manager) OnShutdown(fn func(reason ShutdownReason, msg string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onShutdown = append(m.onShutdown, fn)
}

// OnStateChange registers fn to run on state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState ShutdownState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = append(m.onStateChange, fn)
}

// GetState returns the current state.
func (m *Manager) GetState() ShutdownState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetShutdownInfo returns the shutdown details.
func (m *Manager) GetShutdownInfo() (ShutdownReason, string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shutdownReason, m.shutdownMsg, m.shutdownTime
}

// IsOperational reports whether the machine runs normally.
func (m *Manager) IsOperational() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateRunning
}

// CheckOperational returns a HardwareUnavailable error while shut down.
func (m *Manager) CheckOperational() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateRunning {
		return errors.HardwareUnavailable("machine").
			SetContext("reason", string(m.shutdownReason)).
			SetContext("message", m.shutdownMsg)
	}
	return nil
}

// Stop halts every motor and switches off every output. It does not change
// the shutdown state and returns the first failure after trying them all.
func (m *Manager) Stop() error {
	m.mu.RLock()
	motors := append([]MotorHalter(nil), m.motors...)
	outputs := append([]OutputDisabler(nil), m.outputs...)
	m.mu.RUnlock()

	var first error
	for _, motor := range motors {
		if err := motor.Halt(); err != nil && first == nil {
			first = err
		}
	}
	for _, out := range outputs {
		if err := out.Off(); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		m.log.WithError(first).Warn("stop incomplete")
	}
	return first
}

// EmergencyStop stops everything and latches an error shutdown.
func (m *Manager) EmergencyStop(msg string) error {
	return m.invokeShutdown(ReasonEmergencyStop, msg)
}

// WatchdogTimeout shuts down after the main loop stopped beating.
func (m *Manager) WatchdogTimeout() error {
	return m.invokeShutdown(ReasonWatchdogTimeout, "main loop heartbeat timeout")
}

// DriverError shuts down after a driver board fault.
func (m *Manager) DriverError(board, errMsg string) error {
	return m.invokeShutdown(ReasonDriverError, fmt.Sprintf("%s: %s", board, errMsg))
}

// CommunicationError shuts down after a lost board link.
func (m *Manager) CommunicationError(board, errMsg string) error {
	return m.invokeShutdown(ReasonCommunication, fmt.Sprintf("%s: %s", board, errMsg))
}

// RequestShutdown shuts down on operator request.
func (m *Manager) RequestShutdown(msg string) error {
	return m.invokeShutdown(ReasonUserRequest, msg)
}

func (m *Manager) invokeShutdown(reason ShutdownReason, msg string) error {
	m.mu.Lock()
	if m.state == StateShutdown || m.state == StateError {
		m.mu.Unlock()
		return nil
	}
	oldState := m.state
	m.state = StateShuttingDown
	m.shutdownReason = reason
	m.shutdownMsg = msg
	m.shutdownTime = time.Now()
	m.mu.Unlock()

	m.haltWatchdog()
	m.log.WithField("reason", string(reason)).Errorf("shutdown: %s", msg)
	_ = m.Stop()
	m.mu.RLock()
	motors := append([]MotorHalter(nil), m.motors...)
	m.mu.RUnlock()
	for _, motor := range motors {
		if d, ok := motor.(MotorDisabler); ok {
			_ = d.DisableMotors()
		}
	}

	m.mu.Lock()
	finalState := StateShutdown
	if reason != ReasonUserRequest {
		finalState = StateError
	}
	m.state = finalState
	onShutdown := slices.Clone(m.onShutdown)
	onStateChange := slices.Clone(m.onStateChange)
	m.mu.Unlock()

	for _, fn := range onStateChange {
		fn(oldState, finalState)
	}
	for _, fn := range onShutdown {
		fn(reason, msg)
	}
	return nil
}

// StartWatchdog starts the heartbeat watchdog. It is restarted by Reset
// after a shutdown until StopWatchdog is called.
func (m *Manager) StartWatchdog() {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()
	m.armed = true
	m.startWatchdogLocked()
}

func (m *Manager) startWatchdogLocked() {
	if m.watchdogCancel != nil {
		return
	}
	m.watchdogCtx, m.watchdogCancel = context.WithCancel(context.Background())
	m.lastHeartbeat = time.Now()
	go m.watchdogLoop(m.watchdogCtx)
}

// StopWatchdog stops the watchdog.
func (m *Manager) StopWatchdog() {
	m.watchdogMu.Lock()
	m.armed = false
	m.watchdogMu.Unlock()
	m.haltWatchdog()
}

func (m *Manager) haltWatchdog() {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()
	if m.watchdogCancel != nil {
		m.watchdogCancel()
		m.watchdogCancel = nil
	}
}

// Heartbeat feeds the watchdog. The reactor calls it every loop.
func (m *Manager) Heartbeat() {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()
	m.lastHeartbeat = time.Now()
}

func (m *Manager) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(m.watchdogTimeout / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.watchdogMu.Lock()
			elapsed := time.Since(m.lastHeartbeat)
			m.watchdogMu.Unlock()
			m.mu.RLock()
			timeout := m.watchdogTimeout
			m.mu.RUnlock()
			if elapsed > timeout {
				m.WatchdogTimeout()
				return
			}
		}
	}
}

// Reset returns a shut down machine to running. Axes must be re-homed by
// the caller.
func (m *Manager) Reset() error {
	m.mu.Lock()
	if m.state == StateRunning || m.state == StateShuttingDown {
		m.mu.Unlock()
		return errors.New(errors.ErrRuntime, "safety: cannot reset while running or shutting down")
	}
	old := m.state
	m.state = StateRunning
	m.shutdownReason = ReasonNone
	m.shutdownMsg = ""
	m.shutdownTime = time.Time{}
	onStateChange := slices.Clone(m.onStateChange)
	m.mu.Unlock()

	m.watchdogMu.Lock()
	if m.armed {
		m.startWatchdogLocked()
	}
	m.watchdogMu.Unlock()
	for _, fn := range onStateChange {
		fn(old, StateRunning)
	}
	return nil
}

// Status is a reporting snapshot.
type Status struct {
	State          string    `json:"state"`
	ShutdownReason string    `json:"shutdown_reason,omitempty"`
	ShutdownMsg    string    `json:"shutdown_message,omitempty"`
	ShutdownTime   time.Time `json:"shutdown_time,omitempty"`
	IsOperational  bool      `json:"operational"`
}

// GetStatus returns the current status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		State:          m.state.String(),
		ShutdownReason: string(m.shutdownReason),
		ShutdownMsg:    m.shutdownMsg,
		ShutdownTime:   m.shutdownTime,
		IsOperational:  m.state == StateRunning,
	}
}
