package stepdriver

import (
	"testing"

	"gantry-go/pkg/reactor"
)

func TestSimMotorMoveTo(t *testing.T) {
	clock := reactor.NewSimClock(0)
	m := NewSimMotor(0, clock, 0)
	m.SetSpeed(1000)

	m.MoveTo(500)
	if !m.IsRunning() {
		t.Fatal("IsRunning() = false right after MoveTo")
	}
	clock.Advance(0.25)
	if got := m.CurrentPosition(); got != 250 {
		t.Errorf("CurrentPosition() = %d, want 250", got)
	}
	clock.Advance(0.3)
	if m.IsRunning() {
		t.Error("still running past the target")
	}
	if got := m.CurrentPosition(); got != 500 {
		t.Errorf("CurrentPosition() = %d, want 500", got)
	}
	if m.Commands() != 1 {
		t.Errorf("Commands() = %d, want 1", m.Commands())
	}
}

func TestSimMotorContinuousAndStop(t *testing.T) {
	clock := reactor.NewSimClock(0)
	m := NewSimMotor(1, clock, 300)
	m.SetSpeed(100)
	m.Run(false)
	clock.Advance(1)
	if got := m.PhysicalPosition(); got != 200 {
		t.Errorf("PhysicalPosition() = %v, want 200", got)
	}
	m.ForceStop()
	clock.Advance(1)
	if m.IsRunning() || m.PhysicalPosition() != 200 {
		t.Errorf("motor kept moving after ForceStop: %v", m.PhysicalPosition())
	}
}

func TestSimMotorRezeroKeepsSwitch(t *testing.T) {
	clock := reactor.NewSimClock(0)
	m := NewSimMotor(0, clock, 50)
	sensor := m.HomeSensor(false, 0)
	m.SetSpeed(100)
	m.Run(false)

	clock.Advance(0.4)
	if on, _ := sensor(); on {
		t.Fatal("switch triggered before reaching the origin")
	}
	clock.Advance(0.2)
	if on, _ := sensor(); !on {
		t.Fatal("switch not triggered past the origin")
	}
	m.ForceStop()
	m.SetCurrentPosition(0)
	m.MoveTo(127)
	clock.Advance(2)
	if m.CurrentPosition() != 127 {
		t.Errorf("CurrentPosition() = %d, want 127", m.CurrentPosition())
	}
	if on, _ := sensor(); on {
		t.Error("switch still triggered after moving off")
	}
}

func TestSimMotorStall(t *testing.T) {
	clock := reactor.NewSimClock(0)
	m := NewSimMotor(0, clock, 0)
	m.SetStalled(true)
	m.MoveTo(10)
	clock.Advance(5)
	if !m.IsRunning() || m.CurrentPosition() != 0 {
		t.Error("stalled motor moved")
	}
}
