package main

import (
	"fmt"
	"strings"
	"time"

	"gantry-go/pkg/axis"
	"gantry-go/pkg/config"
	"gantry-go/pkg/endstop"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/grid"
	"gantry-go/pkg/homing"
	"gantry-go/pkg/iolink"
	"gantry-go/pkg/log"
	"gantry-go/pkg/machine"
	"gantry-go/pkg/metrics"
	"gantry-go/pkg/motion"
	"gantry-go/pkg/paint"
	"gantry-go/pkg/pickplace"
	"gantry-go/pkg/reactor"
	"gantry-go/pkg/safety"
	"gantry-go/pkg/serial"
	"gantry-go/pkg/settings"
	"gantry-go/pkg/stepdriver"
	"gantry-go/pkg/tool"
)

const (
	ioReadyTimeout = 3 * time.Second
	pollInterval   = 0.02
	inputInterval  = 0.005
	linkCheckEvery = 0.25
)

// hardware is the board side of the machine: real serial boards or the
// simulated motors and pins.
type hardware struct {
	driver *stepdriver.Board
	io     *iolink.Board

	sims   map[int]*stepdriver.SimMotor
	button *endstop.Endstop
	inputs *endstop.Group
}

func (h *hardware) close() {
	if h.driver != nil {
		h.driver.Close()
	}
	if h.io != nil {
		h.io.Close()
	}
}

// motor returns the motor on a driver channel.
func (h *hardware) motor(ch int, clock reactor.Clock) axis.Motor {
	if h.driver != nil {
		return h.driver.Motor(ch)
	}
	m, ok := h.sims[ch]
	if !ok {
		m = stepdriver.NewSimMotor(ch, clock, int64(300+100*ch))
		h.sims[ch] = m
	}
	return m
}

func (h *hardware) output(pin config.Pin) iolink.Output {
	if h.io != nil {
		return h.io.OutputPin(pin)
	}
	return &iolink.MemPin{}
}

// input returns the raw line for an axis switch, or nil when no I/O board
// is connected. Simulated switches close when the motor reaches its
// physical origin.
func (h *hardware) input(a config.AxisConfig, i int, pin config.Pin, clock reactor.Clock) (endstop.Input, error) {
	if h.io != nil {
		in, err := h.io.InputPin(pin)
		if err != nil {
			return nil, err
		}
		return in, nil
	}
	if h.driver != nil {
		return nil, nil
	}
	sim := h.motor(a.Channels[i], clock).(*stepdriver.SimMotor)
	limit := int64(0)
	if a.HomingPositive {
		limit = int64(a.PositionMax * a.StepsPerUnit)
	}
	return endstop.InputFunc(sim.HomeSensor(a.HomingPositive, limit)), nil
}

func (h *hardware) servo() tool.ServoWriter {
	if h.io != nil {
		return h.io
	}
	return tool.ServoFunc(func(int, int) error { return nil })
}

// openHardware connects both boards, or builds the simulated set.
func openHardware(mc *config.MachineConfig, sim bool) (*hardware, error) {
	h := &hardware{sims: make(map[int]*stepdriver.SimMotor), inputs: endstop.NewGroup("inputs")}
	if sim || mc.Driver.Device == "" {
		return h, nil
	}
	cfg := serial.DefaultConfig()
	dev, err := serial.ResolveDevice(mc.Driver.Device)
	if err != nil {
		return nil, err
	}
	if !serial.IsDeviceAvailable(dev) {
		if ports, _ := serial.ListPorts(); len(ports) > 0 {
			log.GetLogger("main").Info("available serial ports: %s", strings.Join(ports, ", "))
		}
		return nil, errors.HardwareUnavailable("driver board " + dev)
	}
	cfg.Device, cfg.BaudRate = dev, mc.Driver.Baud
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, errors.IOError("driver board "+dev, err)
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, errors.IOError("driver board "+dev, err)
	}
	h.driver = stepdriver.NewBoard(serial.NewLineConn(port))

	if mc.IO.Device != "" {
		if h.io, err = iolink.Open(mc.IO); err != nil {
			h.driver.Close()
			return nil, err
		}
		if err := h.io.WaitReady(ioReadyTimeout); err != nil {
			h.close()
			return nil, err
		}
	}
	return h, nil
}

type app struct {
	reactor *reactor.Reactor
	hw      *hardware
	exec    *motion.Executor
	safety  *safety.Manager
	metrics *metrics.MachineMetrics
	machine *machine.Machine
	log     *log.Logger
}

func buildAxis(h *hardware, a config.AxisConfig, debounce float64, clock reactor.Clock) (*axis.Axis, error) {
	motors := make([]axis.Motor, 0, len(a.Channels))
	for _, ch := range a.Channels {
		motors = append(motors, h.motor(ch, clock))
	}
	var switches []axis.Switch
	for i, pin := range a.EndstopPins {
		in, err := h.input(a, i, pin, clock)
		if err != nil {
			return nil, err
		}
		if in == nil {
			break
		}
		name := a.Name
		if len(a.EndstopPins) > 1 {
			name = fmt.Sprintf("%s%d", a.Name, i)
		}
		switches = append(switches, endstop.New(endstop.EndstopConfig{
			Name:     name,
			Pin:      fmt.Sprintf("%d", pin.Index),
			Debounce: debounce,
		}, in, clock))
	}
	return axis.New(a, motors, switches)
}

// build assembles the machine from mc.
func build(r *reactor.Reactor, mc *config.MachineConfig, h *hardware, store settings.KV) (*app, error) {
	a := &app{reactor: r, hw: h, log: log.GetLogger("main")}
	clock := r.Clock()

	var axes motion.Axes
	for _, dst := range []struct {
		cfg config.AxisConfig
		ax  **axis.Axis
	}{{mc.X, &axes.X}, {mc.Y, &axes.Y}, {mc.Z, &axes.Z}, {mc.Rot, &axes.Rot}} {
		ax, err := buildAxis(h, dst.cfg, mc.Homing.Debounce, clock)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrRuntimeInit, "axis "+dst.cfg.Name)
		}
		*dst.ax = ax
	}
	a.exec = motion.New(r, axes)

	cylinder := h.output(mc.PickPlace.CylinderPin)
	suction := h.output(mc.PickPlace.SuctionPin)
	gun := h.output(mc.Paint.GunPin)
	pot := h.output(mc.Paint.PotPin)
	pick := tool.NewPickTool(cylinder, suction, mc.PickPlace, a.exec)
	paintGun := tool.NewPaintGun(gun, pot)
	pitch := tool.NewPitchServo(h.servo(), mc.Paint.ServoChannel, mc.Paint.PitchMin, mc.Paint.PitchMax)
	if err := pitch.Init(); err != nil {
		a.log.WithError(err).Warn("pitch servo not initialized")
	}

	if h.io != nil {
		in, err := h.io.InputPin(mc.PickPlace.ButtonPin)
		if err != nil {
			return nil, err
		}
		h.button = endstop.New(endstop.EndstopConfig{Name: "button", Debounce: mc.Homing.Debounce}, in, clock)
		h.inputs.Add(h.button)
	}

	a.safety = safety.New()
	a.safety.Configure(safety.Config{WatchdogTimeout: watchdogTimeout})
	for _, ax := range axes.All() {
		a.safety.RegisterMotor(ax)
	}
	a.safety.RegisterOutput(paintGun)
	a.safety.RegisterOutput(safety.OffFunc(pick.Release))
	a.safety.RegisterOutput(safety.OffFunc(func() error { return cylinder.Set(false) }))
	a.safety.OnStateChange(func(from, to safety.ShutdownState) {
		a.log.WithFields(log.Fields{"from": from.String(), "to": to.String()}).Info("safety state changed")
	})

	a.metrics = metrics.NewMachineMetrics()
	deps := machine.Deps{
		Reactor:   r,
		Exec:      a.exec,
		Homing:    homing.New(r, a.exec, mc.Homing),
		PickPlace: pickplace.New(a.exec, pick, mc.PickPlace),
		Paint:     paint.NewRunner(a.exec, paintGun, pitch, mc.Paint),
		Pitch:     pitch,
		Grid:      grid.NewCalculator(mc.Grid),
		Store:     store,
		Safety:    a.safety,
		Metrics:   a.metrics,
	}
	if h.button != nil {
		deps.Button = h.button
	}
	m, err := machine.New(deps)
	if err != nil {
		return nil, err
	}
	a.machine = m
	return a, nil
}

// attach starts board polling and the link supervisor on the reactor.
func (a *app) attach() {
	r := a.reactor
	if a.hw.driver != nil {
		a.hw.driver.Attach(r, pollInterval)
	}
	if a.hw.io != nil {
		a.hw.io.Attach(r, pollInterval)
		a.hw.inputs.Attach(r, inputInterval)
	}

	lastDriverErr := ""
	r.RegisterTimer(func(eventtime float64) float64 {
		a.safety.Heartbeat()
		if d := a.hw.driver; d != nil {
			if err := d.Err(); err != nil {
				a.metrics.RecordLinkError("driver")
				a.safety.CommunicationError("driver", err.Error())
				return reactor.NEVER
			}
			if msg := d.LastError(); msg != "" && msg != lastDriverErr {
				lastDriverErr = msg
				a.safety.DriverError("driver", msg)
			}
		}
		if io := a.hw.io; io != nil {
			if err := io.Err(); err != nil {
				a.metrics.RecordLinkError("io")
				a.safety.CommunicationError("io", err.Error())
				return reactor.NEVER
			}
		}
		return eventtime + linkCheckEvery
	}, reactor.NOW)

	r.RegisterTimer(func(eventtime float64) float64 {
		a.metrics.UpdateSystemMetrics()
		return eventtime + 5
	}, reactor.NOW)
}
