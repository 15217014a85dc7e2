// Package iolink provides the digital outputs and inputs of the machine:
// pneumatic valves, the paint gun, the pressure pot, home switches and the
// advance button. Pins live either on the serial I/O board or in memory for
// simulation and tests.
package iolink

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	tarm "github.com/tarm/serial"

	"gantry-go/pkg/config"
	"gantry-go/pkg/errors"
	"gantry-go/pkg/log"
	"gantry-go/pkg/reactor"
	"gantry-go/pkg/serial"
)

// Output is a binary actuator line without feedback.
type Output interface {
	Set(on bool) error
	State() bool
}

// Input is a raw digital input line.
type Input interface {
	Read() (bool, error)
}

// MemPin is an in-memory pin usable as both Output and Input.
type MemPin struct {
	mu     sync.Mutex
	on     bool
	writes []bool
	err    error
}

// Set implements Output.
func (p *MemPin) Set(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.on = on
	p.writes = append(p.writes, on)
	return nil
}

// State implements Output.
func (p *MemPin) State() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

// Read implements Input.
func (p *MemPin) Read() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on, p.err
}

// Writes returns every value written, in order.
func (p *MemPin) Writes() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.writes...)
}

// SetError makes subsequent reads and writes fail.
func (p *MemPin) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Board is the serial digital I/O board. Commands:
//
//	O <pin> 0|1      drive an output
//	U <pin> 0|1      enable the pull-up of an input
//	V <ch> <deg>     servo angle
//	I                query inputs; answered by "i <hex bitmask>"
type Board struct {
	conn *serial.LineConn
	log  *log.Logger

	mu     sync.Mutex
	inputs uint64
	polled bool
	timer  *reactor.Timer
}

// Open opens the I/O board on a serial device.
func Open(cfg config.SerialConfig) (*Board, error) {
	port, err := tarm.OpenPort(&tarm.Config{Name: cfg.Device, Baud: cfg.Baud})
	if err != nil {
		return nil, errors.IOError("io board "+cfg.Device, err)
	}
	return NewBoard(port), nil
}

// NewBoard wraps an already open stream.
func NewBoard(rw io.ReadWriteCloser) *Board {
	b := &Board{
		conn: serial.NewLineConn(rw),
		log:  log.GetLogger("iolink"),
	}
	go b.readLoop()
	return b
}

func (b *Board) readLoop() {
	for line := range b.conn.Lines() {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "i" {
			b.log.Debug("ignored line %q", line)
			continue
		}
		bits, err := strconv.ParseUint(fields[1], 16, 64)
		if err != nil {
			b.log.Warn("malformed input report %q", line)
			continue
		}
		b.mu.Lock()
		b.inputs = bits
		b.polled = true
		b.mu.Unlock()
	}
}

// Poll requests an input report.
func (b *Board) Poll() error {
	return b.conn.WriteLine("I")
}

// Attach polls the inputs every interval seconds on r.
func (b *Board) Attach(r *reactor.Reactor, interval float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		return
	}
	b.timer = r.RegisterTimer(func(eventtime float64) float64 {
		if err := b.Poll(); err != nil {
			b.log.Error("input poll failed: %v", err)
			return reactor.NEVER
		}
		return eventtime + interval
	}, reactor.NOW)
}

// Err returns the transport error, if any.
func (b *Board) Err() error {
	return b.conn.Err()
}

// Close closes the board connection.
func (b *Board) Close() error {
	return b.conn.Close()
}

// SetServo drives a servo channel to deg degrees.
func (b *Board) SetServo(channel, deg int) error {
	if err := b.conn.WriteLine(fmt.Sprintf("V %d %d", channel, deg)); err != nil {
		return errors.IOError("io board", err)
	}
	return nil
}

func (b *Board) writePin(index int, level bool) error {
	v := 0
	if level {
		v = 1
	}
	if err := b.conn.WriteLine(fmt.Sprintf("O %d %d", index, v)); err != nil {
		return errors.IOError("io board", err)
	}
	return nil
}

func (b *Board) readPin(index int) (bool, error) {
	if err := b.conn.Err(); err != nil {
		return false, errors.IOError("io board", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.polled {
		return false, errors.New(errors.ErrRuntimeIO, "no input report yet")
	}
	return b.inputs&(1<<uint(index)) != 0, nil
}

// OutputPin returns an Output for pin. Inverted pins are driven low for on.
func (b *Board) OutputPin(pin config.Pin) Output {
	return &boardOutput{board: b, pin: pin}
}

// InputPin returns an Input for pin, configuring its pull-up. Inverted pins
// read true when the line is low.
func (b *Board) InputPin(pin config.Pin) (Input, error) {
	v := 0
	if pin.Pullup {
		v = 1
	}
	if err := b.conn.WriteLine(fmt.Sprintf("U %d %d", pin.Index, v)); err != nil {
		return nil, errors.IOError("io board", err)
	}
	return &boardInput{board: b, pin: pin}, nil
}

type boardOutput struct {
	board *Board
	pin   config.Pin
	on    bool
}

func (o *boardOutput) Set(on bool) error {
	if err := o.board.writePin(o.pin.Index, on != o.pin.Invert); err != nil {
		return err
	}
	o.on = on
	return nil
}

func (o *boardOutput) State() bool { return o.on }

type boardInput struct {
	board *Board
	pin   config.Pin
}

func (i *boardInput) Read() (bool, error) {
	v, err := i.board.readPin(i.pin.Index)
	if err != nil {
		return false, err
	}
	return v != i.pin.Invert, nil
}

// WaitReady polls until the first input report arrives or timeout passes.
func (b *Board) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := b.Poll(); err != nil {
			return errors.IOError("io board", err)
		}
		time.Sleep(20 * time.Millisecond)
		b.mu.Lock()
		ok := b.polled
		b.mu.Unlock()
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.HardwareUnavailable("io board")
		}
	}
}
