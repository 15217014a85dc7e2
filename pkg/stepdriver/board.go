package stepdriver

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gantry-go/pkg/log"
	"gantry-go/pkg/reactor"
	"gantry-go/pkg/serial"
)

// Board is the host side of the step generator board. Commands are one text
// line each:
//
//	M <ch> <target>   move to absolute step
//	R <ch> +|-        run continuously
//	S <ch> <hz>       max speed
//	A <ch> <hz2>      acceleration
//	H <ch>            ramp down
//	K <ch>            stop immediately
//	P <ch> <pos>      redefine position
//	Q <seq>           query; answered by one "q <seq> <ch> <pos> <0|1>" per channel
//
// The board may also send "e <message>" lines. Channel state is cached from
// query replies; replies to queries issued before the latest command on a
// channel are ignored for that channel.
type Board struct {
	conn *serial.LineConn
	log  *log.Logger

	mu       sync.Mutex
	seq      uint64
	channels map[int]*channelState
	timer    *reactor.Timer
	lastErr  string
}

type channelState struct {
	pos     int64
	running bool
	// query sequence current when the last command was sent
	cmdSeq uint64
}

// NewBoard starts consuming replies from conn.
func NewBoard(conn *serial.LineConn) *Board {
	b := &Board{
		conn:     conn,
		log:      log.GetLogger("stepdriver"),
		channels: make(map[int]*channelState),
	}
	go b.readLoop()
	return b
}

func (b *Board) readLoop() {
	for line := range b.conn.Lines() {
		b.handleLine(line)
	}
}

func (b *Board) handleLine(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "q":
		if len(fields) != 5 {
			b.log.Warn("malformed status line %q", line)
			return
		}
		seq, err1 := strconv.ParseUint(fields[1], 10, 64)
		ch, err2 := strconv.Atoi(fields[2])
		pos, err3 := strconv.ParseInt(fields[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			b.log.Warn("malformed status line %q", line)
			return
		}
		b.mu.Lock()
		st := b.state(ch)
		if seq > st.cmdSeq {
			st.pos = pos
			st.running = fields[4] == "1"
		}
		b.mu.Unlock()
	case "e":
		msg := strings.TrimSpace(strings.TrimPrefix(line, "e"))
		b.mu.Lock()
		b.lastErr = msg
		b.mu.Unlock()
		b.log.Error("driver board: %s", msg)
	default:
		b.log.Debug("ignored line %q", line)
	}
}

// state returns the cached channel state. Callers hold mu.
func (b *Board) state(ch int) *channelState {
	st, ok := b.channels[ch]
	if !ok {
		st = &channelState{}
		b.channels[ch] = st
	}
	return st
}

// send writes a command for ch and applies update to its cached state.
func (b *Board) send(ch int, line string, update func(*channelState)) error {
	if err := b.conn.WriteLine(line); err != nil {
		return err
	}
	b.mu.Lock()
	st := b.state(ch)
	st.cmdSeq = b.seq
	if update != nil {
		update(st)
	}
	b.mu.Unlock()
	return nil
}

// Poll requests a status report for every channel.
func (b *Board) Poll() error {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.mu.Unlock()
	return b.conn.WriteLine(fmt.Sprintf("Q %d", seq))
}

// Attach polls the board every interval seconds from a reactor timer.
func (b *Board) Attach(r *reactor.Reactor, interval float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		return
	}
	b.timer = r.RegisterTimer(func(eventtime float64) float64 {
		if err := b.Poll(); err != nil {
			b.log.Error("status poll failed: %v", err)
			return reactor.NEVER
		}
		return eventtime + interval
	}, reactor.NOW)
}

// Err returns the transport error, if any.
func (b *Board) Err() error {
	return b.conn.Err()
}

// LastError returns the last error line reported by the board.
func (b *Board) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Motor returns the motor on channel ch.
func (b *Board) Motor(ch int) *LineMotor {
	b.mu.Lock()
	b.state(ch)
	b.mu.Unlock()
	return &LineMotor{board: b, ch: ch}
}

// Close closes the connection.
func (b *Board) Close() error {
	return b.conn.Close()
}

// LineMotor is one channel of a Board.
type LineMotor struct {
	board *Board
	ch    int
}

// Channel returns the driver channel number.
func (m *LineMotor) Channel() int { return m.ch }

// MoveTo implements axis.Motor.
func (m *LineMotor) MoveTo(target int64) error {
	return m.board.send(m.ch, fmt.Sprintf("M %d %d", m.ch, target), func(st *channelState) {
		st.running = st.pos != target
	})
}

// Run implements axis.Motor.
func (m *LineMotor) Run(forward bool) error {
	dir := "-"
	if forward {
		dir = "+"
	}
	return m.board.send(m.ch, fmt.Sprintf("R %d %s", m.ch, dir), func(st *channelState) {
		st.running = true
	})
}

// SetSpeed implements axis.Motor.
func (m *LineMotor) SetSpeed(hz float64) error {
	return m.board.conn.WriteLine(fmt.Sprintf("S %d %s", m.ch, formatFloat(hz)))
}

// SetAcceleration implements axis.Motor.
func (m *LineMotor) SetAcceleration(hz2 float64) error {
	return m.board.conn.WriteLine(fmt.Sprintf("A %d %s", m.ch, formatFloat(hz2)))
}

// StopMove implements axis.Motor. The motor keeps reporting running until
// the board confirms the ramp finished.
func (m *LineMotor) StopMove() error {
	return m.board.send(m.ch, fmt.Sprintf("H %d", m.ch), nil)
}

// ForceStop implements axis.Motor.
func (m *LineMotor) ForceStop() error {
	return m.board.send(m.ch, fmt.Sprintf("K %d", m.ch), func(st *channelState) {
		st.running = false
	})
}

// IsRunning implements axis.Motor.
func (m *LineMotor) IsRunning() bool {
	m.board.mu.Lock()
	defer m.board.mu.Unlock()
	return m.board.state(m.ch).running
}

// CurrentPosition implements axis.Motor.
func (m *LineMotor) CurrentPosition() int64 {
	m.board.mu.Lock()
	defer m.board.mu.Unlock()
	return m.board.state(m.ch).pos
}

// SetCurrentPosition implements axis.Motor.
func (m *LineMotor) SetCurrentPosition(pos int64) error {
	return m.board.send(m.ch, fmt.Sprintf("P %d %d", m.ch, pos), func(st *channelState) {
		st.pos = pos
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
