package stepdriver

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"gantry-go/pkg/serial"
)

// fakeBoard answers the line protocol with instant moves.
type fakeBoard struct {
	mu    sync.Mutex
	pos   map[int]int64
	lines []string
	conn  net.Conn
}

func newFakeBoard(t *testing.T) (*Board, *fakeBoard) {
	t.Helper()
	host, dev := net.Pipe()
	fb := &fakeBoard{pos: map[int]int64{}, conn: dev}
	go fb.serve()
	b := NewBoard(serial.NewLineConn(host))
	t.Cleanup(func() { b.Close(); dev.Close() })
	return b, fb
}

func (f *fakeBoard) serve() {
	r := bufio.NewReader(f.conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		fields := strings.Fields(line)
		f.mu.Lock()
		f.lines = append(f.lines, line)
		var reply string
		switch fields[0] {
		case "M", "P":
			ch, _ := strconv.Atoi(fields[1])
			v, _ := strconv.ParseInt(fields[2], 10, 64)
			f.pos[ch] = v
		case "Q":
			for ch, p := range f.pos {
				reply += fmt.Sprintf("q %s %d %d 0\n", fields[1], ch, p)
			}
			reply += "e overtemp\n"
		}
		f.mu.Unlock()
		if reply != "" {
			f.conn.Write([]byte(reply))
		}
	}
}

func (f *fakeBoard) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLineMotorCommands(t *testing.T) {
	b, fb := newFakeBoard(t)
	m := b.Motor(2)

	m.SetSpeed(3500)
	m.SetAcceleration(12500.5)
	m.Run(true)
	m.StopMove()
	m.ForceStop()
	m.SetCurrentPosition(-4)

	want := []string{"S 2 3500", "A 2 12500.5", "R 2 +", "H 2", "K 2", "P 2 -4"}
	waitFor(t, "commands", func() bool { return len(fb.sent()) == len(want) })
	for i, line := range fb.sent() {
		if line != want[i] {
			t.Errorf("line %d = %q, want %q", i, line, want[i])
		}
	}
	if m.CurrentPosition() != -4 {
		t.Errorf("CurrentPosition() = %d, want -4", m.CurrentPosition())
	}
}

func TestLineMotorStatusFromPoll(t *testing.T) {
	b, _ := newFakeBoard(t)
	m := b.Motor(0)

	if err := m.MoveTo(254); err != nil {
		t.Fatalf("MoveTo() error = %v", err)
	}
	if !m.IsRunning() {
		t.Fatal("IsRunning() = false before the board reported")
	}
	if err := b.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	waitFor(t, "status reply", func() bool { return !m.IsRunning() })
	if m.CurrentPosition() != 254 {
		t.Errorf("CurrentPosition() = %d, want 254", m.CurrentPosition())
	}
	waitFor(t, "error line", func() bool { return b.LastError() == "overtemp" })
}

func TestStaleReplyIgnored(t *testing.T) {
	b, _ := newFakeBoard(t)
	m := b.Motor(1)
	b.handleLine("q 0 1 99 0")
	if m.CurrentPosition() != 0 {
		t.Error("reply older than the channel's last command was applied")
	}
	b.mu.Lock()
	b.seq = 3
	b.mu.Unlock()
	b.handleLine("q 4 1 99 1")
	if m.CurrentPosition() != 99 || !m.IsRunning() {
		t.Error("fresh reply not applied")
	}
	b.handleLine("q bad")
	if m.CurrentPosition() != 99 {
		t.Error("malformed line changed state")
	}
}
