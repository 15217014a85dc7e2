package serial

import (
	"bufio"
	"net"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BaudRate != 250000 {
		t.Errorf("BaudRate = %d, want 250000", cfg.BaudRate)
	}
	if cfg.ReadTimeout != time.Second {
		t.Errorf("ReadTimeout = %v, want 1s", cfg.ReadTimeout)
	}
}

func TestOpenRequiresDevice(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open() with empty device should fail")
	}
	if _, err := Open(Config{Device: "/nonexistent/tty"}); err == nil {
		t.Error("Open() of a missing device should fail")
	}
}

func TestResolveDevicePassthrough(t *testing.T) {
	got, err := ResolveDevice("/dev/ttyUSB0")
	if err != nil || got != "/dev/ttyUSB0" {
		t.Errorf("ResolveDevice() = %q, %v", got, err)
	}
	if IsDeviceAvailable("/nonexistent/tty") {
		t.Error("IsDeviceAvailable() = true for a missing device")
	}
}

func TestLineConnExchange(t *testing.T) {
	host, board := net.Pipe()
	conn := NewLineConn(host)
	defer conn.Close()

	go func() {
		r := bufio.NewReader(board)
		line, _ := r.ReadString('\n')
		if line == "Q 1\n" {
			board.Write([]byte("q 1 0 120 1\r\n\nq 1 1 "))
			board.Write([]byte("-40 0\n"))
		}
	}()

	if err := conn.WriteLine("Q 1"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	want := []string{"q 1 0 120 1", "q 1 1 -40 0"}
	for _, w := range want {
		select {
		case got := <-conn.Lines():
			if got != w {
				t.Errorf("line = %q, want %q", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", w)
		}
	}
}

func TestLineConnError(t *testing.T) {
	host, board := net.Pipe()
	conn := NewLineConn(host)
	board.Close()

	select {
	case _, ok := <-conn.Lines():
		if ok {
			t.Error("expected closed line channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop")
	}
	if conn.Err() == nil {
		t.Error("Err() = nil after the peer closed")
	}
	if err := conn.WriteLine("H 0"); err == nil {
		t.Error("WriteLine() after failure should error")
	}
	conn.Close()
}
