// Package serial provides raw termios serial ports and a line-oriented
// connection used to talk to the motor driver board.
package serial

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Common errors
var (
	ErrTimeout = errors.New("serial: operation timed out")
	ErrClosed  = errors.New("serial: port closed")
)

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., /dev/ttyUSB0, /dev/ttyACM0)
	Device string

	// Baud rate (default: 250000)
	BaudRate int

	// Read timeout for individual operations (default: 1 second)
	ReadTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		BaudRate:    250000,
		ReadTimeout: time.Second,
	}
}

// Port represents a serial port connection.
type Port struct {
	mu         sync.Mutex
	fd         int
	device     string
	config     Config
	closed     bool
	oldTermios *unix.Termios
}

// ListPorts returns the serial devices that look like USB adapters.
func ListPorts() ([]string, error) {
	var ports []string
	for _, pattern := range []string{"/dev/serial/by-id/*", "/dev/ttyUSB*", "/dev/ttyACM*", "/dev/cu.usb*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		ports = append(ports, matches...)
	}
	sort.Strings(ports)
	return ports, nil
}

// Open opens a serial port in raw 8N1 mode.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 250000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = time.Second
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	oldTermios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	termios := *oldTermios
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	termios.Oflag &^= unix.OPOST
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	if err := setSpeed(&termios, cfg.BaudRate); err != nil {
		unix.Close(fd)
		return nil, err
	}
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 1

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set blocking: %w", err)
	}

	return &Port{
		fd:         fd,
		device:     cfg.Device,
		config:     cfg,
		oldTermios: oldTermios,
	}, nil
}

// Read reads up to len(buf) bytes, waiting at most the read timeout.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	timeout := p.config.ReadTimeout
	p.mu.Unlock()

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("serial: poll: %w", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return 0, io.EOF
	}

	n, err = unix.Read(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	return n, nil
}

// Write writes buf to the port.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()

	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: write: %w", err)
	}
	return n, nil
}

// Close restores the original line settings and closes the port.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.oldTermios != nil {
		_ = unix.IoctlSetTermios(p.fd, ioctlSetTermios, p.oldTermios)
	}
	return unix.Close(p.fd)
}

// Device returns the device path.
func (p *Port) Device() string {
	return p.device
}

// Flush discards any data in the input and output buffers.
func (p *Port) Flush() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()
	return unix.IoctlSetInt(fd, ioctlTCFlush, unix.TCIOFLUSH)
}

func errUnsupportedBaud(baud int) error {
	return fmt.Errorf("serial: unsupported baud rate %d", baud)
}

// IsDeviceAvailable checks if a device path exists and is a character device.
func IsDeviceAvailable(device string) bool {
	info, err := os.Stat(device)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// ResolveDevice resolves /dev/serial/by-id style symlinks.
func ResolveDevice(device string) (string, error) {
	if strings.HasPrefix(device, "/dev/serial/") {
		resolved, err := filepath.EvalSymlinks(device)
		if err != nil {
			return "", fmt.Errorf("serial: resolve %s: %w", device, err)
		}
		return resolved, nil
	}
	return device, nil
}

// LineConn exchanges newline-terminated text lines over a byte stream.
// Writes are serialized; received lines are delivered on Lines by a reader
// goroutine until the stream fails or Close is called.
type LineConn struct {
	rw     io.ReadWriteCloser
	wmu    sync.Mutex
	lines  chan string
	errMu  sync.Mutex
	err    error
	closed chan struct{}
	once   sync.Once
}

// NewLineConn starts reading lines from rw.
func NewLineConn(rw io.ReadWriteCloser) *LineConn {
	c := &LineConn{
		rw:     rw,
		lines:  make(chan string, 256),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *LineConn) readLoop() {
	defer close(c.lines)
	r := bufio.NewReader(c.rw)
	var partial strings.Builder
	for {
		chunk, err := r.ReadString('\n')
		partial.WriteString(chunk)
		if err == nil {
			line := strings.TrimRight(partial.String(), "\r\n")
			partial.Reset()
			if line == "" {
				continue
			}
			select {
			case c.lines <- line:
			case <-c.closed:
				return
			}
			continue
		}
		if errors.Is(err, ErrTimeout) {
			continue
		}
		select {
		case <-c.closed:
		default:
			c.setErr(err)
		}
		return
	}
}

func (c *LineConn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Err returns the first transport error, if any.
func (c *LineConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Lines returns the channel of received lines. It is closed when the
// reader stops.
func (c *LineConn) Lines() <-chan string {
	return c.lines
}

// WriteLine sends one line, appending the terminator.
func (c *LineConn) WriteLine(line string) error {
	if err := c.Err(); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := io.WriteString(c.rw, line+"\n"); err != nil {
		c.setErr(err)
		return err
	}
	return nil
}

// Close stops the reader and closes the stream.
func (c *LineConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.rw.Close()
	})
	return err
}
