//go:build darwin

package serial

import "golang.org/x/sys/unix"

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
	ioctlTCFlush    = unix.TIOCFLUSH
)

var darwinSpeeds = map[int]uint64{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

func setSpeed(t *unix.Termios, baud int) error {
	speed, ok := darwinSpeeds[baud]
	if !ok {
		return errUnsupportedBaud(baud)
	}
	t.Ispeed = speed
	t.Ospeed = speed
	return nil
}
