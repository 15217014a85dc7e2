//go:build linux

package serial

import "golang.org/x/sys/unix"

// termios2 ioctls so that BOTHER can carry non-standard rates like 250000.
const (
	ioctlGetTermios = unix.TCGETS2
	ioctlSetTermios = unix.TCSETS2
	ioctlTCFlush    = unix.TCFLSH
)

func setSpeed(t *unix.Termios, baud int) error {
	if baud <= 0 {
		return errUnsupportedBaud(baud)
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= unix.BOTHER
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)
	return nil
}
