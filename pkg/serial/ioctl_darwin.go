//go:build darwin

package serial

import "golang.org/x/sys/unix"

// Platform-specific ioctl constants for macOS
const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
)

// flush discards both queues; TIOCFLUSH with 0 means FREAD|FWRITE.
func flush(fd int) error {
	return unix.IoctlSetPointerInt(fd, unix.TIOCFLUSH, 0)
}
