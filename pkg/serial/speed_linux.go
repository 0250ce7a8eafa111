//go:build linux

package serial

import "golang.org/x/sys/unix"

// setSpeed sets the baud rate on the termios struct for Linux. TCSETS takes
// the rate from the CBAUD bits of Cflag.
func setSpeed(termios *unix.Termios, speed uint32) {
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= speed
	termios.Ispeed = speed
	termios.Ospeed = speed
}
