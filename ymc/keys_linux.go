//go:build linux

package ymc

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// TerminalKeys reads single key presses from a terminal in non-canonical
// mode. The original terminal settings are restored on Close.
type TerminalKeys struct {
	fd    int
	saved *unix.Termios
	once  sync.Once
}

// OpenTerminalKeys switches f (normally os.Stdin) to non-canonical, no-echo
// input. It fails with ErrNoTerminal when f is not a terminal.
func OpenTerminalKeys(f *os.File) (*TerminalKeys, error) {
	fd := int(f.Fd())
	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTerminal, err)
	}
	raw := *saved
	raw.Lflag &^= unix.ICANON | unix.ECHO
	raw.Cc[unix.VMIN] = 0
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return nil, fmt.Errorf("set termios: %w", err)
	}
	return &TerminalKeys{fd: fd, saved: saved}, nil
}

// PollKey checks for a waiting byte without blocking.
func (k *TerminalKeys) PollKey() (byte, bool, error) {
	fds := []unix.PollFd{{Fd: int32(k.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err == unix.EINTR {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("poll stdin: %w", err)
	}
	if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			return 0, false, fmt.Errorf("%w: hangup", ErrNoTerminal)
		}
		return 0, false, nil
	}
	var buf [1]byte
	m, err := unix.Read(k.fd, buf[:])
	if err == unix.EAGAIN || err == unix.EINTR {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read stdin: %w", err)
	}
	if m == 0 {
		return 0, false, nil
	}
	return buf[0], true, nil
}

func (k *TerminalKeys) Close() error {
	var err error
	k.once.Do(func() {
		err = unix.IoctlSetTermios(k.fd, unix.TCSETS, k.saved)
	})
	return err
}
