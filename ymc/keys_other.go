//go:build !linux

package ymc

import "os"

type TerminalKeys struct{}

// OpenTerminalKeys is only implemented on Linux.
func OpenTerminalKeys(*os.File) (*TerminalKeys, error) {
	return nil, ErrNoTerminal
}

func (k *TerminalKeys) PollKey() (byte, bool, error) { return 0, false, ErrNoTerminal }

func (k *TerminalKeys) Close() error { return nil }
