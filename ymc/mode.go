package ymc

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"ymc-dbw-core/utils"
)

// Keyboard commands.
const (
	KeyRemote = ' '
	KeyAuto   = 's'
)

// DefaultKeyPollInterval bounds how often the keyboard is polled.
const DefaultKeyPollInterval = 20 * time.Millisecond

// ErrNoTerminal is returned by a KeySource that has no terminal to read.
var ErrNoTerminal = errors.New("ymc: no terminal for key input")

// KeySource is a non-blocking keyboard. PollKey reports ok=false when no key
// is waiting.
type KeySource interface {
	PollKey() (key byte, ok bool, err error)
	Close() error
}

// ModeController owns the DriveMode.
type ModeController struct {
	mode     atomic.Uint32
	keys     KeySource
	interval time.Duration
	log      *utils.Logger
}

func NewModeController(initial DriveMode, keys KeySource, interval time.Duration, log *utils.Logger) *ModeController {
	if interval <= 0 {
		interval = DefaultKeyPollInterval
	}
	m := &ModeController{keys: keys, interval: interval, log: log}
	m.mode.Store(uint32(initial))
	return m
}

func (m *ModeController) Mode() DriveMode { return DriveMode(m.mode.Load()) }

func (m *ModeController) Set(mode DriveMode) {
	if old := DriveMode(m.mode.Swap(uint32(mode))); old != mode {
		m.log.Info("Drive mode %s -> %s", old, mode)
	}
}

// Toggle flips between remote and auto. Any other mode becomes remote.
func (m *ModeController) Toggle() {
	for {
		old := m.mode.Load()
		next := ModeRemote
		if DriveMode(old) == ModeRemote {
			next = ModeAuto
		}
		if m.mode.CompareAndSwap(old, uint32(next)) {
			m.log.Info("Drive mode %s -> %s (joystick)", DriveMode(old), next)
			return
		}
	}
}

// Run polls the key source every interval until ctx is done. A missing or
// failing key source ends the loop without error: the mode then only
// changes through the joystick.
func (m *ModeController) Run(ctx context.Context) error {
	if m.keys == nil {
		m.log.Warn("Keyboard unavailable; mode keys disabled")
		return nil
	}
	m.log.Debug("Mode controller started (interval=%s)", m.interval)
	defer m.log.Debug("Mode controller stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			key, ok, err := m.keys.PollKey()
			if err != nil {
				m.log.Warn("Keyboard read failed; mode keys disabled: %v", err)
				return nil
			}
			if !ok {
				continue
			}
			switch key {
			case KeyRemote:
				m.Set(ModeRemote)
			case KeyAuto:
				m.Set(ModeAuto)
			}
		}
	}
}
