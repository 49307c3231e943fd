package ymc

import "sync/atomic"

// StopState is the state of the automatic stop sequence.
type StopState int

const (
	StopRunning StopState = iota
	StopBraking
	StopReleased
)

func (s StopState) String() string {
	switch s {
	case StopRunning:
		return "RUNNING"
	case StopBraking:
		return "BRAKING"
	case StopReleased:
		return "RELEASED"
	default:
		return "UNKNOWN"
	}
}

// StopControl brakes the vehicle to a standstill whenever the selected
// command asks for zero velocity or the mode is remote. In auto mode it
// holds the brake until the measured speed has stayed below the threshold
// for holdTicks consecutive ticks, then releases.
//
// Apply is called from the transmit loop only; State may be read from any
// goroutine.
type StopControl struct {
	enabled       bool
	thresholdKmph float64
	holdTicks     int

	state atomic.Int32
	count int
}

// NewStopControl starts in BRAKING so the vehicle is held until it is known
// to be stationary. A disabled control passes every command through.
func NewStopControl(enabled bool, thresholdKmph float64, holdTicks int) *StopControl {
	s := &StopControl{
		enabled:       enabled,
		thresholdKmph: thresholdKmph,
		holdTicks:     holdTicks,
	}
	s.state.Store(int32(StopBraking))
	return s
}

func (s *StopControl) State() StopState { return StopState(s.state.Load()) }

func (s *StopControl) Enabled() bool { return s.enabled }

// Apply advances the machine by one tick and returns the command to send.
func (s *StopControl) Apply(cmd VehicleCommand, mode DriveMode, currentKmph float64) VehicleCommand {
	if !s.enabled {
		return cmd
	}

	stopRequested := cmd.Velocity == 0 || mode == ModeRemote

	switch s.State() {
	case StopRunning:
		if stopRequested {
			s.set(StopBraking)
		}
	case StopReleased:
		if !stopRequested {
			s.set(StopRunning)
			return cmd
		}
		if mode == ModeRemote {
			s.set(StopBraking)
		}
	}

	if s.State() != StopBraking || mode != ModeAuto {
		return cmd
	}

	cmd.Velocity = 0
	cmd.Brake = BrakeSquare

	if currentKmph < s.thresholdKmph {
		s.count++
	} else {
		s.count = 0
	}
	if s.count > s.holdTicks {
		cmd.Brake = BrakeNone
		s.set(StopReleased)
	}
	return cmd
}

func (s *StopControl) set(state StopState) {
	s.count = 0
	s.state.Store(int32(state))
}
