package ymc

import "sync/atomic"

// Joystick layout (DualShock 4 via the Linux joy driver).
const (
	AxisSteering = 0 // left stick horizontal
	AxisDisableA = 1
	AxisDisableB = 2
	AxisRatio    = 3 // L2: steering ratio
	AxisThrottle = 4 // R2

	ButtonSquare     = 0 // disable + brake 1
	ButtonAccelerate = 1
	ButtonCircle     = 2
	ButtonTriangle   = 3
	ButtonShift      = 5 // R1
	ButtonModeToggle = 9
	ButtonEnableAuto = 12
)

// Arbitration holds the automode flag read by the transmit loop.
type Arbitration struct {
	auto atomic.Bool
}

func (a *Arbitration) Auto() bool { return a.auto.Load() }

func (a *Arbitration) set(v bool) { a.auto.Store(v) }

// ManualSource turns joystick samples into the manual command slot and is
// the only writer of the automode flag.
type ManualSource struct {
	trimDeg float64
	arb     *Arbitration
	modes   *ModeController

	slot       atomic.Pointer[VehicleCommand]
	prevToggle atomic.Bool
}

func NewManualSource(trimDeg float64, arb *Arbitration, modes *ModeController) *ManualSource {
	s := &ManualSource{trimDeg: trimDeg, arb: arb, modes: modes}
	s.slot.Store(&VehicleCommand{})
	return s
}

// Handle processes one joystick sample. The manual command is published
// before the automode flag changes, so a reader that sees the new flag also
// sees the command that caused it.
func (s *ManualSource) Handle(j Joy) VehicleCommand {
	disable := j.Pressed(ButtonSquare) || j.Axis(AxisDisableA) != 0 || j.Axis(AxisDisableB) != 0

	var kmph float64
	if j.Pressed(ButtonAccelerate) {
		kmph = 16.0*NormalizeTrigger(j.Axis(AxisThrottle)) + 3.0
	}
	deg := ManualSteering(j.Axis(AxisSteering), j.Axis(AxisRatio))

	brake := BrakeNone
	switch {
	case j.Pressed(ButtonSquare):
		brake = BrakeSquare
	case j.Pressed(ButtonCircle):
		brake = BrakeCircle
	case j.Pressed(ButtonTriangle):
		brake = BrakeTriangle
	}

	shift := ShiftNeutral
	if j.Pressed(ButtonShift) {
		shift = ShiftReverse
	}
	enable := j.Pressed(ButtonEnableAuto)
	if enable {
		shift = ShiftNeutral
	}

	cmd := VehicleCommand{
		Velocity: toWireVelocity(kmph),
		Steering: toWireSteering(deg, s.trimDeg),
		Shift:    shift,
		Brake:    brake,
	}
	s.slot.Store(&cmd)

	switch {
	case enable:
		s.arb.set(true)
	case disable:
		s.arb.set(false)
	}

	toggle := j.Pressed(ButtonModeToggle)
	if toggle && !s.prevToggle.Load() && s.modes != nil {
		s.modes.Toggle()
	}
	s.prevToggle.Store(toggle)

	return cmd
}

// Command returns a consistent copy of the latest command.
func (s *ManualSource) Command() VehicleCommand {
	return *s.slot.Load()
}
