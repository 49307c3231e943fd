package ymc

import "sync/atomic"

// AutonomousSource turns twist commands into the autonomous command slot.
// Only the latest command is kept.
type AutonomousSource struct {
	wheelBase float64
	trimDeg   float64
	slot      atomic.Pointer[VehicleCommand]
}

func NewAutonomousSource(wheelBase, trimDeg float64) *AutonomousSource {
	s := &AutonomousSource{wheelBase: wheelBase, trimDeg: trimDeg}
	s.slot.Store(&VehicleCommand{})
	return s
}

// Handle converts a twist to wire units and publishes it.
func (s *AutonomousSource) Handle(tw TwistCommand) VehicleCommand {
	deg := AutonomousSteering(tw.AngularRPS, tw.LinearMPS, s.wheelBase)
	cmd := VehicleCommand{
		Velocity: toWireVelocity(tw.LinearMPS * 3.6),
		Steering: toWireSteering(deg, s.trimDeg),
		Shift:    ShiftNeutral,
		Brake:    BrakeNone,
	}
	s.slot.Store(&cmd)
	return cmd
}

// Command returns a consistent copy of the latest command.
func (s *AutonomousSource) Command() VehicleCommand {
	return *s.slot.Load()
}
