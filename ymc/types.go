// Package ymc implements the drive-by-wire interface for the YMC G30ESLi
// vehicle: command arbitration between the autonomous and joystick sources,
// the fixed-rate CAN command frame and decoding of the vehicle's telemetry.
package ymc

import (
	"fmt"
	"time"
)

// DriveMode is the mode byte of the command frame.
type DriveMode uint8

const (
	ModeRemote DriveMode = 3 // remote/stop
	ModeAuto   DriveMode = 8 // normal/auto
)

func (m DriveMode) String() string {
	switch m {
	case ModeRemote:
		return "remote"
	case ModeAuto:
		return "auto"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Shift is the gear request. Zero is the ECU default (neutral/forward).
type Shift uint8

const (
	ShiftNeutral Shift = 0
	ShiftReverse Shift = 1
)

// Brake selects one of the ECU brake presets.
type Brake uint8

const (
	BrakeNone     Brake = 0
	BrakeSquare   Brake = 1
	BrakeCircle   Brake = 2
	BrakeTriangle Brake = 3
)

// VehicleCommand is one source's complete request. Values are already in
// wire units: velocity in 0.1 km/h, steering in 0.1 degree with the wire
// sign convention.
type VehicleCommand struct {
	Velocity uint16
	Steering int16
	Shift    Shift
	Brake    Brake
}

// TwistCommand is the autonomous velocity + yaw-rate request.
type TwistCommand struct {
	LinearMPS  float64
	AngularRPS float64
}

// Joy is one joystick sample. Missing axes read as 0, missing buttons as released.
type Joy struct {
	Axes    []float64
	Buttons []int
}

func (j Joy) Axis(i int) float64 {
	if i < 0 || i >= len(j.Axes) {
		return 0
	}
	return j.Axes[i]
}

func (j Joy) Pressed(i int) bool {
	return i >= 0 && i < len(j.Buttons) && j.Buttons[i] == 1
}

// VelocityReading is decoded bus velocity, republished to subscribers.
type VelocityReading struct {
	FrameID     string    `json:"frame_id"`
	Stamp       time.Time `json:"stamp"`
	VelocityMPS float64   `json:"velocity_mps"`
}

// Publisher receives decoded telemetry.
type Publisher interface {
	PublishVelocity(VelocityReading)
}
