package ymc

import (
	"errors"
	"fmt"

	"go.einride.tech/can"

	"ymc-dbw-core/utils"
)

// Default frame identifiers on the vehicle bus.
const (
	CommandFrameID   uint32 = 0x200
	TelemetryFrameID uint32 = 0x201
)

const frameLen = 8

// Byte layout shared by the command and telemetry frames.
const (
	bitMode      = 0
	bitShift     = 8
	bitVelocity  = 16
	bitSteering  = 32
	bitBrake     = 48
	bitHeartbeat = 56
)

var ErrShortFrame = errors.New("ymc: frame too short")

// EncodeFrame packs a command into the 8-byte frame the ECU expects:
//
//	byte 0    mode
//	byte 1    shift
//	byte 2-3  target velocity, uint16 LE, 0.1 km/h
//	byte 4-5  steering angle, int16 LE, 0.1 deg
//	byte 6    brake
//	byte 7    heartbeat
func EncodeFrame(id uint32, mode DriveMode, shift Shift, velocity uint16, steering int16, brake Brake, heartbeat uint8) can.Frame {
	var p uint64
	p = utils.SetBits(p, bitMode, 8, uint64(mode))
	p = utils.SetBits(p, bitShift, 8, uint64(shift))
	p = utils.SetBits(p, bitVelocity, 16, uint64(velocity))
	p = utils.SetBits(p, bitSteering, 16, uint64(uint16(steering)))
	p = utils.SetBits(p, bitBrake, 8, uint64(brake))
	p = utils.SetBits(p, bitHeartbeat, 8, uint64(heartbeat))

	f := can.Frame{ID: id, Length: frameLen}
	utils.PayloadToBytes(p, f.Data[:])
	return f
}

// Encode builds the command frame on the default id.
func Encode(mode DriveMode, shift Shift, velocity uint16, steering int16, brake Brake, heartbeat uint8) can.Frame {
	return EncodeFrame(CommandFrameID, mode, shift, velocity, steering, brake, heartbeat)
}

// Telemetry is what the vehicle reports about itself.
type Telemetry struct {
	Mode        DriveMode
	Shift       Shift
	VelocityMPS float64
	Steering    int16
}

func (t Telemetry) VelocityKmph() float64 { return t.VelocityMPS * 3.6 }

// Codec decodes frames for a given telemetry id.
type Codec struct {
	TelemetryID uint32
}

// Decode returns the telemetry carried by a frame. ok is false for frames
// that carry no velocity (any other id); err is set only when a telemetry
// frame is too short to hold the velocity field.
func (c Codec) Decode(id uint32, data []byte) (t Telemetry, ok bool, err error) {
	if id != c.TelemetryID {
		return Telemetry{}, false, nil
	}
	if len(data) < 4 {
		return Telemetry{}, false, fmt.Errorf("%w: id 0x%X has %d bytes", ErrShortFrame, id, len(data))
	}
	p := utils.PayloadFromBytes(data)
	raw := utils.GetBits(p, bitVelocity, 16)
	t = Telemetry{
		Mode:        DriveMode(utils.GetBits(p, bitMode, 8)),
		Shift:       Shift(utils.GetBits(p, bitShift, 8)),
		VelocityMPS: float64(raw) / 10.0 / 3.6,
	}
	if len(data) >= 6 {
		t.Steering = int16(utils.SignExtend(utils.GetBits(p, bitSteering, 16), 16))
	}
	return t, true, nil
}

// Decode uses the default telemetry id.
func Decode(id uint32, data []byte) (Telemetry, bool, error) {
	return Codec{TelemetryID: TelemetryFrameID}.Decode(id, data)
}

// DecodeFrame is Decode for a received can.Frame.
func (c Codec) DecodeFrame(f can.Frame) (Telemetry, bool, error) {
	return c.Decode(f.ID, f.Data[:f.Length])
}
