package ymc

import (
	"math"

	"ymc-dbw-core/utils"
)

// DefaultTrimDeg compensates the mechanical steering bias of the test vehicle.
const DefaultTrimDeg = 8.0

// AutonomousSteering is the bicycle-model steering angle in degrees for a
// yaw rate and forward speed. A stationary vehicle (linear == 0) gets 0
// degrees: there is no kinematic curvature without motion.
func AutonomousSteering(angularRPS, linearMPS, wheelBase float64) float64 {
	if linearMPS == 0 {
		return 0
	}
	return math.Atan(wheelBase*angularRPS/linearMPS) * 180.0 / math.Pi
}

// NormalizeTrigger maps a trigger axis (1 released, -1 fully pulled) to [0, 1].
func NormalizeTrigger(axis float64) float64 {
	return (-axis + 1.0) / 2.0
}

// ManualSteering maps the left stick to degrees. The trigger widens the
// ratio from 20 to 37 degrees of full-stick travel.
func ManualSteering(leverX, triggerAxis float64) float64 {
	ratio := 20.0 + 17.0*NormalizeTrigger(triggerAxis)
	return ratio * leverX
}

// toWireSteering applies trim, scales to 0.1 deg and flips the sign to the
// ECU convention.
func toWireSteering(deg, trim float64) int16 {
	return utils.SaturateInt16((deg + trim) * 10.0 * -1.0)
}

func toWireVelocity(kmph float64) uint16 {
	return utils.SaturateUint16(kmph * 10.0)
}
