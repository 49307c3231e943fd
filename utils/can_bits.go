package utils

import "math"

// GetBits extracts bitLen bits starting at startBit from a little-endian payload.
func GetBits(payload uint64, startBit, bitLen int) uint64 {
	if bitLen <= 0 || bitLen > 64 || startBit < 0 || startBit+bitLen > 64 {
		return 0
	}
	if bitLen == 64 {
		return payload
	}
	mask := uint64(1)<<bitLen - 1
	return (payload >> startBit) & mask
}

// SetBits writes value into bitLen bits starting at startBit. Excess high bits
// of value are discarded.
func SetBits(payload uint64, startBit, bitLen int, value uint64) uint64 {
	if bitLen <= 0 || bitLen > 64 || startBit < 0 || startBit+bitLen > 64 {
		return payload
	}
	if bitLen == 64 {
		return value
	}
	mask := uint64(1)<<bitLen - 1
	payload &^= mask << startBit
	payload |= (value & mask) << startBit
	return payload
}

// PayloadFromBytes packs up to 8 bytes, byte 0 lowest.
func PayloadFromBytes(data []byte) uint64 {
	var payload uint64
	for i := 0; i < len(data) && i < 8; i++ {
		payload |= uint64(data[i]) << (8 * i)
	}
	return payload
}

// PayloadToBytes is the inverse of PayloadFromBytes.
func PayloadToBytes(payload uint64, out []byte) {
	for i := 0; i < len(out) && i < 8; i++ {
		out[i] = byte(payload >> (8 * i))
	}
}

// SignExtend interprets the low bitLen bits of u as two's complement.
func SignExtend(u uint64, bitLen int) int64 {
	if bitLen <= 0 || bitLen >= 64 {
		return int64(u)
	}
	signBit := uint64(1) << (bitLen - 1)
	if u&signBit == 0 {
		return int64(u)
	}
	return int64(u) - int64(uint64(1)<<bitLen)
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SaturateUint16 rounds v and clamps it into [0, 65535]. NaN maps to 0.
func SaturateUint16(v float64) uint16 {
	if math.IsNaN(v) {
		return 0
	}
	return uint16(Clamp(math.Round(v), 0, math.MaxUint16))
}

// SaturateInt16 rounds v and clamps it into [-32768, 32767]. NaN maps to 0.
func SaturateInt16(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	return int16(Clamp(math.Round(v), math.MinInt16, math.MaxInt16))
}
