package geometry

// DefaultPPR is the encoder resolution of the steering servo (counts per
// output shaft revolution, after quadrature decoding).
const DefaultPPR = 12000

// Scale converts between encoder counts and shaft angle in degrees.
type Scale struct {
	ppr float64
}

// NewScale creates a scale for the given pulses per revolution.
// A non-positive ppr falls back to DefaultPPR.
func NewScale(ppr int) Scale {
	if ppr <= 0 {
		ppr = DefaultPPR
	}
	return Scale{ppr: float64(ppr)}
}

// PPR returns the pulses per revolution of the scale.
func (s Scale) PPR() int {
	return int(s.ppr)
}

// CountToAngle converts an encoder count to degrees.
func (s Scale) CountToAngle(count int32) float64 {
	return float64(count) * 360.0 / s.ppr
}

// AngleToCount converts degrees to an encoder count, truncating toward zero.
func (s Scale) AngleToCount(angleDegrees float64) int32 {
	return int32(angleDegrees * s.ppr / 360.0)
}

// Resolution returns the angle of a single count.
func (s Scale) Resolution() float64 {
	return 360.0 / s.ppr
}

// Clamp limits v to [lo, hi].
func Clamp[T int32 | uint32 | float64](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
