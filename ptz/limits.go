package ptz

// Limits holds the angle range the device will accept, in degrees. The
// device advertises its range in the startup message; until that arrives
// the conservative defaults below apply.
type Limits struct {
	PanMin  int
	PanMax  int
	TiltMin int
	TiltMax int
}

// DefaultLimits matches the firmware's compiled-in servo range.
func DefaultLimits() Limits {
	return Limits{PanMin: 0, PanMax: 270, TiltMin: 15, TiltMax: 165}
}

// ClampPan bounds a pan angle to the device range.
func (l Limits) ClampPan(v int) int {
	if v < l.PanMin {
		return l.PanMin
	}
	if v > l.PanMax {
		return l.PanMax
	}
	return v
}

// ClampTilt bounds a tilt angle to the device range.
func (l Limits) ClampTilt(v int) int {
	if v < l.TiltMin {
		return l.TiltMin
	}
	if v > l.TiltMax {
		return l.TiltMax
	}
	return v
}

// ContainsPan reports whether a pan angle is already within range.
func (l Limits) ContainsPan(v int) bool { return v >= l.PanMin && v <= l.PanMax }

// ContainsTilt reports whether a tilt angle is already within range.
func (l Limits) ContainsTilt(v int) bool { return v >= l.TiltMin && v <= l.TiltMax }
