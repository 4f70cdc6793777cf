package tracking

import (
	"image"
	"time"
)

// Config holds the tracker thresholds and the actuator control constants.
type Config struct {
	FrameWidth  int
	FrameHeight int

	LockDistance float64 // px, matching radius for track association
	LostMax      int     // frames before an unlocked track is purged

	// Unlock is time-based so behavior does not change with frame rate.
	NoDetectionTimeout time.Duration

	// Track-history plausibility.
	MinConsecutiveFrames int
	MaxJumpPx            float64
	StaticThresholdPx    float64
	MaxStaticFrames      int
	HistorySize          int

	// Error signal to actuator degrees.
	PanGain           float64
	TiltGain          float64
	DeadZoneDeg       float64
	CenterThresholdPx float64 // laser recommendation radius
}

// DefaultConfig returns the constants tuned on the rig.
func DefaultConfig() Config {
	return Config{
		FrameWidth:           1920,
		FrameHeight:          1080,
		LockDistance:         100,
		LostMax:              30,
		NoDetectionTimeout:   2 * time.Second,
		MinConsecutiveFrames: 2,
		MaxJumpPx:            150,
		StaticThresholdPx:    3,
		MaxStaticFrames:      30,
		HistorySize:          10,
		PanGain:              0.15,
		TiltGain:             0.15,
		DeadZoneDeg:          2,
		CenterThresholdPx:    30,
	}
}

// Track is the persistent identity of one physical target across frames.
type Track struct {
	ID           int
	Center       image.Point
	Rect         image.Rectangle
	Confidence   float64
	Class        string
	FirstSeen    time.Time
	LastSeen     time.Time
	SeenFrames   int // consecutive frames matched
	LostFrames   int // consecutive frames unmatched
	StaticFrames int // consecutive frames below the movement threshold
	History      []image.Point
}

// LockState is the tracker's commitment state.
type LockState int

const (
	Scanning LockState = iota
	Locked
)

func (s LockState) String() string {
	if s == Locked {
		return "locked"
	}
	return "scanning"
}

// Move is a relative actuator command in whole degrees, already scaled by
// the gains and thinned by the dead zone.
type Move struct {
	DeltaPan  int
	DeltaTilt int
}
