package tracking

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majeff/mosquito-pt2d/detection"
)

func det(x, y int, conf float64) detection.Detection {
	return detection.Detection{
		Rect:       image.Rect(x-10, y-10, x+10, y+10),
		Confidence: conf,
		Class:      "mosquito",
	}
}

func testCfg() Config {
	cfg := DefaultConfig()
	cfg.FrameWidth = 640
	cfg.FrameHeight = 480
	return cfg
}

func TestTrackContinuityForMovingTarget(t *testing.T) {
	tr := NewTracker(testCfg())
	start := time.Now()

	for i := 0; i < 20; i++ {
		tr.Update([]detection.Detection{det(100+10*i, 200, 0.8)}, start.Add(time.Duration(i)*33*time.Millisecond))
	}

	tracks := tr.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, 1, tracks[0].ID)
	assert.Equal(t, 20, tracks[0].SeenFrames)
	assert.Equal(t, 1, tr.UniqueTargets())
}

func TestScanningPicksHighestConfidence(t *testing.T) {
	tr := NewTracker(testCfg())
	start := time.Now()

	dets := []detection.Detection{det(100, 100, 0.5), det(400, 300, 0.9)}
	r := tr.Update(dets, start)
	assert.Equal(t, Scanning, r.LockState)
	assert.False(t, r.JustLocked)

	r = tr.Update(dets, start.Add(33*time.Millisecond))
	require.Equal(t, Locked, r.LockState)
	assert.True(t, r.JustLocked)
	require.NotNil(t, r.LockedDetection)
	assert.Equal(t, image.Pt(400, 300), r.LockedDetection.Center())
}

func TestLockStableUnderHigherConfidenceDistraction(t *testing.T) {
	tr := NewTracker(testCfg())
	start := time.Now()

	// Establish a lock on a moving target.
	for i := 0; i < 3; i++ {
		tr.Update([]detection.Detection{det(200+5*i, 200, 0.8)}, start.Add(time.Duration(i)*33*time.Millisecond))
	}
	state, lockedID := tr.LockState()
	require.Equal(t, Locked, state)

	// A stronger detection appears far away every frame.
	for i := 3; i < 30; i++ {
		r := tr.Update([]detection.Detection{
			det(200+5*i, 200, 0.8),
			det(600, 430, 0.95),
		}, start.Add(time.Duration(i)*33*time.Millisecond))

		require.Equal(t, Locked, r.LockState)
		assert.Equal(t, lockedID, r.LockedID)
		require.NotNil(t, r.LockedDetection)
		assert.Equal(t, image.Pt(200+5*i, 200), r.LockedDetection.Center())
	}
}

func TestTimeoutBasedUnlock(t *testing.T) {
	cfg := testCfg()
	cfg.NoDetectionTimeout = 500 * time.Millisecond
	tr := NewTracker(cfg)
	start := time.Now()

	tr.Update([]detection.Detection{det(300, 200, 0.8)}, start)
	r := tr.Update([]detection.Detection{det(305, 203, 0.8)}, start.Add(33*time.Millisecond))
	require.Equal(t, Locked, r.LockState)

	// Gaps shorter than the timeout keep the lock.
	r = tr.Update(nil, start.Add(300*time.Millisecond))
	assert.Equal(t, Locked, r.LockState)
	assert.False(t, r.JustUnlocked)

	// Past the timeout: exactly one unlock with its one-shot homing flag.
	r = tr.Update(nil, start.Add(700*time.Millisecond))
	assert.Equal(t, Scanning, r.LockState)
	assert.True(t, r.JustUnlocked)

	r = tr.Update(nil, start.Add(800*time.Millisecond))
	assert.Equal(t, Scanning, r.LockState)
	assert.False(t, r.JustUnlocked)
}

func TestLockRecoversWithinTimeout(t *testing.T) {
	cfg := testCfg()
	cfg.NoDetectionTimeout = time.Second
	tr := NewTracker(cfg)
	start := time.Now()

	tr.Update([]detection.Detection{det(300, 200, 0.8)}, start)
	tr.Update([]detection.Detection{det(305, 203, 0.8)}, start.Add(33*time.Millisecond))

	tr.Update(nil, start.Add(200*time.Millisecond))
	r := tr.Update([]detection.Detection{det(310, 206, 0.8)}, start.Add(400*time.Millisecond))

	require.Equal(t, Locked, r.LockState)
	require.NotNil(t, r.LockedDetection)
	assert.Equal(t, image.Pt(310, 206), r.LockedDetection.Center())
}

func TestEndToEndLockFollowsMovingTarget(t *testing.T) {
	tr := NewTracker(testCfg())
	start := time.Now()

	var lockedID int
	for i := 0; i < 5; i++ {
		r := tr.Update([]detection.Detection{
			det(300+5*i, 200+3*i, 0.8),
			det(400, 250, 0.6),
		}, start.Add(time.Duration(i)*33*time.Millisecond))

		if i == 0 {
			assert.Equal(t, Scanning, r.LockState)
			continue
		}
		require.Equal(t, Locked, r.LockState, "frame %d", i)
		if lockedID == 0 {
			lockedID = r.LockedID
		}
		assert.Equal(t, lockedID, r.LockedID, "lock must not switch")
		require.NotNil(t, r.LockedDetection)
		assert.Equal(t, image.Pt(300+5*i, 200+3*i), r.LockedDetection.Center(),
			"frame %d must follow the moving high-confidence target", i)
	}
}

func TestMinConsecutiveFramesGate(t *testing.T) {
	tr := NewTracker(testCfg())

	r := tr.Update([]detection.Detection{det(300, 200, 0.9)}, time.Now())

	assert.Empty(t, r.Accepted)
	assert.Equal(t, Scanning, r.LockState)
}

func TestStaticTrackRejectedAsBackgroundNoise(t *testing.T) {
	cfg := testCfg()
	cfg.MaxStaticFrames = 5
	tr := NewTracker(cfg)
	start := time.Now()

	var accepted int
	for i := 0; i < 20; i++ {
		r := tr.Update([]detection.Detection{det(400, 250, 0.7)}, start.Add(time.Duration(i)*33*time.Millisecond))
		accepted += len(r.Accepted)
	}

	// Frames 2..6 pass (seen >= 2, static counter still within bounds),
	// everything after is suppressed as a static false positive.
	assert.Equal(t, 5, accepted)
	// The track itself survives suppression.
	assert.Len(t, tr.Tracks(), 1)
}

func TestLockedStaticTargetStopsDrivingActuation(t *testing.T) {
	cfg := testCfg()
	cfg.MaxStaticFrames = 5
	cfg.NoDetectionTimeout = time.Second
	tr := NewTracker(cfg)
	start := time.Now()

	// The same glare spot every frame: the lock forms while the static
	// counter is within bounds, then the match turns implausible.
	var unlocks int
	for i := 0; i < 40; i++ {
		r := tr.Update([]detection.Detection{det(400, 250, 0.7)}, start.Add(time.Duration(i)*33*time.Millisecond))
		if r.JustUnlocked {
			unlocks++
		}
		if i > 6 && r.LockState == Locked {
			assert.Nil(t, r.LockedDetection, "frame %d: rejected match must not surface", i)
			assert.Nil(t, r.Move, "frame %d: rejected match must not drive the actuator", i)
			assert.False(t, r.LaserOn, "frame %d", i)
		}
	}

	// With the timer no longer refreshed by rejected matches, the stale
	// lock ages out exactly once.
	assert.Equal(t, 1, unlocks)
	state, _ := tr.LockState()
	assert.Equal(t, Scanning, state)
	// The track itself survives suppression.
	assert.Len(t, tr.Tracks(), 1)
}

func TestErrorSignalDirectionAndDeadZone(t *testing.T) {
	tr := NewTracker(testCfg())
	start := time.Now()

	// Lock onto a target right of center and below center.
	tr.Update([]detection.Detection{det(420, 340, 0.8)}, start)
	r := tr.Update([]detection.Detection{det(420, 340, 0.8)}, start.Add(33*time.Millisecond))

	require.Equal(t, Locked, r.LockState)
	require.NotNil(t, r.Move)
	// errX = 420-320 = 100 -> +15 pan. errY = 240-340 = -100 -> -15 tilt.
	assert.Equal(t, 15, r.Move.DeltaPan)
	assert.Equal(t, -15, r.Move.DeltaTilt)
	assert.False(t, r.LaserOn)
}

func TestErrorSignalSuppressedInsideDeadZone(t *testing.T) {
	tr := NewTracker(testCfg())
	start := time.Now()

	tr.Update([]detection.Detection{det(330, 240, 0.8)}, start)
	r := tr.Update([]detection.Detection{det(330, 244, 0.8)}, start.Add(33*time.Millisecond))

	require.Equal(t, Locked, r.LockState)
	// errX = 10 -> 1.5 degrees, inside the 2 degree dead zone.
	assert.Nil(t, r.Move)
	assert.True(t, r.LaserOn)
}

func TestPurgeNeverReusesIDs(t *testing.T) {
	cfg := testCfg()
	cfg.LostMax = 2
	cfg.NoDetectionTimeout = time.Millisecond
	tr := NewTracker(cfg)
	start := time.Now()

	tr.Update([]detection.Detection{det(100, 100, 0.8)}, start)
	for i := 1; i < 6; i++ {
		tr.Update(nil, start.Add(time.Duration(i)*33*time.Millisecond))
	}
	require.Empty(t, tr.Tracks())

	tr.Update([]detection.Detection{det(100, 100, 0.8)}, start.Add(time.Second))
	tracks := tr.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, 2, tracks[0].ID)
}
