// Package frames is the presentation boundary: a thread-safe latest-frame
// slot plus a stats snapshot, consumed by an external streaming or UI
// component. Last write wins, nothing is queued.
package frames

import (
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Stats is the per-frame snapshot published alongside the annotated frame.
type Stats struct {
	TotalFrames    int64
	Detections     int64
	UniqueTargets  int
	LockState      string
	LockedTrackID  int
	FPS            float64
	InterlockText  string
	Paused         bool
	LinkConnected  bool
	ActionsSkipped int
}

// Slot holds the most recent annotated frame and stats.
type Slot struct {
	mu       sync.Mutex
	frame    gocv.Mat
	hasFrame bool
	stats    Stats

	fpsWindowStart time.Time
	fpsFrames      int
	fps            float64
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Publish stores a clone of the frame and the stats. The previous frame is
// released.
func (s *Slot) Publish(frame gocv.Mat, stats Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fpsFrames++
	now := time.Now()
	if s.fpsWindowStart.IsZero() {
		s.fpsWindowStart = now
	} else if elapsed := now.Sub(s.fpsWindowStart); elapsed >= time.Second {
		s.fps = float64(s.fpsFrames) / elapsed.Seconds()
		s.fpsFrames = 0
		s.fpsWindowStart = now
	}
	stats.FPS = s.fps

	if s.hasFrame {
		s.frame.Close()
	}
	s.frame = frame.Clone()
	s.hasFrame = true
	s.stats = stats
}

// Latest returns a clone of the newest frame and its stats. ok is false
// before the first publish; the caller owns the returned Mat.
func (s *Slot) Latest() (gocv.Mat, Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasFrame {
		return gocv.NewMat(), s.stats, false
	}
	return s.frame.Clone(), s.stats, true
}

// Stats returns the newest stats without copying the frame.
func (s *Slot) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close releases the held frame.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasFrame {
		s.frame.Close()
		s.hasFrame = false
	}
}
