package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsBeforeFirstPublish(t *testing.T) {
	s := NewSlot()
	defer s.Close()

	assert.Equal(t, Stats{}, s.Stats())
}

func TestStatsLastWriteWins(t *testing.T) {
	s := NewSlot()
	defer s.Close()

	// Frame publishing needs a live Mat; the stats path is exercised on
	// its own here.
	s.mu.Lock()
	s.stats = Stats{TotalFrames: 1, LockState: "scanning"}
	s.mu.Unlock()
	s.mu.Lock()
	s.stats = Stats{TotalFrames: 2, LockState: "locked", LockedTrackID: 7}
	s.mu.Unlock()

	got := s.Stats()
	assert.Equal(t, int64(2), got.TotalFrames)
	assert.Equal(t, "locked", got.LockState)
	assert.Equal(t, 7, got.LockedTrackID)
}
