package events

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	s.Record(KindLock, "track 1 conf=0.82")
	s.Record(KindAlert, "beep dispatched")
	s.Record(KindUnlock, "track 1 timeout")

	recent, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, KindUnlock, recent[0].Kind)
	assert.Equal(t, KindAlert, recent[1].Kind)
	assert.Equal(t, "track 1 timeout", recent[0].Detail)
}

func TestCountByKind(t *testing.T) {
	s := openTestStore(t)

	s.Record(KindInterlock, "temperature paused")
	s.Record(KindInterlock, "temperature resumed")
	s.Record(KindLock, "track 3")

	n, err := s.Count(KindInterlock)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNilStoreRecordIsNoop(t *testing.T) {
	var s *Store
	s.Record(KindLock, "ignored")
}
