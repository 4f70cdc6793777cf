package tracking

import (
	"fmt"
	"image"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/majeff/mosquito-pt2d/detection"
)

// Result is the outcome of one frame's atomic tracking update.
type Result struct {
	LockState LockState
	LockedID  int // valid while LockState == Locked

	// LockedDetection is the detection matched to the locked track this
	// frame, nil when the locked track went unmatched or its match was
	// rejected by the plausibility checks.
	LockedDetection *detection.Detection

	// Accepted holds this frame's detections that passed the
	// track-history plausibility checks, for the overlay.
	Accepted []detection.Detection

	// Move is the relative actuator command, nil when inside the dead
	// zone or nothing is locked.
	Move *Move

	JustLocked   bool // one-shot: fire the audible alert
	JustUnlocked bool // one-shot: return the head to home
	LaserOn      bool // locked target close enough to frame center
}

// Tracker assigns stable identities to detections across frames and owns
// the lock state. All mutation happens inside Update under one mutex; a
// frame's assignment pass is never visible half-done.
type Tracker struct {
	mu  sync.Mutex
	cfg Config

	tracks        map[int]*Track
	nextID        int
	lockState     LockState
	lockedID      int
	lastLockMatch time.Time
}

// NewTracker builds an empty tracker in Scanning state.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, tracks: make(map[int]*Track)}
}

// Update runs one frame's assignment pass over the plausible detections.
func (t *Tracker) Update(dets []detection.Detection, now time.Time) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tr := range t.tracks {
		tr.LostFrames++
	}

	claimed := make([]bool, len(dets))
	matched := make(map[int]int, len(dets)) // track id -> det index

	res := Result{LockState: t.lockState, LockedID: t.lockedID}

	// The locked track gets first pick: nearest unclaimed detection
	// within the lock radius, before any global assignment. Whether that
	// match may drive the actuator is decided after the plausibility pass.
	lockedDi := -1
	if t.lockState == Locked {
		if tr, ok := t.tracks[t.lockedID]; ok {
			if di := nearestDetection(tr.Center, dets, claimed, t.cfg.LockDistance); di >= 0 {
				t.matchTrack(tr, dets[di], now)
				claimed[di] = true
				matched[tr.ID] = di
				lockedDi = di
			}
		}
	}

	t.assignRemaining(dets, claimed, matched, now)

	for di, isClaimed := range claimed {
		if !isClaimed {
			tr := t.spawnTrack(dets[di], now)
			matched[tr.ID] = di
		}
	}

	t.purgeStale()

	cands := t.acceptedCandidates(dets, matched)
	for _, c := range cands {
		res.Accepted = append(res.Accepted, dets[c.di])
	}

	// A rejected match suppresses actuation and does not refresh the
	// unlock timer, so a lock on a static false positive ages out the
	// same way a vanished target does.
	if lockedDi >= 0 {
		for _, c := range cands {
			if c.trackID == t.lockedID {
				t.lastLockMatch = now
				d := dets[lockedDi]
				res.LockedDetection = &d
				break
			}
		}
	}

	if t.lockState == Locked && res.LockedDetection == nil {
		if now.Sub(t.lastLockMatch) > t.cfg.NoDetectionTimeout {
			debugMsg("TRACK", fmt.Sprintf("lock on track %d timed out after %v, back to scanning",
				t.lockedID, now.Sub(t.lastLockMatch).Round(time.Millisecond)))
			t.lockState = Scanning
			t.lockedID = 0
			res.JustUnlocked = true
		}
	}

	// The homing frame stays in Scanning; re-locking resumes next frame.
	if t.lockState == Scanning && !res.JustUnlocked {
		// Candidates are sorted by confidence descending; scanning picks
		// the most confident plausible one, not the nearest.
		if len(cands) > 0 {
			best := cands[0]
			d := dets[best.di]
			t.lockState = Locked
			t.lockedID = best.trackID
			t.lastLockMatch = now
			res.JustLocked = true
			res.LockedDetection = &d
			debugMsg("TRACK", fmt.Sprintf("locked track %d conf=%.2f at %v", best.trackID, d.Confidence, d.Center()))
		}
	}

	res.LockState = t.lockState
	res.LockedID = t.lockedID

	if t.lockState == Locked && res.LockedDetection != nil {
		res.Move, res.LaserOn = t.errorSignal(*res.LockedDetection)
	}

	return res
}

// assignRemaining matches unclaimed detections to unlocked tracks,
// greedily, closest pair first.
func (t *Tracker) assignRemaining(dets []detection.Detection, claimed []bool, matched map[int]int, now time.Time) {
	type pair struct {
		id   int
		di   int
		dist float64
	}
	var pairs []pair
	for id, tr := range t.tracks {
		if t.lockState == Locked && id == t.lockedID {
			continue
		}
		if _, done := matched[id]; done {
			continue
		}
		for di, d := range dets {
			if claimed[di] {
				continue
			}
			if dist := pointDist(tr.Center, d.Center()); dist <= t.cfg.LockDistance {
				pairs = append(pairs, pair{id: id, di: di, dist: dist})
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].dist != pairs[b].dist {
			return pairs[a].dist < pairs[b].dist
		}
		if pairs[a].id != pairs[b].id {
			return pairs[a].id < pairs[b].id
		}
		return pairs[a].di < pairs[b].di
	})

	taken := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		if taken[p.id] || claimed[p.di] {
			continue
		}
		t.matchTrack(t.tracks[p.id], dets[p.di], now)
		claimed[p.di] = true
		taken[p.id] = true
		matched[p.id] = p.di
	}
}

func (t *Tracker) matchTrack(tr *Track, d detection.Detection, now time.Time) {
	c := d.Center()
	if pointDist(tr.Center, c) < t.cfg.StaticThresholdPx {
		tr.StaticFrames++
	} else {
		tr.StaticFrames = 0
	}
	tr.History = append(tr.History, c)
	if len(tr.History) > t.cfg.HistorySize {
		tr.History = tr.History[len(tr.History)-t.cfg.HistorySize:]
	}
	tr.Center = c
	tr.Rect = d.Rect
	tr.Confidence = d.Confidence
	tr.Class = d.Class
	tr.LastSeen = now
	tr.SeenFrames++
	tr.LostFrames = 0
}

func (t *Tracker) spawnTrack(d detection.Detection, now time.Time) *Track {
	t.nextID++
	tr := &Track{
		ID:         t.nextID,
		Center:     d.Center(),
		Rect:       d.Rect,
		Confidence: d.Confidence,
		Class:      d.Class,
		FirstSeen:  now,
		LastSeen:   now,
		SeenFrames: 1,
		History:    []image.Point{d.Center()},
	}
	t.tracks[tr.ID] = tr
	return tr
}

// purgeStale removes tracks lost for too many frames. Purged ids are never
// reused. The locked track is exempt; its lifetime is governed by the
// time-based unlock.
func (t *Tracker) purgeStale() {
	for id, tr := range t.tracks {
		if t.lockState == Locked && id == t.lockedID {
			continue
		}
		if tr.LostFrames > t.cfg.LostMax {
			delete(t.tracks, id)
		}
	}
}

// acceptedCandidate pairs an accepted detection's index with the track it
// matched this frame, so later stages never have to re-identify it by
// value.
type acceptedCandidate struct {
	trackID int
	di      int
}

// acceptedCandidates applies the stateful plausibility checks using the
// matched track's history. Rejection suppresses this frame's output only;
// the track itself stays and may recover later.
func (t *Tracker) acceptedCandidates(dets []detection.Detection, matched map[int]int) []acceptedCandidate {
	var cands []acceptedCandidate
	for id, di := range matched {
		tr, ok := t.tracks[id]
		if !ok {
			continue
		}
		if tr.SeenFrames < t.cfg.MinConsecutiveFrames {
			continue
		}
		if tr.StaticFrames > t.cfg.MaxStaticFrames {
			continue
		}
		if n := len(tr.History); n >= 2 {
			if pointDist(tr.History[n-2], tr.History[n-1]) > t.cfg.MaxJumpPx {
				continue
			}
		}
		cands = append(cands, acceptedCandidate{trackID: id, di: di})
	}
	sort.Slice(cands, func(a, b int) bool {
		da, db := dets[cands[a].di], dets[cands[b].di]
		if da.Confidence != db.Confidence {
			return da.Confidence > db.Confidence
		}
		ca, cb := da.Center(), db.Center()
		if ca.X != cb.X {
			return ca.X < cb.X
		}
		return ca.Y < cb.Y
	})
	return cands
}

// errorSignal converts the pixel offset of the locked detection from the
// frame center into a relative move. The vertical axis is inverted to
// match the tilt convention.
func (t *Tracker) errorSignal(d detection.Detection) (*Move, bool) {
	c := d.Center()
	fx, fy := t.cfg.FrameWidth/2, t.cfg.FrameHeight/2
	errX := float64(c.X - fx)
	errY := float64(fy - c.Y)

	laser := math.Abs(errX) < t.cfg.CenterThresholdPx && math.Abs(errY) < t.cfg.CenterThresholdPx

	dpan := errX * t.cfg.PanGain
	dtilt := errY * t.cfg.TiltGain
	if math.Abs(dpan) < t.cfg.DeadZoneDeg {
		dpan = 0
	}
	if math.Abs(dtilt) < t.cfg.DeadZoneDeg {
		dtilt = 0
	}
	if dpan == 0 && dtilt == 0 {
		return nil, laser
	}
	return &Move{
		DeltaPan:  int(math.Round(dpan)),
		DeltaTilt: int(math.Round(dtilt)),
	}, laser
}

// LockState returns the current commitment state.
func (t *Tracker) LockState() (LockState, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockState, t.lockedID
}

// Tracks returns a copy of the active track set.
func (t *Tracker) Tracks() []Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, *tr)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// UniqueTargets reports how many distinct tracks have ever been created.
func (t *Tracker) UniqueTargets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextID
}

func pointDist(a, b image.Point) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Hypot(dx, dy)
}

func nearestDetection(from image.Point, dets []detection.Detection, claimed []bool, maxDist float64) int {
	best := -1
	bestDist := maxDist
	for di, d := range dets {
		if claimed[di] {
			continue
		}
		if dist := pointDist(from, d.Center()); dist <= bestDist {
			if best == -1 || dist < bestDist {
				best = di
				bestDist = dist
			}
		}
	}
	return best
}
