package detection

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileWindowsCoverEveryPixel(t *testing.T) {
	cases := []struct {
		w, h, side int
		overlap    float64
	}{
		{1920, 1080, 640, 0.2},
		{1280, 720, 640, 0.2},
		{640, 640, 640, 0.2},
		{650, 480, 640, 0.2},
		{333, 777, 100, 0.5},
		{1000, 1000, 100, 0.0},
	}
	for _, c := range cases {
		wins := tileWindows(c.w, c.h, c.side, c.overlap)
		require.NotEmpty(t, wins)

		covered := make([]bool, c.w*c.h)
		var maxX, maxY int
		for _, win := range wins {
			assert.True(t, win.Max.X <= c.w && win.Max.Y <= c.h, "window %v leaves frame %dx%d", win, c.w, c.h)
			for y := win.Min.Y; y < win.Max.Y; y++ {
				for x := win.Min.X; x < win.Max.X; x++ {
					covered[y*c.w+x] = true
				}
			}
			if win.Max.X > maxX {
				maxX = win.Max.X
			}
			if win.Max.Y > maxY {
				maxY = win.Max.Y
			}
		}
		for i, ok := range covered {
			if !ok {
				t.Fatalf("%dx%d side=%d overlap=%.1f: pixel (%d,%d) uncovered",
					c.w, c.h, c.side, c.overlap, i%c.w, i/c.w)
			}
		}
		// The last row/column must land exactly on the far edge.
		assert.Equal(t, c.w, maxX)
		assert.Equal(t, c.h, maxY)
	}
}

func TestTileWindowsSmallFrameSingleWindow(t *testing.T) {
	wins := tileWindows(320, 240, 640, 0.2)
	require.Len(t, wins, 1)
	assert.Equal(t, image.Rect(0, 0, 320, 240), wins[0])
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	dets := []Detection{
		{Rect: image.Rect(0, 0, 100, 100), Confidence: 0.6},
		{Rect: image.Rect(10, 10, 110, 110), Confidence: 0.9},
		{Rect: image.Rect(300, 300, 340, 340), Confidence: 0.5},
	}

	kept := nonMaxSuppression(dets, 0.45)

	require.Len(t, kept, 2)
	assert.InDelta(t, 0.9, kept[0].Confidence, 1e-9)
	assert.Equal(t, image.Rect(300, 300, 340, 340), kept[1].Rect)
}

func TestNMSTiesKeepFirstSeenOrder(t *testing.T) {
	first := Detection{Rect: image.Rect(0, 0, 100, 100), Confidence: 0.7, ClassID: 1}
	second := Detection{Rect: image.Rect(5, 5, 105, 105), Confidence: 0.7, ClassID: 2}

	kept := nonMaxSuppression([]Detection{first, second}, 0.45)

	require.Len(t, kept, 1)
	assert.Equal(t, 1, kept[0].ClassID)
}

func TestNMSIdempotent(t *testing.T) {
	dets := []Detection{
		{Rect: image.Rect(0, 0, 100, 100), Confidence: 0.9},
		{Rect: image.Rect(20, 20, 120, 120), Confidence: 0.8},
		{Rect: image.Rect(40, 40, 140, 140), Confidence: 0.7},
		{Rect: image.Rect(500, 0, 560, 60), Confidence: 0.95},
		{Rect: image.Rect(505, 5, 565, 65), Confidence: 0.95},
	}

	once := nonMaxSuppression(dets, 0.45)
	twice := nonMaxSuppression(once, 0.45)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("merge not idempotent (-once +twice):\n%s", diff)
	}
	for i, a := range once {
		for j, b := range once {
			if i != j {
				assert.LessOrEqual(t, iou(a.Rect, b.Rect), 0.45)
			}
		}
	}
}

func TestTranslateOffsetsTileCoordinates(t *testing.T) {
	dets := translate([]Detection{{Rect: image.Rect(10, 20, 30, 40)}}, image.Pt(600, 400))
	assert.Equal(t, image.Rect(610, 420, 630, 440), dets[0].Rect)
}

func TestExcludeMarginsAllEdges(t *testing.T) {
	dets := []Detection{
		{Rect: image.Rect(0, 100, 20, 120)},     // center x=10, inside left margin
		{Rect: image.Rect(480, 100, 500, 120)},  // center in the middle
		{Rect: image.Rect(980, 100, 1000, 120)}, // inside right margin
		{Rect: image.Rect(480, 0, 500, 20)},     // inside top margin
		{Rect: image.Rect(480, 480, 500, 500)},  // inside bottom margin
	}

	kept := excludeMargins(dets, 1000, 500, 0.05, EdgesAll)

	require.Len(t, kept, 1)
	assert.Equal(t, image.Rect(480, 100, 500, 120), kept[0].Rect)
}

func TestExcludeMarginsHonorsEdgeSelection(t *testing.T) {
	// Left half of a split stereo frame: the right boundary is the cut,
	// not a true image edge, so candidates near it survive.
	dets := []Detection{
		{Rect: image.Rect(0, 100, 20, 120)},
		{Rect: image.Rect(980, 100, 1000, 120)},
	}

	kept := excludeMargins(dets, 1000, 500, 0.05, EdgeLeft|EdgeTop|EdgeBottom)

	require.Len(t, kept, 1)
	assert.Equal(t, image.Rect(980, 100, 1000, 120), kept[0].Rect)
}

func TestExcludeMarginsDisabled(t *testing.T) {
	dets := []Detection{{Rect: image.Rect(0, 0, 10, 10)}}
	assert.Len(t, excludeMargins(dets, 1000, 500, 0, EdgesAll), 1)
	assert.Len(t, excludeMargins(dets, 1000, 500, 0.05, 0), 1)
}
