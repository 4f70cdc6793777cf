package detection

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func plausible() Detection {
	return Detection{Rect: image.Rect(100, 100, 120, 115), Confidence: 0.8}
}

func TestFilterAcceptsPlausibleCandidate(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())
	kept := f.Apply(nil, []Detection{plausible()})
	assert.Len(t, kept, 1)
}

func TestFilterSizeBounds(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())

	tiny := Detection{Rect: image.Rect(0, 0, 2, 2), Confidence: 0.8}
	huge := Detection{Rect: image.Rect(0, 0, 400, 300), Confidence: 0.8}

	kept := f.Apply(nil, []Detection{tiny, plausible(), huge})
	assert.Len(t, kept, 1)
}

func TestFilterAspectBounds(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())

	wide := Detection{Rect: image.Rect(0, 0, 100, 10), Confidence: 0.8}
	tall := Detection{Rect: image.Rect(0, 0, 10, 100), Confidence: 0.8}

	kept := f.Apply(nil, []Detection{wide, plausible(), tall})
	assert.Len(t, kept, 1)
}

func TestFilterDropsFullConfidence(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())

	exact := plausible()
	exact.Confidence = 1.0

	kept := f.Apply(nil, []Detection{exact})
	assert.Empty(t, kept)

	cfg := DefaultFilterConfig()
	cfg.DropFullConfidence = false
	kept = NewFilter(cfg).Apply(nil, []Detection{exact})
	assert.Len(t, kept, 1)
}

func TestFilterDropsDegenerateBoxes(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())
	kept := f.Apply(nil, []Detection{{Rect: image.Rect(10, 10, 10, 30), Confidence: 0.8}})
	assert.Empty(t, kept)
}
