package depth

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majeff/mosquito-pt2d/detection"
)

// matcherlessValidator builds a Validator without the gocv matcher so the
// pure geometry can be tested.
func matcherlessValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

func TestFocalPx(t *testing.T) {
	v := matcherlessValidator(DefaultConfig())
	// 3.04mm lens, 1920px across a 3.68mm sensor.
	assert.InDelta(t, 1586.09, v.FocalPx(), 0.01)
}

func TestMedianPositiveRequiresValidRatio(t *testing.T) {
	// 100-sample window, under 30 valid samples is unusable.
	_, ok := medianPositive(make([]float64, 29), 100, 0.3)
	assert.False(t, ok)

	valid := make([]float64, 30)
	for i := range valid {
		valid[i] = float64(i + 1)
	}
	m, ok := medianPositive(valid, 100, 0.3)
	require.True(t, ok)
	assert.InDelta(t, 15.0, m, 1.0)
}

func TestMedianPositiveRobustToOutliers(t *testing.T) {
	valid := []float64{10, 10, 10, 10, 10, 10, 10, 63, 63}
	m, ok := medianPositive(valid, 10, 0.3)
	require.True(t, ok)
	assert.InDelta(t, 10.0, m, 0.001)
}

func TestMeasureFromDisparity(t *testing.T) {
	cfg := DefaultConfig()
	v := matcherlessValidator(cfg)
	f := v.FocalPx()

	det := detection.Detection{Rect: image.Rect(0, 0, 20, 10)}
	m := v.measureFromDisparity(32, det)

	wantDepth := f * cfg.BaselineMM / 32
	assert.InDelta(t, wantDepth, m.DepthMM, 0.001)
	assert.InDelta(t, 20*wantDepth/f, m.WidthMM, 0.001)
	assert.InDelta(t, 10*wantDepth/f, m.HeightMM, 0.001)
	assert.InDelta(t, m.WidthMM, m.SizeMM, 0.001)
	assert.Greater(t, m.SizeMM, cfg.MinSizeMM)
	assert.Less(t, m.SizeMM, cfg.MaxSizeMM)
}

func TestPhysicalSizeIsDistanceInvariant(t *testing.T) {
	v := matcherlessValidator(DefaultConfig())

	// The same physical object at half the distance doubles both its
	// pixel size and its disparity; derived size must not change.
	near := v.measureFromDisparity(40, detection.Detection{Rect: image.Rect(0, 0, 40, 40)})
	far := v.measureFromDisparity(20, detection.Detection{Rect: image.Rect(0, 0, 20, 20)})

	assert.InDelta(t, near.SizeMM, far.SizeMM, 0.001)
	assert.InDelta(t, 2.0, far.DepthMM/near.DepthMM, 0.001)
}
