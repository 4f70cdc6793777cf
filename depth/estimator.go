// Package depth validates detections against physical size using stereo
// disparity. Active only in dual-camera mode.
package depth

import (
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"github.com/majeff/mosquito-pt2d/detection"
)

// debugMsgFunc is set by the main package to route messages through the
// unified logger.
var debugMsgFunc func(component, message string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// Config holds the camera geometry and matcher parameters.
type Config struct {
	BaselineMM    float64
	FocalLengthMM float64
	SensorWidthMM float64
	ImageWidthPx  int

	NumDisparities int
	BlockSize      int

	SampleWindowPx int     // square window around the detection center
	MinValidRatio  float64 // fraction of positive disparities required

	MinSizeMM float64
	MaxSizeMM float64
}

// DefaultConfig matches the rig's camera pair and the matcher settings it
// was tuned with.
func DefaultConfig() Config {
	return Config{
		BaselineMM:     60,
		FocalLengthMM:  3.04,
		SensorWidthMM:  3.68,
		ImageWidthPx:   1920,
		NumDisparities: 64,
		BlockSize:      15,
		SampleWindowPx: 21,
		MinValidRatio:  0.3,
		MinSizeMM:      3,
		MaxSizeMM:      15,
	}
}

// Measurement is the physical interpretation of one detection.
type Measurement struct {
	DisparityPx float64
	DepthMM     float64
	WidthMM     float64
	HeightMM    float64
	SizeMM      float64 // larger of width/height
}

// Validated pairs a detection with its depth measurement when one could
// be taken.
type Validated struct {
	detection.Detection
	Measurement Measurement
	HasDepth    bool
}

// Validator computes disparity between the stereo pair via semi-global
// block matching and converts detections to physical size.
type Validator struct {
	cfg  Config
	sgbm gocv.StereoSGBM
}

// NewValidator builds the block matcher. P1/P2 follow the usual
// 8*ch*blockSize^2 and 32*ch*blockSize^2 smoothness terms.
func NewValidator(cfg Config) *Validator {
	bs := cfg.BlockSize
	sgbm := gocv.NewStereoSGBMWithParams(
		0,                  // minDisparity
		cfg.NumDisparities, // numDisparities
		bs,                 // blockSize
		8*3*bs*bs,          // p1
		32*3*bs*bs,         // p2
		1,                  // disp12MaxDiff
		0,                  // preFilterCap
		10,                 // uniquenessRatio
		100,                // speckleWindowSize
		32,                 // speckleRange
		gocv.StereoSgbmModeSgbm,
	)
	return &Validator{cfg: cfg, sgbm: sgbm}
}

// Close releases the matcher.
func (v *Validator) Close() error {
	return v.sgbm.Close()
}

// FocalPx converts the lens focal length into pixels at the configured
// sensor geometry.
func (v *Validator) FocalPx() float64 {
	return focalPx(v.cfg.FocalLengthMM, v.cfg.ImageWidthPx, v.cfg.SensorWidthMM)
}

func focalPx(focalMM float64, imageWidthPx int, sensorWidthMM float64) float64 {
	return focalMM * float64(imageWidthPx) / sensorWidthMM
}

// SplitFrame returns the left and right halves of a side-by-side stereo
// frame as views into it. The caller closes both.
func SplitFrame(frame gocv.Mat) (left, right gocv.Mat) {
	w, h := frame.Cols(), frame.Rows()
	left = frame.Region(image.Rect(0, 0, w/2, h))
	right = frame.Region(image.Rect(w/2, 0, w, h))
	return left, right
}

// Disparity computes the floating-point disparity map for a rectified
// stereo pair. The matcher emits 16.4 fixed point, scaled down here.
func (v *Validator) Disparity(left, right gocv.Mat) (gocv.Mat, error) {
	grayL := gocv.NewMat()
	defer grayL.Close()
	grayR := gocv.NewMat()
	defer grayR.Close()
	if left.Channels() > 1 {
		gocv.CvtColor(left, &grayL, gocv.ColorBGRToGray)
		gocv.CvtColor(right, &grayR, gocv.ColorBGRToGray)
	} else {
		left.CopyTo(&grayL)
		right.CopyTo(&grayR)
	}

	raw := gocv.NewMat()
	defer raw.Close()
	v.sgbm.Compute(grayL, grayR, &raw)
	// The zero Mat owns no native memory, so the discarded error return
	// cannot leak.
	if raw.Empty() {
		return gocv.Mat{}, fmt.Errorf("block matcher produced no disparity")
	}

	disp := gocv.NewMat()
	raw.ConvertTo(&disp, gocv.MatTypeCV32F)
	disp.DivideFloat(16.0)
	return disp, nil
}

// Measure samples the disparity map in a window around the detection
// center and derives depth and physical size from the median of the valid
// (positive) samples. ok is false when too few samples are valid; the
// caller then falls back to pixel-only filtering.
func (v *Validator) Measure(disp gocv.Mat, det detection.Detection) (Measurement, bool) {
	c := det.Center()
	half := v.cfg.SampleWindowPx / 2
	win := image.Rect(c.X-half, c.Y-half, c.X+half+1, c.Y+half+1).
		Intersect(image.Rect(0, 0, disp.Cols(), disp.Rows()))
	if win.Empty() {
		return Measurement{}, false
	}

	total := win.Dx() * win.Dy()
	valid := make([]float64, 0, total)
	for y := win.Min.Y; y < win.Max.Y; y++ {
		for x := win.Min.X; x < win.Max.X; x++ {
			if d := float64(disp.GetFloatAt(y, x)); d > 0 {
				valid = append(valid, d)
			}
		}
	}

	median, ok := medianPositive(valid, total, v.cfg.MinValidRatio)
	if !ok {
		return Measurement{}, false
	}
	return v.measureFromDisparity(median, det), true
}

// medianPositive takes the median of the valid samples, requiring at
// least minRatio of the window to be valid. The median rides out
// occlusion boundaries and speckle that a mean would absorb.
func medianPositive(valid []float64, total int, minRatio float64) (float64, bool) {
	if total == 0 || float64(len(valid))/float64(total) < minRatio {
		return 0, false
	}
	sorted := append([]float64(nil), valid...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil), true
}

func (v *Validator) measureFromDisparity(disparity float64, det detection.Detection) Measurement {
	f := v.FocalPx()
	depthMM := f * v.cfg.BaselineMM / disparity
	widthMM := float64(det.Rect.Dx()) * depthMM / f
	heightMM := float64(det.Rect.Dy()) * depthMM / f
	sizeMM := widthMM
	if heightMM > sizeMM {
		sizeMM = heightMM
	}
	return Measurement{
		DisparityPx: disparity,
		DepthMM:     depthMM,
		WidthMM:     widthMM,
		HeightMM:    heightMM,
		SizeMM:      sizeMM,
	}
}

// Filter drops detections whose derived physical size falls outside the
// configured range. Detections without usable depth pass through; missing
// data degrades to pixel-only filtering, it never rejects.
func (v *Validator) Filter(disp gocv.Mat, dets []detection.Detection) []Validated {
	out := make([]Validated, 0, len(dets))
	for _, d := range dets {
		m, ok := v.Measure(disp, d)
		if !ok {
			out = append(out, Validated{Detection: d})
			continue
		}
		if m.SizeMM < v.cfg.MinSizeMM || m.SizeMM > v.cfg.MaxSizeMM {
			debugMsg("DEPTH", fmt.Sprintf("dropped %v: size %.1fmm at %.0fmm outside %.0f..%.0fmm",
				d.Rect, m.SizeMM, m.DepthMM, v.cfg.MinSizeMM, v.cfg.MaxSizeMM))
			continue
		}
		out = append(out, Validated{Detection: d, Measurement: m, HasDepth: true})
	}
	return out
}
