package detection

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// FilterConfig bounds what counts as a plausible mosquito candidate.
type FilterConfig struct {
	MinSizePx int // larger bbox dimension
	MaxSizePx int
	MinAspect float64 // width / height
	MaxAspect float64

	// A confidence of exactly 1.0 is discarded. Heuristic: these show up
	// as quantization artifacts of the exported model, not as genuine
	// full-confidence hits. Root cause never confirmed.
	DropFullConfidence bool

	// Crops dominated by near-white pixels are glare off the enclosure,
	// not insects.
	WhiteThreshold float64 // gray level, 0..255
	MaxWhiteRatio  float64
}

// DefaultFilterConfig returns the ranges tuned on the rig.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinSizePx:          4,
		MaxSizePx:          120,
		MinAspect:          0.3,
		MaxAspect:          3.0,
		DropFullConfidence: true,
		WhiteThreshold:     240,
		MaxWhiteRatio:      0.7,
	}
}

// Filter applies the stateless per-candidate plausibility checks. The
// track-history checks live in the tracker, which owns the state they
// need.
type Filter struct {
	cfg FilterConfig
}

// NewFilter builds a filter from the config.
func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Apply returns the candidates that pass every geometric check. When a
// frame is supplied the white-glare check runs on each candidate's crop;
// pass nil to skip it.
func (f *Filter) Apply(frame *gocv.Mat, dets []Detection) []Detection {
	keep := dets[:0:0]
	for _, d := range dets {
		if reason := f.check(frame, d); reason != "" {
			debugMsg("FILTER", fmt.Sprintf("dropped %v conf=%.2f: %s", d.Rect, d.Confidence, reason))
			continue
		}
		keep = append(keep, d)
	}
	return keep
}

func (f *Filter) check(frame *gocv.Mat, d Detection) string {
	w, h := d.Rect.Dx(), d.Rect.Dy()
	if w <= 0 || h <= 0 {
		return "degenerate box"
	}

	larger := max(w, h)
	if larger < f.cfg.MinSizePx || larger > f.cfg.MaxSizePx {
		return fmt.Sprintf("size %dpx outside %d..%d", larger, f.cfg.MinSizePx, f.cfg.MaxSizePx)
	}

	aspect := float64(w) / float64(h)
	if aspect < f.cfg.MinAspect || aspect > f.cfg.MaxAspect {
		return fmt.Sprintf("aspect %.2f outside %.2f..%.2f", aspect, f.cfg.MinAspect, f.cfg.MaxAspect)
	}

	if f.cfg.DropFullConfidence && d.Confidence >= 1.0 {
		return "anomalous full confidence"
	}

	if frame != nil && f.cfg.MaxWhiteRatio > 0 {
		if ratio, ok := whiteRatio(*frame, d.Rect, f.cfg.WhiteThreshold); ok && ratio > f.cfg.MaxWhiteRatio {
			return fmt.Sprintf("white ratio %.2f", ratio)
		}
	}

	return ""
}

// whiteRatio measures the fraction of near-white pixels in the candidate's
// crop. ok is false when the box lies outside the frame.
func whiteRatio(frame gocv.Mat, rect image.Rectangle, threshold float64) (float64, bool) {
	bounds := rect.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if bounds.Empty() {
		return 0, false
	}

	crop := frame.Region(bounds)
	defer crop.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(crop, &gray, gocv.ColorBGRToGray)
	} else {
		crop.CopyTo(&gray)
	}

	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(gray, &bin, float32(threshold), 255, gocv.ThresholdBinary)

	white := gocv.CountNonZero(bin)
	total := bounds.Dx() * bounds.Dy()
	return float64(white) / float64(total), true
}
