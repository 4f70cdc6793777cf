package detection

import (
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"
)

// Mode selects how a frame is presented to the backend.
type Mode int

const (
	// ModeWhole runs one inference over the full frame.
	ModeWhole Mode = iota
	// ModeTiling covers the frame with overlapping square windows so a
	// mosquito-sized target still spans enough input pixels.
	ModeTiling
)

// Edges is a bitmask of frame edges subject to margin exclusion. A half of
// a split stereo frame omits the cut edge, which is not a true image edge.
type Edges uint8

const (
	EdgeLeft Edges = 1 << iota
	EdgeRight
	EdgeTop
	EdgeBottom

	EdgesAll = EdgeLeft | EdgeRight | EdgeTop | EdgeBottom
)

// FuserConfig controls tiling, merge and margin behavior.
type FuserConfig struct {
	Mode           Mode
	TileSize       int
	Overlap        float64 // fraction of tile size shared by neighbors
	IoUThreshold   float64
	MarginFraction float64
	Edges          Edges
}

// DefaultFuserConfig returns the tiling setup used on the rig.
func DefaultFuserConfig() FuserConfig {
	return FuserConfig{
		Mode:           ModeTiling,
		TileSize:       640,
		Overlap:        0.2,
		IoUThreshold:   0.45,
		MarginFraction: 0.05,
		Edges:          EdgesAll,
	}
}

// Fuser orchestrates per-tile inference and merges the results into one
// full-frame candidate list.
type Fuser struct {
	cfg      FuserConfig
	provider Provider
}

// NewFuser wraps a provider with the given fusion config.
func NewFuser(provider Provider, cfg FuserConfig) *Fuser {
	return &Fuser{cfg: cfg, provider: provider}
}

// Detect runs the configured mode over the frame and returns merged,
// margin-filtered detections in full-frame coordinates. A backend failure
// on a tile degrades to zero detections for that tile, never an abort.
func (f *Fuser) Detect(frame gocv.Mat) []Detection {
	w, h := frame.Cols(), frame.Rows()

	var all []Detection
	switch f.cfg.Mode {
	case ModeTiling:
		for _, win := range tileWindows(w, h, f.cfg.TileSize, f.cfg.Overlap) {
			region := frame.Region(win)
			dets, err := f.provider.Detect(region)
			region.Close()
			if err != nil {
				debugMsg("FUSION", fmt.Sprintf("tile %v inference failed: %v", win, err))
				continue
			}
			all = append(all, translate(dets, win.Min)...)
		}
	default:
		dets, err := f.provider.Detect(frame)
		if err != nil {
			debugMsg("FUSION", fmt.Sprintf("whole-frame inference failed: %v", err))
			return nil
		}
		all = dets
	}

	merged := nonMaxSuppression(all, f.cfg.IoUThreshold)
	return excludeMargins(merged, w, h, f.cfg.MarginFraction, f.cfg.Edges)
}

// tileWindows covers a w x h frame with overlapping square windows of the
// given side. Stride is side*(1-overlap); the last row and column are
// forced onto the far edge so no pixels are left uncovered.
func tileWindows(w, h, side int, overlap float64) []image.Rectangle {
	stride := int(float64(side) * (1 - overlap))
	if stride < 1 {
		stride = 1
	}
	xs := axisOffsets(w, side, stride)
	ys := axisOffsets(h, side, stride)

	wins := make([]image.Rectangle, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			wins = append(wins, image.Rect(x, y, min(x+side, w), min(y+side, h)))
		}
	}
	return wins
}

func axisOffsets(length, side, stride int) []int {
	if side >= length {
		return []int{0}
	}
	var offs []int
	for x := 0; x+side < length; x += stride {
		offs = append(offs, x)
	}
	return append(offs, length-side)
}

func translate(dets []Detection, origin image.Point) []Detection {
	for i := range dets {
		dets[i].Rect = dets[i].Rect.Add(origin)
	}
	return dets
}

// nonMaxSuppression performs the greedy global merge: walk candidates in
// descending confidence (stable, so equal confidences keep first-seen
// order) and suppress every lower-ranked box overlapping a kept one past
// the IoU threshold.
func nonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dets[order[a]].Confidence > dets[order[b]].Confidence
	})

	suppressed := make([]bool, len(dets))
	var keep []Detection
	for oi, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, dets[i])
		for _, j := range order[oi+1:] {
			if !suppressed[j] && iou(dets[i].Rect, dets[j].Rect) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}

func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}

// excludeMargins drops candidates whose center falls within the margin
// band of any declared edge.
func excludeMargins(dets []Detection, w, h int, frac float64, edges Edges) []Detection {
	if frac <= 0 || edges == 0 {
		return dets
	}
	mx := int(float64(w) * frac)
	my := int(float64(h) * frac)

	keep := dets[:0]
	for _, d := range dets {
		c := d.Center()
		switch {
		case edges&EdgeLeft != 0 && c.X < mx:
		case edges&EdgeRight != 0 && c.X > w-mx:
		case edges&EdgeTop != 0 && c.Y < my:
		case edges&EdgeBottom != 0 && c.Y > h-my:
		default:
			keep = append(keep, d)
		}
	}
	return keep
}
