// Package overlay draws the tracking state onto frames for the
// presentation boundary.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/majeff/mosquito-pt2d/depth"
	"github.com/majeff/mosquito-pt2d/tracking"
)

var (
	colorCandidate = color.RGBA{R: 0, G: 200, B: 255, A: 0}
	colorLocked    = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	colorStatus    = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	colorCross     = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

// Renderer annotates frames with boxes, track ids, distance text and a
// status line.
type Renderer struct {
	crosshair bool
}

// NewRenderer builds a renderer; crosshair marks the frame center the
// actuator steers toward.
func NewRenderer(crosshair bool) *Renderer {
	return &Renderer{crosshair: crosshair}
}

// Draw annotates the frame in place.
func (r *Renderer) Draw(frame *gocv.Mat, validated []depth.Validated, res tracking.Result, tracks []tracking.Track, statusText string) {
	byCenter := make(map[image.Point]int, len(tracks))
	for _, tr := range tracks {
		byCenter[tr.Center] = tr.ID
	}

	for _, v := range validated {
		col := colorCandidate
		thickness := 1
		if res.LockState == tracking.Locked && res.LockedDetection != nil &&
			v.Rect == res.LockedDetection.Rect {
			col = colorLocked
			thickness = 2
		}
		gocv.Rectangle(frame, v.Rect, col, thickness)

		label := fmt.Sprintf("%.0f%%", v.Confidence*100)
		if id, ok := byCenter[v.Center()]; ok {
			label = fmt.Sprintf("#%d %s", id, label)
		}
		if v.HasDepth {
			label += fmt.Sprintf(" %.0fcm %.1fmm", v.Measurement.DepthMM/10, v.Measurement.SizeMM)
		}
		gocv.PutText(frame, label, v.Rect.Min.Add(image.Pt(0, -4)),
			gocv.FontHersheySimplex, 0.4, col, 1)
	}

	if r.crosshair {
		cx, cy := frame.Cols()/2, frame.Rows()/2
		gocv.Line(frame, image.Pt(cx-12, cy), image.Pt(cx+12, cy), colorCross, 1)
		gocv.Line(frame, image.Pt(cx, cy-12), image.Pt(cx, cy+12), colorCross, 1)
	}

	if statusText != "" {
		gocv.PutText(frame, statusText, image.Pt(8, frame.Rows()-10),
			gocv.FontHersheySimplex, 0.5, colorStatus, 1)
	}
}
