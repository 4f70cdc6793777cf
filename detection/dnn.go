package detection

import (
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

const (
	dnnInputSize     = 640
	dnnConfThreshold = 0.3
)

// DNNProvider runs YOLO inference through the OpenCV DNN module. With
// UseCUDA set it targets the CUDA backend, otherwise the default CPU path.
type DNNProvider struct {
	UseCUDA bool

	net        gocv.Net
	classNames []string
	mu         sync.Mutex
}

// Initialize loads the network and class names and selects the backend.
func (p *DNNProvider) Initialize(weightsPath, configPath, namesPath string) error {
	p.net = gocv.ReadNet(weightsPath, configPath)
	if p.net.Empty() {
		return fmt.Errorf("failed to load network from %s and %s", weightsPath, configPath)
	}

	if p.UseCUDA {
		p.net.SetPreferableBackend(gocv.NetBackendCUDA)
		p.net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		p.net.SetPreferableBackend(gocv.NetBackendDefault)
		p.net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	namesBytes, err := os.ReadFile(namesPath)
	if err != nil {
		return fmt.Errorf("could not read class names: %v", err)
	}
	p.classNames = strings.Split(strings.TrimSpace(string(namesBytes)), "\n")

	return nil
}

// Detect performs object detection on a frame. Coordinates come back in
// the frame's own pixel space; tiles are translated by the fuser.
func (p *DNNProvider) Detect(frame gocv.Mat) ([]Detection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(dnnInputSize, dnnInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	p.net.SetInput(blob, "")
	output := p.net.Forward("")
	defer output.Close()

	frameW := float32(frame.Cols())
	frameH := float32(frame.Rows())

	var dets []Detection
	for i := 0; i < output.Rows(); i++ {
		row := output.RowRange(i, i+1)
		data := row.Clone()
		scores := data.ColRange(5, data.Cols())
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(scores)
		classID := maxLoc.X
		confidence := float64(maxVal)

		if confidence > dnnConfThreshold && classID < len(p.classNames) {
			// Normalized center-size output scaled straight to frame
			// pixels; the blob is a plain resize, no letterboxing.
			cx := data.GetFloatAt(0, 0) * frameW
			cy := data.GetFloatAt(0, 1) * frameH
			w := data.GetFloatAt(0, 2) * frameW
			h := data.GetFloatAt(0, 3) * frameH
			left := int(cx - w/2)
			top := int(cy - h/2)

			dets = append(dets, Detection{
				Rect:       image.Rect(left, top, left+int(w), top+int(h)),
				Confidence: confidence,
				ClassID:    classID,
				Class:      p.classNames[classID],
			})
		}

		scores.Close()
		data.Close()
		row.Close()
	}

	return dets, nil
}

// Close releases the network.
func (p *DNNProvider) Close() error {
	return p.net.Close()
}

// Info describes the backend in use.
func (p *DNNProvider) Info() ProviderInfo {
	if p.UseCUDA {
		return ProviderInfo{Type: "GPU", Backend: "CUDA"}
	}
	return ProviderInfo{Type: "CPU", Backend: "OpenCV-CPU"}
}
