// Package samples saves crops of low-confidence detections to disk for
// later review. Writes happen on a background worker behind a bounded
// queue; when the queue is full the sample is dropped, never the frame.
package samples

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
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

// Config controls what gets sampled and where it lands.
type Config struct {
	Dir            string
	UncertainBelow float64 // save detections under this confidence
	QueueSize      int
	PadPx          int // context pixels kept around the crop
}

// DefaultConfig keeps crops of anything the model was unsure about.
func DefaultConfig() Config {
	return Config{
		UncertainBelow: 0.5,
		QueueSize:      32,
		PadPx:          16,
	}
}

type job struct {
	path string
	crop gocv.Mat
}

// Saver is the background sample writer.
type Saver struct {
	cfg     Config
	queue   chan job
	wg      sync.WaitGroup
	dropped atomic.Int64
	saved   atomic.Int64
}

// NewSaver creates the output directory and starts the write worker.
func NewSaver(cfg Config) (*Saver, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sample dir %s: %w", cfg.Dir, err)
	}
	s := &Saver{cfg: cfg, queue: make(chan job, cfg.QueueSize)}
	s.wg.Add(1)
	go s.worker()
	return s, nil
}

// MaybeSave queues a crop when the confidence is in the uncertain band.
func (s *Saver) MaybeSave(frame gocv.Mat, rect image.Rectangle, confidence float64) {
	if confidence >= s.cfg.UncertainBelow {
		return
	}
	bounds := rect.Inset(-s.cfg.PadPx).Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if bounds.Empty() {
		return
	}
	region := frame.Region(bounds)
	crop := region.Clone()
	region.Close()

	name := fmt.Sprintf("%s_%s_c%02.0f.jpg",
		time.Now().Format("20060102_150405"), uuid.NewString()[:8], confidence*100)

	select {
	case s.queue <- job{path: filepath.Join(s.cfg.Dir, name), crop: crop}:
	default:
		crop.Close()
		s.dropped.Add(1)
	}
}

func (s *Saver) worker() {
	defer s.wg.Done()
	for j := range s.queue {
		if ok := gocv.IMWrite(j.path, j.crop); !ok {
			debugMsg("SAMPLES", fmt.Sprintf("failed to write %s", j.path))
		} else {
			s.saved.Add(1)
		}
		j.crop.Close()
	}
}

// Saved reports how many samples reached disk.
func (s *Saver) Saved() int64 { return s.saved.Load() }

// Dropped reports how many samples were lost to a full queue.
func (s *Saver) Dropped() int64 { return s.dropped.Load() }

// Close drains the queue and stops the worker.
func (s *Saver) Close() {
	close(s.queue)
	s.wg.Wait()
}
