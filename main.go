package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gocv.io/x/gocv"

	"github.com/majeff/mosquito-pt2d/depth"
	"github.com/majeff/mosquito-pt2d/detection"
	"github.com/majeff/mosquito-pt2d/envmon"
	"github.com/majeff/mosquito-pt2d/events"
	"github.com/majeff/mosquito-pt2d/overlay"
	"github.com/majeff/mosquito-pt2d/pkg/frames"
	"github.com/majeff/mosquito-pt2d/pkg/samples"
	"github.com/majeff/mosquito-pt2d/ptz"
	"github.com/majeff/mosquito-pt2d/tracking"
)

const perfReportInterval = 15 * time.Second

var (
	// Command-line flags
	inputStream = flag.String("input", "", "Video input: device index (0) or stream/file path (required)")
	stereoMode  = flag.Bool("stereo", false, "Treat input as a side-by-side stereo frame and enable depth validation")

	serialPort = flag.String("serial-port", "", "Serial device of the pan-tilt bridge (empty runs detection-only)\n\t\tExample: -serial-port=/dev/ttyUSB0")
	serialBaud = flag.Int("baud", 115200, "Serial baud rate")
	moveSpeed  = flag.Int("speed", 50, "Initial actuator speed (1-100)")

	weightsPath = flag.String("weights", "", "Model weights path (empty runs the scripted mock backend)")
	configPath  = flag.String("model-config", "", "Model config path")
	namesPath   = flag.String("names", "", "Class names path")

	tilingMode     = flag.Bool("tiling", true, "Cover the frame with overlapping tiles instead of one whole-frame inference")
	tileSize       = flag.Int("tile-size", 640, "Tile side length in pixels")
	tileOverlap    = flag.Float64("overlap", 0.2, "Fraction of tile side shared between neighbors (0.0-0.9)")
	iouThreshold   = flag.Float64("iou", 0.45, "IoU threshold for the global merge")
	marginFraction = flag.Float64("margin", 0.05, "Edge margin fraction for candidate exclusion")

	samplesPath = flag.String("samples-path", "", "Directory for uncertain-detection crops (empty disables)")
	eventsDB    = flag.String("events-db", "", "SQLite file for the event log (empty disables)")

	debugMode       = flag.Bool("debug", false, "Enable detailed per-frame debug output")
	exitOnFirstLock = flag.Bool("exit-on-first-lock", false, "Exit after the first successful target lock (useful for debugging)")
)

// debugMsg is the global convenience function for unified debug logging
func debugMsg(component, message string) {
	fmt.Printf("[%s][%s] %s\n", time.Now().Format("15:04:05.000"), component, message)
}

func debugMsgVerbose(component, message string) {
	if !*debugMode {
		return
	}
	debugMsg(component, message)
}

// pipeline bundles everything one capture loop needs.
type pipeline struct {
	fuser     *detection.Fuser
	filter    *detection.Filter
	tracker   *tracking.Tracker
	monitor   *envmon.Monitor
	validator *depth.Validator
	renderer  *overlay.Renderer
	slot      *frames.Slot
	saver     *samples.Saver
	store     *events.Store
	link      *ptz.Link
	actions   *ptz.Actions

	prevSnapshot envmon.Snapshot
	laserOn      bool
	detections   int64
	totalFrames  int64
}

func main() {
	flag.Parse()
	if *inputStream == "" {
		fmt.Println("Error: -input is required")
		flag.Usage()
		os.Exit(1)
	}

	detection.SetDebugFunction(debugMsg)
	tracking.SetDebugFunction(debugMsg)
	ptz.SetDebugFunction(debugMsg)
	envmon.SetDebugFunction(debugMsg)
	depth.SetDebugFunction(debugMsg)
	events.SetDebugFunction(debugMsg)
	samples.SetDebugFunction(debugMsg)

	p := &pipeline{
		monitor:  envmon.NewMonitor(envmon.DefaultConfig()),
		renderer: overlay.NewRenderer(true),
		slot:     frames.NewSlot(),
	}

	if *eventsDB != "" {
		store, err := events.Open(*eventsDB)
		if err != nil {
			debugMsg("MAIN", fmt.Sprintf("event log disabled: %v", err))
		} else {
			p.store = store
			defer store.Close()
		}
	}

	// Link connect failure degrades the whole system to detection-only
	// mode rather than killing the process.
	if *serialPort != "" {
		linkCfg := ptz.DefaultConfig()
		linkCfg.Device = *serialPort
		linkCfg.Baud = *serialBaud
		linkCfg.Speed = *moveSpeed
		link, err := ptz.Connect(linkCfg)
		if err != nil {
			debugMsg("MAIN", fmt.Sprintf("actuator link failed (%v), running detection-only", err))
			p.store.Record(events.KindLink, fmt.Sprintf("connect failed: %v", err))
		} else {
			p.link = link
			defer link.Close()
			debugMsg("MAIN", fmt.Sprintf("actuator link up on %s", *serialPort))
		}
	} else {
		debugMsg("MAIN", "no serial port configured, running detection-only")
	}
	p.actions = ptz.NewActions(p.link)

	provider, closeProvider, err := buildProvider()
	if err != nil {
		debugMsg("MAIN", fmt.Sprintf("detection backend failed: %v", err))
		os.Exit(1)
	}
	defer closeProvider()

	fuserCfg := detection.DefaultFuserConfig()
	if !*tilingMode {
		fuserCfg.Mode = detection.ModeWhole
	}
	fuserCfg.TileSize = *tileSize
	fuserCfg.Overlap = *tileOverlap
	fuserCfg.IoUThreshold = *iouThreshold
	fuserCfg.MarginFraction = *marginFraction
	if *stereoMode {
		// The right boundary of the left half is the stereo cut, not a
		// true image edge.
		fuserCfg.Edges = detection.EdgeLeft | detection.EdgeTop | detection.EdgeBottom
	}
	p.fuser = detection.NewFuser(provider, fuserCfg)
	p.filter = detection.NewFilter(detection.DefaultFilterConfig())

	if *stereoMode {
		p.validator = depth.NewValidator(depth.DefaultConfig())
		defer p.validator.Close()
	}

	if *samplesPath != "" {
		saverCfg := samples.DefaultConfig()
		saverCfg.Dir = *samplesPath
		saver, err := samples.NewSaver(saverCfg)
		if err != nil {
			debugMsg("MAIN", fmt.Sprintf("sample saving disabled: %v", err))
		} else {
			p.saver = saver
			defer saver.Close()
		}
	}

	capture, err := gocv.OpenVideoCapture(*inputStream)
	if err != nil {
		debugMsg("MAIN", fmt.Sprintf("could not open input %s: %v", *inputStream, err))
		os.Exit(1)
	}
	defer capture.Close()

	frameW := int(capture.Get(gocv.VideoCaptureFrameWidth))
	frameH := int(capture.Get(gocv.VideoCaptureFrameHeight))
	detW := frameW
	if *stereoMode {
		detW = frameW / 2
	}
	trackCfg := tracking.DefaultConfig()
	trackCfg.FrameWidth = detW
	trackCfg.FrameHeight = frameH
	p.tracker = tracking.NewTracker(trackCfg)

	debugMsg("MAIN", fmt.Sprintf("input %s %dx%d stereo=%v tiling=%v", *inputStream, frameW, frameH, *stereoMode, *tilingMode))

	stop := make(chan struct{})
	var stopOnce sync.Once
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		debugMsg("MAIN", "shutdown requested")
		stopOnce.Do(func() { close(stop) })
	}()

	runLoop(p, capture, stop, &stopOnce)

	if p.laserOn {
		p.actions.TryLaser(false)
	}
	p.actions.Drain(2 * time.Second)
	p.slot.Close()
	debugMsg("MAIN", fmt.Sprintf("done: %d frames, %d detections, %d unique targets",
		p.totalFrames, p.detections, p.tracker.UniqueTargets()))
}

// buildProvider initializes the inference backend: real DNN when model
// artifacts are given, otherwise the scripted mock for dry runs.
func buildProvider() (detection.Provider, func(), error) {
	if *weightsPath == "" {
		debugMsg("MAIN", "no model weights given, using mock backend")
		mock := &detection.MockProvider{}
		return mock, func() {}, nil
	}
	manager := detection.NewManager()
	if err := manager.Initialize(*weightsPath, *configPath, *namesPath); err != nil {
		return nil, nil, err
	}
	info := manager.Info()
	debugMsg("MAIN", fmt.Sprintf("inference backend: %s/%s (init %v)", info.Type, info.Backend, info.InitTime))
	return manager.Provider(), func() { manager.Close() }, nil
}

func runLoop(p *pipeline, capture *gocv.VideoCapture, stop chan struct{}, stopOnce *sync.Once) {
	frame := gocv.NewMat()
	defer frame.Close()

	lastReport := time.Now()
	for {
		select {
		case <-stop:
			return
		default:
		}

		if ok := capture.Read(&frame); !ok || frame.Empty() {
			debugMsgVerbose("MAIN", "empty frame from capture")
			time.Sleep(10 * time.Millisecond)
			continue
		}
		p.totalFrames++

		locked := processFrame(p, frame)
		if locked && *exitOnFirstLock {
			debugMsg("MAIN", "first lock achieved, exiting")
			stopOnce.Do(func() { close(stop) })
		}

		if time.Since(lastReport) >= perfReportInterval {
			lastReport = time.Now()
			stats := p.slot.Stats()
			debugMsg("PERF", fmt.Sprintf("frames=%d detections=%d targets=%d fps=%.1f lock=%s",
				stats.TotalFrames, stats.Detections, stats.UniqueTargets, stats.FPS, stats.LockState))
		}
	}
}

// processFrame runs the full per-frame pipeline: interlock gate, fusion,
// plausibility, depth, tracking, actuation, presentation. Returns whether
// a lock was achieved this frame.
func processFrame(p *pipeline, frame gocv.Mat) bool {
	now := time.Now()

	// Interlock readings, interval-cached inside the monitor.
	mean := frame.Mean()
	brightness := (mean.Val1 + mean.Val2 + mean.Val3) / 3
	p.monitor.SampleTemperature(now)
	p.monitor.SampleIllumination(brightness, now)

	// Read-once snapshot so mid-frame transitions cannot change policy.
	snap := p.monitor.Snapshot()
	p.recordInterlockTransitions(snap)

	if snap.Paused() {
		if p.laserOn {
			p.actions.TryLaser(false)
			p.laserOn = false
		}
		p.publish(frame, nil, tracking.Result{}, snap)
		return false
	}

	detFrame := frame
	var left, right gocv.Mat
	if *stereoMode {
		left, right = depth.SplitFrame(frame)
		defer left.Close()
		defer right.Close()
		detFrame = left
	}

	dets := p.fuser.Detect(detFrame)
	dets = p.filter.Apply(&detFrame, dets)
	p.detections += int64(len(dets))

	if p.saver != nil {
		for _, d := range dets {
			p.saver.MaybeSave(detFrame, d.Rect, d.Confidence)
		}
	}

	var validated []depth.Validated
	if p.validator != nil {
		if disp, err := p.validator.Disparity(left, right); err == nil {
			validated = p.validator.Filter(disp, dets)
			disp.Close()
		} else {
			debugMsgVerbose("DEPTH", fmt.Sprintf("disparity failed: %v", err))
			validated = passthrough(dets)
		}
	} else {
		validated = passthrough(dets)
	}

	plausible := make([]detection.Detection, len(validated))
	for i, v := range validated {
		plausible[i] = v.Detection
	}

	res := p.tracker.Update(plausible, now)
	p.handleTransitions(res)

	// Safety-critical move runs synchronously: a frame's actuation may be
	// delayed by serial I/O, never silently dropped.
	if p.link != nil && res.Move != nil {
		if err := p.link.MoveRelative(res.Move.DeltaPan, res.Move.DeltaTilt); err != nil {
			debugMsg("MAIN", fmt.Sprintf("move failed: %v", err))
			// No abort primitive exists for an in-flight command; after a
			// transport timeout the device state is settled with an
			// explicit follow-up stop.
			var te *ptz.TransportError
			if errors.As(err, &te) {
				if serr := p.link.StopMotion(); serr != nil {
					debugMsgVerbose("MAIN", fmt.Sprintf("follow-up stop failed: %v", serr))
				}
			}
		}
	}

	p.publish(detFrame, validated, res, snap)
	return res.JustLocked
}

func (p *pipeline) handleTransitions(res tracking.Result) {
	if res.JustLocked {
		p.actions.TryBeep()
		p.store.Record(events.KindLock, fmt.Sprintf("track %d", res.LockedID))
		p.store.Record(events.KindAlert, "beep dispatched")
	}
	if res.JustUnlocked {
		p.actions.TryHome()
		p.store.Record(events.KindUnlock, "no-detection timeout, homing")
	}
	if res.LaserOn != p.laserOn {
		p.actions.TryLaser(res.LaserOn)
		p.laserOn = res.LaserOn
	}
}

func (p *pipeline) recordInterlockTransitions(snap envmon.Snapshot) {
	if snap.TempState != p.prevSnapshot.TempState {
		p.store.Record(events.KindInterlock, fmt.Sprintf("temperature %s (%.1fC)", snap.TempState, snap.Temperature))
	}
	if snap.IllumState != p.prevSnapshot.IllumState {
		p.store.Record(events.KindInterlock, fmt.Sprintf("illumination %s (%.0f)", snap.IllumState, snap.Illumination))
	}
	p.prevSnapshot = snap
}

func (p *pipeline) publish(frame gocv.Mat, validated []depth.Validated, res tracking.Result, snap envmon.Snapshot) {
	display := frame.Clone()
	defer display.Close()

	status := fmt.Sprintf("%s | %s", res.LockState, snap.StatusText())
	if snap.Paused() {
		status = "PAUSED | " + snap.StatusText()
	}
	p.renderer.Draw(&display, validated, res, p.tracker.Tracks(), status)

	p.slot.Publish(display, frames.Stats{
		TotalFrames:    p.totalFrames,
		Detections:     p.detections,
		UniqueTargets:  p.tracker.UniqueTargets(),
		LockState:      res.LockState.String(),
		LockedTrackID:  res.LockedID,
		InterlockText:  snap.StatusText(),
		Paused:         snap.Paused(),
		LinkConnected:  p.link != nil,
		ActionsSkipped: p.actions.Skipped(),
	})
}

func passthrough(dets []detection.Detection) []depth.Validated {
	out := make([]depth.Validated, len(dets))
	for i, d := range dets {
		out[i] = depth.Validated{Detection: d}
	}
	return out
}
