package detection

import (
	"fmt"
	"image"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gocv.io/x/gocv"
)

// Global debug function for detection package
var debugMsgFunc func(component, message string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// Detection is a single candidate observed in one frame, in full-frame
// pixel coordinates.
type Detection struct {
	Rect       image.Rectangle
	Confidence float64
	ClassID    int
	Class      string
}

// Center returns the bounding box center point.
func (d Detection) Center() image.Point {
	return image.Pt((d.Rect.Min.X+d.Rect.Max.X)/2, (d.Rect.Min.Y+d.Rect.Max.Y)/2)
}

// Provider is the inference backend boundary. The pipeline is polymorphic
// over this interface and assumes nothing about the runtime behind it.
type Provider interface {
	Initialize(weightsPath, configPath, namesPath string) error
	Detect(frame gocv.Mat) ([]Detection, error)
	Close() error
	Info() ProviderInfo
}

// ProviderInfo describes the active inference backend.
type ProviderInfo struct {
	Type     string // "GPU" or "CPU"
	Backend  string // "CUDA" or "OpenCV-CPU"
	InitTime time.Duration
}

// Manager selects the best available provider once at startup. GPU is
// probed first with a test inference; anything short of a working CUDA
// path falls back to the CPU backend.
type Manager struct {
	provider Provider
	info     ProviderInfo
}

// NewManager returns an empty manager; Initialize picks the provider.
func NewManager() *Manager {
	return &Manager{}
}

// Initialize probes backends and initializes the first one that works.
func (m *Manager) Initialize(weightsPath, configPath, namesPath string) error {
	if hasGPUCapability() {
		gpu := &DNNProvider{UseCUDA: true}
		start := time.Now()
		if err := gpu.Initialize(weightsPath, configPath, namesPath); err == nil {
			if testProvider(gpu) {
				m.provider = gpu
				m.info = gpu.Info()
				m.info.InitTime = time.Since(start)
				debugMsg("PROVIDER", fmt.Sprintf("GPU provider initialized (%v)", m.info.InitTime))
				return nil
			}
			debugMsg("PROVIDER", "GPU test inference failed, falling back to CPU")
			gpu.Close()
		} else {
			debugMsg("PROVIDER", fmt.Sprintf("GPU initialization failed: %v, falling back to CPU", err))
		}
	}

	cpu := &DNNProvider{}
	start := time.Now()
	if err := cpu.Initialize(weightsPath, configPath, namesPath); err != nil {
		return fmt.Errorf("both GPU and CPU providers failed: %v", err)
	}
	m.provider = cpu
	m.info = cpu.Info()
	m.info.InitTime = time.Since(start)
	debugMsg("PROVIDER", fmt.Sprintf("CPU provider initialized (%v)", m.info.InitTime))
	return nil
}

// Provider returns the active provider.
func (m *Manager) Provider() Provider { return m.provider }

// Info returns information about the active provider.
func (m *Manager) Info() ProviderInfo { return m.info }

// Close closes the active provider.
func (m *Manager) Close() error {
	if m.provider != nil {
		return m.provider.Close()
	}
	return nil
}

// hasGPUCapability checks for NVIDIA hardware and drivers. CUDA itself is
// verified by the test inference during initialization.
func hasGPUCapability() bool {
	if !hasNVIDIAGPU() {
		return false
	}
	return hasNVIDIADriver()
}

func hasNVIDIAGPU() bool {
	cmd := exec.Command("lspci")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(output)), "nvidia")
}

func hasNVIDIADriver() bool {
	cmd := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	if err := cmd.Run(); err != nil {
		return false
	}
	matches, _ := filepath.Glob("/dev/nvidia*")
	return len(matches) > 0
}

// testProvider runs one inference on a blank frame to verify the backend
// really works.
func testProvider(provider Provider) bool {
	testFrame := gocv.NewMatWithSize(640, 640, gocv.MatTypeCV8UC3)
	defer testFrame.Close()
	_, err := provider.Detect(testFrame)
	return err == nil
}
