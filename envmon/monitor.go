package envmon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds the interlock thresholds and sampling cadence.
type Config struct {
	TempWarn       float64 // °C
	TempPause      float64
	TempResume     float64
	TempInterval   time.Duration
	TempSensorPath string

	IllumWarn     float64 // mean gray level, 0..255
	IllumPause    float64
	IllumInterval time.Duration
}

// DefaultConfig matches the thresholds the original rig shipped with.
func DefaultConfig() Config {
	return Config{
		TempWarn:       75,
		TempPause:      80,
		TempResume:     70,
		TempInterval:   60 * time.Second,
		TempSensorPath: "/sys/class/thermal/thermal_zone0/temp",
		IllumWarn:      60,
		IllumPause:     40,
		IllumInterval:  5 * time.Second,
	}
}

// Snapshot is a read-once copy of both interlocks, taken by the frame loop
// at the top of each frame so mid-frame transitions cannot change policy.
type Snapshot struct {
	Temperature  float64
	TempState    State
	Illumination float64
	IllumState   State
}

// Paused reports whether any hazard gates the detection path.
func (s Snapshot) Paused() bool {
	return s.TempState == StatePaused || s.IllumState == StatePaused
}

// StatusText renders the snapshot for the overlay status line.
func (s Snapshot) StatusText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "temp %.1fC", s.Temperature)
	if s.TempState != StateNormal {
		fmt.Fprintf(&b, " [%s]", s.TempState)
	}
	fmt.Fprintf(&b, " light %.0f", s.Illumination)
	if s.IllumState != StateNormal {
		fmt.Fprintf(&b, " [%s]", s.IllumState)
	}
	return b.String()
}

// Monitor owns the temperature and illumination interlocks. Sampling is
// interval-cached so the sysfs read does not run every frame.
type Monitor struct {
	mu  sync.Mutex
	cfg Config

	temperature  *Interlock
	illumination *Interlock

	lastTempCheck time.Time
	lastTemp      float64
	sensorWarned  bool

	lastIllumCheck time.Time
	lastIllum      float64
}

// NewMonitor builds both interlocks from the config.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		cfg:         cfg,
		temperature: NewInterlock("temperature", HighIsBad, cfg.TempWarn, cfg.TempPause, cfg.TempResume),
		// The original rig had no separate low-side resume value; resuming
		// at the warning level still leaves a 20-level hysteresis band.
		illumination: NewInterlock("illumination", LowIsBad, cfg.IllumWarn, cfg.IllumPause, cfg.IllumWarn),
	}
}

// SampleTemperature reads the thermal zone when the check interval has
// elapsed. An unreadable sensor leaves the interlock in StateNormal with a
// single logged warning rather than blocking operation.
func (m *Monitor) SampleTemperature(now time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.lastTempCheck) < m.cfg.TempInterval && !m.lastTempCheck.IsZero() {
		return m.temperature.State()
	}
	m.lastTempCheck = now

	temp, err := readThermalZone(m.cfg.TempSensorPath)
	if err != nil {
		if !m.sensorWarned {
			m.sensorWarned = true
			debugMsg("ENV", fmt.Sprintf("temperature sensor unavailable (%v), interlock stays normal", err))
		}
		return m.temperature.State()
	}
	m.lastTemp = temp
	return m.temperature.Sample(temp)
}

// SampleIllumination feeds the frame's mean gray level, interval-cached.
func (m *Monitor) SampleIllumination(mean float64, now time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.lastIllumCheck) < m.cfg.IllumInterval && !m.lastIllumCheck.IsZero() {
		return m.illumination.State()
	}
	m.lastIllumCheck = now
	m.lastIllum = mean
	return m.illumination.Sample(mean)
}

// Snapshot copies both interlock states as a value.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Temperature:  m.lastTemp,
		TempState:    m.temperature.State(),
		Illumination: m.lastIllum,
		IllumState:   m.illumination.State(),
	}
}

// readThermalZone parses a Linux thermal_zone reading, reported in
// millidegrees.
func readThermalZone(path string) (float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v / 1000.0, nil
}
