package ptz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Home position the firmware returns to on HOME.
const (
	HomePan  = 135
	HomeTilt = 90
)

// Config holds the link parameters. Zero values are filled from
// DefaultConfig by Connect.
type Config struct {
	Device         string
	Baud           int
	CommandTimeout time.Duration // per-attempt response budget
	StartupTimeout time.Duration // wait for the boot banner
	Retries        int           // attempts per command, transport errors only
	SkipBudget     int           // non-JSON noise lines tolerated per response
	Speed          int           // initial SPEED setting, 0 leaves device default
}

// DefaultConfig returns the parameters used against the stock firmware.
func DefaultConfig() Config {
	return Config{
		Baud:           115200,
		CommandTimeout: 2 * time.Second,
		StartupTimeout: 3 * time.Second,
		Retries:        3,
		SkipBudget:     20,
		Speed:          50,
	}
}

// Command is a single framed request. The wire form is
// <OPCODE:arg1,arg2>\n, args omitted when empty.
type Command struct {
	Opcode string
	Args   []string
}

func (c Command) frame() string {
	if len(c.Args) == 0 {
		return "<" + c.Opcode + ">\n"
	}
	return "<" + c.Opcode + ":" + strings.Join(c.Args, ",") + ">\n"
}

// Response is one structured reply line from the device. Data replies
// carry position and telemetry fields alongside the status.
type Response struct {
	Status      string   `json:"status"`
	Message     string   `json:"message,omitempty"`
	Pan         *int     `json:"pan,omitempty"`
	Tilt        *int     `json:"tilt,omitempty"`
	PanTemp     *float64 `json:"pan_temp,omitempty"`
	TiltTemp    *float64 `json:"tilt_temp,omitempty"`
	PanVoltage  *float64 `json:"pan_voltage,omitempty"`
	TiltVoltage *float64 `json:"tilt_voltage,omitempty"`
}

// startupBanner is the JSON line the firmware prints after reset,
// advertising the servo ids and the accepted angle range.
type startupBanner struct {
	PanID   *int `json:"pan_id"`
	TiltID  *int `json:"tilt_id"`
	PanMin  *int `json:"pan_min"`
	PanMax  *int `json:"pan_max"`
	TiltMin *int `json:"tilt_min"`
	TiltMax *int `json:"tilt_max"`
}

// Telemetry is the aggregate STATUS reply.
type Telemetry struct {
	Pan         int
	Tilt        int
	PanTemp     float64
	TiltTemp    float64
	PanVoltage  float64
	TiltVoltage float64
}

// Link is the request/response client for the pan-tilt bridge. The device
// cannot accept overlapping requests, so every exchange runs under one
// mutex; background actions use TrySend and skip when the link is busy.
type Link struct {
	mu   sync.Mutex
	port SerialPorter
	cfg  Config

	rxBuf []byte

	limits  Limits
	pan     int
	tilt    int
	havePos bool
}

// Connect opens the serial device, waits for the startup banner and
// captures the advertised angle limits. Failing to see a banner is not
// fatal; the link falls back to DefaultLimits.
func Connect(cfg Config) (*Link, error) {
	def := DefaultConfig()
	if cfg.Baud == 0 {
		cfg.Baud = def.Baud
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = def.StartupTimeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = def.Retries
	}
	if cfg.SkipBudget == 0 {
		cfg.SkipBudget = def.SkipBudget
	}
	port, err := openPort(cfg.Device, cfg.Baud)
	if err != nil {
		return nil, err
	}
	link := NewLink(port, cfg)
	link.readStartup()
	if cfg.Speed > 0 {
		if err := link.SetSpeed(cfg.Speed); err != nil {
			debugMsg("LINK", fmt.Sprintf("initial speed setting failed: %v", err))
		}
	}
	return link, nil
}

// NewLink wraps an already-open port. Used directly by tests.
func NewLink(port SerialPorter, cfg Config) *Link {
	return &Link{port: port, cfg: cfg, limits: DefaultLimits()}
}

// Close releases the serial port.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port.Close()
}

// Limits returns the angle range in effect for clamping.
func (l *Link) Limits() Limits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits
}

// readStartup consumes boot lines until the banner with the angle range
// arrives, the line budget is spent, or the startup timeout expires.
func (l *Link) readStartup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	deadline := time.Now().Add(l.cfg.StartupTimeout)
	for i := 0; i < 20; i++ {
		line, err := l.readLine(deadline)
		if err != nil {
			break
		}
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var banner startupBanner
		if json.Unmarshal([]byte(line), &banner) != nil {
			continue
		}
		if banner.PanMin == nil || banner.PanMax == nil || banner.TiltMin == nil || banner.TiltMax == nil {
			continue
		}
		l.limits = Limits{
			PanMin:  *banner.PanMin,
			PanMax:  *banner.PanMax,
			TiltMin: *banner.TiltMin,
			TiltMax: *banner.TiltMax,
		}
		debugMsg("LINK", fmt.Sprintf("device limits pan %d..%d tilt %d..%d",
			l.limits.PanMin, l.limits.PanMax, l.limits.TiltMin, l.limits.TiltMax))
		return
	}
	debugMsg("LINK", "no startup banner, using default limits")
}

// Send issues one command and waits for its structured reply.
func (l *Link) Send(cmd Command, timeout time.Duration) (*Response, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sendLocked(cmd, timeout)
}

// TrySend issues a command only if the link is idle. The second return
// value reports whether the link was acquired; fire-and-forget callers
// skip instead of queueing when it is false.
func (l *Link) TrySend(cmd Command, timeout time.Duration) (*Response, bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	defer l.mu.Unlock()
	resp, err := l.sendLocked(cmd, timeout)
	return resp, true, err
}

func (l *Link) sendLocked(cmd Command, timeout time.Duration) (*Response, error) {
	if timeout == 0 {
		timeout = l.cfg.CommandTimeout
	}
	var lastErr error
	for attempt := 1; attempt <= l.cfg.Retries; attempt++ {
		if attempt > 1 {
			l.flushInput()
			debugMsg("LINK", fmt.Sprintf("%s retry %d/%d after %v", cmd.Opcode, attempt, l.cfg.Retries, lastErr))
		}
		if _, err := l.port.Write([]byte(cmd.frame())); err != nil {
			lastErr = &TransportError{Op: "write", Err: err}
			continue
		}
		resp, err := l.readResponse(time.Now().Add(timeout))
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Status == "error" {
			// The device parsed the request and refused it. Retrying
			// would just repeat the refusal.
			return nil, &ProtocolError{Opcode: cmd.Opcode, Message: resp.Message}
		}
		if resp.Pan != nil && resp.Tilt != nil {
			l.pan, l.tilt = *resp.Pan, *resp.Tilt
			l.havePos = true
		}
		return resp, nil
	}
	return nil, lastErr
}

// readResponse returns the next JSON line, skipping interleaved log noise
// up to the skip budget so request/response correlation survives chatter.
func (l *Link) readResponse(deadline time.Time) (*Response, error) {
	skipped := 0
	for skipped <= l.cfg.SkipBudget {
		line, err := l.readLine(deadline)
		if err != nil {
			return nil, err
		}
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "{") {
			skipped++
			continue
		}
		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			skipped++
			continue
		}
		return &resp, nil
	}
	return nil, &TransportError{Op: "read", Err: errSkipBudget}
}

func (l *Link) readLine(deadline time.Time) (string, error) {
	for {
		if i := bytes.IndexByte(l.rxBuf, '\n'); i >= 0 {
			line := strings.TrimSpace(string(l.rxBuf[:i]))
			l.rxBuf = l.rxBuf[i+1:]
			return line, nil
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return "", &TransportError{Op: "read", Err: errTimeout}
		}
		l.port.SetReadTimeout(remain)
		buf := make([]byte, 256)
		n, err := l.port.Read(buf)
		if err != nil {
			return "", &TransportError{Op: "read", Err: err}
		}
		if n == 0 {
			return "", &TransportError{Op: "read", Err: errTimeout}
		}
		l.rxBuf = append(l.rxBuf, buf[:n]...)
	}
}

func (l *Link) flushInput() {
	l.rxBuf = l.rxBuf[:0]
	l.port.SetReadTimeout(time.Millisecond)
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)
		if err != nil || n == 0 {
			return
		}
	}
}

// MoveAbsolute drives both axes to the given angles, clamped to the
// device range before anything is written.
func (l *Link) MoveAbsolute(pan, tilt int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp, ct := l.limits.ClampPan(pan), l.limits.ClampTilt(tilt)
	if cp != pan || ct != tilt {
		debugMsg("LINK", fmt.Sprintf("move clamped (%d,%d) -> (%d,%d)", pan, tilt, cp, ct))
	}
	_, err := l.sendLocked(Command{Opcode: "MOVE", Args: []string{itoa(cp), itoa(ct)}}, 0)
	if err == nil {
		l.pan, l.tilt = cp, ct
		l.havePos = true
	}
	return err
}

// MoveRelative drives both axes by a delta. The current position must be
// resolvable so the clamped target stays inside the device range; without
// it the move is rejected with ErrPositionUnknown.
func (l *Link) MoveRelative(dpan, dtilt int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.havePos {
		if err := l.resolvePosition(); err != nil {
			return fmt.Errorf("%w: %v", ErrPositionUnknown, err)
		}
	}
	tp := l.limits.ClampPan(l.pan + dpan)
	tt := l.limits.ClampTilt(l.tilt + dtilt)
	cdp, cdt := tp-l.pan, tt-l.tilt
	if cdp != dpan || cdt != dtilt {
		debugMsg("LINK", fmt.Sprintf("relative move clamped (%+d,%+d) -> (%+d,%+d)", dpan, dtilt, cdp, cdt))
	}
	if cdp == 0 && cdt == 0 {
		return nil
	}
	_, err := l.sendLocked(Command{Opcode: "MOVER", Args: []string{itoa(cdp), itoa(cdt)}}, 0)
	if err == nil {
		l.pan, l.tilt = tp, tt
	}
	return err
}

func (l *Link) resolvePosition() error {
	resp, err := l.sendLocked(Command{Opcode: "POS"}, 0)
	if err != nil {
		return err
	}
	if resp.Pan == nil || resp.Tilt == nil {
		return fmt.Errorf("POS reply missing fields")
	}
	return nil
}

// Position returns the device's cached position.
func (l *Link) Position() (pan, tilt int, err error) {
	return l.queryPosition("POS")
}

// ReadPosition forces a fresh read from the servo bus.
func (l *Link) ReadPosition() (pan, tilt int, err error) {
	return l.queryPosition("READ")
}

func (l *Link) queryPosition(opcode string) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	resp, err := l.sendLocked(Command{Opcode: opcode}, 0)
	if err != nil {
		return 0, 0, err
	}
	if resp.Pan == nil || resp.Tilt == nil {
		return 0, 0, fmt.Errorf("%s reply missing position fields", opcode)
	}
	return *resp.Pan, *resp.Tilt, nil
}

// Status queries position plus per-axis temperature and voltage.
func (l *Link) Status() (*Telemetry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	resp, err := l.sendLocked(Command{Opcode: "STATUS"}, 0)
	if err != nil {
		return nil, err
	}
	if resp.Pan == nil || resp.Tilt == nil {
		return nil, fmt.Errorf("STATUS reply missing position fields")
	}
	t := &Telemetry{Pan: *resp.Pan, Tilt: *resp.Tilt}
	if resp.PanTemp != nil {
		t.PanTemp = *resp.PanTemp
	}
	if resp.TiltTemp != nil {
		t.TiltTemp = *resp.TiltTemp
	}
	if resp.PanVoltage != nil {
		t.PanVoltage = *resp.PanVoltage
	}
	if resp.TiltVoltage != nil {
		t.TiltVoltage = *resp.TiltVoltage
	}
	return t, nil
}

// Home returns both axes to the center position.
func (l *Link) Home() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.sendLocked(Command{Opcode: "HOME"}, 0)
	if err == nil {
		l.pan, l.tilt = HomePan, HomeTilt
		l.havePos = true
	}
	return err
}

// StopMotion halts any in-flight movement. The protocol has no abort for
// a pending request, so this is always a separate follow-up command.
func (l *Link) StopMotion() error {
	_, err := l.Send(Command{Opcode: "STOP"}, 0)
	return err
}

// SetSpeed sets the movement speed, clamped to the firmware's 1..100.
func (l *Link) SetSpeed(speed int) error {
	if speed < 1 {
		speed = 1
	}
	if speed > 100 {
		speed = 100
	}
	_, err := l.Send(Command{Opcode: "SPEED", Args: []string{itoa(speed)}}, 0)
	return err
}

// Beep sounds the device buzzer.
func (l *Link) Beep() error {
	_, err := l.Send(Command{Opcode: "BEEP"}, 0)
	return err
}

// LED switches the indicator LED.
func (l *Link) LED(on bool) error {
	_, err := l.Send(Command{Opcode: "LED", Args: []string{onOff(on)}}, 0)
	return err
}

// Laser switches the aiming laser.
func (l *Link) Laser(on bool) error {
	_, err := l.Send(Command{Opcode: "LASER", Args: []string{onOff(on)}}, 0)
	return err
}

// RawBus passes a raw #...! frame through to the secondary servo bus.
func (l *Link) RawBus(cmd string) (*Response, error) {
	if !strings.HasPrefix(cmd, "#") || !strings.HasSuffix(cmd, "!") {
		return nil, fmt.Errorf("raw bus command must be framed #...!")
	}
	return l.Send(Command{Opcode: "RAW", Args: []string{cmd}}, 0)
}

func itoa(v int) string { return fmt.Sprintf("%d", v) }

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
