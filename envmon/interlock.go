package envmon

import "fmt"

// State is the tri-state output of one interlock.
type State int

const (
	StateNormal State = iota
	StateWarning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateWarning:
		return "warning"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Direction says which side of the thresholds is hazardous.
type Direction int

const (
	HighIsBad Direction = iota // temperature
	LowIsBad                   // illumination
)

// Interlock is a three-state hysteresis machine over one scalar reading.
// Pause and resume use distinct thresholds so a reading hovering at the
// pause level cannot chatter the gate open and closed.
type Interlock struct {
	name   string
	dir    Direction
	warn   float64
	pause  float64
	resume float64

	state  State
	warned bool
}

// NewInterlock builds a machine starting in StateNormal. For HighIsBad the
// thresholds satisfy resume <= warn <= pause, mirrored for LowIsBad.
func NewInterlock(name string, dir Direction, warn, pause, resume float64) *Interlock {
	return &Interlock{name: name, dir: dir, warn: warn, pause: pause, resume: resume}
}

func (i *Interlock) past(reading, threshold float64) bool {
	if i.dir == HighIsBad {
		return reading >= threshold
	}
	return reading <= threshold
}

func (i *Interlock) recovered(reading, threshold float64) bool {
	if i.dir == HighIsBad {
		return reading <= threshold
	}
	return reading >= threshold
}

// Sample feeds one reading through the machine and returns the new state.
func (i *Interlock) Sample(reading float64) State {
	switch {
	case i.state != StatePaused && i.past(reading, i.pause):
		i.state = StatePaused
		debugMsg("ENV", fmt.Sprintf("%s %.1f past pause threshold %.1f, detection paused", i.name, reading, i.pause))

	case i.state == StatePaused && i.recovered(reading, i.resume):
		i.state = StateNormal
		i.warned = false
		debugMsg("ENV", fmt.Sprintf("%s %.1f recovered past %.1f, detection resumed", i.name, reading, i.resume))

	case i.state != StatePaused && i.past(reading, i.warn):
		i.state = StateWarning
		if !i.warned {
			i.warned = true
			debugMsg("ENV", fmt.Sprintf("%s %.1f past warning threshold %.1f", i.name, reading, i.warn))
		}

	case i.state == StateWarning && !i.past(reading, i.warn):
		i.state = StateNormal
		i.warned = false
	}
	return i.state
}

// State returns the current state without feeding a reading.
func (i *Interlock) State() State { return i.state }
