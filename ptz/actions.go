package ptz

import (
	"fmt"
	"sync"
	"time"
)

// Actions dispatches fire-and-forget device commands from the frame loop.
// Each action runs on its own goroutine and skips when the link is busy; a
// stale beep or homing request has no value, so nothing is ever queued.
type Actions struct {
	link    *Link
	timeout time.Duration
	wg      sync.WaitGroup

	mu      sync.Mutex
	skipped int
}

// NewActions wraps a link for background dispatch.
func NewActions(link *Link) *Actions {
	return &Actions{link: link, timeout: 2 * time.Second}
}

// TryBeep sounds the lock alert.
func (a *Actions) TryBeep() { a.dispatch(Command{Opcode: "BEEP"}) }

// TryHome returns the head to center after a lost lock.
func (a *Actions) TryHome() {
	a.dispatchFunc("HOME", func() (bool, error) {
		resp, ok, err := a.link.TrySend(Command{Opcode: "HOME"}, a.timeout)
		if ok && err == nil && resp != nil {
			a.link.mu.Lock()
			a.link.pan, a.link.tilt = HomePan, HomeTilt
			a.link.havePos = true
			a.link.mu.Unlock()
		}
		return ok, err
	})
}

// TryLED switches the indicator LED.
func (a *Actions) TryLED(on bool) {
	a.dispatch(Command{Opcode: "LED", Args: []string{onOff(on)}})
}

// TryLaser switches the aiming laser.
func (a *Actions) TryLaser(on bool) {
	a.dispatch(Command{Opcode: "LASER", Args: []string{onOff(on)}})
}

func (a *Actions) dispatch(cmd Command) {
	a.dispatchFunc(cmd.Opcode, func() (bool, error) {
		_, ok, err := a.link.TrySend(cmd, a.timeout)
		return ok, err
	})
}

func (a *Actions) dispatchFunc(name string, fn func() (bool, error)) {
	if a.link == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ok, err := fn()
		if !ok {
			a.mu.Lock()
			a.skipped++
			a.mu.Unlock()
			debugMsg("ACTION", fmt.Sprintf("%s skipped, link busy", name))
			return
		}
		if err != nil {
			debugMsg("ACTION", fmt.Sprintf("%s failed: %v", name, err))
		}
	}()
}

// Skipped reports how many actions were dropped because the link was busy.
func (a *Actions) Skipped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.skipped
}

// Drain waits for in-flight actions to finish, giving up after the
// deadline so shutdown never hangs on a wedged serial port.
func (a *Actions) Drain(deadline time.Duration) {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
		debugMsg("ACTION", "drain deadline hit, abandoning background actions")
	}
}
