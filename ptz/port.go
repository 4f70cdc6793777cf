package ptz

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// SerialPorter abstracts the serial port so the link can be tested against
// a mock.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
	SetReadTimeout(d time.Duration) error
}

// openPort opens the real serial device at 8N1.
func openPort(device string, baud int) (SerialPorter, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return port, nil
}
