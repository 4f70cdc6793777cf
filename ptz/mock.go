package ptz

import (
	"sync"
	"time"
)

// MockSerialPort is an in-memory SerialPorter for tests. Reads drain
// queued response bytes; an empty queue behaves like a read timeout.
type MockSerialPort struct {
	mu          sync.Mutex
	ReadData    []byte
	WrittenData []byte
	ReadError   error
	WriteError  error
	Closed      bool
}

// QueueLine appends a newline-terminated response line to the read queue.
func (m *MockSerialPort) QueueLine(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadData = append(m.ReadData, []byte(line+"\n")...)
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadError != nil {
		return 0, m.ReadError
	}
	if len(m.ReadData) == 0 {
		// A zero-byte read is how the real port reports a timeout.
		return 0, nil
	}
	n := copy(p, m.ReadData)
	m.ReadData = m.ReadData[n:]
	return n, nil
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	m.WrittenData = append(m.WrittenData, p...)
	return len(p), nil
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockSerialPort) SetReadTimeout(d time.Duration) error { return nil }

// Written returns everything the link has sent so far.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.WrittenData)
}
