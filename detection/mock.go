package detection

import "gocv.io/x/gocv"

// MockProvider replays scripted detections, one entry per Detect call.
// Used by tests and by the pipeline in dry-run mode.
type MockProvider struct {
	Script [][]Detection
	Err    error
	Calls  int
}

func (m *MockProvider) Initialize(weightsPath, configPath, namesPath string) error {
	return nil
}

func (m *MockProvider) Detect(frame gocv.Mat) ([]Detection, error) {
	call := m.Calls
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if call >= len(m.Script) {
		return nil, nil
	}
	return m.Script[call], nil
}

func (m *MockProvider) Close() error { return nil }

func (m *MockProvider) Info() ProviderInfo {
	return ProviderInfo{Type: "MOCK", Backend: "scripted"}
}
