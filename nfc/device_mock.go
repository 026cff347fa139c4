package nfc

import (
	"context"
	"fmt"
	"sync"
)

// MockDevice is a test implementation of Device that simulates a reader.
//
// MockDevice hands out Tags one per WaitForTag call, in order. Once the
// queue is empty WaitForTag returns WaitError if set, and otherwise blocks
// until its context is done.
//
// Example:
//
//	mock := NewMockDevice()
//	mock.Tags = []Tag{NewMockTag("04A1B2C3")}
//	tag, _ := mock.WaitForTag(ctx)
type MockDevice struct {
	// DeviceName is the simulated device name returned by String()
	DeviceName string

	// DeviceConnection is the simulated connection string returned by Connection()
	DeviceConnection string

	// IsOpen tracks whether the device is currently open
	IsOpen bool

	// CloseError, if set, will be returned by Close()
	CloseError error

	// Tags are returned by successive WaitForTag calls
	Tags []Tag

	// DetectErrors are returned by WaitForTag, in order, before any of Tags
	DetectErrors []error

	// WaitError, if set, is returned by WaitForTag once Tags is exhausted
	WaitError error

	// ReleaseError, if set, will be returned by WaitForRelease()
	ReleaseError error

	// OnExhausted, if set, is called once when WaitForTag runs out of tags
	OnExhausted func()

	// Released holds the UIDs passed to WaitForRelease
	Released []string

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	mu        sync.Mutex
	next      int
	exhausted bool
}

// NewMockDevice creates a new MockDevice with default values.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		DeviceName:       "Mock FeliCa Reader",
		DeviceConnection: "mock:usb:001",
		IsOpen:           true,
		CallLog:          make([]string, 0),
	}
}

// Close simulates closing the device.
func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Close")

	if !m.IsOpen {
		return fmt.Errorf("device already closed")
	}

	m.IsOpen = false
	return m.CloseError
}

// String returns the simulated device name.
func (m *MockDevice) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "String")
	return m.DeviceName
}

// Connection returns the simulated connection string.
func (m *MockDevice) Connection() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Connection")
	return m.DeviceConnection
}

// WaitForTag returns the next queued tag.
func (m *MockDevice) WaitForTag(ctx context.Context) (Tag, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, "WaitForTag")

	if !m.IsOpen {
		m.mu.Unlock()
		return nil, ErrDeviceClosed
	}
	if len(m.DetectErrors) > 0 {
		err := m.DetectErrors[0]
		m.DetectErrors = m.DetectErrors[1:]
		m.mu.Unlock()
		return nil, err
	}
	if m.next < len(m.Tags) {
		tag := m.Tags[m.next]
		m.next++
		m.mu.Unlock()
		return tag, nil
	}

	waitErr := m.WaitError
	var hook func()
	if !m.exhausted {
		m.exhausted = true
		hook = m.OnExhausted
	}
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if waitErr != nil {
		return nil, waitErr
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// WaitForRelease records the release of tag.
func (m *MockDevice) WaitForRelease(ctx context.Context, tag Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "WaitForRelease")
	if m.ReleaseError != nil {
		return m.ReleaseError
	}
	m.Released = append(m.Released, tag.UID())
	return ctx.Err()
}

// GetCallLog returns a copy of the call log for verification.
func (m *MockDevice) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	logCopy := make([]string, len(m.CallLog))
	copy(logCopy, m.CallLog)
	return logCopy
}

// GetReleased returns a copy of the released UIDs.
func (m *MockDevice) GetReleased() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.Released...)
}

// MockManager is a test implementation of Manager.
//
// Example:
//
//	manager := NewMockManager()
//	manager.MockDevice.Tags = []Tag{NewMockTag("04A1B2C3")}
//	device, _ := manager.OpenDevice("")
type MockManager struct {
	// DevicesList is the list of device strings returned by ListDevices()
	DevicesList []string

	// ListDevicesError, if set, will be returned by ListDevices()
	ListDevicesError error

	// MockDevice is the device returned by OpenDevice()
	// If nil, a new MockDevice will be created
	MockDevice *MockDevice

	// OpenDeviceError, if set, will be returned by OpenDevice()
	OpenDeviceError error

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	mu sync.Mutex
}

// NewMockManager creates a new MockManager with default values.
func NewMockManager() *MockManager {
	return &MockManager{
		DevicesList: []string{"mock:usb:001"},
		MockDevice:  NewMockDevice(),
		CallLog:     make([]string, 0),
	}
}

// OpenDevice simulates opening a reader.
func (m *MockManager) OpenDevice(deviceStr string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("OpenDevice(%s)", deviceStr))

	if m.OpenDeviceError != nil {
		return nil, m.OpenDeviceError
	}

	if m.MockDevice == nil {
		m.MockDevice = NewMockDevice()
	}

	if deviceStr != "" {
		m.MockDevice.DeviceConnection = deviceStr
	}
	return m.MockDevice, nil
}

// ListDevices simulates listing available readers.
func (m *MockManager) ListDevices() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "ListDevices")

	if m.ListDevicesError != nil {
		return nil, m.ListDevicesError
	}

	// Return a copy to prevent external modification
	devicesCopy := make([]string, len(m.DevicesList))
	copy(devicesCopy, m.DevicesList)
	return devicesCopy, nil
}
