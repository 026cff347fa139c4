package nfc

import "sync"

// MockTag is a test implementation of Tag for cards that are not FeliCa.
//
// For FeliCa cards wrap an emulated card instead:
//
//	tag := nfc.NewFelicaTag(felica.NewCard(emu, idm, pmm, felica.WildcardSystemCode))
//
// Example:
//
//	tag := &MockTag{
//	    TagUID:  "04A1B2C3",
//	    TagType: "ISO14443A",
//	}
type MockTag struct {
	// TagUID is the UID returned by UID()
	TagUID string

	// TagType is the type string returned by Type()
	TagType string

	// DumpLines is returned by Dump()
	DumpLines []string

	// DumpError, if set, will be returned by Dump()
	DumpError error

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	mu sync.Mutex
}

// NewMockTag creates a new MockTag with default values.
func NewMockTag(uid string) *MockTag {
	return &MockTag{
		TagUID:  uid,
		TagType: TagTypeISO14443A,
		CallLog: make([]string, 0),
	}
}

// UID returns the tag's UID.
func (m *MockTag) UID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "UID")
	return m.TagUID
}

// Type returns the tag's type string.
func (m *MockTag) Type() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Type")
	return m.TagType
}

// Dump returns DumpLines or DumpError.
func (m *MockTag) Dump() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Dump")
	if m.DumpError != nil {
		return nil, m.DumpError
	}
	return append([]string(nil), m.DumpLines...), nil
}

// GetCallLog returns a copy of the call log for verification.
func (m *MockTag) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	logCopy := make([]string, len(m.CallLog))
	copy(logCopy, m.CallLog)
	return logCopy
}
