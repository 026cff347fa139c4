package nfc

import "fmt"

// Reader backends
const (
	BackendLibNFC = "libnfc"
	BackendPCSC   = "pcsc"
)

// Manager handles reader discovery.
//
// Manager provides methods to list available readers and open connections
// to them.
//
// Example:
//
//	manager, _ := nfc.NewManager(nfc.BackendLibNFC)
//	devices, _ := manager.ListDevices()
//	device, _ := manager.OpenDevice(devices[0])
//	tag, _ := device.WaitForTag(ctx)
type Manager interface {
	OpenDevice(deviceStr string) (Device, error)
	ListDevices() ([]string, error)
}

// NewManager creates a Manager for the named backend. An empty name selects libnfc.
//
// Example:
//
//	manager, err := nfc.NewManager("pcsc")
func NewManager(backend string) (Manager, error) {
	switch backend {
	case "", BackendLibNFC:
		return &libnfcManager{}, nil
	case BackendPCSC:
		return newPCSCManager(), nil
	default:
		return nil, &NFCError{
			Code:    ErrCodeUnknownBackend,
			Op:      "NewManager",
			Message: fmt.Sprintf("unknown reader backend %q", backend),
		}
	}
}

// Backends returns the names accepted by NewManager.
func Backends() []string {
	return []string{BackendLibNFC, BackendPCSC}
}
