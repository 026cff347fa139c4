package nfc

import (
	"fmt"
	"time"

	"github.com/clausecker/nfc/v2"
)

// libnfcManager implements Manager using libnfc.
type libnfcManager struct{}

func (m *libnfcManager) OpenDevice(deviceStr string) (Device, error) {
	dev, err := nfc.Open(deviceStr)
	if err != nil {
		return nil, NewOpenError(deviceStr, err)
	}
	d, err := newLibnfcDevice(dev)
	if err != nil {
		dev.Close()
		return nil, NewOpenError(deviceStr, err)
	}
	return d, nil
}

func (m *libnfcManager) ListDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < DeviceEnumRetries; i++ {
		devices, err = nfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(time.Millisecond * 100)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", DeviceEnumRetries, err)
}
