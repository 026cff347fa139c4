package nfc

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ebfe/scard"
)

// pcscManager implements Manager using PC/SC via ebfe/scard
type pcscManager struct {
	ctx   *scard.Context
	ctxMu sync.Mutex
}

// newPCSCManager creates a new PC/SC manager
func newPCSCManager() *pcscManager {
	return &pcscManager{}
}

// ensureContext ensures we have a valid PC/SC context and returns it
func (m *pcscManager) ensureContext() (*scard.Context, error) {
	m.ctxMu.Lock()
	defer m.ctxMu.Unlock()

	if m.ctx != nil {
		// Check if context is still valid
		if ok, err := m.ctx.IsValid(); err == nil && ok {
			return m.ctx, nil
		}
		m.ctx.Release()
		m.ctx = nil
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish PC/SC context: %w", err)
	}
	m.ctx = ctx
	return ctx, nil
}

// OpenDevice opens the named reader, or the first contactless reader when deviceStr is empty.
func (m *pcscManager) OpenDevice(deviceStr string) (Device, error) {
	ctx, err := m.ensureContext()
	if err != nil {
		return nil, NewOpenError(deviceStr, err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, NewOpenError(deviceStr, fmt.Errorf("failed to list readers: %w", err))
	}
	readers = filterContactlessReaders(readers)

	readerName := deviceStr
	if readerName == "" {
		if len(readers) == 0 {
			return nil, NewOpenError(deviceStr, ErrNoDevice)
		}
		readerName = readers[0]
	} else if !slices.Contains(readers, readerName) {
		return nil, NewOpenError(deviceStr, ErrNoDevice)
	}

	return newPCSCDevice(m, ctx, readerName), nil
}

// ListDevices lists available PC/SC readers
func (m *pcscManager) ListDevices() ([]string, error) {
	var lastErr error

	for i := 0; i < DeviceEnumRetries; i++ {
		ctx, err := m.ensureContext()
		if err != nil {
			lastErr = err
			time.Sleep(time.Millisecond * 100)
			continue
		}

		readers, err := ctx.ListReaders()
		if err != nil {
			lastErr = err
			time.Sleep(time.Millisecond * 100)
			continue
		}

		return filterContactlessReaders(readers), nil
	}

	return nil, fmt.Errorf("failed to list PC/SC readers after %d retries: %w", DeviceEnumRetries, lastErr)
}

// Release cancels any blocking status wait and releases the PC/SC context
func (m *pcscManager) Release() error {
	m.ctxMu.Lock()
	defer m.ctxMu.Unlock()

	if m.ctx != nil {
		m.ctx.Cancel()
		err := m.ctx.Release()
		m.ctx = nil
		return err
	}
	return nil
}

