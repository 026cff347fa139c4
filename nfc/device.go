package nfc

import (
	"context"
	"time"
)

// Polling intervals
const (
	DefaultPollingInterval   = 100 * time.Millisecond
	DefaultTransceiveTimeout = 500 * time.Millisecond
	StatusChangeTimeout      = 500 * time.Millisecond
	DeviceEnumRetries        = 3
)

// Device represents a reader holding at most one tag in its field.
//
// A Device is obtained from a Manager. WaitForTag and WaitForRelease block
// until the field changes or ctx is done, so a caller drives one tag at a
// time through its own loop.
//
// Example:
//
//	device, err := manager.OpenDevice("")
//	defer device.Close()
//	for {
//	    tag, err := device.WaitForTag(ctx)
//	    ...
//	    device.WaitForRelease(ctx, tag)
//	}
type Device interface {
	// WaitForTag blocks until a tag enters the field. FeliCa cards implement FelicaProvider.
	WaitForTag(ctx context.Context) (Tag, error)
	// WaitForRelease blocks until tag has left the field and releases it.
	WaitForRelease(ctx context.Context, tag Tag) error
	Close() error
	String() string
	Connection() string
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
