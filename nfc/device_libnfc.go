package nfc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/clausecker/nfc/v2"
	"github.com/nedpals/davi-felica-agent/felica"
)

// Modulations polled for FeliCa cards.
var felicaModulations = []nfc.Modulation{
	{Type: nfc.Felica, BaudRate: nfc.Nbr212},
	{Type: nfc.Felica, BaudRate: nfc.Nbr424},
}

var iso14443aModulation = nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}

// felicaSelectPayload is a wildcard Polling without request data, single time slot.
var felicaSelectPayload = []byte{felica.CmdPolling, 0xFF, 0xFF, felica.RequestCodeNone, 0x00}

// libnfcDevice implements Device using an actual nfc.Device from libnfc.
type libnfcDevice struct {
	device nfc.Device
	mu     sync.Mutex

	transceiveTimeout int // milliseconds

	// faulted is set after a target failed selection and cleared once the field is empty.
	faulted bool
}

// newLibnfcDevice initializes dev as initiator with non-blocking selection.
func newLibnfcDevice(dev nfc.Device) (*libnfcDevice, error) {
	if err := dev.InitiatorInit(); err != nil {
		return nil, fmt.Errorf("initiator init: %w", err)
	}
	if err := dev.SetPropertyBool(nfc.InfiniteSelect, false); err != nil {
		return nil, fmt.Errorf("disable infinite select: %w", err)
	}
	return &libnfcDevice{
		device:            dev,
		transceiveTimeout: int(DefaultTransceiveTimeout.Milliseconds()),
	}, nil
}

func (d *libnfcDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.device.Close()
}

func (d *libnfcDevice) String() string {
	return d.device.String()
}

func (d *libnfcDevice) Connection() string {
	return d.device.Connection()
}

// WaitForTag polls the FeliCa modulations, then ISO14443A so that other cards
// are still reported, until a target answers.
func (d *libnfcDevice) WaitForTag(ctx context.Context) (Tag, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tag, err := d.poll()
		if err != nil {
			return nil, err
		}
		if tag != nil {
			return tag, nil
		}

		if err := sleepContext(ctx, DefaultPollingInterval); err != nil {
			return nil, err
		}
	}
}

func (d *libnfcDevice) poll() (Tag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.faulted {
		occupied, err := d.fieldOccupied()
		if err != nil || occupied {
			return nil, err
		}
		d.faulted = false
	}

	for _, m := range felicaModulations {
		target, err := d.selectTarget(m, felicaSelectPayload)
		if err != nil {
			d.faulted = IsTagFaultError(err)
			return nil, err
		}
		ft, ok := target.(*nfc.FelicaTarget)
		if !ok {
			continue
		}
		var idm felica.IDm
		var pmm felica.PMm
		copy(idm[:], ft.ID[:])
		copy(pmm[:], ft.Pad[:])
		tr := &libnfcTransceiver{dev: d, target: target}
		card := felica.NewCard(tr, idm, pmm, felica.WildcardSystemCode)
		tag := NewFelicaTag(card)
		tr.uid = tag.UID()
		return &libnfcFelicaTag{FelicaTag: tag, target: target, modulation: m}, nil
	}

	target, err := d.selectTarget(iso14443aModulation, nil)
	if err != nil {
		d.faulted = IsTagFaultError(err)
		return nil, err
	}
	if at, ok := target.(*nfc.ISO14443aTarget); ok {
		uid := ""
		if at.UIDLen > 0 && int(at.UIDLen) <= len(at.UID) {
			uid = strings.ToUpper(hex.EncodeToString(at.UID[:at.UIDLen]))
		}
		return &libnfcOtherTag{
			basicTag: basicTag{uid: uid, tagType: TagTypeISO14443A, info: []string{fmt.Sprintf("SAK: %02X", at.Sak)}},
			target:   target,
		}, nil
	}
	return nil, nil
}

// selectTarget lists then selects the first target for m. An empty field
// yields a nil target and nil error. Caller must hold d.mu.
func (d *libnfcDevice) selectTarget(m nfc.Modulation, initData []byte) (target nfc.Target, err error) {
	targets, err := d.device.InitiatorListPassiveTargets(m)
	if err != nil {
		if isFieldError(err) {
			return nil, nil
		}
		return nil, WrapError(ErrCodeDeviceClosed, "WaitForTag", "reader stopped responding", err)
	}
	if len(targets) == 0 {
		return nil, nil
	}

	// Selection with an empty field returns a zero target, which libnfc's
	// binding cannot type and panics on.
	defer func() {
		if r := recover(); r != nil {
			target, err = nil, nil
		}
	}()

	target, err = d.device.InitiatorSelectPassiveTarget(m, initData)
	if err != nil {
		return nil, selectError(err)
	}
	return target, nil
}

// fieldOccupied reports whether any polled modulation still lists a target.
// Caller must hold d.mu.
func (d *libnfcDevice) fieldOccupied() (bool, error) {
	for _, m := range append([]nfc.Modulation{iso14443aModulation}, felicaModulations...) {
		targets, err := d.device.InitiatorListPassiveTargets(m)
		if err != nil {
			if isFieldError(err) {
				continue
			}
			return false, WrapError(ErrCodeDeviceClosed, "WaitForTag", "reader stopped responding", err)
		}
		if len(targets) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// selectError maps a failed selection of a listed target. The target answered
// the listing, so only errors about the reader itself are device errors.
func selectError(err error) error {
	if isFieldError(err) {
		return nil
	}
	var nerr nfc.Error
	if errors.As(err, &nerr) {
		switch nerr {
		case nfc.ENOTSUCHDEV, nfc.EDEVNOTSUPP, nfc.ENOTIMPL, nfc.ESOFT:
			return WrapError(ErrCodeDeviceClosed, "WaitForTag", "reader stopped responding", err)
		}
	}
	return NewTagFaultError("WaitForTag", "", err)
}

// WaitForRelease checks target presence until the tag no longer answers.
func (d *libnfcDevice) WaitForRelease(ctx context.Context, tag Tag) error {
	var target nfc.Target
	switch t := tag.(type) {
	case *libnfcFelicaTag:
		target = t.target
	case *libnfcOtherTag:
		target = t.target
	default:
		return fmt.Errorf("WaitForRelease: tag %s does not belong to %s", tag.UID(), d.String())
	}

	for {
		d.mu.Lock()
		err := d.device.InitiatorTargetIsPresent(target)
		d.mu.Unlock()
		if err != nil {
			d.mu.Lock()
			if derr := d.device.InitiatorDeselectTarget(); derr != nil {
				log.Printf("[reader] deselect after release: %v", derr)
			}
			d.mu.Unlock()
			return nil
		}
		if err := sleepContext(ctx, DefaultPollingInterval); err != nil {
			return err
		}
	}
}

// isFieldError reports libnfc errors that mean the tag is gone rather than the reader.
func isFieldError(err error) bool {
	var nerr nfc.Error
	if errors.As(err, &nerr) {
		switch nerr {
		case nfc.ETIMEOUT, nfc.ERFTRANS, nfc.ETGRELEASED:
			return true
		}
	}
	return false
}

// libnfcTransceiver sends FeliCa frames to the selected target.
type libnfcTransceiver struct {
	dev    *libnfcDevice
	target nfc.Target
	uid    string
}

func (t *libnfcTransceiver) Transceive(frame []byte) ([]byte, error) {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()

	var rx [felicaMaxFrame]byte
	n, err := t.dev.device.InitiatorTransceiveBytes(frame, rx[:], t.dev.transceiveTimeout)
	if err != nil {
		if isFieldError(err) {
			return nil, NewTagRemovedError("Transceive", t.uid, err)
		}
		return nil, NewTransceiveError("Transceive", err)
	}
	return append([]byte(nil), rx[:n]...), nil
}

// felicaMaxFrame is the largest FeliCa frame, bounded by the one-byte length field.
const felicaMaxFrame = 255

type libnfcFelicaTag struct {
	*FelicaTag
	target     nfc.Target
	modulation nfc.Modulation
}

func (t *libnfcFelicaTag) Dump() ([]string, error) {
	lines, err := t.FelicaTag.Dump()
	rate := "212 kbps"
	if t.modulation.BaudRate == nfc.Nbr424 {
		rate = "424 kbps"
	}
	return append(lines, "Baud rate: "+rate), err
}

type libnfcOtherTag struct {
	basicTag
	target nfc.Target
}
