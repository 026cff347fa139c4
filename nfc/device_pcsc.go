package nfc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/ebfe/scard"
	"github.com/nedpals/davi-felica-agent/felica"
)

// pcscDevice implements Device for one PC/SC reader via ebfe/scard. A card
// connection is made for each tag and released once the tag leaves.
type pcscDevice struct {
	mgr        *pcscManager
	ctx        *scard.Context
	readerName string
	mu         sync.Mutex

	// Last known EventState from GetStatusChange
	lastEventState scard.StateFlag
}

func newPCSCDevice(mgr *pcscManager, ctx *scard.Context, readerName string) *pcscDevice {
	return &pcscDevice{
		mgr:            mgr,
		ctx:            ctx,
		readerName:     readerName,
		lastEventState: scard.StateUnaware,
	}
}

func (d *pcscDevice) Close() error {
	return d.mgr.Release()
}

func (d *pcscDevice) String() string {
	return d.readerName
}

func (d *pcscDevice) Connection() string {
	return "pcsc:" + d.readerName
}

// waitState blocks until the reader state satisfies want or ctx is done.
func (d *pcscDevice) waitState(ctx context.Context, want func(scard.StateFlag) bool) error {
	readerStates := []scard.ReaderState{
		{Reader: d.readerName, CurrentState: d.lastEventState},
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// The timeout lets the loop observe ctx between reader events.
		err := d.ctx.GetStatusChange(readerStates, StatusChangeTimeout)
		if err != nil {
			if errors.Is(err, scard.ErrTimeout) {
				continue
			}
			if errors.Is(err, scard.ErrCancelled) {
				return ErrDeviceClosed
			}
			return WrapError(ErrCodeDeviceClosed, "GetStatusChange", "reader stopped responding", err)
		}

		eventState := readerStates[0].EventState
		// Update state for next iteration (clear StateChanged flag)
		readerStates[0].CurrentState = eventState & ^scard.StateChanged
		d.lastEventState = readerStates[0].CurrentState

		if want(eventState) {
			return nil
		}
	}
}

// WaitForTag waits for a card to be placed on the reader and connects to it.
// A card that leaves while it is being identified is skipped. A card that is
// present but unusable returns a tag error; the next call waits for the slot
// to change first.
func (d *pcscDevice) WaitForTag(ctx context.Context) (Tag, error) {
	for {
		err := d.waitState(ctx, func(s scard.StateFlag) bool {
			return s&scard.StatePresent != 0 && s&scard.StateMute == 0
		})
		if err != nil {
			return nil, err
		}

		tag, err := d.connect()
		if err == nil {
			return tag, nil
		}
		if !IsTagRemovedError(err) {
			return nil, err
		}
		log.Printf("[reader] %s: card left during detection: %v", d.readerName, err)
	}
}

func (d *pcscDevice) connect() (Tag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	card, err := d.ctx.Connect(d.readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, connectError(err)
	}

	// Validate protocol before any operations - the scard library panics on invalid protocol
	proto := card.ActiveProtocol()
	if proto != scard.ProtocolT0 && proto != scard.ProtocolT1 {
		card.Disconnect(scard.LeaveCard)
		return nil, NewTagRemovedError("Connect", "", fmt.Errorf("unsupported card protocol: %d", proto))
	}

	status, err := card.Status()
	if err != nil {
		card.Disconnect(scard.LeaveCard)
		return nil, NewTagRemovedError("Status", "", err)
	}
	atr := status.Atr

	uid, err := getUID(card)
	if err != nil {
		log.Printf("[reader] %s: could not get UID: %v", d.readerName, err)
	}

	tagType := detectTagTypeFromATR(atr)
	if tagType != DetectedFelica {
		return &pcscOtherTag{
			basicTag: basicTag{uid: uid, tagType: detectedTypeName(tagType), info: []string{"ATR: " + BytesToHex(atr)}},
			card:     card,
		}, nil
	}

	tr := &pcscTransceiver{card: card, uid: uid}
	if err := tr.begin(); err != nil {
		card.Disconnect(scard.LeaveCard)
		return nil, err
	}
	fc, err := felica.Poll(tr, felica.WildcardSystemCode)
	if err != nil {
		tr.end()
		card.Disconnect(scard.LeaveCard)
		if IsTagRemovedError(err) {
			return nil, err
		}
		return nil, NewTagRemovedError("Polling", uid, err)
	}
	tr.uid = fc.IDm().String()
	return &pcscFelicaTag{FelicaTag: NewFelicaTag(fc), tr: tr, atr: atr}, nil
}

// WaitForRelease ends the transparent session so the reader resumes its own
// polling, then waits for the reader to report an empty slot.
func (d *pcscDevice) WaitForRelease(ctx context.Context, tag Tag) error {
	var card *scard.Card
	switch t := tag.(type) {
	case *pcscFelicaTag:
		t.tr.end()
		card = t.tr.card
	case *pcscOtherTag:
		card = t.card
	default:
		return fmt.Errorf("WaitForRelease: tag %s does not belong to %s", tag.UID(), d.readerName)
	}
	defer card.Disconnect(scard.LeaveCard)

	// Only StateEmpty is the definitive indicator; StatePresent drops briefly during transitions.
	return d.waitState(ctx, func(s scard.StateFlag) bool {
		return s&scard.StateEmpty != 0
	})
}

// getUID retrieves the card UID using GET UID APDU
func getUID(card *scard.Card) (string, error) {
	resp, err := card.Transmit(GetUIDAPDU())
	if err != nil {
		return "", fmt.Errorf("GET UID failed: %w", err)
	}

	parsed, err := ParseAPDUResponse(resp)
	if err != nil {
		return "", err
	}

	if !parsed.IsSuccess() {
		return "", parsed.Error()
	}

	return BytesToHex(parsed.Data), nil
}

// pcscTransceiver exchanges FeliCa frames through a transparent session.
type pcscTransceiver struct {
	mu     sync.Mutex
	card   *scard.Card
	uid    string
	active bool
}

func (t *pcscTransceiver) transmit(op string, apdu []byte) ([]byte, error) {
	resp, err := t.card.Transmit(apdu)
	if err != nil {
		if isCardRemovedPCSCError(err) {
			return nil, NewTagRemovedError(op, t.uid, err)
		}
		return nil, NewTransceiveError(op, err)
	}
	return resp, nil
}

// begin starts the session and switches it to FeliCa.
func (t *pcscTransceiver) begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, apdu := range [][]byte{StartTransparentSessionAPDU(), SwitchProtocolFelicaAPDU()} {
		resp, err := t.transmit("StartSession", apdu)
		if err != nil {
			return err
		}
		parsed, err := ParseAPDUResponse(resp)
		if err != nil {
			return NewInvalidResponseError("StartSession", "%v", err)
		}
		if err := parsed.Error(); err != nil {
			return &NFCError{
				Code:    ErrCodeNotSupported,
				Op:      "StartSession",
				TagUID:  t.uid,
				Message: "reader rejected transparent session",
				Cause:   err,
			}
		}
	}
	t.active = true
	return nil
}

// end closes the session. Failures are logged since the card is usually gone.
func (t *pcscTransceiver) end() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return
	}
	t.active = false
	if _, err := t.card.Transmit(EndTransparentSessionAPDU()); err != nil && !isCardRemovedPCSCError(err) {
		log.Printf("[reader] end transparent session: %v", err)
	}
}

func (t *pcscTransceiver) Transceive(frame []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return nil, NewTagRemovedError("Transceive", t.uid, errors.New("session closed"))
	}

	resp, err := t.transmit("Transceive", TransparentExchangeAPDU(frame, DefaultTransceiveTimeout))
	if err != nil {
		return nil, err
	}
	out, err := ParseTransparentResponse(resp)
	if errors.Is(err, ErrNoCardResponse) {
		return nil, NewTagRemovedError("Transceive", t.uid, err)
	}
	if err != nil {
		return nil, NewTransceiveError("Transceive", err)
	}
	return out, nil
}

type pcscFelicaTag struct {
	*FelicaTag
	tr  *pcscTransceiver
	atr []byte
}

func (t *pcscFelicaTag) Dump() ([]string, error) {
	lines, err := t.FelicaTag.Dump()
	return append(lines, "ATR: "+BytesToHex(t.atr)), err
}

type pcscOtherTag struct {
	basicTag
	card *scard.Card
}

// isCardRemovedPCSCError checks if a PC/SC error indicates the card was removed.
// Uses typed error checking first (most reliable), with string matching fallback.
// connectError maps a Connect failure to a tag error when the card is at fault
// and to a device error otherwise.
func connectError(err error) error {
	switch {
	case isCardRemovedPCSCError(err):
		return NewTagRemovedError("Connect", "", err)
	case isCardFaultPCSCError(err):
		return NewTagFaultError("Connect", "", err)
	}
	return WrapError(ErrCodeDeviceClosed, "Connect", "failed to connect to card", err)
}

// isCardFaultPCSCError reports errors raised by a card that is present but unusable.
func isCardFaultPCSCError(err error) bool {
	return errors.Is(err, scard.ErrUnresponsiveCard) ||
		errors.Is(err, scard.ErrUnsupportedCard) ||
		errors.Is(err, scard.ErrSharingViolation)
}

func isCardRemovedPCSCError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, scard.ErrRemovedCard) ||
		errors.Is(err, scard.ErrResetCard) || // Often means removed on macOS
		errors.Is(err, scard.ErrNoSmartcard) ||
		errors.Is(err, scard.ErrUnpoweredCard) {
		return true
	}

	// Fallback to string matching for non-standard error messages
	errLower := strings.ToLower(err.Error())
	return strings.Contains(errLower, "removed") ||
		strings.Contains(errLower, "no smart card") ||
		strings.Contains(errLower, "not transacted")
}

// filterContactlessReaders drops SAM slots from the reader list.
func filterContactlessReaders(readers []string) []string {
	var filtered []string
	for _, r := range readers {
		if strings.Contains(strings.ToUpper(r), "SAM") {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}
