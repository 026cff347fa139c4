package nfc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// APDU status words
const (
	SW1Success  = 0x90
	SW2Success  = 0x00
	SW1MoreData = 0x61 // More data available
)

// Command classes
const (
	CLAPCSC = 0xFF // PC/SC pseudo-APDU (reader commands)
)

// PC/SC pseudo-APDU instructions
const (
	INSGetData     = 0xCA // Get UID / historical bytes
	INSTransparent = 0xC2 // Transparent exchange (PC/SC 2.02 part 3)
)

// Transparent exchange functions, carried in P2
const (
	transparentManageSession  = 0x00
	transparentTransceive     = 0x01
	transparentSwitchProtocol = 0x02
)

// Transparent exchange data object tags
const (
	doStartSession   = 0x81
	doEndSession     = 0x82
	doSwitchProtocol = 0x8F
	doTransceive     = 0x95
	doTimer          = 0x5F46
	doGenericError   = 0xC0
	doResponseData   = 0x97
)

// protocolFelica selects FeliCa in a Switch Protocol data object.
const protocolFelica = 0x03

// ErrNoCardResponse is returned when the reader reports the card did not answer a transparent exchange.
var ErrNoCardResponse = errors.New("card did not respond")

// APDUResponse represents a parsed APDU response
type APDUResponse struct {
	Data []byte
	SW1  byte
	SW2  byte
}

// IsSuccess returns true if the response indicates success (SW1=90, SW2=00)
func (r APDUResponse) IsSuccess() bool {
	return r.SW1 == SW1Success && r.SW2 == SW2Success
}

// Error returns an error if the response is not successful
func (r APDUResponse) Error() error {
	if r.IsSuccess() || r.SW1 == SW1MoreData {
		return nil
	}
	return fmt.Errorf("APDU error: SW1=%02X SW2=%02X", r.SW1, r.SW2)
}

// StatusWord returns the 2-byte status word as uint16
func (r APDUResponse) StatusWord() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

// ParseAPDUResponse parses a raw response into APDUResponse
func ParseAPDUResponse(raw []byte) (APDUResponse, error) {
	if len(raw) < 2 {
		return APDUResponse{}, errors.New("response too short")
	}
	return APDUResponse{
		Data: raw[:len(raw)-2],
		SW1:  raw[len(raw)-2],
		SW2:  raw[len(raw)-1],
	}, nil
}

// BuildAPDU constructs an APDU command
func BuildAPDU(cla, ins, p1, p2 byte, data []byte, le *byte) []byte {
	cmd := []byte{cla, ins, p1, p2}

	if len(data) > 0 {
		cmd = append(cmd, byte(len(data)))
		cmd = append(cmd, data...)
	}

	if le != nil {
		cmd = append(cmd, *le)
	}

	return cmd
}

// GetUIDAPDU returns the APDU for getting the card UID. For FeliCa cards the reader answers with the IDm.
func GetUIDAPDU() []byte {
	le := byte(0x00)
	return BuildAPDU(CLAPCSC, INSGetData, 0x00, 0x00, nil, &le)
}

// StartTransparentSessionAPDU opens a transparent session, suspending the reader's own polling.
func StartTransparentSessionAPDU() []byte {
	return BuildAPDU(CLAPCSC, INSTransparent, 0x00, transparentManageSession, []byte{doStartSession, 0x00}, nil)
}

// EndTransparentSessionAPDU closes the transparent session.
func EndTransparentSessionAPDU() []byte {
	return BuildAPDU(CLAPCSC, INSTransparent, 0x00, transparentManageSession, []byte{doEndSession, 0x00}, nil)
}

// SwitchProtocolFelicaAPDU switches the session to FeliCa framing.
func SwitchProtocolFelicaAPDU() []byte {
	return BuildAPDU(CLAPCSC, INSTransparent, 0x00, transparentSwitchProtocol,
		[]byte{doSwitchProtocol, 0x02, protocolFelica, 0x00}, nil)
}

// TransparentExchangeAPDU wraps a raw card frame in a Transceive data object with a response timer.
func TransparentExchangeAPDU(frame []byte, timeout time.Duration) []byte {
	data := make([]byte, 0, 9+len(frame))
	data = append(data, byte(doTimer>>8), byte(doTimer&0xFF), 0x04)
	data = binary.LittleEndian.AppendUint32(data, uint32(timeout.Microseconds()))
	data = append(data, doTransceive, byte(len(frame)))
	data = append(data, frame...)
	le := byte(0x00)
	return BuildAPDU(CLAPCSC, INSTransparent, 0x00, transparentTransceive, data, &le)
}

// ParseTransparentResponse returns the card frame from a Transceive response.
// The response is a list of BER-TLV data objects followed by SW1 SW2; a
// generic error object with a non-zero first byte means the exchange failed.
func ParseTransparentResponse(raw []byte) ([]byte, error) {
	resp, err := ParseAPDUResponse(raw)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	var frame []byte
	found := false
	data := resp.Data
	for len(data) > 0 {
		tag, value, rest, err := nextDataObject(data)
		if err != nil {
			return nil, err
		}
		data = rest
		switch tag {
		case doGenericError:
			if len(value) >= 1 && value[0] != 0x00 {
				if len(value) >= 3 && value[1] == 0x64 && value[2] == 0x01 {
					return nil, ErrNoCardResponse
				}
				return nil, fmt.Errorf("transparent exchange failed: status % X", value)
			}
		case doResponseData:
			frame = append([]byte(nil), value...)
			found = true
		}
	}
	if !found {
		return nil, ErrNoCardResponse
	}
	return frame, nil
}

// nextDataObject splits one BER-TLV data object off data.
func nextDataObject(data []byte) (tag int, value, rest []byte, err error) {
	if len(data) < 2 {
		return 0, nil, nil, errors.New("truncated data object")
	}
	tag = int(data[0])
	pos := 1
	if data[0]&0x1F == 0x1F {
		tag = tag<<8 | int(data[1])
		pos = 2
	}
	if pos >= len(data) {
		return 0, nil, nil, errors.New("truncated data object length")
	}

	length := int(data[pos])
	pos++
	switch {
	case length == 0x81:
		if pos >= len(data) {
			return 0, nil, nil, errors.New("truncated data object length")
		}
		length = int(data[pos])
		pos++
	case length == 0x82:
		if pos+1 >= len(data) {
			return 0, nil, nil, errors.New("truncated data object length")
		}
		length = int(binary.BigEndian.Uint16(data[pos:]))
		pos += 2
	case length > 0x80:
		return 0, nil, nil, fmt.Errorf("unsupported data object length form %02X", length)
	}

	if pos+length > len(data) {
		return 0, nil, nil, fmt.Errorf("data object %X: %d bytes announced, %d present", tag, length, len(data)-pos)
	}
	return tag, data[pos : pos+length], data[pos+length:], nil
}

// BytesToHex converts bytes to uppercase hex string
func BytesToHex(data []byte) string {
	const hexChars = "0123456789ABCDEF"
	result := make([]byte, len(data)*2)
	for i, b := range data {
		result[i*2] = hexChars[b>>4]
		result[i*2+1] = hexChars[b&0x0F]
	}
	return string(result)
}
