// Package felica implements the part of the FeliCa (NFC Forum Type 3) command set needed to
// read plain data from a card: Polling, Request System Code and Read Without Encryption.
//
// Frames carry the FeliCa length byte first, in both directions, which is what libnfc and the
// PC/SC transparent exchange both expect:
//
//	LEN | CMD | payload...
//
// Service codes are little endian on the wire, system codes are big endian.
package felica

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Sizes of fixed fields.
const (
	BlockSize = 16
	IDmLength = 8
	PMmLength = 8
)

// WildcardSystemCode matches every system when polling.
const WildcardSystemCode uint16 = 0xFFFF

// Command and response codes
const (
	CmdPolling                byte = 0x00
	RespPolling               byte = 0x01
	CmdReadWithoutEncryption  byte = 0x06
	RespReadWithoutEncryption byte = 0x07
	CmdRequestSystemCode      byte = 0x0C
	RespRequestSystemCode     byte = 0x0D
)

// Polling request codes
const (
	RequestCodeNone       byte = 0x00
	RequestCodeSystemCode byte = 0x01
)

// MaxServiceNumber is the largest number that fits the 10-bit service number field.
const MaxServiceNumber = 0x3FF

// IDm is the manufacture ID a card answers polling with. Commands are addressed to it.
type IDm [IDmLength]byte

func (id IDm) String() string {
	return strings.ToUpper(hex.EncodeToString(id[:]))
}

// PMm is the manufacture parameter returned with the IDm. Byte 1 is the IC type.
type PMm [PMmLength]byte

func (pm PMm) String() string {
	return strings.ToUpper(hex.EncodeToString(pm[:]))
}

// ICType returns the IC type code of the card.
func (pm PMm) ICType() byte {
	return pm[1]
}

// ServiceCode addresses one service: the number occupies the upper 10 bits and the access
// attribute the lower 6 bits.
type ServiceCode struct {
	Number    uint16
	Attribute uint8
}

// Code returns the packed 16-bit service code.
func (s ServiceCode) Code() uint16 {
	return s.Number<<6 | uint16(s.Attribute&0x3F)
}

func (s ServiceCode) String() string {
	return fmt.Sprintf("0x%04X", s.Code())
}

// BlockCode addresses one block within the service at index Service of the service list sent
// alongside it.
type BlockCode struct {
	Number  uint16
	Access  uint8
	Service uint8
}

// encode returns the block list element. Block numbers up to 255 use the 2-byte form.
func (b BlockCode) encode() []byte {
	head := (b.Access&0x07)<<4 | b.Service&0x0F
	if b.Number <= 0xFF {
		return []byte{0x80 | head, byte(b.Number)}
	}
	return []byte{head, byte(b.Number), byte(b.Number >> 8)}
}

// PollingResponse is the answer to a Polling command.
type PollingResponse struct {
	IDm         IDm
	PMm         PMm
	RequestData []byte
}
