// Package idcard reads the institutional FeliCa student and staff ID card.
//
// A card is recognised by declaring system code 0x8A0F. Its identifier and name live in the
// common area (system 0xFE00), service 106, blocks 0 and 1, readable without encryption:
//
//	block 0: RR IIIIIII ...   role classification, identifier
//	block 1: NNNNNNNNNNNNNNNN name, 16 characters
//
// Both blocks are Shift-JIS text.
package idcard

import (
	"errors"
	"slices"

	"github.com/nedpals/davi-felica-agent/felica"
)

// CardName is how operators know the card.
const CardName = "Tokyo University of Science student ID card"

// Protocol constants of the card family.
const (
	SystemCode           uint16 = 0x8A0F
	CommonAreaSystemCode uint16 = 0xFE00

	// AccessAttribute selects random service, read without encryption.
	AccessAttribute uint8 = 0b001011

	ServiceNumber   uint16 = 106
	IdentifierBlock uint16 = 0
	NameBlock       uint16 = 1
)

// Card is the part of a FeliCa card the reader needs. *felica.Card implements it.
type Card interface {
	RequestSystemCode() ([]uint16, error)
	Polling(systemCode uint16) (felica.PollingResponse, error)
	ReadWithoutEncryption(services []felica.ServiceCode, blocks []felica.BlockCode) ([]byte, error)
}

// RawBlock is one undecoded block.
type RawBlock [felica.BlockSize]byte

// MatchesSystemCodes reports whether codes contains the ID card system code.
func MatchesSystemCodes(codes []uint16) bool {
	return slices.Contains(codes, SystemCode)
}

// IsTargetCard asks the card for its system codes and reports whether it is an ID card.
// Cards that cannot enumerate system codes are not ID cards and return false with a nil error.
// A transport failure is returned as *CardIOError.
func IsTargetCard(card Card) (bool, error) {
	codes, err := card.RequestSystemCode()
	if errors.Is(err, felica.ErrNotSupported) {
		return false, nil
	}
	if err != nil {
		return false, &CardIOError{Op: "request system code", Err: err}
	}
	return MatchesSystemCodes(codes), nil
}

// Refresh re-polls the card for the common area so later reads are addressed to it.
// The returned IDm and PMm are not needed by the caller.
func Refresh(card Card) error {
	if _, err := card.Polling(CommonAreaSystemCode); err != nil {
		return &CardIOError{Op: "polling", Err: err}
	}
	return nil
}

// ServiceAddress returns the service code for serviceNumber with the fixed access attribute.
func ServiceAddress(serviceNumber uint16) felica.ServiceCode {
	return felica.ServiceCode{Number: serviceNumber, Attribute: AccessAttribute}
}

// ReadBlock reads a single block of service serviceNumber. Every failure, including a status
// error from the card, is returned as *CardIOError.
func ReadBlock(card Card, serviceNumber, block uint16) (RawBlock, error) {
	var raw RawBlock

	data, err := card.ReadWithoutEncryption(
		[]felica.ServiceCode{ServiceAddress(serviceNumber)},
		[]felica.BlockCode{{Number: block}},
	)
	if err != nil {
		return raw, &CardIOError{Op: "read", Service: serviceNumber, Block: block, Err: err}
	}
	if len(data) != felica.BlockSize {
		return raw, &CardIOError{Op: "read", Service: serviceNumber, Block: block, Err: felica.ErrShortResponse}
	}
	copy(raw[:], data)
	return raw, nil
}
