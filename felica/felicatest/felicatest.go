// Package felicatest provides an in-memory FeliCa card that answers the commands of package
// felica, for tests that need a card without hardware.
package felicatest

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/nedpals/davi-felica-agent/felica"
)

var (
	// ErrRemoved is returned by Transceive once the card has left the field.
	ErrRemoved = errors.New("felicatest: card removed")

	// ErrNoResponse is returned when no system answers a polling request.
	ErrNoResponse = errors.New("felicatest: no response")
)

// Block is the content of one block.
type Block [felica.BlockSize]byte

// System is one system on the card with its own IDm and services.
type System struct {
	Code uint16
	IDm  felica.IDm
	// Services maps a packed service code to its blocks.
	Services map[uint16]map[uint16]Block
}

// Card is an emulated card. The first system answers wildcard polling.
type Card struct {
	Systems []System
	PMm     felica.PMm

	// RemoveAfter makes the card leave the field after that many answered frames. Zero never removes.
	RemoveAfter int

	mu       sync.Mutex
	answered int
	removed  bool
	commands []byte
}

// Remove takes the card out of the field.
func (c *Card) Remove() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = true
}

// Commands returns the command codes received so far.
func (c *Card) Commands() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.commands...)
}

// CountCommand returns how many times cmd was received.
func (c *Card) CountCommand(cmd byte) int {
	n := 0
	for _, got := range c.Commands() {
		if got == cmd {
			n++
		}
	}
	return n
}

// Transceive answers one command frame.
func (c *Card) Transceive(frame []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.removed {
		return nil, ErrRemoved
	}
	if len(frame) < 2 || int(frame[0]) != len(frame) {
		return nil, ErrNoResponse
	}
	c.commands = append(c.commands, frame[1])

	var resp []byte
	switch frame[1] {
	case felica.CmdPolling:
		resp = c.polling(frame)
	case felica.CmdRequestSystemCode:
		resp = c.requestSystemCode(frame)
	case felica.CmdReadWithoutEncryption:
		resp = c.readWithoutEncryption(frame)
	}
	if resp == nil {
		return nil, ErrNoResponse
	}

	c.answered++
	if c.RemoveAfter > 0 && c.answered >= c.RemoveAfter {
		c.removed = true
	}
	return resp, nil
}

func (c *Card) polling(frame []byte) []byte {
	if len(frame) < 6 || len(c.Systems) == 0 {
		return nil
	}
	code := binary.BigEndian.Uint16(frame[2:4])
	for _, sys := range c.Systems {
		if code == felica.WildcardSystemCode || code == sys.Code {
			return respond(felica.RespPolling, sys.IDm[:], c.PMm[:])
		}
	}
	return nil
}

func (c *Card) system(frame []byte) (*System, []byte) {
	if len(frame) < 2+felica.IDmLength {
		return nil, nil
	}
	var idm felica.IDm
	copy(idm[:], frame[2:2+felica.IDmLength])
	for i := range c.Systems {
		if c.Systems[i].IDm == idm {
			return &c.Systems[i], frame[2+felica.IDmLength:]
		}
	}
	return nil, nil
}

func (c *Card) requestSystemCode(frame []byte) []byte {
	sys, _ := c.system(frame)
	if sys == nil {
		return nil
	}
	body := []byte{byte(len(c.Systems))}
	for _, s := range c.Systems {
		body = binary.BigEndian.AppendUint16(body, s.Code)
	}
	return respond(felica.RespRequestSystemCode, sys.IDm[:], body)
}

func (c *Card) readWithoutEncryption(frame []byte) []byte {
	sys, rest := c.system(frame)
	if sys == nil || len(rest) < 1 {
		return nil
	}
	fail := func(flag2 byte) []byte {
		return respond(felica.RespReadWithoutEncryption, sys.IDm[:], []byte{0xFF, flag2})
	}

	n := int(rest[0])
	rest = rest[1:]
	if len(rest) < n*2 {
		return fail(0xA1)
	}
	services := make([]uint16, n)
	for i := range services {
		services[i] = binary.LittleEndian.Uint16(rest[i*2:])
	}
	rest = rest[n*2:]
	if len(rest) < 1 {
		return fail(0xA2)
	}
	blockCount := int(rest[0])
	rest = rest[1:]

	data := []byte{0x00, 0x00, byte(blockCount)}
	for i := 0; i < blockCount; i++ {
		if len(rest) < 2 {
			return fail(0xA2)
		}
		head := rest[0]
		var number uint16
		if head&0x80 != 0 {
			number = uint16(rest[1])
			rest = rest[2:]
		} else {
			if len(rest) < 3 {
				return fail(0xA2)
			}
			number = binary.LittleEndian.Uint16(rest[1:3])
			rest = rest[3:]
		}
		index := int(head & 0x0F)
		if index >= len(services) {
			return fail(0xA3)
		}
		blocks, ok := sys.Services[services[index]]
		if !ok {
			return fail(0xA6)
		}
		block, ok := blocks[number]
		if !ok {
			return fail(0xA8)
		}
		data = append(data, block[:]...)
	}
	return respond(felica.RespReadWithoutEncryption, sys.IDm[:], data)
}

func respond(code byte, parts ...[]byte) []byte {
	n := 2
	for _, p := range parts {
		n += len(p)
	}
	out := []byte{byte(n), code}
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// TextBlock returns a block holding s, padded with spaces.
func TextBlock(s []byte) Block {
	var b Block
	for i := range b {
		b[i] = ' '
	}
	copy(b[:], s)
	return b
}
