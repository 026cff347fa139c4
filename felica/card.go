package felica

import (
	"fmt"
	"sync"
)

// Transceiver exchanges one FeliCa frame with the card in the field.
type Transceiver interface {
	Transceive(frame []byte) ([]byte, error)
}

// Card is a FeliCa card reachable through a Transceiver. Commands are addressed to the IDm of
// the most recent successful Polling, so polling a different system code switches the system
// that later reads go to.
type Card struct {
	tr Transceiver

	mu         sync.Mutex
	idm        IDm
	pmm        PMm
	systemCode uint16
}

// NewCard wraps a card that has already answered polling with idm and pmm.
func NewCard(tr Transceiver, idm IDm, pmm PMm, systemCode uint16) *Card {
	return &Card{tr: tr, idm: idm, pmm: pmm, systemCode: systemCode}
}

// Poll sends a Polling command for systemCode and returns the card that answered.
func Poll(tr Transceiver, systemCode uint16) (*Card, error) {
	resp, err := tr.Transceive(EncodePolling(systemCode, RequestCodeNone))
	if err != nil {
		return nil, fmt.Errorf("felica: polling %04X: %w", systemCode, err)
	}
	pr, err := DecodePolling(resp)
	if err != nil {
		return nil, fmt.Errorf("felica: polling %04X: %w", systemCode, err)
	}
	return NewCard(tr, pr.IDm, pr.PMm, systemCode), nil
}

// IDm returns the current addressing IDm.
func (c *Card) IDm() IDm {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idm
}

// PMm returns the manufacture parameter of the current IDm.
func (c *Card) PMm() PMm {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pmm
}

// SystemCode returns the system code the card was last polled with.
func (c *Card) SystemCode() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemCode
}

// IsStandard reports whether the IC implements the FeliCa Standard command set.
// Lite, Lite-S and Plug ICs answer only polling and plain block access.
func (c *Card) IsStandard() bool {
	switch c.PMm().ICType() {
	case 0xF0, 0xF1, 0xF2, 0xE0, 0xE1:
		return false
	}
	return true
}

// Polling re-polls the card for systemCode. On success later commands are addressed to the IDm
// it answered with.
func (c *Card) Polling(systemCode uint16) (PollingResponse, error) {
	resp, err := c.tr.Transceive(EncodePolling(systemCode, RequestCodeNone))
	if err != nil {
		return PollingResponse{}, fmt.Errorf("felica: polling %04X: %w", systemCode, err)
	}
	pr, err := DecodePolling(resp)
	if err != nil {
		return PollingResponse{}, fmt.Errorf("felica: polling %04X: %w", systemCode, err)
	}

	c.mu.Lock()
	c.idm = pr.IDm
	c.pmm = pr.PMm
	c.systemCode = systemCode
	c.mu.Unlock()

	return pr, nil
}

// RequestSystemCode lists the system codes the card declares.
func (c *Card) RequestSystemCode() ([]uint16, error) {
	if !c.IsStandard() {
		return nil, ErrNotSupported
	}
	idm := c.IDm()
	resp, err := c.tr.Transceive(EncodeRequestSystemCode(idm))
	if err != nil {
		return nil, fmt.Errorf("felica: request system code: %w", err)
	}
	codes, err := DecodeRequestSystemCode(idm, resp)
	if err != nil {
		return nil, fmt.Errorf("felica: request system code: %w", err)
	}
	return codes, nil
}

// ReadWithoutEncryption reads the given blocks and returns their data concatenated, BlockSize
// bytes per block.
func (c *Card) ReadWithoutEncryption(services []ServiceCode, blocks []BlockCode) ([]byte, error) {
	idm := c.IDm()
	cmd, err := EncodeReadWithoutEncryption(idm, services, blocks)
	if err != nil {
		return nil, err
	}
	resp, err := c.tr.Transceive(cmd)
	if err != nil {
		return nil, fmt.Errorf("felica: read without encryption: %w", err)
	}
	data, err := DecodeReadWithoutEncryption(idm, resp, len(blocks))
	if err != nil {
		return nil, fmt.Errorf("felica: read without encryption: %w", err)
	}
	return data, nil
}

// Dump returns human readable lines describing the card.
func (c *Card) Dump() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return []string{
		"IDm: " + c.idm.String(),
		"PMm: " + c.pmm.String(),
		fmt.Sprintf("IC type: %02X", c.pmm.ICType()),
		fmt.Sprintf("System code: %04X", c.systemCode),
	}
}
