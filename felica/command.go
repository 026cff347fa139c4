package felica

import (
	"encoding/binary"
	"fmt"
)

// frame prefixes cmd and payload with the FeliCa length byte.
func frame(cmd byte, payload ...[]byte) []byte {
	n := 2
	for _, p := range payload {
		n += len(p)
	}
	out := make([]byte, 0, n)
	out = append(out, byte(n), cmd)
	for _, p := range payload {
		out = append(out, p...)
	}
	return out
}

// unframe checks the length byte and response code and returns the bytes after the code.
func unframe(resp []byte, code byte) ([]byte, error) {
	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortResponse, len(resp))
	}
	n := int(resp[0])
	if n < 2 || n > len(resp) {
		return nil, fmt.Errorf("%w: length byte %d for %d bytes", ErrShortResponse, n, len(resp))
	}
	if resp[1] != code {
		return nil, fmt.Errorf("%w: got %02X, want %02X", ErrUnexpectedResponse, resp[1], code)
	}
	return resp[2:n], nil
}

// addressed strips and verifies the IDm at the start of a response body.
func addressed(body []byte, idm IDm) ([]byte, error) {
	if len(body) < IDmLength {
		return nil, fmt.Errorf("%w: missing IDm", ErrShortResponse)
	}
	var got IDm
	copy(got[:], body[:IDmLength])
	if got != idm {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrIDmMismatch, got, idm)
	}
	return body[IDmLength:], nil
}

// EncodePolling builds a Polling command for systemCode with a single time slot.
func EncodePolling(systemCode uint16, requestCode byte) []byte {
	return frame(CmdPolling, []byte{byte(systemCode >> 8), byte(systemCode), requestCode, 0x00})
}

// DecodePolling parses a Polling response.
func DecodePolling(resp []byte) (PollingResponse, error) {
	body, err := unframe(resp, RespPolling)
	if err != nil {
		return PollingResponse{}, err
	}
	if len(body) < IDmLength+PMmLength {
		return PollingResponse{}, fmt.Errorf("%w: polling response has %d bytes", ErrShortResponse, len(body))
	}
	var pr PollingResponse
	copy(pr.IDm[:], body[:IDmLength])
	copy(pr.PMm[:], body[IDmLength:IDmLength+PMmLength])
	if rest := body[IDmLength+PMmLength:]; len(rest) > 0 {
		pr.RequestData = append([]byte(nil), rest...)
	}
	return pr, nil
}

// EncodeRequestSystemCode builds a Request System Code command addressed to idm.
func EncodeRequestSystemCode(idm IDm) []byte {
	return frame(CmdRequestSystemCode, idm[:])
}

// DecodeRequestSystemCode parses the system code list of a Request System Code response.
func DecodeRequestSystemCode(idm IDm, resp []byte) ([]uint16, error) {
	body, err := unframe(resp, RespRequestSystemCode)
	if err != nil {
		return nil, err
	}
	body, err = addressed(body, idm)
	if err != nil {
		return nil, err
	}
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: missing system code count", ErrShortResponse)
	}
	count := int(body[0])
	body = body[1:]
	if len(body) < count*2 {
		return nil, fmt.Errorf("%w: %d system codes announced, %d bytes present", ErrShortResponse, count, len(body))
	}
	codes := make([]uint16, count)
	for i := range codes {
		codes[i] = binary.BigEndian.Uint16(body[i*2:])
	}
	return codes, nil
}

// EncodeReadWithoutEncryption builds a Read Without Encryption command addressed to idm.
func EncodeReadWithoutEncryption(idm IDm, services []ServiceCode, blocks []BlockCode) ([]byte, error) {
	if len(services) == 0 || len(services) > 16 {
		return nil, fmt.Errorf("felica: %d services requested, want 1..16", len(services))
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("felica: no blocks requested")
	}

	serviceList := make([]byte, 0, 1+len(services)*2)
	serviceList = append(serviceList, byte(len(services)))
	for _, sc := range services {
		if sc.Number > MaxServiceNumber {
			return nil, fmt.Errorf("felica: service number %d exceeds %d", sc.Number, MaxServiceNumber)
		}
		serviceList = binary.LittleEndian.AppendUint16(serviceList, sc.Code())
	}

	blockList := []byte{byte(len(blocks))}
	for _, bc := range blocks {
		if int(bc.Service) >= len(services) {
			return nil, fmt.Errorf("felica: block %d refers to service index %d of %d", bc.Number, bc.Service, len(services))
		}
		blockList = append(blockList, bc.encode()...)
	}

	return frame(CmdReadWithoutEncryption, idm[:], serviceList, blockList), nil
}

// DecodeReadWithoutEncryption parses a Read Without Encryption response carrying blockCount blocks.
// Non-zero status flags are returned as *StatusError.
func DecodeReadWithoutEncryption(idm IDm, resp []byte, blockCount int) ([]byte, error) {
	body, err := unframe(resp, RespReadWithoutEncryption)
	if err != nil {
		return nil, err
	}
	body, err = addressed(body, idm)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 {
		return nil, fmt.Errorf("%w: missing status flags", ErrShortResponse)
	}
	if body[0] != 0x00 || body[1] != 0x00 {
		return nil, &StatusError{Flag1: body[0], Flag2: body[1]}
	}
	body = body[2:]
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: missing block count", ErrShortResponse)
	}
	if int(body[0]) != blockCount {
		return nil, fmt.Errorf("felica: %d blocks returned, %d requested", body[0], blockCount)
	}
	data := body[1:]
	if len(data) < blockCount*BlockSize {
		return nil, fmt.Errorf("%w: %d data bytes for %d blocks", ErrShortResponse, len(data), blockCount)
	}
	return append([]byte(nil), data[:blockCount*BlockSize]...), nil
}
