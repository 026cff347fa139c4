package felica

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported is returned for commands the card's IC type does not implement.
	ErrNotSupported = errors.New("felica: command not supported by this card")

	// ErrShortResponse is returned when a response is shorter than its fixed fields.
	ErrShortResponse = errors.New("felica: response too short")

	// ErrUnexpectedResponse is returned when the response code does not answer the command sent.
	ErrUnexpectedResponse = errors.New("felica: unexpected response code")

	// ErrIDmMismatch is returned when a response comes from a different card than addressed.
	ErrIDmMismatch = errors.New("felica: response from a different IDm")
)

// StatusError reports non-zero status flags of a Read Without Encryption response.
type StatusError struct {
	Flag1 byte
	Flag2 byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("felica: status flags %02X %02X", e.Flag1, e.Flag2)
}

// IsStatusError reports whether err carries card status flags.
func IsStatusError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr)
}
