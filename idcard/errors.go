package idcard

import (
	"errors"
	"fmt"
)

// CardIOError reports a failed exchange with the card, usually because it left the field.
type CardIOError struct {
	Op      string
	Service uint16
	Block   uint16
	Err     error
}

func (e *CardIOError) Error() string {
	if e.Op == "read" {
		return fmt.Sprintf("idcard: read service %d block %d: %v", e.Service, e.Block, e.Err)
	}
	return fmt.Sprintf("idcard: %s: %v", e.Op, e.Err)
}

func (e *CardIOError) Unwrap() error {
	return e.Err
}

// UnknownRoleError reports a role classification code outside the recognised set.
type UnknownRoleError struct {
	Code string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("idcard: unknown role classification %q", e.Code)
}

// IsCardIOError checks if err is or wraps a *CardIOError.
func IsCardIOError(err error) bool {
	var ioErr *CardIOError
	return errors.As(err, &ioErr)
}

// IsUnknownRoleError checks if err is or wraps an *UnknownRoleError.
func IsUnknownRoleError(err error) bool {
	var roleErr *UnknownRoleError
	return errors.As(err, &roleErr)
}
