package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of reader error for programmatic handling.
type ErrorCode int

const (
	// Tag operation errors (100-199)
	ErrCodeNotSupported ErrorCode = iota + 100
	ErrCodeTagRemoved
	ErrCodeTransceiveFailed
	ErrCodeInvalidResponse
	ErrCodeTagFault
)

const (
	// Device errors (200-299)
	ErrCodeNoDevice ErrorCode = iota + 200
	ErrCodeOpenFailed
	ErrCodeDeviceClosed
	ErrCodeUnknownBackend
)

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "WaitForTag", "Transceive")
	TagUID  string // Optional: UID of tag involved
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.TagUID != "" {
		sb.WriteString(" (tag ")
		sb.WriteString(e.TagUID)
		sb.WriteString(")")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is comparisons by code.
var (
	ErrNotSupported = &NFCError{Code: ErrCodeNotSupported, Message: "operation not supported"}
	ErrTagRemoved   = &NFCError{Code: ErrCodeTagRemoved, Message: "tag removed during operation"}
	ErrNoDevice     = &NFCError{Code: ErrCodeNoDevice, Message: "no reader found"}
	ErrDeviceClosed = &NFCError{Code: ErrCodeDeviceClosed, Message: "device closed"}
)

// NewNotSupportedError creates an error for unsupported operations.
func NewNotSupportedError(op string) *NFCError {
	return &NFCError{
		Code:    ErrCodeNotSupported,
		Op:      op,
		Message: "operation not supported",
	}
}

// NewTagRemovedError creates an error for when a tag is removed mid-operation.
func NewTagRemovedError(op, tagUID string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeTagRemoved,
		Op:      op,
		TagUID:  tagUID,
		Message: "tag removed during operation",
		Cause:   cause,
	}
}

// NewTagFaultError creates an error for a tag that is in the field but cannot be
// selected or connected to.
func NewTagFaultError(op, tagUID string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeTagFault,
		Op:      op,
		TagUID:  tagUID,
		Message: "tag did not respond",
		Cause:   cause,
	}
}

// NewTransceiveError creates an error for transceive failures.
func NewTransceiveError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeTransceiveFailed,
		Op:      op,
		Message: "transceive failed",
		Cause:   cause,
	}
}

// NewInvalidResponseError creates an error for a reader response that cannot be parsed.
func NewInvalidResponseError(op, format string, args ...interface{}) *NFCError {
	return &NFCError{
		Code:    ErrCodeInvalidResponse,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewOpenError creates an error for a reader that could not be opened.
func NewOpenError(device string, cause error) *NFCError {
	msg := "failed to open reader"
	if device != "" {
		msg = fmt.Sprintf("failed to open reader %q", device)
	}
	return &NFCError{
		Code:    ErrCodeOpenFailed,
		Op:      "OpenDevice",
		Message: msg,
		Cause:   cause,
	}
}

// IsNotSupportedError checks if an error indicates an unsupported operation.
func IsNotSupportedError(err error) bool {
	return GetErrorCode(err) == ErrCodeNotSupported
}

// IsTagRemovedError checks if an error indicates the tag was removed.
func IsTagRemovedError(err error) bool {
	return GetErrorCode(err) == ErrCodeTagRemoved
}

// IsTagFaultError checks if an error indicates a present tag that could not be used.
func IsTagFaultError(err error) bool {
	return GetErrorCode(err) == ErrCodeTagFault
}

// IsTagError checks if an error concerns a tag rather than the reader.
func IsTagError(err error) bool {
	code := GetErrorCode(err)
	return code >= ErrCodeNotSupported && code < ErrCodeNotSupported+100
}

// IsDeviceError checks if an error concerns the reader itself rather than a tag.
func IsDeviceError(err error) bool {
	code := GetErrorCode(err)
	return code >= ErrCodeNoDevice && code < ErrCodeNoDevice+100
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns 0 if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}

// WrapError wraps an existing error with reader context.
func WrapError(code ErrorCode, op, message string, cause error) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}
