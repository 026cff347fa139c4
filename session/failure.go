package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nedpals/davi-felica-agent/felica"
	"github.com/nedpals/davi-felica-agent/idcard"
	"github.com/nedpals/davi-felica-agent/nfc"
)

// Kind is the closed set of failure categories.
type Kind int

const (
	KindStartup Kind = iota + 1
	KindClassificationMismatch
	KindCardIO
	KindUnknownRole
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindStartup:
		return "startup"
	case KindClassificationMismatch:
		return "classification_mismatch"
	case KindCardIO:
		return "card_io"
	case KindUnknownRole:
		return "unknown_role"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Failure is a classified error with an operator facing reason.
type Failure struct {
	Kind   Kind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Reason
	}
	return f.Reason + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind   string `json:"kind"`
		Reason string `json:"reason"`
		Error  string `json:"error,omitempty"`
	}{Kind: f.Kind.String(), Reason: f.Reason}
	if f.Err != nil {
		out.Error = f.Err.Error()
	}
	return json.Marshal(out)
}

// NewStartupError classifies a failure to bring up the reader.
func NewStartupError(err error) *Failure {
	return &Failure{Kind: KindStartup, Reason: "reader could not be opened", Err: err}
}

// mismatch is reported for every tag that is not an ID card.
func mismatch() *Failure {
	return &Failure{Kind: KindClassificationMismatch, Reason: "not the target card type"}
}

// Classify maps an error from a card cycle to its Failure. A nil error returns nil.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var roleErr *idcard.UnknownRoleError
	if errors.As(err, &roleErr) {
		return &Failure{
			Kind:   KindUnknownRole,
			Reason: fmt.Sprintf("unknown role classification %q", roleErr.Code),
			Err:    err,
		}
	}

	var ioErr *idcard.CardIOError
	if errors.As(err, &ioErr) {
		reason := "card left reader during read"
		switch {
		case felica.IsStatusError(err):
			reason = fmt.Sprintf("card rejected read of service %d block %d", ioErr.Service, ioErr.Block)
		case ioErr.Op != "read":
			reason = "card left reader during " + ioErr.Op
		}
		return &Failure{Kind: KindCardIO, Reason: reason, Err: err}
	}

	switch {
	case nfc.IsNotSupportedError(err):
		return &Failure{Kind: KindClassificationMismatch, Reason: "reader could not open a FeliCa session with the card", Err: err}
	case nfc.IsTagFaultError(err):
		return &Failure{Kind: KindCardIO, Reason: "card did not respond to the reader", Err: err}
	case nfc.IsTagError(err):
		return &Failure{Kind: KindCardIO, Reason: "card could not be read", Err: err}
	}

	if nfc.IsDeviceError(err) {
		return &Failure{Kind: KindStartup, Reason: "reader unavailable", Err: err}
	}

	return &Failure{Kind: KindInternal, Reason: "unexpected error", Err: err}
}
