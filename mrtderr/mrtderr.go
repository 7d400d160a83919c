package mrtderr

import (
	"context"
	"errors"
	"strings"
)

// Kind identifies a failure category reported to callers of a read.
// Kinds are grouped by area: auth, integrity, read, connection and transport.
type Kind string

const (
	AuthInvalidCredentialFormat Kind = "auth.invalid_credential_format"
	AuthChipRejected            Kind = "auth.chip_rejected"
	AuthTimeout                 Kind = "auth.timeout"
	AuthCancelled               Kind = "auth.cancelled"

	IntegritySequenceMismatch Kind = "integrity.sequence_mismatch"
	IntegrityMacInvalid       Kind = "integrity.mac_invalid"

	ReadTruncated          Kind = "read.truncated"
	ReadIntegrityViolation Kind = "read.integrity_violation"
	ReadMalformedField     Kind = "read.malformed_field"
	ReadCancelled          Kind = "read.cancelled"
	ReadTimeout            Kind = "read.timeout"

	ConnectionInvalidURL   Kind = "connection.invalid_url"
	ConnectionSocketClosed Kind = "connection.socket_closed"
	ConnectionRejected     Kind = "connection.rejected"

	// TransportLost is reported when the chip leaves the field or the reader
	// fails outside of a bounded exchange.
	TransportLost Kind = "transport.lost"
)

// Area returns the prefix of the kind, e.g. "auth" for AuthTimeout.
func (k Kind) Area() string {
	area, _, _ := strings.Cut(string(k), ".")
	return area
}

// Error is the typed failure delivered through a read completion.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		if e.Err != nil {
			return string(e.Kind) + ": " + e.Err.Error()
		}
		return string(e.Kind)
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by kind so errors.Is(err, mrtderr.New(ReadTruncated, ""))
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap attaches a kind to err. An err that already carries a kind keeps it.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Kind: existing.Kind, Message: msg, Err: err}
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Force attaches kind to err, replacing any kind it already carries.
func Force(err error, kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func HasKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FromContext maps a context error to the kind matching the phase it
// interrupted. Deadlines map to the phase's timeout kind.
func FromContext(err error, reading bool) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		if reading {
			return Force(err, ReadTimeout, "read timed out")
		}
		return Force(err, AuthTimeout, "authentication timed out")
	default:
		if reading {
			return Force(err, ReadCancelled, "read cancelled")
		}
		return Force(err, AuthCancelled, "authentication cancelled")
	}
}
