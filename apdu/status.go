package apdu

import (
	"errors"
	"fmt"
)

// ISO 7816-4 status words seen while reading an eMRTD.
const (
	SWSuccess              = 0x9000
	SWEndOfFile            = 0x6282 // end of file reached before Ne bytes
	SWWrongLength          = 0x6700
	SWSecurityNotSatisfied = 0x6982
	SWAuthMethodBlocked    = 0x6983
	SWConditionsNotMet     = 0x6985
	SWSMObjectsMissing     = 0x6987
	SWSMObjectsIncorrect   = 0x6988
	SWWrongData            = 0x6A80
	SWFileNotFound         = 0x6A82
	SWWrongP1P2            = 0x6A86
	SWWrongOffset          = 0x6B00
	SWInsNotSupported      = 0x6D00
	SWClaNotSupported      = 0x6E00
	SWUnknown              = 0x6F00
)

// SWError is a status word the caller did not expect.
type SWError struct {
	Ins byte
	SW  uint16
}

func (e *SWError) Error() string {
	return fmt.Sprintf("command 0x%02X failed with SW=0x%04X (%s)", e.Ins, e.SW, Describe(e.SW))
}

// Describe returns a short description of a status word.
func Describe(sw uint16) string {
	switch sw {
	case SWSuccess:
		return "success"
	case SWEndOfFile:
		return "end of file"
	case SWWrongLength:
		return "wrong length"
	case SWSecurityNotSatisfied:
		return "security status not satisfied"
	case SWAuthMethodBlocked:
		return "authentication method blocked"
	case SWConditionsNotMet:
		return "conditions of use not satisfied"
	case SWSMObjectsMissing:
		return "expected secure messaging objects missing"
	case SWSMObjectsIncorrect:
		return "secure messaging objects incorrect"
	case SWWrongData:
		return "incorrect data"
	case SWFileNotFound:
		return "file not found"
	case SWWrongP1P2:
		return "wrong P1/P2"
	case SWWrongOffset:
		return "offset outside file"
	case SWInsNotSupported:
		return "instruction not supported"
	case SWClaNotSupported:
		return "class not supported"
	default:
		return "unknown"
	}
}

// StatusOf returns the status word carried by err, if any.
func StatusOf(err error) (uint16, bool) {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW, true
	}
	return 0, false
}

func IsSecurityNotSatisfied(err error) bool {
	sw, ok := StatusOf(err)
	return ok && sw == SWSecurityNotSatisfied
}

func IsFileNotFound(err error) bool {
	sw, ok := StatusOf(err)
	return ok && sw == SWFileNotFound
}

// IsSMError reports whether the chip refused the secure messaging objects.
// Chips answer this way when the send sequence counter no longer matches.
func IsSMError(err error) bool {
	sw, ok := StatusOf(err)
	return ok && (sw == SWSMObjectsMissing || sw == SWSMObjectsIncorrect)
}
