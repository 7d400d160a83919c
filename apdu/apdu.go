package apdu

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/gmrtd/gmrtd/iso7816"
)

// Length limits for ISO 7816-4 short and extended encodings.
const (
	MaxShortLc    = 255
	MaxShortLe    = 256
	MaxExtendedLc = 65535
	MaxExtendedLe = 65536
)

// Instruction bytes used by eMRTD readers.
const (
	InsSelect              = 0xA4
	InsReadBinary          = 0xB0
	InsReadBinaryOdd       = 0xB1
	InsGetChallenge        = 0x84
	InsExternalAuth        = 0x82
	InsInternalAuth        = 0x88
	InsManageSecurityEnv   = 0x22
	InsGeneralAuthenticate = 0x86
)

// Class bits.
const (
	ClaISO            = 0x00
	ClaSecureMessage  = 0x0C
	ClaCommandChained = 0x10
)

// Command is a command APDU. Ne of zero means no response data is expected.
type Command struct {
	Cla  byte
	Ins  byte
	P1   byte
	P2   byte
	Data []byte
	Ne   int
}

// Header returns CLA INS P1 P2.
func (c Command) Header() []byte {
	return []byte{c.Cla, c.Ins, c.P1, c.P2}
}

// Extended reports whether the command needs extended length fields.
func (c Command) Extended() bool {
	return len(c.Data) > MaxShortLc || c.Ne > MaxShortLe
}

// Bytes encodes the command, choosing short or extended length fields.
func (c Command) Bytes() ([]byte, error) {
	nc := len(c.Data)
	if nc > MaxExtendedLc {
		return nil, fmt.Errorf("command data too long: %d bytes", nc)
	}
	if c.Ne < 0 || c.Ne > MaxExtendedLe {
		return nil, fmt.Errorf("invalid Ne: %d", c.Ne)
	}
	raw := iso7816.NewCApdu(c.Cla, c.Ins, c.P1, c.P2, c.Data, c.Ne).Encode()
	// iso7816 leaves out the 00 that opens an extended Le without data
	if c.Extended() && nc == 0 && c.Ne > 0 {
		raw = slices.Insert(raw, 4, 0x00)
	}
	return raw, nil
}

// MustBytes is Bytes for commands built from constants.
func (c Command) MustBytes() []byte {
	b, err := c.Bytes()
	if err != nil {
		panic(err)
	}
	return b
}

var ErrMalformedCommand = errors.New("malformed command APDU")

// ParseCommand decodes a command APDU in any of the four ISO 7816-3 cases.
func ParseCommand(raw []byte) (Command, error) {
	if len(raw) < 4 {
		return Command{}, ErrMalformedCommand
	}
	c := Command{Cla: raw[0], Ins: raw[1], P1: raw[2], P2: raw[3]}
	body := raw[4:]

	switch {
	case len(body) == 0:
		return c, nil
	case len(body) == 1:
		c.Ne = decodeShortLe(body[0])
		return c, nil
	case body[0] != 0x00 || len(body) == 2:
		// short case 3/4
		nc := int(body[0])
		if nc == 0 || len(body) < 1+nc {
			return Command{}, ErrMalformedCommand
		}
		c.Data = bytes.Clone(body[1 : 1+nc])
		rest := body[1+nc:]
		switch len(rest) {
		case 0:
		case 1:
			c.Ne = decodeShortLe(rest[0])
		default:
			return Command{}, ErrMalformedCommand
		}
		return c, nil
	case len(body) == 3:
		// extended case 2
		c.Ne = decodeExtendedLe(body[1], body[2])
		return c, nil
	default:
		nc := int(body[1])<<8 | int(body[2])
		if nc == 0 || len(body) < 3+nc {
			return Command{}, ErrMalformedCommand
		}
		c.Data = bytes.Clone(body[3 : 3+nc])
		rest := body[3+nc:]
		switch len(rest) {
		case 0:
		case 2:
			c.Ne = decodeExtendedLe(rest[0], rest[1])
		default:
			return Command{}, ErrMalformedCommand
		}
		return c, nil
	}
}

func decodeShortLe(b byte) int {
	if b == 0 {
		return MaxShortLe
	}
	return int(b)
}

func decodeExtendedLe(hi, lo byte) int {
	n := int(hi)<<8 | int(lo)
	if n == 0 {
		return MaxExtendedLe
	}
	return n
}

// Response is a response APDU split into data and status word.
type Response struct {
	Data []byte
	SW   uint16
}

// ParseResponse splits the trailing status word off raw.
func ParseResponse(raw []byte) (Response, error) {
	r, err := iso7816.ParseRApdu(raw)
	if err != nil {
		return Response{}, fmt.Errorf("short response: %w", err)
	}
	return Response{Data: r.Data, SW: r.Status}, nil
}

func (r Response) Bytes() []byte {
	return iso7816.NewRApdu(r.SW, r.Data).Encode()
}

func (r Response) OK() bool {
	return r.SW == SWSuccess
}

// Check returns an *SWError for any status other than 9000 and 6282.
func (r Response) Check(ins byte) error {
	if r.SW == SWSuccess || r.SW == SWEndOfFile {
		return nil
	}
	return &SWError{Ins: ins, SW: r.SW}
}
