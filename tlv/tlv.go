// Package tlv gives shallow access to the BER-TLV objects of ICAO 9303 data
// groups and secure messaging. Tags and lengths are coded by gmrtd's tlv
// package; values are sliced from the source without decoding children.
package tlv

import (
	"bytes"
	"errors"
	"fmt"

	gmrtdtlv "github.com/gmrtd/gmrtd/tlv"
)

var (
	ErrTruncated = errors.New("tlv: truncated")
	ErrLength    = errors.New("tlv: unsupported length encoding")
)

// Tag holds the tag bytes concatenated, e.g. 0x5F1F or 0x7F61.
type Tag uint32

func (t Tag) String() string { return fmt.Sprintf("0x%X", uint32(t)) }

// Constructed reports whether the first tag byte has the constructed bit set.
func (t Tag) Constructed() bool {
	return gmrtdtlv.TlvTag(t).IsConstructed()
}

func (t Tag) Bytes() []byte {
	return gmrtdtlv.TlvTag(t).Encode()
}

type Node struct {
	Tag   Tag
	Value []byte
	// Len is the number of bytes the node occupied in the source, header included.
	Len int
}

// Children decodes the value of a constructed node.
func (n Node) Children() ([]Node, error) {
	return Decode(n.Value)
}

// Child returns the first direct child with the given tag.
func (n Node) Child(tag Tag) (Node, bool) {
	children, err := n.Children()
	if err != nil {
		return Node{}, false
	}
	return Find(children, tag)
}

// ReadTag reads a tag from the start of b and returns it with its size.
func ReadTag(b []byte) (Tag, int, error) {
	buf := bytes.NewBuffer(b)
	tag, err := gmrtdtlv.ParseTag(buf)
	if err != nil {
		if buf.Len() == 0 {
			return 0, 0, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		return 0, 0, err
	}
	return Tag(tag), len(b) - buf.Len(), nil
}

// ReadLength reads a definite length field and returns it with its size.
func ReadLength(b []byte) (int, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrTruncated
	}
	// gmrtd accepts the indefinite form 0x80, which ICAO 9303 objects never use
	if b[0] == 0x80 || b[0] > 0x84 {
		return 0, 0, ErrLength
	}
	buf := bytes.NewBuffer(b)
	l, err := gmrtdtlv.ParseLength(buf)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if l < 0 {
		return 0, 0, ErrLength
	}
	return int(l), len(b) - buf.Len(), nil
}

// HeaderLength returns the number of bytes occupied by the tag and length of
// the TLV at the start of b together with the value length. It needs only
// the header bytes, so callers can size a file from its first few bytes.
func HeaderLength(b []byte) (header int, value int, err error) {
	_, tn, err := ReadTag(b)
	if err != nil {
		return 0, 0, err
	}
	l, ln, err := ReadLength(b[tn:])
	if err != nil {
		return 0, 0, err
	}
	return tn + ln, l, nil
}

// DecodeOne decodes the first TLV in b and returns the remaining bytes.
func DecodeOne(b []byte) (Node, []byte, error) {
	tag, tn, err := ReadTag(b)
	if err != nil {
		return Node{}, nil, err
	}
	l, ln, err := ReadLength(b[tn:])
	if err != nil {
		return Node{}, nil, err
	}
	start := tn + ln
	if len(b)-start < l {
		return Node{}, nil, fmt.Errorf("%w: tag %s wants %d bytes, %d left", ErrTruncated, tag, l, len(b)-start)
	}
	return Node{Tag: tag, Value: b[start : start+l], Len: start + l}, b[start+l:], nil
}

// Decode decodes a sequence of sibling TLVs. Trailing 0x00 or 0xFF padding
// between objects is skipped.
func Decode(b []byte) ([]Node, error) {
	var nodes []Node
	for len(b) > 0 {
		if b[0] == 0x00 || b[0] == 0xFF {
			b = b[1:]
			continue
		}
		n, rest, err := DecodeOne(b)
		if err != nil {
			return nodes, err
		}
		nodes = append(nodes, n)
		b = rest
	}
	return nodes, nil
}

func Find(nodes []Node, tag Tag) (Node, bool) {
	for _, n := range nodes {
		if n.Tag == tag {
			return n, true
		}
	}
	return Node{}, false
}

// FindAll returns every direct node with tag.
func FindAll(nodes []Node, tag Tag) []Node {
	var out []Node
	for _, n := range nodes {
		if n.Tag == tag {
			out = append(out, n)
		}
	}
	return out
}

// Unwrap decodes b as a single TLV with the expected tag and returns its value.
func Unwrap(b []byte, tag Tag) ([]byte, error) {
	n, _, err := DecodeOne(b)
	if err != nil {
		return nil, err
	}
	if n.Tag != tag {
		return nil, fmt.Errorf("tlv: expected tag %s, got %s", tag, n.Tag)
	}
	return n.Value, nil
}

func EncodeLength(l int) []byte {
	return gmrtdtlv.TlvLength(l).Encode()
}

// Encode builds tag || length || value.
func Encode(tag Tag, value []byte) []byte {
	return gmrtdtlv.NewTlvSimpleNode(gmrtdtlv.TlvTag(tag), value).Encode()
}

// EncodeNested builds a constructed TLV from already encoded children.
func EncodeNested(tag Tag, children ...[]byte) []byte {
	var value []byte
	for _, c := range children {
		value = append(value, c...)
	}
	return Encode(tag, value)
}
