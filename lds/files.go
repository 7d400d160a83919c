// Package lds reads the Logical Data Structure of an eMRTD: EF.COM, the data
// groups and the document security object, and checks them against each other.
package lds

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go-emrtd-connector/tlv"

	gmrtd "github.com/gmrtd/gmrtd/document"
)

// DataGroupID is a data group number, 1 to 16.
type DataGroupID int

const (
	DG1 DataGroupID = iota + 1
	DG2
	DG3
	DG4
	DG5
	DG6
	DG7
	DG8
	DG9
	DG10
	DG11
	DG12
	DG13
	DG14
	DG15
	DG16
)

// Elementary file identifiers outside the data group range.
const (
	FIDCardAccess uint16 = 0x011C
	FIDSOD        uint16 = 0x011D
	FIDCOM        uint16 = 0x011E
)

// Outer tags of EF.COM and EF.SOD.
const (
	TagCOM tlv.Tag = 0x60
	TagSOD tlv.Tag = 0x77
)

var dataGroupTags = [...]tlv.Tag{
	DG1: 0x61, DG2: 0x75, DG3: 0x63, DG4: 0x76,
	DG5: 0x65, DG6: 0x66, DG7: 0x67, DG8: 0x68,
	DG9: 0x69, DG10: 0x6A, DG11: 0x6B, DG12: 0x6C,
	DG13: 0x6D, DG14: 0x6E, DG15: 0x6F, DG16: 0x70,
}

func (id DataGroupID) Valid() bool {
	return id >= DG1 && id <= DG16
}

func (id DataGroupID) String() string {
	return "DG" + strconv.Itoa(int(id))
}

// FID is the elementary file identifier of the data group.
func (id DataGroupID) FID() uint16 {
	return 0x0100 + uint16(id)
}

// Tag is the outer tag the data group is wrapped in.
func (id DataGroupID) Tag() tlv.Tag {
	if !id.Valid() {
		return 0
	}
	return dataGroupTags[id]
}

// EACProtected reports whether the group is normally readable only after
// terminal authentication.
func (id DataGroupID) EACProtected() bool {
	return id == DG3 || id == DG4
}

// DataGroupByTag maps an EF.COM tag list entry to its data group.
func DataGroupByTag(tag tlv.Tag) (DataGroupID, bool) {
	for id := DG1; id <= DG16; id++ {
		if dataGroupTags[id] == tag {
			return id, true
		}
	}
	return 0, false
}

// ParseDataGroupID accepts "DG2", "dg2" or "2".
func ParseDataGroupID(s string) (DataGroupID, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "DG"))
	if err != nil {
		return 0, fmt.Errorf("invalid data group %q", s)
	}
	id := DataGroupID(n)
	if !id.Valid() {
		return 0, fmt.Errorf("data group %q out of range", s)
	}
	return id, nil
}

// DefaultDataGroups are read when the caller does not choose.
var DefaultDataGroups = []DataGroupID{DG1, DG2, DG7, DG11, DG12, DG13, DG14, DG15, DG16}

// COM is the decoded EF.COM.
type COM struct {
	LDSVersion     string
	UnicodeVersion string
	DataGroups     []DataGroupID
}

// ParseCOM decodes EF.COM: tag 60 with 5F01 (LDS version), 5F36 (Unicode
// version) and 5C (tag list).
func ParseCOM(b []byte) (*COM, error) {
	parsed, err := gmrtd.NewCOM(b)
	if err != nil {
		return nil, fmt.Errorf("EF.COM: %w", err)
	}
	if parsed == nil || len(parsed.TagList) == 0 {
		return nil, errors.New("EF.COM: missing tag list")
	}

	com := &COM{LDSVersion: parsed.LdsVersion, UnicodeVersion: parsed.UnicodeVersion}
	for _, t := range parsed.TagList {
		if id, ok := DataGroupByTag(tlv.Tag(t)); ok {
			com.DataGroups = append(com.DataGroups, id)
		}
	}
	return com, nil
}

// Encode builds EF.COM for the given groups.
func (c *COM) Encode() []byte {
	tags := make([]byte, 0, len(c.DataGroups))
	for _, id := range c.DataGroups {
		tags = append(tags, byte(id.Tag()))
	}
	return tlv.EncodeNested(TagCOM,
		tlv.Encode(0x5F01, []byte(c.LDSVersion)),
		tlv.Encode(0x5F36, []byte(c.UnicodeVersion)),
		tlv.Encode(0x5C, tags),
	)
}

// Has reports whether EF.COM lists id.
func (c *COM) Has(id DataGroupID) bool {
	for _, d := range c.DataGroups {
		if d == id {
			return true
		}
	}
	return false
}
