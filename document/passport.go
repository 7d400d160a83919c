// Package document holds a passport read from the chip and decodes its
// personal data groups.
package document

import (
	"encoding/hex"
	"fmt"
	"sort"

	"go-emrtd-connector/lds"
	"go-emrtd-connector/mrtderr"
)

// DataGroup is one data group as read from the chip.
type DataGroup struct {
	ID  lds.DataGroupID
	Raw []byte
}

// Authentication summarises how the chip and its content were authenticated.
type Authentication struct {
	Method               string
	ChipAuthentication   bool
	ActiveAuthentication bool
	// PassiveAuthentication is set once the groups matched a correctly
	// signed EF.SOD.
	PassiveAuthentication bool

	ValidationID  string
	AuthenticChip bool
	TrustedIssuer bool
	Receipt       string
}

// PassportRecord is the verified content of one read. Every group is listed
// in the SOD hash list.
type PassportRecord struct {
	Groups         []DataGroup
	SOD            []byte
	Authentication Authentication
}

// NewPassportRecord orders groups by number and checks that sod lists each of
// them.
func NewPassportRecord(groups map[lds.DataGroupID][]byte, sod *lds.SOD) (*PassportRecord, error) {
	if sod == nil {
		return nil, mrtderr.New(mrtderr.ReadIntegrityViolation, "EF.SOD missing")
	}
	rec := &PassportRecord{SOD: sod.Raw}
	for id, raw := range groups {
		if _, ok := sod.Digest(id); !ok {
			return nil, mrtderr.New(mrtderr.ReadIntegrityViolation, fmt.Sprintf("%s is not listed in EF.SOD", id))
		}
		rec.Groups = append(rec.Groups, DataGroup{ID: id, Raw: raw})
	}
	sort.Slice(rec.Groups, func(i, j int) bool { return rec.Groups[i].ID < rec.Groups[j].ID })
	return rec, nil
}

// Group returns the raw bytes of id.
func (r *PassportRecord) Group(id lds.DataGroupID) ([]byte, bool) {
	for _, g := range r.Groups {
		if g.ID == id {
			return g.Raw, true
		}
	}
	return nil, false
}

// HexGroups encodes every group in hex keyed by its name, e.g. "DG1".
func (r *PassportRecord) HexGroups() map[string]string {
	out := make(map[string]string, len(r.Groups))
	for _, g := range r.Groups {
		out[g.ID.String()] = hex.EncodeToString(g.Raw)
	}
	return out
}

// decodeOptional parses id when the record holds it. A group that was read
// but does not parse is a malformed field.
func decodeOptional[T any](r *PassportRecord, id lds.DataGroupID, parse func([]byte) (*T, error)) (*T, error) {
	raw, ok := r.Group(id)
	if !ok {
		return nil, nil
	}
	v, err := parse(raw)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.ReadMalformedField, id.String())
	}
	return v, nil
}

// Contents is the decoded personal data of a record.
type Contents struct {
	Personal   *PersonalData
	Additional *AdditionalPersonalDetails
	Issuance   *AdditionalDocumentDetails
}

// Decode parses DG1, which is mandatory, and DG11 and DG12 when present.
func (r *PassportRecord) Decode() (*Contents, error) {
	raw, ok := r.Group(lds.DG1)
	if !ok {
		return nil, mrtderr.New(mrtderr.ReadMalformedField, "DG1 is mandatory but was not read")
	}
	c := &Contents{}
	var err error
	if c.Personal, err = ParseDG1(raw); err != nil {
		return nil, err
	}
	if c.Additional, err = decodeOptional(r, lds.DG11, ParseDG11); err != nil {
		return nil, err
	}
	if c.Issuance, err = decodeOptional(r, lds.DG12, ParseDG12); err != nil {
		return nil, err
	}
	return c, nil
}
