// Package result turns a verified passport record into the JSON a read
// resolves with.
package result

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go-emrtd-connector/document"
	"go-emrtd-connector/lds"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/portrait"
)

const dateLayout = "2006-01-02"

// Authentication is the JSON form of document.Authentication; the field
// order matches so one converts to the other.
type Authentication struct {
	Method                string `json:"method"`
	ChipAuthentication    bool   `json:"chipAuthentication"`
	ActiveAuthentication  bool   `json:"activeAuthentication"`
	PassiveAuthentication bool   `json:"passiveAuthentication"`
	ValidationID          string `json:"validationId,omitempty"`
	AuthenticChip         bool   `json:"authenticChip"`
	TrustedIssuer         bool   `json:"trustedIssuer"`
	Receipt               string `json:"receipt,omitempty"`
}

// Passport is the JSON document produced for a successful read.
type Passport struct {
	DocumentCode   string `json:"documentCode"`
	DocumentNumber string `json:"documentNumber"`
	IssuingState   string `json:"issuingState"`
	LastName       string `json:"lastName"`
	FirstName      string `json:"firstName"`
	Nationality    string `json:"nationality"`
	DateOfBirth    string `json:"dateOfBirth"`
	Sex            string `json:"sex"`
	DateOfExpiry   string `json:"dateOfExpiry"`
	IsExpired      bool   `json:"isExpired"`

	FullName         string   `json:"fullName,omitempty"`
	OtherNames       []string `json:"otherNames,omitempty"`
	PersonalNumber   string   `json:"personalNumber,omitempty"`
	PlaceOfBirth     string   `json:"placeOfBirth,omitempty"`
	Address          string   `json:"address,omitempty"`
	Telephone        string   `json:"telephone,omitempty"`
	Profession       string   `json:"profession,omitempty"`
	IssuingAuthority string   `json:"issuingAuthority,omitempty"`
	DateOfIssue      string   `json:"dateOfIssue,omitempty"`

	// Photo is the DG2 portrait as base64 PNG.
	Photo string `json:"photo,omitempty"`

	DataGroups     map[string]string `json:"dataGroups"`
	SOD            string            `json:"sod"`
	Authentication Authentication    `json:"authentication"`
}

// Encoder builds result JSON. The zero value converts portraits with
// portrait.DefaultOptions.
type Encoder struct {
	Portrait *portrait.Options
	// Now defaults to time.Now and decides IsExpired.
	Now func() time.Time
}

// Encode uses a zero Encoder.
func Encode(rec *document.PassportRecord) (string, error) {
	return Encoder{}.Encode(rec)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// Encode decodes the personal data of rec and marshals it. Any group that
// was read but cannot be decoded, the DG2 portrait included, is a malformed
// field.
func (e Encoder) Encode(rec *document.PassportRecord) (string, error) {
	if rec == nil {
		return "", mrtderr.New(mrtderr.ReadMalformedField, "no passport record")
	}
	contents, err := rec.Decode()
	if err != nil {
		return "", err
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}

	p := contents.Personal
	out := Passport{
		DocumentCode:   p.DocumentCode,
		DocumentNumber: p.DocumentNumber,
		IssuingState:   p.IssuingState,
		LastName:       p.PrimaryName,
		FirstName:      p.SecondaryName,
		Nationality:    p.Nationality,
		DateOfBirth:    formatDate(p.DateOfBirth),
		Sex:            p.Sex,
		DateOfExpiry:   formatDate(p.DateOfExpiry),
		IsExpired:      p.Expired(now()),
		DataGroups:     rec.HexGroups(),
		SOD:            hex.EncodeToString(rec.SOD),
		Authentication: Authentication(rec.Authentication),
	}

	// DG1 truncates long names; DG11 carries them in full.
	if a := contents.Additional; a != nil {
		if a.PrimaryName != "" {
			out.LastName, out.FirstName = a.PrimaryName, a.SecondaryName
		}
		out.FullName = a.FullName
		out.OtherNames = a.OtherNames
		out.PersonalNumber = a.PersonalNumber
		out.PlaceOfBirth = a.PlaceOfBirth
		out.Address = a.Address
		out.Telephone = a.Telephone
		out.Profession = a.Profession
	}
	if d := contents.Issuance; d != nil {
		out.IssuingAuthority = d.IssuingAuthority
		out.DateOfIssue = formatDate(d.DateOfIssue)
	}

	if raw, ok := rec.Group(lds.DG2); ok {
		opts := portrait.DefaultOptions
		if e.Portrait != nil {
			opts = *e.Portrait
		}
		photo, err := portrait.FromDG2(raw, opts)
		if err != nil {
			return "", mrtderr.Force(err, mrtderr.ReadMalformedField, lds.DG2.String())
		}
		out.Photo = photo
	}

	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshalling passport: %w", err)
	}
	return string(b), nil
}

// Decode parses result JSON and checks the fields every result carries.
func Decode(s string) (*Passport, error) {
	var p Passport
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, mrtderr.Force(err, mrtderr.ReadMalformedField, "decoding passport JSON")
	}
	if p.DocumentNumber == "" {
		return nil, mrtderr.New(mrtderr.ReadMalformedField, "documentNumber is missing")
	}
	for field, v := range map[string]string{"dateOfBirth": p.DateOfBirth, "dateOfExpiry": p.DateOfExpiry} {
		if _, err := time.Parse(dateLayout, v); err != nil {
			return nil, mrtderr.Force(err, mrtderr.ReadMalformedField, field)
		}
	}
	if _, ok := p.DataGroups[lds.DG1.String()]; !ok {
		return nil, mrtderr.Force(errors.New("DG1 missing"), mrtderr.ReadMalformedField, "dataGroups")
	}
	return &p, nil
}

// Group returns the raw bytes of a data group carried in the result.
func (p *Passport) Group(id lds.DataGroupID) ([]byte, error) {
	h, ok := p.DataGroups[id.String()]
	if !ok {
		return nil, fmt.Errorf("%s not in result", id)
	}
	return hex.DecodeString(h)
}
