package document

import (
	"fmt"
	"strings"
	"time"

	"go-emrtd-connector/mrtderr"

	gmrtd "github.com/gmrtd/gmrtd/document"
)

// PersonalData is the MRZ held in DG1.
type PersonalData struct {
	DocumentCode   string
	IssuingState   string
	DocumentNumber string
	PrimaryName    string
	SecondaryName  string
	Nationality    string
	DateOfBirth    time.Time
	Sex            string
	DateOfExpiry   time.Time
}

func malformed(field string, err error) error {
	return mrtderr.Force(err, mrtderr.ReadMalformedField, "DG1 "+field)
}

func trimFiller(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "<")
}

// ParseDG1 decodes DG1 and checks the mandatory fields.
func ParseDG1(raw []byte) (*PersonalData, error) {
	dg1, err := gmrtd.NewDG1(raw)
	if err != nil {
		return nil, malformed("structure", err)
	}
	if dg1 == nil {
		return nil, malformed("structure", fmt.Errorf("empty data group"))
	}
	m := dg1.Mrz

	p := &PersonalData{
		DocumentCode:   trimFiller(m.DocumentCode),
		IssuingState:   trimFiller(m.IssuingState),
		DocumentNumber: trimFiller(m.DocumentNumber),
		Nationality:    trimFiller(m.Nationality),
		Sex:            NormalizeSex(m.Sex),
	}
	if m.NameOfHolder != nil {
		p.PrimaryName = fillerToSpace(m.NameOfHolder.Primary)
		p.SecondaryName = fillerToSpace(m.NameOfHolder.Secondary)
	}
	if p.DocumentNumber == "" {
		return nil, malformed("document number", fmt.Errorf("empty"))
	}
	if p.DateOfBirth, err = ParseDateOfBirth(m.DateOfBirth); err != nil {
		return nil, malformed("date of birth", err)
	}
	if p.DateOfExpiry, err = ParseExpiryDate(m.DateOfExpiry); err != nil {
		return nil, malformed("date of expiry", err)
	}
	return p, nil
}

// Expired reports whether the document expired before now.
func (p *PersonalData) Expired(now time.Time) bool {
	return p.DateOfExpiry.Before(now)
}
