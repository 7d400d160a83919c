package document

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	gmrtd "github.com/gmrtd/gmrtd/document"
	"github.com/gmrtd/gmrtd/mrz"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// AdditionalPersonalDetails is DG11.
type AdditionalPersonalDetails struct {
	// FullName is the holder's name without fillers, primary identifier first.
	FullName           string
	PrimaryName        string
	SecondaryName      string
	OtherNames         []string
	PersonalNumber     string
	FullDateOfBirth    time.Time
	PlaceOfBirth       string
	Address            string
	Telephone          string
	Profession         string
	Title              string
	PersonalSummary    string
	OtherTravelDocs    string
	CustodyInformation string
}

// decodeText reads a DG11/DG12 text field. Fields are UTF-8 in practice;
// older chips write Latin-1.
func decodeText(s string) string {
	if utf8.ValidString(s) {
		return norm.NFC.String(s)
	}
	b, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return norm.NFC.String(b)
}

func text(s string) string {
	return fillerToSpace(decodeText(s))
}

// joinParts joins a field gmrtd split on fillers.
func joinParts(parts []string) string {
	return text(strings.Join(parts, "<"))
}

func name(n mrz.MrzName) (primary, secondary string) {
	return text(n.Primary), text(n.Secondary)
}

func names(list []mrz.MrzName) []string {
	var out []string
	for _, n := range list {
		p, s := name(n)
		out = append(out, strings.TrimSpace(p+" "+s))
	}
	return out
}

// ParseDG11 decodes the additional personal details group. Only the fields
// named in the tag list are read.
func ParseDG11(raw []byte) (*AdditionalPersonalDetails, error) {
	dg11, err := gmrtd.NewDG11(raw)
	if err != nil {
		return nil, fmt.Errorf("DG11: %w", err)
	}
	if dg11 == nil {
		return nil, fmt.Errorf("DG11: empty data group")
	}
	pd := dg11.Details

	d := &AdditionalPersonalDetails{
		OtherNames:         names(pd.OtherNames),
		PersonalNumber:     trimFiller(decodeText(pd.PersonalNumber)),
		PlaceOfBirth:       joinParts(pd.PlaceOfBirth),
		Address:            joinParts(pd.Address),
		Telephone:          decodeText(pd.Telephone),
		Profession:         text(pd.Profession),
		Title:              text(pd.Title),
		PersonalSummary:    text(pd.PersonalSummary),
		OtherTravelDocs:    joinParts(pd.OtherTravelDocuments),
		CustodyInformation: text(pd.CustodyInformation),
	}
	if pd.NameOfHolder != nil {
		d.PrimaryName, d.SecondaryName = name(*pd.NameOfHolder)
		d.FullName = strings.TrimSpace(d.PrimaryName + " " + d.SecondaryName)
	}
	if pd.FullDateOfBirth != "" {
		if d.FullDateOfBirth, err = ParseFullDate(pd.FullDateOfBirth); err != nil {
			return nil, fmt.Errorf("DG11 full date of birth: %w", err)
		}
	}
	return d, nil
}

// AdditionalDocumentDetails is DG12.
type AdditionalDocumentDetails struct {
	IssuingAuthority    string
	DateOfIssue         time.Time
	OtherPersons        []string
	Endorsements        string
	TaxOrExit           string
	PersonalizedAt      time.Time
	PersonalizationUnit string
}

// ParseDG12 decodes the additional document details group.
func ParseDG12(raw []byte) (*AdditionalDocumentDetails, error) {
	dg12, err := gmrtd.NewDG12(raw)
	if err != nil {
		return nil, fmt.Errorf("DG12: %w", err)
	}
	if dg12 == nil {
		return nil, fmt.Errorf("DG12: empty data group")
	}
	dd := dg12.Details

	d := &AdditionalDocumentDetails{
		IssuingAuthority:    text(dd.IssuingAuthority),
		OtherPersons:        names(dd.OtherPersons),
		Endorsements:        decodeText(dd.EndorsementsAndObservations),
		TaxOrExit:           decodeText(dd.TaxExitRequirements),
		PersonalizationUnit: decodeText(dd.PersoSystemSerialNumber),
	}
	if dd.DateOfIssue != "" {
		if d.DateOfIssue, err = ParseFullDate(dd.DateOfIssue); err != nil {
			return nil, fmt.Errorf("DG12 date of issue: %w", err)
		}
	}
	if dd.PersoDateTime != "" {
		if d.PersonalizedAt, err = time.Parse("20060102150405", dd.PersoDateTime); err != nil {
			return nil, fmt.Errorf("DG12 personalization time: %w", err)
		}
	}
	return d, nil
}
