package document

import (
	"fmt"
	"strings"
	"time"
)

const mrzDateLayout = "060102"

func parseMRZDate(dateStr string) (time.Time, error) {
	// Parse date in yymmdd format
	if len(dateStr) != 6 {
		return time.Time{}, fmt.Errorf("invalid date format: %s", dateStr)
	}
	parsedDate, err := time.Parse(mrzDateLayout, dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing date: %w", err)
	}
	return parsedDate, nil
}

// ParseExpiryDate resolves the century of a YYMMDD expiry date. A date more
// than 30 years in the past is moved forward by a century.
func ParseExpiryDate(dateStr string) (time.Time, error) {
	parsedDate, err := parseMRZDate(dateStr)
	if err != nil {
		return time.Time{}, err
	}
	if parsedDate.Before(time.Now().AddDate(-30, 0, 0)) {
		parsedDate = parsedDate.AddDate(100, 0, 0)
	}
	return parsedDate, nil
}

// ParseDateOfBirth resolves the century of a YYMMDD birth date. The time
// package maps 00-68 to 20xx, so a birth date in the future is moved back a
// century.
func ParseDateOfBirth(dateStr string) (time.Time, error) {
	parsedDate, err := parseMRZDate(dateStr)
	if err != nil {
		return time.Time{}, err
	}
	if parsedDate.After(time.Now()) {
		parsedDate = parsedDate.AddDate(-100, 0, 0)
	}
	return parsedDate, nil
}

// ParseFullDate parses the YYYYMMDD dates of DG11 and DG12.
func ParseFullDate(dateStr string) (time.Time, error) {
	if len(dateStr) != 8 {
		return time.Time{}, fmt.Errorf("invalid date format: %s", dateStr)
	}
	parsedDate, err := time.Parse("20060102", dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing date: %w", err)
	}
	return parsedDate, nil
}

// NormalizeSex maps the MRZ sex field onto M, F or X.
func NormalizeSex(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "M", "MALE":
		return "M"
	case "F", "FEMALE":
		return "F"
	default:
		return "X"
	}
}

// SplitName splits an ICAO name field into primary and secondary
// identifiers, turning fillers into spaces.
func SplitName(field string) (primary, secondary string) {
	primary, secondary, _ = strings.Cut(field, "<<")
	return fillerToSpace(primary), fillerToSpace(secondary)
}

func fillerToSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == '<' || r == ' ' }), " ")
}
