// Package mrz validates the credentials used to open an eMRTD chip and
// derives the key material inputs ICAO 9303 defines for them.
package mrz

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"time"

	"go-emrtd-connector/mrtderr"
)

// PACE password references.
const (
	PasswordMRZ byte = 0x01
	PasswordCAN byte = 0x02
)

// Credential is either a DocumentCredential or a CanCredential.
type Credential interface {
	Validate() error
	// PasswordRef is the PACE password reference for this credential.
	PasswordRef() byte
	// Password is the PACE password input to the key derivation function.
	Password() ([]byte, error)
	// Redacted is safe to log.
	Redacted() string
}

var checkDigitWeights = [3]int{7, 3, 1}

func charValue(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10, true
	case c == '<':
		return 0, true
	}
	return 0, false
}

// CheckDigit computes the ICAO 9303 check digit of s.
func CheckDigit(s string) (byte, error) {
	sum := 0
	for i := 0; i < len(s); i++ {
		v, ok := charValue(s[i])
		if !ok {
			return 0, fmt.Errorf("invalid MRZ character %q", s[i])
		}
		sum += v * checkDigitWeights[i%3]
	}
	return byte('0' + sum%10), nil
}

// DocumentCredential holds the MRZ fields used by BAC.
type DocumentCredential struct {
	DocumentNumber string
	DateOfBirth    string
	DateOfExpiry   string
}

func NewDocumentCredential(documentNumber, dateOfBirth, dateOfExpiry string) DocumentCredential {
	return DocumentCredential{
		DocumentNumber: strings.ToUpper(strings.TrimSpace(documentNumber)),
		DateOfBirth:    strings.TrimSpace(dateOfBirth),
		DateOfExpiry:   strings.TrimSpace(dateOfExpiry),
	}
}

func invalid(format string, args ...any) error {
	return mrtderr.New(mrtderr.AuthInvalidCredentialFormat, fmt.Sprintf(format, args...))
}

// documentNumber returns the nine character form without a check digit.
// A tenth character is accepted only if it is the check digit of the first nine.
func (c DocumentCredential) documentNumber() (string, error) {
	n := c.DocumentNumber
	if n == "" {
		return "", invalid("document number is empty")
	}
	if len(n) > 10 {
		return "", invalid("document number longer than 10 characters")
	}
	for i := 0; i < len(n); i++ {
		if _, ok := charValue(n[i]); !ok {
			return "", invalid("document number contains %q", n[i])
		}
	}
	if len(n) == 10 {
		cd, _ := CheckDigit(n[:9])
		if n[9] != cd {
			return "", invalid("document number check digit mismatch")
		}
		n = n[:9]
	}
	if strings.Trim(n, "<") == "" {
		return "", invalid("document number is empty")
	}
	return n + strings.Repeat("<", 9-len(n)), nil
}

// ValidateDate checks a YYMMDD string names a real calendar day.
func ValidateDate(field, s string) error {
	if len(s) != 6 {
		return invalid("%s must be YYMMDD, got %d characters", field, len(s))
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return invalid("%s must be numeric", field)
		}
	}
	if _, err := time.Parse("060102", s); err != nil {
		return invalid("%s is not a calendar date", field)
	}
	return nil
}

func (c DocumentCredential) Validate() error {
	if _, err := c.documentNumber(); err != nil {
		return err
	}
	if err := ValidateDate("date of birth", c.DateOfBirth); err != nil {
		return err
	}
	return ValidateDate("date of expiry", c.DateOfExpiry)
}

// Info returns the MRZ information string: document number, date of birth
// and date of expiry, each followed by its check digit.
func (c DocumentCredential) Info() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	n, _ := c.documentNumber()
	var b strings.Builder
	for _, field := range []string{n, c.DateOfBirth, c.DateOfExpiry} {
		cd, err := CheckDigit(field)
		if err != nil {
			return "", invalid("%v", err)
		}
		b.WriteString(field)
		b.WriteByte(cd)
	}
	return b.String(), nil
}

// KeySeed is K_seed for BAC: the first 16 bytes of SHA-1 over Info.
func (c DocumentCredential) KeySeed() ([]byte, error) {
	info, err := c.Info()
	if err != nil {
		return nil, err
	}
	h := sha1.Sum([]byte(info))
	return h[:16], nil
}

func (c DocumentCredential) PasswordRef() byte { return PasswordMRZ }

// Password for PACE with the MRZ is SHA-1 over Info.
func (c DocumentCredential) Password() ([]byte, error) {
	info, err := c.Info()
	if err != nil {
		return nil, err
	}
	h := sha1.Sum([]byte(info))
	return h[:], nil
}

func (c DocumentCredential) Redacted() string {
	return "mrz:" + mask(c.DocumentNumber)
}

// CanCredential holds the six digit card access number.
type CanCredential struct {
	CAN string
}

func NewCanCredential(can string) CanCredential {
	return CanCredential{CAN: strings.TrimSpace(can)}
}

func (c CanCredential) Validate() error {
	if len(c.CAN) != 6 {
		return invalid("CAN must be 6 digits, got %d characters", len(c.CAN))
	}
	for i := 0; i < len(c.CAN); i++ {
		if c.CAN[i] < '0' || c.CAN[i] > '9' {
			return invalid("CAN must be numeric")
		}
	}
	return nil
}

func (c CanCredential) PasswordRef() byte { return PasswordCAN }

func (c CanCredential) Password() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return []byte(c.CAN), nil
}

func (c CanCredential) Redacted() string {
	return "can:" + mask(c.CAN)
}

func mask(s string) string {
	if len(s) <= 2 {
		return strings.Repeat("*", len(s))
	}
	return s[:1] + strings.Repeat("*", len(s)-2) + s[len(s)-1:]
}
