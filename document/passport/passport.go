// Package passport checks the chip content a client submits to the
// validation backend: the SOD over the data groups, the chip's active
// authentication signature and the document signer's trust chain.
package passport

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"go-emrtd-connector/auth"
	mrtdDoc "go-emrtd-connector/document"
	"go-emrtd-connector/lds"
	"go-emrtd-connector/models"
	"go-emrtd-connector/mrtderr"

	"github.com/gmrtd/gmrtd/cms"
	"github.com/gmrtd/gmrtd/document"
	"github.com/gmrtd/gmrtd/passiveauth"
)

// parseOptionalDataGroup parses an optional data group and logs errors gracefully
func parseOptionalDataGroup[T any](dgName string, data []byte, parseFunc func([]byte) (*T, error)) *T {
	result, err := parseFunc(data)
	if err != nil {
		slog.Info("Skipping data group due to parsing error", "data_group", dgName, "error", err)
		return nil
	}
	return result
}

func parsePassportDGs(doc *document.Document, groups map[lds.DataGroupID][]byte) error {
	var err error

	for id, raw := range groups {
		switch id {
		case lds.DG1:
			doc.Mf.Lds1.Dg1, err = document.NewDG1(raw)
			if err != nil {
				return fmt.Errorf("failed to create DG1 (mandatory): %w", err)
			}
		case lds.DG2:
			doc.Mf.Lds1.Dg2 = parseOptionalDataGroup("DG2", raw, document.NewDG2)
		case lds.DG7:
			doc.Mf.Lds1.Dg7 = parseOptionalDataGroup("DG7", raw, document.NewDG7)
		case lds.DG11:
			doc.Mf.Lds1.Dg11 = parseOptionalDataGroup("DG11", raw, document.NewDG11)
		case lds.DG12:
			doc.Mf.Lds1.Dg12 = parseOptionalDataGroup("DG12", raw, document.NewDG12)
		case lds.DG13:
			doc.Mf.Lds1.Dg13 = parseOptionalDataGroup("DG13", raw, document.NewDG13)
		case lds.DG14:
			doc.Mf.Lds1.Dg14 = parseOptionalDataGroup("DG14", raw, document.NewDG14)
		case lds.DG15:
			// DG15 is mandatory if provided
			doc.Mf.Lds1.Dg15, err = document.NewDG15(raw)
			if err != nil {
				return fmt.Errorf("failed to create DG15 (mandatory if provided): %w", err)
			}
		case lds.DG16:
			doc.Mf.Lds1.Dg16 = parseOptionalDataGroup("DG16", raw, document.NewDG16)
		default:
			slog.Debug("Data group not used for passive authentication", "data_group", id.String())
		}
	}

	if doc.Mf.Lds1.Dg1 == nil {
		return fmt.Errorf("DG1 is mandatory but was not provided")
	}
	return nil
}

// DecodeRequest hex decodes the groups and SOD of req. Unknown group names
// and bad hex are malformed fields.
func DecodeRequest(req models.ValidationRequest) (map[lds.DataGroupID][]byte, []byte, error) {
	if len(req.DataGroups) == 0 {
		return nil, nil, mrtderr.New(mrtderr.ReadMalformedField, "no data groups found")
	}
	if req.EFSOD == "" {
		return nil, nil, mrtderr.New(mrtderr.ReadMalformedField, "EF_SOD is missing in the validation request")
	}
	sod, err := hex.DecodeString(req.EFSOD)
	if err != nil {
		return nil, nil, mrtderr.Force(err, mrtderr.ReadMalformedField, "EF_SOD")
	}
	groups := make(map[lds.DataGroupID][]byte, len(req.DataGroups))
	for name, h := range req.DataGroups {
		id, err := lds.ParseDataGroupID(name)
		if err != nil {
			return nil, nil, mrtderr.Force(err, mrtderr.ReadMalformedField, "data_groups")
		}
		raw, err := hex.DecodeString(h)
		if err != nil {
			return nil, nil, mrtderr.Force(err, mrtderr.ReadMalformedField, name)
		}
		groups[id] = raw
	}
	return groups, sod, nil
}

// ContentIntegrity verifies the SOD signature and every group digest.
func ContentIntegrity(groups map[lds.DataGroupID][]byte, rawSOD []byte) (*mrtdDoc.PassportRecord, error) {
	sod, err := lds.ParseSOD(rawSOD)
	if err != nil {
		return nil, err
	}
	if err := sod.Verify(groups); err != nil {
		return nil, err
	}
	return mrtdDoc.NewPassportRecord(groups, sod)
}

// PassiveAuthenticationPassport checks the document signer against certPool
// with gmrtd. It only decides whether the issuer is trusted; content
// integrity is ContentIntegrity's job.
func PassiveAuthenticationPassport(groups map[lds.DataGroupID][]byte, rawSOD []byte, certPool cms.CertPool) (doc document.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = document.Document{}, fmt.Errorf("passive authentication aborted: %v", r)
		}
	}()
	doc.Mf.Lds1.Sod, err = document.NewSOD(rawSOD)
	if err != nil {
		return document.Document{}, fmt.Errorf("failed to create SOD: %w", err)
	}

	err = parsePassportDGs(&doc, groups)
	if err != nil {
		return document.Document{}, fmt.Errorf("failed to parse passport DGs: %w", err)
	}
	slog.Info("Starting passive authentication for passport", "issuing_state", doc.Mf.Lds1.Dg1.Mrz.IssuingState)

	res, err := passiveauth.PassiveAuth(&doc, certPool)
	if err != nil {
		return document.Document{}, fmt.Errorf("unexpected error: %s", err)
	}
	if !res.Success {
		return document.Document{}, fmt.Errorf("passive authentication failed")
	}
	return doc, nil
}

// ActiveAuthentication verifies the signature over challenge with the key
// in DG15. It reports false without error when there is nothing to check.
func ActiveAuthentication(rec *mrtdDoc.PassportRecord, challenge []byte, signatureHex string) (bool, error) {
	dg15, ok := rec.Group(lds.DG15)
	if !ok || signatureHex == "" {
		return false, nil
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, mrtderr.Force(err, mrtderr.ReadMalformedField, "active_auth_signature")
	}

	slog.Info("Starting active authentication signature validation")
	if err := auth.VerifyActiveAuthentication(dg15, challenge, sig); err != nil {
		return false, mrtderr.Force(err, mrtderr.ReadIntegrityViolation, "active authentication failed")
	}
	return true, nil
}

// Checks is what the backend established about one submission.
type Checks struct {
	Record           *mrtdDoc.PassportRecord
	Personal         *mrtdDoc.PersonalData
	AuthenticContent bool
	AuthenticChip    bool
	TrustedIssuer    bool
}

// Verify runs every check on req. challenge is the nonce the backend issued
// for the session. A content integrity failure is reported in the result,
// not as an error; errors mean the request itself is unusable.
func Verify(req models.ValidationRequest, challenge []byte, certPool cms.CertPool) (*Checks, error) {
	groups, rawSOD, err := DecodeRequest(req)
	if err != nil {
		return nil, err
	}

	rec, err := ContentIntegrity(groups, rawSOD)
	if err != nil {
		if mrtderr.KindOf(err) == mrtderr.ReadIntegrityViolation {
			slog.Warn("Content integrity check failed", "error", err)
			return &Checks{}, nil
		}
		return nil, err
	}
	contents, err := rec.Decode()
	if err != nil {
		return nil, err
	}
	checks := &Checks{Record: rec, Personal: contents.Personal, AuthenticContent: true}

	checks.AuthenticChip, err = ActiveAuthentication(rec, challenge, req.ActiveAuthSignature)
	if err != nil {
		return nil, err
	}
	if !checks.AuthenticChip && req.ChipAuthentication {
		// chip authentication only succeeds with the private key behind DG14
		_, checks.AuthenticChip = rec.Group(lds.DG14)
	}

	if certPool != nil {
		if _, err := PassiveAuthenticationPassport(groups, rawSOD, certPool); err != nil {
			slog.Info("Document signer not trusted", "error", err)
		} else {
			checks.TrustedIssuer = true
		}
	}
	return checks, nil
}

// Verdict summarises c for the client.
func (c *Checks) Verdict(now time.Time) models.Verdict {
	v := models.Verdict{
		AuthenticContent: c.AuthenticContent,
		AuthenticChip:    c.AuthenticChip,
		TrustedIssuer:    c.TrustedIssuer,
	}
	if c.Personal != nil {
		v.IsExpired = c.Personal.Expired(now)
	}
	return v
}

// ReceiptClaims lists the facts a receipt attests to. It needs decoded
// personal data.
func (c *Checks) ReceiptClaims(sessionID, clientID, validationID string) (models.ReceiptClaims, error) {
	if c.Personal == nil {
		return models.ReceiptClaims{}, fmt.Errorf("no personal data to attest")
	}
	p := c.Personal
	return models.ReceiptClaims{
		SessionId:        sessionID,
		ClientId:         clientID,
		ValidationId:     validationID,
		DocumentNumber:   p.DocumentNumber,
		DocumentType:     p.DocumentCode,
		Nationality:      p.Nationality,
		Country:          p.IssuingState,
		DateOfExpiry:     p.DateOfExpiry,
		AuthenticContent: c.AuthenticContent,
		AuthenticChip:    c.AuthenticChip,
		TrustedIssuer:    c.TrustedIssuer,
	}, nil
}
