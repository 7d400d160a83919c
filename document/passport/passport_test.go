package passport

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"go-emrtd-connector/lds"
	"go-emrtd-connector/models"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/simulator"

	"github.com/gmrtd/gmrtd/cms"
	"github.com/stretchr/testify/require"
)

var testNonce = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

func requireErrorContains(t *testing.T, err error, expectedMsg string) {
	t.Helper()
	require.Error(t, err)
	require.Contains(t, err.Error(), expectedMsg)
}

func createTestPassportRequest(t *testing.T, withDG14 bool) models.ValidationRequest {
	t.Helper()
	keys, err := simulator.DefaultKeys()
	require.NoError(t, err)

	doc := simulator.Specimen()
	groups := map[lds.DataGroupID][]byte{
		lds.DG1:  doc.DG1(),
		lds.DG11: doc.DG11(),
	}
	groups[lds.DG15], err = keys.DG15()
	require.NoError(t, err)
	if withDG14 {
		groups[lds.DG14], err = keys.DG14()
		require.NoError(t, err)
	}
	sod, err := keys.SOD(groups)
	require.NoError(t, err)

	sig, err := keys.SignActiveAuth(rand.Reader, testNonce)
	require.NoError(t, err)

	req := models.ValidationRequest{
		SessionId:           "session",
		Nonce:               hex.EncodeToString(testNonce),
		DataGroups:          map[string]string{},
		EFSOD:               hex.EncodeToString(sod),
		ActiveAuthSignature: hex.EncodeToString(sig),
	}
	for id, raw := range groups {
		req.DataGroups[id.String()] = hex.EncodeToString(raw)
	}
	return req
}

func TestVerify(t *testing.T) {
	req := createTestPassportRequest(t, false)

	checks, err := Verify(req, testNonce, &cms.CombinedCertPool{})
	require.NoError(t, err)
	require.True(t, checks.AuthenticContent)
	require.True(t, checks.AuthenticChip)
	// the simulator's signer is not in any master list
	require.False(t, checks.TrustedIssuer)
	require.Equal(t, "L898902C3", checks.Personal.DocumentNumber)
	require.Len(t, checks.Record.Groups, 3)
}

func TestVerifyTamperedGroup(t *testing.T) {
	req := createTestPassportRequest(t, false)
	dg1 := req.DataGroups["DG1"]
	req.DataGroups["DG1"] = dg1[:len(dg1)-2] + "3C"

	checks, err := Verify(req, testNonce, nil)
	require.NoError(t, err)
	require.False(t, checks.AuthenticContent)
	require.False(t, checks.AuthenticChip)
	require.Nil(t, checks.Personal)

	v := checks.Verdict(time.Now())
	require.False(t, v.AuthenticContent)
	require.False(t, v.IsExpired)
}

func TestVerifyChipAuthenticationClaim(t *testing.T) {
	tests := []struct {
		name     string
		withDG14 bool
		want     bool
	}{
		{name: "DG14 present", withDG14: true, want: true},
		{name: "DG14 missing", withDG14: false, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createTestPassportRequest(t, tt.withDG14)
			req.ActiveAuthSignature = ""
			req.ChipAuthentication = true

			checks, err := Verify(req, testNonce, nil)
			require.NoError(t, err)
			require.True(t, checks.AuthenticContent)
			require.Equal(t, tt.want, checks.AuthenticChip)
		})
	}
}

func TestActiveAuthenticationWrongChallenge(t *testing.T) {
	req := createTestPassportRequest(t, false)

	_, err := Verify(req, []byte{8, 7, 6, 5, 4, 3, 2, 1}, nil)
	require.True(t, mrtderr.HasKind(err, mrtderr.ReadIntegrityViolation), "got %v", err)
}

func TestActiveAuthenticationWithoutSignature(t *testing.T) {
	req := createTestPassportRequest(t, false)
	groups, sod, err := DecodeRequest(req)
	require.NoError(t, err)
	rec, err := ContentIntegrity(groups, sod)
	require.NoError(t, err)

	ok, err := ActiveAuthentication(rec, testNonce, "")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = ActiveAuthentication(rec, testNonce, "zz")
	require.True(t, mrtderr.HasKind(err, mrtderr.ReadMalformedField), "got %v", err)
}

func TestDecodeRequestErrors(t *testing.T) {
	valid := createTestPassportRequest(t, false)

	tests := []struct {
		name   string
		mutate func(r *models.ValidationRequest)
		msg    string
	}{
		{name: "no data groups", mutate: func(r *models.ValidationRequest) { r.DataGroups = nil }, msg: "no data groups found"},
		{name: "no SOD", mutate: func(r *models.ValidationRequest) { r.EFSOD = "" }, msg: "EF_SOD is missing"},
		{name: "SOD not hex", mutate: func(r *models.ValidationRequest) { r.EFSOD = "xyz" }, msg: "EF_SOD"},
		{name: "unknown group", mutate: func(r *models.ValidationRequest) { r.DataGroups["DG17"] = "00" }, msg: "out of range"},
		{name: "group not hex", mutate: func(r *models.ValidationRequest) { r.DataGroups["DG1"] = "6" }, msg: "DG1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			req.DataGroups = make(map[string]string, len(valid.DataGroups))
			for k, v := range valid.DataGroups {
				req.DataGroups[k] = v
			}
			tt.mutate(&req)

			_, _, err := DecodeRequest(req)
			requireErrorContains(t, err, tt.msg)
			require.True(t, mrtderr.HasKind(err, mrtderr.ReadMalformedField))
		})
	}
}

func TestPassiveAuthenticationPassportUntrustedSigner(t *testing.T) {
	req := createTestPassportRequest(t, false)
	groups, sod, err := DecodeRequest(req)
	require.NoError(t, err)

	_, err = PassiveAuthenticationPassport(groups, sod, &cms.CombinedCertPool{})
	require.Error(t, err)
}

func TestPassiveAuthenticationMandatoryDG1(t *testing.T) {
	req := createTestPassportRequest(t, false)
	groups, sod, err := DecodeRequest(req)
	require.NoError(t, err)
	delete(groups, lds.DG1)

	_, err = PassiveAuthenticationPassport(groups, sod, &cms.CombinedCertPool{})
	requireErrorContains(t, err, "DG1 is mandatory")
}

func TestVerdictAndReceiptClaims(t *testing.T) {
	req := createTestPassportRequest(t, false)
	checks, err := Verify(req, testNonce, nil)
	require.NoError(t, err)

	before := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	require.False(t, checks.Verdict(before).IsExpired)
	require.True(t, checks.Verdict(time.Now()).IsExpired)

	claims, err := checks.ReceiptClaims("s1", "client", "val")
	require.NoError(t, err)
	require.Equal(t, "L898902C3", claims.DocumentNumber)
	require.Equal(t, "P", claims.DocumentType)
	require.Equal(t, "UTO", claims.Country)
	require.Equal(t, "val", claims.ValidationId)
	require.True(t, claims.AuthenticChip)

	_, err = (&Checks{}).ReceiptClaims("s1", "client", "")
	require.Error(t, err)
}
