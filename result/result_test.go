package result_test

import (
	"bytes"
	"testing"
	"time"

	"go-emrtd-connector/document"
	"go-emrtd-connector/lds"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/result"
	"go-emrtd-connector/simulator"
	"go-emrtd-connector/tlv"

	"github.com/stretchr/testify/require"
)

func record(t *testing.T, doc simulator.Document, ids ...lds.DataGroupID) *document.PassportRecord {
	t.Helper()
	groups := map[lds.DataGroupID][]byte{}
	for _, id := range ids {
		switch id {
		case lds.DG1:
			groups[id] = doc.DG1()
		case lds.DG2:
			raw, err := doc.DG2()
			require.NoError(t, err)
			groups[id] = raw
		case lds.DG11:
			groups[id] = doc.DG11()
		case lds.DG12:
			groups[id] = doc.DG12()
		}
	}
	return signed(t, groups)
}

func signed(t *testing.T, groups map[lds.DataGroupID][]byte) *document.PassportRecord {
	t.Helper()
	keys, err := simulator.DefaultKeys()
	require.NoError(t, err)
	raw, err := keys.SOD(groups)
	require.NoError(t, err)
	sod, err := lds.ParseSOD(raw)
	require.NoError(t, err)
	rec, err := document.NewPassportRecord(groups, sod)
	require.NoError(t, err)
	return rec
}

func TestEncode(t *testing.T) {
	rec := record(t, simulator.Specimen(), lds.DG1, lds.DG2, lds.DG11, lds.DG12)
	rec.Authentication = document.Authentication{
		Method:                "BAC",
		PassiveAuthentication: true,
		ValidationID:          "val-1",
		Receipt:               "jwt",
	}

	enc := result.Encoder{Now: func() time.Time { return time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC) }}
	js, err := enc.Encode(rec)
	require.NoError(t, err)
	require.Contains(t, js, `"documentNumber":"L898902C3"`)

	p, err := result.Decode(js)
	require.NoError(t, err)
	require.Equal(t, "P", p.DocumentCode)
	require.Equal(t, "ERIKSSON", p.LastName)
	require.Equal(t, "ANNA MARIA", p.FirstName)
	require.Equal(t, "1974-08-12", p.DateOfBirth)
	require.Equal(t, "2012-04-15", p.DateOfExpiry)
	require.False(t, p.IsExpired)
	require.Equal(t, "ZENITH", p.PlaceOfBirth)
	require.Equal(t, "UTOPIA PASSPORT OFFICE", p.IssuingAuthority)
	require.Equal(t, "2002-04-15", p.DateOfIssue)
	require.NotEmpty(t, p.Photo)
	require.Equal(t, "BAC", p.Authentication.Method)
	require.True(t, p.Authentication.PassiveAuthentication)
	require.Equal(t, "val-1", p.Authentication.ValidationID)
	require.Equal(t, "jwt", p.Authentication.Receipt)

	require.Len(t, p.DataGroups, 4)
	dg1, err := p.Group(lds.DG1)
	require.NoError(t, err)
	raw, _ := rec.Group(lds.DG1)
	require.Equal(t, raw, dg1)
	require.NotEmpty(t, p.SOD)
}

func TestEncodeWithoutOptionalGroups(t *testing.T) {
	js, err := result.Encode(record(t, simulator.Specimen(), lds.DG1))
	require.NoError(t, err)

	p, err := result.Decode(js)
	require.NoError(t, err)
	require.Equal(t, "L898902C3", p.DocumentNumber)
	require.True(t, p.IsExpired)
	require.Empty(t, p.Photo)
	require.Empty(t, p.IssuingAuthority)
}

func TestEncodeMalformedMandatoryField(t *testing.T) {
	doc := simulator.Specimen()
	doc.DateOfExpiry = "121315"

	js, err := result.Encode(record(t, doc, lds.DG1))
	require.True(t, mrtderr.HasKind(err, mrtderr.ReadMalformedField), "got %v", err)
	require.Empty(t, js)

	_, err = result.Encode(nil)
	require.True(t, mrtderr.HasKind(err, mrtderr.ReadMalformedField), "got %v", err)
}

func TestEncodeMalformedOptionalGroups(t *testing.T) {
	doc := simulator.Specimen()
	dg2, err := doc.DG2()
	require.NoError(t, err)

	tests := []struct {
		name   string
		groups map[lds.DataGroupID][]byte
	}{
		{
			name: "garbage DG2",
			groups: map[lds.DataGroupID][]byte{
				lds.DG1: doc.DG1(),
				lds.DG2: tlv.Encode(0x75, tlv.EncodeNested(0x7F61, tlv.Encode(0x02, []byte{0x01}))),
			},
		},
		{
			name: "DG2 portrait that is not an image",
			groups: map[lds.DataGroupID][]byte{
				lds.DG1: doc.DG1(),
				lds.DG2: bytes.Replace(dg2, []byte{0xFF, 0xD8, 0xFF}, []byte{0xFF, 0xD8, 0x00}, 1),
			},
		},
		{
			name: "DG11 with a bad date",
			groups: map[lds.DataGroupID][]byte{
				lds.DG1:  doc.DG1(),
				lds.DG11: tlv.EncodeNested(0x6B, tlv.Encode(0x5C, []byte{0x5F, 0x2B}), tlv.Encode(0x5F2B, []byte("bad"))),
			},
		},
		{
			name: "DG12 without its template",
			groups: map[lds.DataGroupID][]byte{
				lds.DG1:  doc.DG1(),
				lds.DG12: tlv.Encode(0x5F19, []byte("UTOPIA")),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			js, err := result.Encode(signed(t, tt.groups))
			require.True(t, mrtderr.HasKind(err, mrtderr.ReadMalformedField), "got %v", err)
			require.Empty(t, js)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]string{
		"not json":          `{"documentNumber":`,
		"no number":         `{"dateOfBirth":"1974-08-12","dateOfExpiry":"2012-04-15","dataGroups":{"DG1":"61"}}`,
		"bad date of birth": `{"documentNumber":"X","dateOfBirth":"740812","dateOfExpiry":"2012-04-15","dataGroups":{"DG1":"61"}}`,
		"no DG1":            `{"documentNumber":"X","dateOfBirth":"1974-08-12","dateOfExpiry":"2012-04-15","dataGroups":{}}`,
	}
	for name, js := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := result.Decode(js)
			require.True(t, mrtderr.HasKind(err, mrtderr.ReadMalformedField), "got %v", err)
		})
	}
}
