package auth_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"testing"
	"time"

	"go-emrtd-connector/apdu"
	"go-emrtd-connector/auth"
	"go-emrtd-connector/lds"
	"go-emrtd-connector/mrtdcrypto"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/mrz"
	"go-emrtd-connector/simulator"
	"go-emrtd-connector/tlv"
	"go-emrtd-connector/transport"

	"github.com/stretchr/testify/require"
)

func newChip(t *testing.T, opts simulator.Options) *simulator.Chip {
	t.Helper()
	if opts.Document.DocumentNumber == "" {
		opts.Document = simulator.Specimen()
	}
	chip, err := simulator.NewChip(opts)
	require.NoError(t, err)
	return chip
}

func TestAuthenticate(t *testing.T) {
	doc := simulator.Specimen()

	tests := []struct {
		name       string
		opts       simulator.Options
		preferPACE bool
		cred       mrz.Credential
		wantMethod auth.Method
		wantAlg    mrtdcrypto.Algorithm
	}{
		{
			name:       "BAC with MRZ",
			cred:       doc.Credential(),
			wantMethod: auth.MethodBAC,
			wantAlg:    mrtdcrypto.TripleDES,
		},
		{
			name:       "MRZ stays on BAC when PACE is not preferred",
			opts:       simulator.Options{PACE: true},
			cred:       doc.Credential(),
			wantMethod: auth.MethodBAC,
			wantAlg:    mrtdcrypto.TripleDES,
		},
		{
			name:       "PACE with CAN",
			opts:       simulator.Options{PACE: true, DisableBAC: true},
			cred:       doc.CanCredential(),
			wantMethod: auth.MethodPACE,
			wantAlg:    mrtdcrypto.AES128,
		},
		{
			name:       "PACE with MRZ when preferred",
			opts:       simulator.Options{PACE: true},
			preferPACE: true,
			cred:       doc.Credential(),
			wantMethod: auth.MethodPACE,
			wantAlg:    mrtdcrypto.AES128,
		},
		{
			name:       "PACE on brainpoolP256r1",
			opts:       simulator.Options{PACE: true, PACEParameterID: lds.ParamBrainpoolP256r1},
			cred:       doc.CanCredential(),
			wantMethod: auth.MethodPACE,
			wantAlg:    mrtdcrypto.AES128,
		},
		{
			name:       "preferred PACE falls back to BAC without EF.CardAccess",
			preferPACE: true,
			cred:       doc.Credential(),
			wantMethod: auth.MethodBAC,
			wantAlg:    mrtdcrypto.TripleDES,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chip := newChip(t, tt.opts)
			a := &auth.Authenticator{PreferPACE: tt.preferPACE}

			res, err := a.Authenticate(context.Background(), chip, tt.cred)
			require.NoError(t, err)
			require.Equal(t, tt.wantMethod, res.Method)
			require.Equal(t, tt.wantAlg, res.Sender.Codec().Algorithm())

			// the session must be usable for reading
			com, err := lds.NewReader(res.Sender, 0).ReadCOM(context.Background())
			require.NoError(t, err)
			require.True(t, com.Has(lds.DG1))
		})
	}
}

func TestAuthenticateFailures(t *testing.T) {
	doc := simulator.Specimen()
	wrongMRZ := mrz.NewDocumentCredential("L898902C3", "740812", "130415")

	tests := []struct {
		name     string
		opts     simulator.Options
		cred     mrz.Credential
		wantKind mrtderr.Kind
	}{
		{
			name:     "wrong MRZ",
			cred:     wrongMRZ,
			wantKind: mrtderr.AuthChipRejected,
		},
		{
			name:     "wrong CAN",
			opts:     simulator.Options{PACE: true},
			cred:     mrz.NewCanCredential("123456"),
			wantKind: mrtderr.AuthChipRejected,
		},
		{
			name:     "CAN on a chip without PACE",
			cred:     doc.CanCredential(),
			wantKind: mrtderr.AuthChipRejected,
		},
		{
			name:     "MRZ on a PACE only chip",
			opts:     simulator.Options{PACE: true, DisableBAC: true},
			cred:     doc.Credential(),
			wantKind: mrtderr.AuthChipRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chip := newChip(t, tt.opts)
			_, err := (&auth.Authenticator{}).Authenticate(context.Background(), chip, tt.cred)
			require.Error(t, err)
			require.Equal(t, tt.wantKind, mrtderr.KindOf(err), "got %v", err)
		})
	}
}

func TestInvalidCredentialSendsNothing(t *testing.T) {
	creds := map[string]mrz.Credential{
		"short date":        mrz.NewDocumentCredential("L898902C3", "7408", "120415"),
		"bad check digit":   mrz.NewDocumentCredential("L898902C34", "740812", "120415"),
		"non numeric CAN":   mrz.NewCanCredential("50032A"),
		"empty document no": mrz.NewDocumentCredential("", "740812", "120415"),
		"nil":               nil,
	}
	for name, cred := range creds {
		t.Run(name, func(t *testing.T) {
			chip := newChip(t, simulator.Options{PACE: true})
			_, err := (&auth.Authenticator{}).Authenticate(context.Background(), chip, cred)
			require.True(t, mrtderr.HasKind(err, mrtderr.AuthInvalidCredentialFormat), "got %v", err)
			require.Empty(t, chip.Commands())
		})
	}
}

func TestAuthenticateTimeout(t *testing.T) {
	doc := simulator.Specimen()
	tests := []struct {
		name string
		opts simulator.Options
		cred mrz.Credential
	}{
		{name: "BAC", cred: doc.Credential()},
		{name: "PACE", opts: simulator.Options{PACE: true}, cred: doc.CanCredential()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Faults.Latency = 200 * time.Millisecond
			chip := newChip(t, tt.opts)
			ch := transport.WithTimeout(chip, 5*time.Millisecond)

			_, err := (&auth.Authenticator{}).Authenticate(context.Background(), ch, tt.cred)
			require.True(t, mrtderr.HasKind(err, mrtderr.AuthTimeout), "got %v", err)
		})
	}
}

func TestAuthenticateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chip := newChip(t, simulator.Options{
		Faults: simulator.Faults{
			OnCommand: func(_ context.Context, cmd apdu.Command) error {
				if cmd.Ins == apdu.InsGetChallenge {
					cancel()
				}
				return nil
			},
		},
	})

	_, err := (&auth.Authenticator{}).Authenticate(ctx, chip, simulator.Specimen().Credential())
	require.True(t, mrtderr.HasKind(err, mrtderr.AuthCancelled), "got %v", err)
}

func TestAuthenticateChipLost(t *testing.T) {
	chip := newChip(t, simulator.Options{Faults: simulator.Faults{LoseAfter: 2}})
	_, err := (&auth.Authenticator{}).Authenticate(context.Background(), chip, simulator.Specimen().Credential())
	require.True(t, mrtderr.HasKind(err, mrtderr.TransportLost), "got %v", err)
}

func TestChipAuthentication(t *testing.T) {
	doc := simulator.Specimen()
	tests := []struct {
		name string
		opts simulator.Options
		cred mrz.Credential
	}{
		{name: "after BAC", opts: simulator.Options{ChipAuthentication: true}, cred: doc.Credential()},
		{name: "after PACE", opts: simulator.Options{ChipAuthentication: true, PACE: true}, cred: doc.CanCredential()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			chip := newChip(t, tt.opts)
			a := &auth.Authenticator{}

			res, err := a.Authenticate(ctx, chip, tt.cred)
			require.NoError(t, err)
			before := res.Sender.Codec()

			r := lds.NewReader(res.Sender, 0)
			raw, err := r.ReadDataGroup(ctx, lds.DG14)
			require.NoError(t, err)
			dg14, err := lds.ParseDG14(raw)
			require.NoError(t, err)

			ok, err := a.ChipAuthenticate(ctx, res.Sender, dg14)
			require.NoError(t, err)
			require.True(t, ok)
			require.NotSame(t, before, res.Sender.Codec())
			require.Equal(t, mrtdcrypto.AES128, res.Sender.Codec().Algorithm())

			dg1, err := r.ReadDataGroup(ctx, lds.DG1)
			require.NoError(t, err)
			require.Equal(t, chip.DataGroup(lds.DG1), dg1)
		})
	}
}

func TestChipAuthenticationNotOffered(t *testing.T) {
	chip := newChip(t, simulator.Options{})
	a := &auth.Authenticator{}
	res, err := a.Authenticate(context.Background(), chip, simulator.Specimen().Credential())
	require.NoError(t, err)

	ok, err := a.ChipAuthenticate(context.Background(), res.Sender, &lds.SecurityInfos{})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestActiveAuthentication(t *testing.T) {
	ctx := context.Background()
	chip := newChip(t, simulator.Options{ActiveAuthentication: true})
	res, err := (&auth.Authenticator{}).Authenticate(ctx, chip, simulator.Specimen().Credential())
	require.NoError(t, err)

	r := lds.NewReader(res.Sender, 0)
	dg15, err := r.ReadDataGroup(ctx, lds.DG15)
	require.NoError(t, err)

	challenge := make([]byte, auth.ActiveAuthChallengeLen)
	_, err = rand.Read(challenge)
	require.NoError(t, err)
	signature, err := r.InternalAuthenticate(ctx, challenge)
	require.NoError(t, err)

	require.NoError(t, auth.VerifyActiveAuthentication(dg15, challenge, signature))

	other := append([]byte{}, challenge...)
	other[0] ^= 0xFF
	err = auth.VerifyActiveAuthentication(dg15, other, signature)
	require.True(t, mrtderr.HasKind(err, mrtderr.AuthChipRejected), "got %v", err)
}

func TestVerifyActiveAuthenticationKeyErrors(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ecSPKI, err := x509.MarshalPKIXPublicKey(&ecKey.PublicKey)
	require.NoError(t, err)

	tests := []struct {
		name      string
		dg15      []byte
		malformed bool
	}{
		{name: "empty", dg15: nil, malformed: true},
		{name: "wrong tag", dg15: tlv.Encode(0x6E, ecSPKI), malformed: true},
		{name: "not a public key", dg15: tlv.Encode(lds.DG15.Tag(), []byte{0x04, 0x01, 0x00}), malformed: true},
		{name: "EC key", dg15: tlv.Encode(lds.DG15.Tag(), ecSPKI)},
	}
	challenge := make([]byte, auth.ActiveAuthChallengeLen)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.VerifyActiveAuthentication(tt.dg15, challenge, []byte{0x01})
			require.Error(t, err)
			require.Equal(t, tt.malformed, mrtderr.HasKind(err, mrtderr.ReadMalformedField), "got %v", err)
		})
	}
}
