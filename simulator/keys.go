package simulator

import (
	"crypto"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"time"

	"go-emrtd-connector/auth"
	"go-emrtd-connector/lds"
	"go-emrtd-connector/tlv"

	"go.mozilla.org/pkcs7"
)

// Keys is the key material of one simulated document.
type Keys struct {
	SignerKey  *rsa.PrivateKey
	SignerCert *x509.Certificate

	// ActiveAuth backs DG15 and INTERNAL AUTHENTICATE.
	ActiveAuth *rsa.PrivateKey

	// Chip authentication key pair published in DG14.
	ChipAuthCurve elliptic.Curve
	ChipAuthKey   []byte
	ChipAuthX     *big.Int
	ChipAuthY     *big.Int
}

// NewKeys generates a document signer, an active authentication key and a
// P-256 chip authentication key.
func NewKeys() (*Keys, error) {
	signerKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating document signer key: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Country:      []string{"UT"},
			Organization: []string{"Utopia"},
			CommonName:   "Utopia Document Signer",
		},
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().AddDate(10, 0, 0),
		KeyUsage:  x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &signerKey.PublicKey, signerKey)
	if err != nil {
		return nil, fmt.Errorf("creating document signer certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	aaKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return nil, fmt.Errorf("generating active authentication key: %w", err)
	}

	curve := elliptic.P256()
	caKey, caX, caY, err := auth.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, err
	}

	return &Keys{
		SignerKey:     signerKey,
		SignerCert:    cert,
		ActiveAuth:    aaKey,
		ChipAuthCurve: curve,
		ChipAuthKey:   caKey,
		ChipAuthX:     caX,
		ChipAuthY:     caY,
	}, nil
}

// DG14 publishes the chip authentication key.
func (k *Keys) DG14() ([]byte, error) {
	spki, err := auth.MarshalECPublicKey(k.ChipAuthCurve, k.ChipAuthX, k.ChipAuthY)
	if err != nil {
		return nil, err
	}
	infos := lds.SecurityInfos{
		ChipAuthentication: []lds.ChipAuthenticationInfo{
			{Protocol: lds.OIDCAECDHAES128, Version: 1},
		},
		ChipAuthenticationKeys: []lds.ChipAuthenticationPublicKeyInfo{
			{Protocol: lds.OIDPKECDH, PublicKey: spki},
		},
	}
	der, err := infos.Marshal()
	if err != nil {
		return nil, err
	}
	return tlv.Encode(lds.DG14.Tag(), der), nil
}

// DG15 publishes the active authentication public key.
func (k *Keys) DG15() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&k.ActiveAuth.PublicKey)
	if err != nil {
		return nil, err
	}
	return tlv.Encode(lds.DG15.Tag(), der), nil
}

// SOD signs a security object over groups.
func (k *Keys) SOD(groups map[lds.DataGroupID][]byte) ([]byte, error) {
	content, err := lds.EncodeLDSSecurityObject(crypto.SHA256, groups)
	if err != nil {
		return nil, err
	}
	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("creating signed data: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(k.SignerCert, k.SignerKey, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("adding document signer: %w", err)
	}
	der, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("signing security object: %w", err)
	}
	return tlv.Encode(lds.TagSOD, der), nil
}

// CardAccess advertises PACE with generic mapping on the given parameters.
func CardAccess(parameterID int) ([]byte, error) {
	infos := lds.SecurityInfos{
		PACE: []lds.PACEInfo{
			{Protocol: lds.OIDPACEECDHGMAES128, Version: 2, ParameterID: parameterID},
		},
	}
	return infos.Marshal()
}

// SignActiveAuth answers an INTERNAL AUTHENTICATE challenge the way the chip
// does, with a random recoverable part read from random.
func (k *Keys) SignActiveAuth(random io.Reader, challenge []byte) ([]byte, error) {
	m1 := make([]byte, recoverableLen(k.ActiveAuth))
	if _, err := io.ReadFull(random, m1); err != nil {
		return nil, err
	}
	return signISO9796(k.ActiveAuth, m1, challenge), nil
}

// signISO9796 produces an ISO/IEC 9796-2 scheme 1 signature with SHA-1 and
// a recoverable part filling the modulus.
func signISO9796(key *rsa.PrivateKey, m1, m2 []byte) []byte {
	k := key.Size()
	h := crypto.SHA1.New()
	h.Write(m1)
	h.Write(m2)

	f := make([]byte, 0, k)
	f = append(f, 0x6A)
	f = append(f, m1...)
	f = append(f, h.Sum(nil)...)
	f = append(f, 0xBC)

	m := new(big.Int).SetBytes(f)
	s := new(big.Int).Exp(m, key.D, key.N)
	return s.FillBytes(make([]byte, k))
}

// recoverableLen is the size of M1 for key.
func recoverableLen(key *rsa.PrivateKey) int {
	return key.Size() - 2 - crypto.SHA1.Size()
}
