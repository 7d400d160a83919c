package auth

import (
	"crypto/elliptic"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"

	"go-emrtd-connector/lds"
	"go-emrtd-connector/mrtdcrypto"
	"go-emrtd-connector/tlv"

	"github.com/osanderson/brainpool"
)

var (
	oidNamedP256        = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	oidBrainpoolP256r1  = asn1.ObjectIdentifier{1, 3, 36, 3, 3, 2, 8, 1, 1, 7}
	errPointNotOnCurve  = errors.New("point is not on the curve")
	errPointAtInfinity  = errors.New("point at infinity")
	errUnsupportedCurve = errors.New("unsupported domain parameters")
)

type namedCurve struct {
	paramID int
	oid     asn1.ObjectIdentifier
	curve   func() elliptic.Curve
}

var curves = []namedCurve{
	{lds.ParamNISTP256, oidNamedP256, elliptic.P256},
	{lds.ParamBrainpoolP256r1, oidBrainpoolP256r1, brainpool.P256r1},
}

// CurveByParameterID returns the curve for a standardized PACE domain
// parameter identifier.
func CurveByParameterID(id int) (elliptic.Curve, error) {
	for _, c := range curves {
		if c.paramID == id {
			return c.curve(), nil
		}
	}
	return nil, fmt.Errorf("%w: parameter id %d", errUnsupportedCurve, id)
}

// CurveByOID returns the curve for a named curve object identifier.
func CurveByOID(oid asn1.ObjectIdentifier) (elliptic.Curve, error) {
	for _, c := range curves {
		if c.oid.Equal(oid) {
			return c.curve(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errUnsupportedCurve, oid)
}

// CurveByPrime matches explicit domain parameters by their field prime.
func CurveByPrime(p *big.Int) (elliptic.Curve, error) {
	for _, c := range curves {
		curve := c.curve()
		if curve.Params().P.Cmp(p) == 0 {
			return curve, nil
		}
	}
	return nil, fmt.Errorf("%w: prime %x", errUnsupportedCurve, p)
}

func fieldSize(c elliptic.Curve) int {
	return (c.Params().BitSize + 7) / 8
}

// EncodePoint returns the uncompressed encoding 04 || x || y.
func EncodePoint(c elliptic.Curve, x, y *big.Int) []byte {
	n := fieldSize(c)
	out := make([]byte, 1+2*n)
	out[0] = 0x04
	x.FillBytes(out[1 : 1+n])
	y.FillBytes(out[1+n:])
	return out
}

// DecodePoint parses an uncompressed point and checks it lies on c.
func DecodePoint(c elliptic.Curve, b []byte) (*big.Int, *big.Int, error) {
	n := fieldSize(c)
	if len(b) != 1+2*n || b[0] != 0x04 {
		return nil, nil, fmt.Errorf("malformed point of %d bytes", len(b))
	}
	x := new(big.Int).SetBytes(b[1 : 1+n])
	y := new(big.Int).SetBytes(b[1+n:])
	if !c.IsOnCurve(x, y) {
		return nil, nil, errPointNotOnCurve
	}
	return x, y, nil
}

// GenerateKey returns a private scalar in [1, N-1] and its public point.
func GenerateKey(c elliptic.Curve, random io.Reader) ([]byte, *big.Int, *big.Int, error) {
	k, err := randomScalar(c, random)
	if err != nil {
		return nil, nil, nil, err
	}
	x, y := c.ScalarBaseMult(k)
	return k, x, y, nil
}

// GenerateKeyOn is GenerateKey with the generator (gx, gy) in place of the
// curve's base point. PACE generic mapping uses it with the mapped generator.
func GenerateKeyOn(c elliptic.Curve, gx, gy *big.Int, random io.Reader) ([]byte, *big.Int, *big.Int, error) {
	k, err := randomScalar(c, random)
	if err != nil {
		return nil, nil, nil, err
	}
	x, y := c.ScalarMult(gx, gy, k)
	return k, x, y, nil
}

func randomScalar(c elliptic.Curve, random io.Reader) ([]byte, error) {
	n := c.Params().N
	buf := make([]byte, fieldSize(c)+8)
	if _, err := io.ReadFull(random, buf); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	nMinus1 := new(big.Int).Sub(n, big.NewInt(1))
	k := new(big.Int).SetBytes(buf)
	k.Mod(k, nMinus1)
	k.Add(k, big.NewInt(1))
	return k.FillBytes(make([]byte, fieldSize(c))), nil
}

// SharedSecret is the x coordinate of k·(x, y), padded to the field size.
func SharedSecret(c elliptic.Curve, x, y *big.Int, k []byte) ([]byte, error) {
	if !c.IsOnCurve(x, y) {
		return nil, errPointNotOnCurve
	}
	sx, sy := c.ScalarMult(x, y, k)
	if sx.Sign() == 0 && sy.Sign() == 0 {
		return nil, errPointAtInfinity
	}
	return sx.FillBytes(make([]byte, fieldSize(c))), nil
}

// MapGenerator computes the generic mapping G' = s·G + H.
func MapGenerator(c elliptic.Curve, nonce []byte, hx, hy *big.Int) (*big.Int, *big.Int, error) {
	if !c.IsOnCurve(hx, hy) {
		return nil, nil, errPointNotOnCurve
	}
	sx, sy := c.ScalarBaseMult(nonce)
	gx, gy := c.Add(sx, sy, hx, hy)
	if gx.Sign() == 0 && gy.Sign() == 0 {
		return nil, nil, errPointAtInfinity
	}
	return gx, gy, nil
}

// oidContent strips the tag and length from the DER encoding of oid.
func oidContent(oid asn1.ObjectIdentifier) ([]byte, error) {
	der, err := asn1.Marshal(oid)
	if err != nil {
		return nil, err
	}
	return tlv.Unwrap(der, 0x06)
}

// AuthToken is the PACE authentication token: a MAC over the public key
// data object of the peer's ephemeral key.
func AuthToken(alg mrtdcrypto.Algorithm, ksMac []byte, protocol asn1.ObjectIdentifier, c elliptic.Curve, x, y *big.Int) ([]byte, error) {
	oid, err := oidContent(protocol)
	if err != nil {
		return nil, err
	}
	data := tlv.EncodeNested(0x7F49,
		tlv.Encode(0x06, oid),
		tlv.Encode(0x86, EncodePoint(c, x, y)),
	)
	if alg == mrtdcrypto.TripleDES {
		data = mrtdcrypto.Pad(data, alg.BlockSize())
	}
	return mrtdcrypto.MAC8(alg, ksMac, data)
}

// PACECipher returns the cipher an id-PACE-ECDH-GM protocol agrees keys for.
func PACECipher(protocol asn1.ObjectIdentifier) (mrtdcrypto.Algorithm, error) {
	if len(protocol) != len(lds.OIDPACEECDH)+1 || !protocol[:len(lds.OIDPACEECDH)].Equal(lds.OIDPACEECDH) {
		return 0, fmt.Errorf("unsupported PACE protocol %s", protocol)
	}
	switch protocol[len(protocol)-1] {
	case 2:
		return mrtdcrypto.AES128, nil
	case 3:
		return mrtdcrypto.AES192, nil
	case 4:
		return mrtdcrypto.AES256, nil
	}
	return 0, fmt.Errorf("unsupported PACE protocol %s", protocol)
}

// ChipAuthCipher returns the cipher an id-CA-ECDH protocol agrees keys for.
func ChipAuthCipher(protocol asn1.ObjectIdentifier) (mrtdcrypto.Algorithm, error) {
	switch {
	case protocol.Equal(lds.OIDCAECDH3DES):
		return mrtdcrypto.TripleDES, nil
	case protocol.Equal(lds.OIDCAECDHAES128):
		return mrtdcrypto.AES128, nil
	}
	return 0, fmt.Errorf("unsupported chip authentication protocol %s", protocol)
}
