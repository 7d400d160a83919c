package auth

import (
	"context"
	"crypto/elliptic"
	"encoding/asn1"
	"fmt"
	"math/big"

	"go-emrtd-connector/apdu"
	"go-emrtd-connector/lds"
	"go-emrtd-connector/mrtdcrypto"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/securemessaging"
	"go-emrtd-connector/tlv"
)

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type subjectPublicKeyInfo struct {
	Algorithm algorithmIdentifier
	PublicKey asn1.BitString
}

type fieldID struct {
	FieldType asn1.ObjectIdentifier
	Prime     *big.Int
}

type curveCoefficients struct {
	A    []byte
	B    []byte
	Seed asn1.BitString `asn1:"optional"`
}

// ecParameters are explicit domain parameters as found in many DG14 files.
type ecParameters struct {
	Version  int
	FieldID  fieldID
	Curve    curveCoefficients
	Base     []byte
	Order    *big.Int
	Cofactor int `asn1:"optional"`
}

// ParseECPublicKey decodes an elliptic curve SubjectPublicKeyInfo with
// named or explicit domain parameters.
func ParseECPublicKey(spki []byte) (elliptic.Curve, *big.Int, *big.Int, error) {
	var info subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(spki, &info); err != nil {
		return nil, nil, nil, fmt.Errorf("decoding public key: %w", err)
	}

	var curve elliptic.Curve
	params := info.Algorithm.Parameters
	switch params.Tag {
	case asn1.TagOID:
		var oid asn1.ObjectIdentifier
		if _, err := asn1.Unmarshal(params.FullBytes, &oid); err != nil {
			return nil, nil, nil, fmt.Errorf("decoding curve name: %w", err)
		}
		c, err := CurveByOID(oid)
		if err != nil {
			return nil, nil, nil, err
		}
		curve = c
	case asn1.TagSequence:
		var ec ecParameters
		if _, err := asn1.Unmarshal(params.FullBytes, &ec); err != nil {
			return nil, nil, nil, fmt.Errorf("decoding domain parameters: %w", err)
		}
		c, err := CurveByPrime(ec.FieldID.Prime)
		if err != nil {
			return nil, nil, nil, err
		}
		if ec.Order != nil && c.Params().N.Cmp(ec.Order) != 0 {
			return nil, nil, nil, fmt.Errorf("%w: order mismatch", errUnsupportedCurve)
		}
		curve = c
	default:
		return nil, nil, nil, fmt.Errorf("%w: parameters tag %d", errUnsupportedCurve, params.Tag)
	}

	x, y, err := DecodePoint(curve, info.PublicKey.RightAlign())
	if err != nil {
		return nil, nil, nil, err
	}
	return curve, x, y, nil
}

// MarshalECPublicKey encodes a SubjectPublicKeyInfo with a named curve.
func MarshalECPublicKey(curve elliptic.Curve, x, y *big.Int) ([]byte, error) {
	var oid asn1.ObjectIdentifier
	for _, c := range curves {
		if c.curve().Params().P.Cmp(curve.Params().P) == 0 {
			oid = c.oid
		}
	}
	if oid == nil {
		return nil, errUnsupportedCurve
	}
	namedCurve, err := asn1.Marshal(oid)
	if err != nil {
		return nil, err
	}
	point := EncodePoint(curve, x, y)
	return asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{
			Algorithm:  asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1},
			Parameters: asn1.RawValue{FullBytes: namedCurve},
		},
		PublicKey: asn1.BitString{Bytes: point, BitLength: 8 * len(point)},
	})
}

// ChipAuthSetATData builds the MSE:Set AT data for chip authentication.
func ChipAuthSetATData(info lds.ChipAuthenticationInfo) ([]byte, error) {
	oid, err := oidContent(info.Protocol)
	if err != nil {
		return nil, err
	}
	data := tlv.Encode(0x80, oid)
	if info.HasKeyID {
		id := big.NewInt(int64(info.KeyID)).Bytes()
		if len(id) == 0 {
			id = []byte{0}
		}
		data = append(data, tlv.Encode(0x84, id)...)
	}
	return data, nil
}

// ChipAuthenticate runs chip authentication with the key DG14 publishes and
// replaces the session keys of sender. It reports false when DG14 offers no
// supported configuration, leaving the session untouched.
func (a *Authenticator) ChipAuthenticate(ctx context.Context, sender *securemessaging.Sender, dg14 *lds.SecurityInfos) (bool, error) {
	info, keyInfo, ok := dg14.SupportedChipAuthentication()
	if !ok {
		return false, nil
	}
	alg, err := ChipAuthCipher(info.Protocol)
	if err != nil {
		return false, nil
	}
	curve, chipX, chipY, err := ParseECPublicKey(keyInfo.PublicKey)
	if err != nil {
		return false, mrtderr.Force(err, mrtderr.AuthChipRejected, "chip authentication public key")
	}

	key, x, y, err := GenerateKey(curve, a.random())
	if err != nil {
		return false, err
	}
	setAT, err := ChipAuthSetATData(info)
	if err != nil {
		return false, err
	}
	if _, err := send(ctx, sender, apdu.MSESetATChipAuth(setAT), "chip authentication MSE:Set AT"); err != nil {
		return false, err
	}
	data := tlv.Encode(tagDynamicAuth, tlv.Encode(tagEncNonce, EncodePoint(curve, x, y)))
	if _, err := send(ctx, sender, apdu.GeneralAuthenticate(data, true), "chip authentication key agreement"); err != nil {
		return false, err
	}

	secret, err := SharedSecret(curve, chipX, chipY, key)
	if err != nil {
		return false, mrtderr.Force(err, mrtderr.AuthChipRejected, "chip authentication key agreement")
	}
	codec, err := ChipAuthCodec(alg, secret)
	if err != nil {
		return false, err
	}
	sender.Rekey(codec)
	return true, nil
}

// ChipAuthCodec derives the secure messaging codec that follows chip
// authentication. The counter restarts at zero.
func ChipAuthCodec(alg mrtdcrypto.Algorithm, secret []byte) (*securemessaging.Codec, error) {
	ksEnc := mrtdcrypto.KDF(secret, mrtdcrypto.CounterEnc, alg)
	ksMac := mrtdcrypto.KDF(secret, mrtdcrypto.CounterMAC, alg)
	if alg == mrtdcrypto.TripleDES {
		return securemessaging.NewTripleDES(ksEnc, ksMac, make([]byte, 8))
	}
	return securemessaging.NewAES(ksEnc, ksMac)
}
