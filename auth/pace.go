package auth

import (
	"context"
	"crypto/elliptic"
	"math/big"

	"go-emrtd-connector/apdu"
	"go-emrtd-connector/lds"
	"go-emrtd-connector/mrtdcrypto"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/mrz"
	"go-emrtd-connector/securemessaging"
	"go-emrtd-connector/tlv"
	"go-emrtd-connector/transport"
)

// Dynamic authentication data tags.
const (
	tagDynamicAuth   tlv.Tag = 0x7C
	tagEncNonce      tlv.Tag = 0x80
	tagMapTerminal   tlv.Tag = 0x81
	tagMapChip       tlv.Tag = 0x82
	tagEphTerminal   tlv.Tag = 0x83
	tagEphChip       tlv.Tag = 0x84
	tagTokenTerminal tlv.Tag = 0x85
	tagTokenChip     tlv.Tag = 0x86
)

// PACESetATData builds the MSE:Set AT data for PACE.
func PACESetATData(info lds.PACEInfo, passwordRef byte) ([]byte, error) {
	oid, err := oidContent(info.Protocol)
	if err != nil {
		return nil, err
	}
	data := tlv.Encode(0x80, oid)
	data = append(data, tlv.Encode(0x83, []byte{passwordRef})...)
	if info.ParameterID != 0 {
		data = append(data, tlv.Encode(0x84, []byte{byte(info.ParameterID)})...)
	}
	return data, nil
}

// generalAuthenticate sends one step of the chained exchange and returns the
// value of respTag inside the chip's dynamic authentication data.
func generalAuthenticate(ctx context.Context, s transport.Sender, tag tlv.Tag, value []byte, respTag tlv.Tag, last bool, step string) ([]byte, error) {
	var body []byte
	if value != nil {
		body = tlv.Encode(tag, value)
	}
	resp, err := send(ctx, s, apdu.GeneralAuthenticate(tlv.Encode(tagDynamicAuth, body), last), step)
	if err != nil {
		return nil, err
	}
	inner, err := tlv.Unwrap(resp.Data, tagDynamicAuth)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.AuthChipRejected, step)
	}
	nodes, err := tlv.Decode(inner)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.AuthChipRejected, step)
	}
	n, ok := tlv.Find(nodes, respTag)
	if !ok {
		return nil, rejected("%s: response lacks tag %s", step, respTag)
	}
	return n.Value, nil
}

// pace runs PACE with generic mapping over ECDH and returns a sender
// protected with the agreed AES session keys.
func (a *Authenticator) pace(ctx context.Context, plain transport.Sender, ch transport.Channel, cred mrz.Credential, info lds.PACEInfo) (*securemessaging.Sender, error) {
	alg, err := PACECipher(info.Protocol)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.AuthChipRejected, "PACE")
	}
	curve, err := CurveByParameterID(info.ParameterID)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.AuthChipRejected, "PACE")
	}
	password, err := cred.Password()
	if err != nil {
		return nil, err
	}
	kPi := mrtdcrypto.KDF(password, mrtdcrypto.CounterPI, alg)

	setAT, err := PACESetATData(info, cred.PasswordRef())
	if err != nil {
		return nil, err
	}
	if _, err := send(ctx, plain, apdu.MSESetAT(setAT), "MSE:Set AT"); err != nil {
		return nil, err
	}

	// 1. encrypted nonce
	z, err := generalAuthenticate(ctx, plain, 0, nil, tagEncNonce, false, "PACE nonce")
	if err != nil {
		return nil, err
	}
	block, err := mrtdcrypto.NewBlock(alg, kPi)
	if err != nil {
		return nil, err
	}
	nonce, err := mrtdcrypto.DecryptCBC(block, make([]byte, block.BlockSize()), z)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.AuthChipRejected, "decrypting PACE nonce")
	}

	// 2. generic mapping
	mapKey, mapX, mapY, err := GenerateKey(curve, a.random())
	if err != nil {
		return nil, err
	}
	chipMap, err := generalAuthenticate(ctx, plain, tagMapTerminal, EncodePoint(curve, mapX, mapY), tagMapChip, false, "PACE mapping")
	if err != nil {
		return nil, err
	}
	gx, gy, err := mapGenerator(curve, nonce, mapKey, chipMap)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.AuthChipRejected, "PACE mapping")
	}

	// 3. key agreement on the mapped generator
	ephKey, ephX, ephY, err := GenerateKeyOn(curve, gx, gy, a.random())
	if err != nil {
		return nil, err
	}
	chipEph, err := generalAuthenticate(ctx, plain, tagEphTerminal, EncodePoint(curve, ephX, ephY), tagEphChip, false, "PACE key agreement")
	if err != nil {
		return nil, err
	}
	chipX, chipY, err := DecodePoint(curve, chipEph)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.AuthChipRejected, "PACE chip ephemeral key")
	}
	if chipX.Cmp(ephX) == 0 && chipY.Cmp(ephY) == 0 {
		return nil, rejected("chip echoed the terminal ephemeral key")
	}
	secret, err := SharedSecret(curve, chipX, chipY, ephKey)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.AuthChipRejected, "PACE key agreement")
	}
	ksEnc := mrtdcrypto.KDF(secret, mrtdcrypto.CounterEnc, alg)
	ksMac := mrtdcrypto.KDF(secret, mrtdcrypto.CounterMAC, alg)

	// 4. mutual authentication
	token, err := AuthToken(alg, ksMac, info.Protocol, curve, chipX, chipY)
	if err != nil {
		return nil, err
	}
	chipToken, err := generalAuthenticate(ctx, plain, tagTokenTerminal, token, tagTokenChip, true, "PACE mutual authentication")
	if err != nil {
		return nil, err
	}
	want, err := AuthToken(alg, ksMac, info.Protocol, curve, ephX, ephY)
	if err != nil {
		return nil, err
	}
	if !mrtdcrypto.Equal(want, chipToken) {
		return nil, rejected("PACE authentication token mismatch")
	}

	codec, err := securemessaging.NewAES(ksEnc, ksMac)
	if err != nil {
		return nil, err
	}
	return securemessaging.NewSender(ch, codec), nil
}

func mapGenerator(curve elliptic.Curve, nonce, mapKey, chipMap []byte) (*big.Int, *big.Int, error) {
	x, y, err := DecodePoint(curve, chipMap)
	if err != nil {
		return nil, nil, err
	}
	hx, hy := curve.ScalarMult(x, y, mapKey)
	return MapGenerator(curve, nonce, hx, hy)
}
