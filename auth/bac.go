package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go-emrtd-connector/apdu"
	"go-emrtd-connector/mrtdcrypto"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/mrz"
	"go-emrtd-connector/securemessaging"
	"go-emrtd-connector/transport"
)

// BAC handshake sizes.
const (
	bacNonceLen    = 8
	bacKeyLen      = 16
	bacResponseLen = 40
)

// bac runs Basic Access Control and returns a sender protected with the
// agreed 3DES session keys.
func (a *Authenticator) bac(ctx context.Context, plain transport.Sender, ch transport.Channel, cred mrz.DocumentCredential) (*securemessaging.Sender, error) {
	seed, err := cred.KeySeed()
	if err != nil {
		return nil, err
	}
	kEnc := mrtdcrypto.KDF(seed, mrtdcrypto.CounterEnc, mrtdcrypto.TripleDES)
	kMac := mrtdcrypto.KDF(seed, mrtdcrypto.CounterMAC, mrtdcrypto.TripleDES)
	block, err := mrtdcrypto.NewTripleDES(kEnc)
	if err != nil {
		return nil, err
	}
	zeroIV := make([]byte, bacNonceLen)

	resp, err := send(ctx, plain, apdu.GetChallenge(bacNonceLen), "get challenge")
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != bacNonceLen {
		return nil, rejected("get challenge returned %d bytes", len(resp.Data))
	}
	rndIC := resp.Data

	rndIFD := make([]byte, bacNonceLen)
	kIFD := make([]byte, bacKeyLen)
	if _, err := io.ReadFull(a.random(), rndIFD); err != nil {
		return nil, fmt.Errorf("generating RND.IFD: %w", err)
	}
	if _, err := io.ReadFull(a.random(), kIFD); err != nil {
		return nil, fmt.Errorf("generating K.IFD: %w", err)
	}

	s := make([]byte, 0, 32)
	s = append(s, rndIFD...)
	s = append(s, rndIC...)
	s = append(s, kIFD...)
	eIFD, err := mrtdcrypto.EncryptCBC(block, zeroIV, s)
	if err != nil {
		return nil, err
	}
	mIFD, err := mrtdcrypto.RetailMAC(kMac, mrtdcrypto.Pad(eIFD, bacNonceLen))
	if err != nil {
		return nil, err
	}

	resp, err = send(ctx, plain, apdu.ExternalAuthenticate(append(eIFD, mIFD...), bacResponseLen), "external authenticate")
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != bacResponseLen {
		return nil, rejected("external authenticate returned %d bytes", len(resp.Data))
	}
	eIC, mIC := resp.Data[:32], resp.Data[32:]
	want, err := mrtdcrypto.RetailMAC(kMac, mrtdcrypto.Pad(eIC, bacNonceLen))
	if err != nil {
		return nil, err
	}
	if !mrtdcrypto.Equal(want, mIC) {
		return nil, rejected("chip response MAC mismatch")
	}

	r, err := mrtdcrypto.DecryptCBC(block, zeroIV, eIC)
	if err != nil {
		return nil, mrtderr.Force(err, mrtderr.AuthChipRejected, "decrypting chip response")
	}
	if !bytes.Equal(r[:8], rndIC) || !bytes.Equal(r[8:16], rndIFD) {
		return nil, rejected("chip response does not echo the nonces")
	}
	kIC := r[16:32]

	sessionSeed := mrtdcrypto.XOR(kIFD, kIC)
	ksEnc := mrtdcrypto.KDF(sessionSeed, mrtdcrypto.CounterEnc, mrtdcrypto.TripleDES)
	ksMac := mrtdcrypto.KDF(sessionSeed, mrtdcrypto.CounterMAC, mrtdcrypto.TripleDES)
	ssc := append(append([]byte{}, rndIC[4:8]...), rndIFD[4:8]...)

	codec, err := securemessaging.NewTripleDES(ksEnc, ksMac, ssc)
	if err != nil {
		return nil, err
	}
	return securemessaging.NewSender(ch, codec), nil
}
