package auth

import (
	"bytes"
	"crypto"
	"fmt"
	"log/slog"

	"go-emrtd-connector/mrtderr"

	"github.com/gmrtd/gmrtd/cms"
	"github.com/gmrtd/gmrtd/cryptoutils"
	"github.com/gmrtd/gmrtd/document"
	"github.com/gmrtd/gmrtd/utils"
)

// ActiveAuthChallengeLen is the size of the INTERNAL AUTHENTICATE challenge.
const ActiveAuthChallengeLen = 8

// VerifyActiveAuthentication checks an RSA active authentication signature
// over challenge with the public key stored in DG15.
func VerifyActiveAuthentication(dg15, challenge, signature []byte) error {
	if len(challenge) != ActiveAuthChallengeLen {
		return fmt.Errorf("challenge must be %d bytes, got %d", ActiveAuthChallengeLen, len(challenge))
	}
	if len(signature) == 0 {
		return mrtderr.New(mrtderr.AuthChipRejected, "empty active authentication signature")
	}
	group, err := document.NewDG15(dg15)
	if err != nil {
		return mrtderr.Force(err, mrtderr.ReadMalformedField, "DG15")
	}
	if group == nil {
		return mrtderr.New(mrtderr.ReadMalformedField, "DG15 is empty")
	}
	spki, err := cms.Asn1decodeSubjectPublicKeyInfo(group.SubjectPublicKeyInfoBytes)
	if err != nil {
		return mrtderr.Force(err, mrtderr.ReadMalformedField, "DG15")
	}
	pubKey, err := spki.RsaPubKey()
	if err != nil {
		return fmt.Errorf("active authentication key is not RSA: %w", err)
	}

	f := cryptoutils.RsaDecryptWithPublicKey(signature, *pubKey)
	m1, d, hashAlg, err := RecoverMessage(f)
	if err != nil {
		return mrtderr.Force(err, mrtderr.AuthChipRejected, "active authentication signature")
	}

	m := append(bytes.Clone(m1), challenge...)
	if !bytes.Equal(d, cryptoutils.CryptoHash(hashAlg, m)) {
		return mrtderr.New(mrtderr.AuthChipRejected, "active authentication signature does not cover the challenge")
	}
	return nil
}

// RecoverMessage splits an ISO/IEC 9796-2 scheme 1 message representative
// into the recoverable part M1, the digest and the hash named by the trailer.
func RecoverMessage(f []byte) (m1 []byte, d []byte, hashAlg crypto.Hash, err error) {
	tmp := bytes.Clone(f)
	// leading zero bytes are lost when the representative is a big integer
	for len(tmp) > 0 && tmp[0] == 0x00 {
		tmp = tmp[1:]
	}
	if len(tmp) < 4 {
		return nil, nil, 0, fmt.Errorf("message representative too short")
	}
	if tmp[0] != 0x6A {
		return nil, nil, 0, fmt.Errorf("message representative must start with 0x6A, got 0x%02X", tmp[0])
	}
	tmp = tmp[1:]

	trailerLen := 1
	switch tmp[len(tmp)-1] {
	case 0xBC:
		hashAlg = crypto.SHA1
	case 0xCC:
		switch tmp[len(tmp)-2] {
		case 0x38:
			hashAlg = crypto.SHA224
		case 0x34:
			hashAlg = crypto.SHA256
		case 0x36:
			hashAlg = crypto.SHA384
		case 0x35:
			hashAlg = crypto.SHA512
		default:
			return nil, nil, 0, fmt.Errorf("unknown hash in trailer %02XCC", tmp[len(tmp)-2])
		}
		trailerLen = 2
	default:
		return nil, nil, 0, fmt.Errorf("unknown trailer byte 0x%02X", tmp[len(tmp)-1])
	}
	tmp = tmp[:len(tmp)-trailerLen]

	digestSize := cryptoutils.CryptoHashDigestSize(hashAlg)
	if len(tmp) < digestSize {
		return nil, nil, 0, fmt.Errorf("%d bytes left for a %d byte digest", len(tmp), digestSize)
	}
	d = bytes.Clone(tmp[len(tmp)-digestSize:])
	m1 = bytes.Clone(tmp[:len(tmp)-digestSize])

	slog.Debug("active authentication message recovered", "m1", utils.BytesToHex(m1), "digest", utils.BytesToHex(d), "hash", hashAlg)
	return m1, d, hashAlg, nil
}
