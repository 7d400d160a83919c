// Package securemessaging protects APDUs after access control, following
// ICAO 9303 part 11 section 9.8 for both the 3DES and AES cipher suites.
package securemessaging

import (
	"crypto/cipher"
	"fmt"
	"sync"

	"go-emrtd-connector/apdu"
	"go-emrtd-connector/mrtdcrypto"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/tlv"
)

// Data object tags.
const (
	tagEncryptedOdd    tlv.Tag = 0x85
	tagEncrypted       tlv.Tag = 0x87
	tagMAC             tlv.Tag = 0x8E
	tagExpectedLength  tlv.Tag = 0x97
	tagProcessingState tlv.Tag = 0x99

	paddingIndicator = 0x01
)

// keys holds one direction-independent set of session keys and the send
// sequence counter. Terminal and chip each own one.
type keys struct {
	alg    mrtdcrypto.Algorithm
	enc    cipher.Block
	macKey []byte
	ssc    []byte
}

func newKeys(alg mrtdcrypto.Algorithm, ksEnc, ksMac, ssc []byte) (*keys, error) {
	enc, err := mrtdcrypto.NewBlock(alg, ksEnc)
	if err != nil {
		return nil, fmt.Errorf("session encryption key: %w", err)
	}
	if len(ssc) != alg.BlockSize() {
		return nil, fmt.Errorf("send sequence counter must be %d bytes, got %d", alg.BlockSize(), len(ssc))
	}
	if alg == mrtdcrypto.TripleDES && len(ksMac) != 16 {
		return nil, fmt.Errorf("session MAC key must be 16 bytes, got %d", len(ksMac))
	}
	return &keys{
		alg:    alg,
		enc:    enc,
		macKey: append([]byte{}, ksMac...),
		ssc:    append([]byte{}, ssc...),
	}, nil
}

func (k *keys) increment() {
	for i := len(k.ssc) - 1; i >= 0; i-- {
		k.ssc[i]++
		if k.ssc[i] != 0 {
			return
		}
	}
}

func (k *keys) iv() []byte {
	if k.alg == mrtdcrypto.TripleDES {
		return make([]byte, k.enc.BlockSize())
	}
	return mrtdcrypto.EncryptECB(k.enc, k.ssc)
}

func (k *keys) encrypt(plain []byte) ([]byte, error) {
	return mrtdcrypto.EncryptCBC(k.enc, k.iv(), mrtdcrypto.Pad(plain, k.enc.BlockSize()))
}

func (k *keys) decrypt(ciphertext []byte) ([]byte, error) {
	plain, err := mrtdcrypto.DecryptCBC(k.enc, k.iv(), ciphertext)
	if err != nil {
		return nil, err
	}
	return mrtdcrypto.Unpad(plain)
}

// mac computes the MAC over SSC || data with ISO 9797-1 padding applied.
func (k *keys) mac(data []byte) ([]byte, error) {
	n := make([]byte, 0, len(k.ssc)+len(data)+k.enc.BlockSize())
	n = append(n, k.ssc...)
	n = append(n, data...)
	return mrtdcrypto.MAC8(k.alg, k.macKey, mrtdcrypto.Pad(n, k.enc.BlockSize()))
}

func (k *keys) paddedHeader(cmd apdu.Command) []byte {
	h := []byte{cmd.Cla | apdu.ClaSecureMessage, cmd.Ins, cmd.P1, cmd.P2}
	return mrtdcrypto.Pad(h, k.enc.BlockSize())
}

func encodeLe(ne int, extended bool) []byte {
	if extended {
		if ne >= apdu.MaxExtendedLe {
			return []byte{0x00, 0x00}
		}
		return []byte{byte(ne >> 8), byte(ne)}
	}
	if ne >= apdu.MaxShortLe {
		return []byte{0x00}
	}
	return []byte{byte(ne)}
}

func decodeLe(b []byte) int {
	switch len(b) {
	case 1:
		if b[0] == 0 {
			return apdu.MaxShortLe
		}
		return int(b[0])
	case 2:
		n := int(b[0])<<8 | int(b[1])
		if n == 0 {
			return apdu.MaxExtendedLe
		}
		return n
	}
	return 0
}

// object is one decoded data object together with its encoded form.
type object struct {
	tag   tlv.Tag
	value []byte
	raw   []byte
}

func splitObjects(b []byte) ([]object, error) {
	var objs []object
	for len(b) > 0 {
		n, rest, err := tlv.DecodeOne(b)
		if err != nil {
			return nil, err
		}
		objs = append(objs, object{tag: n.Tag, value: n.Value, raw: b[:n.Len]})
		b = rest
	}
	return objs, nil
}

// Codec is the terminal side of a secure messaging session. It is safe for
// concurrent use but exchanges are strictly sequential: each Wrap must be
// followed by the Unwrap of its response.
type Codec struct {
	mu     sync.Mutex
	k      *keys
	broken error
}

// New returns a terminal codec. ssc is the initial send sequence counter,
// eight bytes for 3DES and sixteen for AES.
func New(alg mrtdcrypto.Algorithm, ksEnc, ksMac, ssc []byte) (*Codec, error) {
	k, err := newKeys(alg, ksEnc, ksMac, ssc)
	if err != nil {
		return nil, err
	}
	return &Codec{k: k}, nil
}

// NewTripleDES returns a codec for keys agreed with BAC.
func NewTripleDES(ksEnc, ksMac, ssc []byte) (*Codec, error) {
	return New(mrtdcrypto.TripleDES, ksEnc, ksMac, ssc)
}

// NewAES returns a codec for keys agreed with PACE or chip authentication.
// The counter starts at zero.
func NewAES(ksEnc, ksMac []byte) (*Codec, error) {
	alg := mrtdcrypto.AES128
	switch len(ksEnc) {
	case 24:
		alg = mrtdcrypto.AES192
	case 32:
		alg = mrtdcrypto.AES256
	}
	return New(alg, ksEnc, ksMac, make([]byte, 16))
}

func (c *Codec) Algorithm() mrtdcrypto.Algorithm {
	return c.k.alg
}

// SSC returns a copy of the current send sequence counter.
func (c *Codec) SSC() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte{}, c.k.ssc...)
}

// Err returns the failure that broke the codec, if any.
func (c *Codec) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

func (c *Codec) fail(err error) error {
	c.broken = err
	return err
}

// Wrap protects cmd and returns the encoded command APDU.
func (c *Codec) Wrap(cmd apdu.Command) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return nil, c.broken
	}
	k := c.k
	k.increment()

	var body []byte
	if len(cmd.Data) > 0 {
		ciphertext, err := k.encrypt(cmd.Data)
		if err != nil {
			return nil, err
		}
		if cmd.Ins&0x01 == 1 {
			body = append(body, tlv.Encode(tagEncryptedOdd, ciphertext)...)
		} else {
			body = append(body, tlv.Encode(tagEncrypted, append([]byte{paddingIndicator}, ciphertext...))...)
		}
	}
	extended := cmd.Extended()
	if cmd.Ne > 0 {
		body = append(body, tlv.Encode(tagExpectedLength, encodeLe(cmd.Ne, extended))...)
	}

	m := append(k.paddedHeader(cmd), body...)
	mac, err := k.mac(m)
	if err != nil {
		return nil, err
	}
	body = append(body, tlv.Encode(tagMAC, mac)...)

	protected := apdu.Command{
		Cla:  cmd.Cla | apdu.ClaSecureMessage,
		Ins:  cmd.Ins,
		P1:   cmd.P1,
		P2:   cmd.P2,
		Data: body,
		Ne:   apdu.MaxShortLe,
	}
	if extended || len(body) > apdu.MaxShortLc {
		protected.Ne = apdu.MaxExtendedLe
	}
	return protected.Bytes()
}

// Unwrap verifies and decrypts a protected response. A MAC failure breaks
// the codec permanently.
func (c *Codec) Unwrap(raw []byte) (apdu.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return apdu.Response{}, c.broken
	}
	k := c.k
	k.increment()

	resp, err := apdu.ParseResponse(raw)
	if err != nil {
		return apdu.Response{}, err
	}

	if len(resp.Data) == 0 {
		switch {
		case resp.SW == apdu.SWSMObjectsMissing || resp.SW == apdu.SWSMObjectsIncorrect:
			return resp, c.fail(mrtderr.Force(&apdu.SWError{SW: resp.SW}, mrtderr.IntegritySequenceMismatch,
				"chip rejected secure messaging objects"))
		case resp.SW == apdu.SWSuccess:
			return resp, c.fail(mrtderr.New(mrtderr.IntegrityMacInvalid, "unprotected success response"))
		default:
			return resp, nil
		}
	}

	objs, err := splitObjects(resp.Data)
	if err != nil {
		return apdu.Response{}, c.fail(mrtderr.Force(err, mrtderr.IntegrityMacInvalid, "malformed protected response"))
	}

	var (
		covered   []byte
		encrypted *object
		status    []byte
		mac       []byte
	)
	for i := range objs {
		o := &objs[i]
		if o.tag == tagMAC {
			mac = o.value
			break
		}
		covered = append(covered, o.raw...)
		switch o.tag {
		case tagEncrypted, tagEncryptedOdd:
			encrypted = o
		case tagProcessingState:
			status = o.value
		}
	}
	if mac == nil {
		return apdu.Response{}, c.fail(mrtderr.New(mrtderr.IntegrityMacInvalid, "response carries no MAC"))
	}

	want, err := k.mac(covered)
	if err != nil {
		return apdu.Response{}, err
	}
	if !mrtdcrypto.Equal(want, mac) {
		return apdu.Response{}, c.fail(mrtderr.New(mrtderr.IntegrityMacInvalid, "response MAC mismatch"))
	}

	out := apdu.Response{SW: resp.SW}
	if len(status) == 2 {
		out.SW = uint16(status[0])<<8 | uint16(status[1])
	}
	if encrypted != nil {
		ciphertext := encrypted.value
		if encrypted.tag == tagEncrypted {
			if len(ciphertext) == 0 || ciphertext[0] != paddingIndicator {
				return apdu.Response{}, c.fail(mrtderr.New(mrtderr.IntegrityMacInvalid, "unexpected padding indicator"))
			}
			ciphertext = ciphertext[1:]
		}
		plain, err := k.decrypt(ciphertext)
		if err != nil {
			return apdu.Response{}, c.fail(mrtderr.Force(err, mrtderr.IntegrityMacInvalid, "decrypting response"))
		}
		out.Data = plain
	}
	return out, nil
}
