package securemessaging

import (
	"errors"

	"go-emrtd-connector/apdu"
	"go-emrtd-connector/mrtdcrypto"
	"go-emrtd-connector/tlv"
)

// ErrCommandMAC is returned by ChipSide when a protected command does not verify.
var ErrCommandMAC = errors.New("secure messaging: command MAC mismatch")

// ChipSide is the card half of a secure messaging session: it opens
// protected commands and seals responses.
type ChipSide struct {
	k *keys
}

func NewChipSide(alg mrtdcrypto.Algorithm, ksEnc, ksMac, ssc []byte) (*ChipSide, error) {
	k, err := newKeys(alg, ksEnc, ksMac, ssc)
	if err != nil {
		return nil, err
	}
	return &ChipSide{k: k}, nil
}

// SSC returns a copy of the chip's counter.
func (s *ChipSide) SSC() []byte {
	return append([]byte{}, s.k.ssc...)
}

// OpenCommand verifies and decrypts a protected command APDU.
func (s *ChipSide) OpenCommand(raw []byte) (apdu.Command, error) {
	k := s.k
	k.increment()

	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		return apdu.Command{}, err
	}
	if cmd.Cla&apdu.ClaSecureMessage != apdu.ClaSecureMessage {
		return apdu.Command{}, ErrCommandMAC
	}
	objs, err := splitObjects(cmd.Data)
	if err != nil {
		return apdu.Command{}, err
	}

	covered := k.paddedHeader(cmd)
	var (
		encrypted *object
		le        []byte
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
		case tagExpectedLength:
			le = o.value
		}
	}
	if mac == nil {
		return apdu.Command{}, ErrCommandMAC
	}
	want, err := k.mac(covered)
	if err != nil {
		return apdu.Command{}, err
	}
	if !mrtdcrypto.Equal(want, mac) {
		return apdu.Command{}, ErrCommandMAC
	}

	plain := apdu.Command{
		Cla: cmd.Cla &^ apdu.ClaSecureMessage,
		Ins: cmd.Ins,
		P1:  cmd.P1,
		P2:  cmd.P2,
		Ne:  decodeLe(le),
	}
	if encrypted != nil {
		ciphertext := encrypted.value
		if encrypted.tag == tagEncrypted {
			if len(ciphertext) == 0 || ciphertext[0] != paddingIndicator {
				return apdu.Command{}, ErrCommandMAC
			}
			ciphertext = ciphertext[1:]
		}
		data, err := k.decrypt(ciphertext)
		if err != nil {
			return apdu.Command{}, err
		}
		plain.Data = data
	}
	return plain, nil
}

// SealResponse protects resp as the answer to a command with instruction ins.
func (s *ChipSide) SealResponse(ins byte, resp apdu.Response) ([]byte, error) {
	k := s.k
	k.increment()

	var body []byte
	if len(resp.Data) > 0 {
		ciphertext, err := k.encrypt(resp.Data)
		if err != nil {
			return nil, err
		}
		if ins&0x01 == 1 {
			body = append(body, tlv.Encode(tagEncryptedOdd, ciphertext)...)
		} else {
			body = append(body, tlv.Encode(tagEncrypted, append([]byte{paddingIndicator}, ciphertext...))...)
		}
	}
	body = append(body, tlv.Encode(tagProcessingState, []byte{byte(resp.SW >> 8), byte(resp.SW)})...)

	mac, err := k.mac(body)
	if err != nil {
		return nil, err
	}
	body = append(body, tlv.Encode(tagMAC, mac)...)
	return apdu.Response{Data: body, SW: resp.SW}.Bytes(), nil
}
