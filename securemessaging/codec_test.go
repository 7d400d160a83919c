package securemessaging

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"go-emrtd-connector/apdu"
	"go-emrtd-connector/mrtdcrypto"
	"go-emrtd-connector/mrtderr"
	"go-emrtd-connector/transport"

	"github.com/stretchr/testify/require"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	require.NoError(t, err)
	return b
}

// Session keys from the ICAO 9303-11 appendix D worked example.
const (
	exampleKSEnc = "979ec13b1cbfe9dcd01ab0fed307eae5"
	exampleKSMac = "f1cb1f1fb5adf208806b89dc579dc1f8"
	exampleSSC   = "887022120c06c226"
)

func exampleCodec(t *testing.T) *Codec {
	c, err := NewTripleDES(unhex(t, exampleKSEnc), unhex(t, exampleKSMac), unhex(t, exampleSSC))
	require.NoError(t, err)
	return c
}

func exampleChip(t *testing.T) *ChipSide {
	c, err := NewChipSide(mrtdcrypto.TripleDES, unhex(t, exampleKSEnc), unhex(t, exampleKSMac), unhex(t, exampleSSC))
	require.NoError(t, err)
	return c
}

func TestWorkedExample(t *testing.T) {
	codec := exampleCodec(t)
	chip := exampleChip(t)

	steps := []struct {
		name      string
		cmd       apdu.Command
		protected string
		plain     apdu.Response
		response  string
	}{
		{
			name:      "select EF.COM",
			cmd:       apdu.SelectEF(0x011E),
			protected: "0ca4020c15 8709016375432908c044f6 8e08bf8b92d635ff24f8 00",
			plain:     apdu.Response{SW: apdu.SWSuccess},
			response:  "99029000 8e08fa855a5d4c50a8ed 9000",
		},
		{
			name:      "read header",
			cmd:       apdu.ReadBinary(0, 4),
			protected: "0cb000000d 970104 8e08ed6705417e96ba55 00",
			plain:     apdu.Response{Data: unhex(t, "60145f01"), SW: apdu.SWSuccess},
			response:  "8709019ff0ec34f9922651 99029000 8e08ad55cc17140b2ded 9000",
		},
		{
			name:      "read rest",
			cmd:       apdu.ReadBinary(4, 0x12),
			protected: "0cb000040d 970112 8e082ea28a70f3c7b535 00",
			plain:     apdu.Response{Data: unhex(t, "04303130365f36063034303030305c026175"), SW: apdu.SWSuccess},
			response:  "871901fb9235f4e4037f2327dcc8964f1f9b8c30f42c8e2fff224a 99029000 8e08c8b2787eaea07d74 9000",
		},
	}

	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			wrapped, err := codec.Wrap(step.cmd)
			require.NoError(t, err)
			require.Equal(t, hex.EncodeToString(unhex(t, step.protected)), hex.EncodeToString(wrapped))

			opened, err := chip.OpenCommand(wrapped)
			require.NoError(t, err)
			require.Equal(t, step.cmd.Ins, opened.Ins)
			require.Equal(t, step.cmd.Ne, opened.Ne)
			require.Equal(t, step.cmd.Data, opened.Data)

			sealed, err := chip.SealResponse(opened.Ins, step.plain)
			require.NoError(t, err)
			require.Equal(t, hex.EncodeToString(unhex(t, step.response)), hex.EncodeToString(sealed))

			resp, err := codec.Unwrap(sealed)
			require.NoError(t, err)
			require.Equal(t, step.plain.SW, resp.SW)
			require.True(t, bytes.Equal(step.plain.Data, resp.Data))
		})
	}
	require.Equal(t, codec.SSC(), chip.SSC())
}

func TestTamperedResponseBreaksCodec(t *testing.T) {
	codec := exampleCodec(t)
	chip := exampleChip(t)

	wrapped, err := codec.Wrap(apdu.ReadBinary(0, 4))
	require.NoError(t, err)
	_, err = chip.OpenCommand(wrapped)
	require.NoError(t, err)
	sealed, err := chip.SealResponse(apdu.InsReadBinary, apdu.Response{Data: []byte{0x60, 0x14, 0x5F, 0x01}, SW: apdu.SWSuccess})
	require.NoError(t, err)

	sealed[4] ^= 0x01
	_, err = codec.Unwrap(sealed)
	require.True(t, mrtderr.HasKind(err, mrtderr.IntegrityMacInvalid))

	_, err = codec.Wrap(apdu.ReadBinary(0, 4))
	require.True(t, mrtderr.HasKind(err, mrtderr.IntegrityMacInvalid))
	require.Error(t, codec.Err())
}

func TestReplayedResponseIsRejected(t *testing.T) {
	codec := exampleCodec(t)
	chip := exampleChip(t)

	var first []byte
	for i := 0; i < 2; i++ {
		wrapped, err := codec.Wrap(apdu.SelectEF(0x011E))
		require.NoError(t, err)
		_, err = chip.OpenCommand(wrapped)
		require.NoError(t, err)
		sealed, err := chip.SealResponse(apdu.InsSelect, apdu.Response{SW: apdu.SWSuccess})
		require.NoError(t, err)
		if first == nil {
			first = sealed
			_, err = codec.Unwrap(sealed)
			require.NoError(t, err)
			continue
		}
		_, err = codec.Unwrap(first)
		require.True(t, mrtderr.HasKind(err, mrtderr.IntegrityMacInvalid))
	}
}

func TestReplayedCommandIsRejectedByChip(t *testing.T) {
	codec := exampleCodec(t)
	chip := exampleChip(t)

	wrapped, err := codec.Wrap(apdu.SelectEF(0x011E))
	require.NoError(t, err)
	_, err = chip.OpenCommand(wrapped)
	require.NoError(t, err)
	_, err = chip.SealResponse(apdu.InsSelect, apdu.Response{SW: apdu.SWSuccess})
	require.NoError(t, err)

	_, err = chip.OpenCommand(wrapped)
	require.ErrorIs(t, err, ErrCommandMAC)
}

func TestSequenceMismatchStatus(t *testing.T) {
	for _, sw := range []uint16{apdu.SWSMObjectsMissing, apdu.SWSMObjectsIncorrect} {
		codec := exampleCodec(t)
		_, err := codec.Wrap(apdu.SelectEF(0x011E))
		require.NoError(t, err)

		_, err = codec.Unwrap(apdu.Response{SW: sw}.Bytes())
		require.True(t, mrtderr.HasKind(err, mrtderr.IntegritySequenceMismatch))
		require.True(t, apdu.IsSMError(err))
	}
}

func TestUnprotectedSuccessIsRejected(t *testing.T) {
	codec := exampleCodec(t)
	_, err := codec.Wrap(apdu.SelectEF(0x011E))
	require.NoError(t, err)
	_, err = codec.Unwrap([]byte{0x90, 0x00})
	require.True(t, mrtderr.HasKind(err, mrtderr.IntegrityMacInvalid))
}

func TestAESRoundTrip(t *testing.T) {
	ksEnc := bytes.Repeat([]byte{0x11}, 16)
	ksMac := bytes.Repeat([]byte{0x22}, 16)

	codec, err := NewAES(ksEnc, ksMac)
	require.NoError(t, err)
	require.Equal(t, mrtdcrypto.AES128, codec.Algorithm())
	chip, err := NewChipSide(mrtdcrypto.AES128, ksEnc, ksMac, make([]byte, 16))
	require.NoError(t, err)

	cmds := []apdu.Command{
		apdu.SelectApplication(apdu.MRTDApplicationID),
		apdu.ReadBinary(0x0100, 0xDF),
		apdu.InternalAuthenticate([]byte{1, 2, 3, 4, 5, 6, 7, 8}),
		{Cla: 0x00, Ins: 0xB1, P1: 0x00, P2: 0x00, Data: []byte{0x54, 0x03, 0x01, 0x00, 0x00}, Ne: 0xDF},
	}
	for _, cmd := range cmds {
		wrapped, err := codec.Wrap(cmd)
		require.NoError(t, err)

		opened, err := chip.OpenCommand(wrapped)
		require.NoError(t, err)
		require.Equal(t, cmd.Cla, opened.Cla)
		require.Equal(t, cmd.Ins, opened.Ins)
		require.Equal(t, cmd.P1, opened.P1)
		require.Equal(t, cmd.P2, opened.P2)
		require.Equal(t, cmd.Ne, opened.Ne)
		require.True(t, bytes.Equal(cmd.Data, opened.Data))

		payload := bytes.Repeat([]byte{cmd.Ins}, 40)
		sealed, err := chip.SealResponse(opened.Ins, apdu.Response{Data: payload, SW: apdu.SWSuccess})
		require.NoError(t, err)

		resp, err := codec.Unwrap(sealed)
		require.NoError(t, err)
		require.Equal(t, payload, resp.Data)
	}
	require.Equal(t, codec.SSC(), chip.SSC())
}

func TestExtendedLength(t *testing.T) {
	codec := exampleCodec(t)
	chip := exampleChip(t)

	wrapped, err := codec.Wrap(apdu.ReadBinary(0, 1000))
	require.NoError(t, err)
	opened, err := chip.OpenCommand(wrapped)
	require.NoError(t, err)
	require.Equal(t, 1000, opened.Ne)
}

func TestSenderOverChannel(t *testing.T) {
	chip := exampleChip(t)
	ch := transport.ChannelFunc(func(_ context.Context, command []byte) ([]byte, error) {
		cmd, err := chip.OpenCommand(command)
		if err != nil {
			return apdu.Response{SW: apdu.SWSMObjectsIncorrect}.Bytes(), nil
		}
		return chip.SealResponse(cmd.Ins, apdu.Response{Data: []byte("ok"), SW: apdu.SWSuccess})
	})

	sender := NewSender(ch, exampleCodec(t))
	resp, err := sender.Send(context.Background(), apdu.ReadBinary(0, 2))
	require.NoError(t, err)
	require.Equal(t, "ok", string(resp.Data))

	// a codec with a stale counter is refused by the chip
	stale := exampleCodec(t)
	sender.Rekey(stale)
	require.Same(t, stale, sender.Codec())
	_, err = sender.Send(context.Background(), apdu.ReadBinary(0, 2))
	require.True(t, mrtderr.HasKind(err, mrtderr.IntegritySequenceMismatch))
}
