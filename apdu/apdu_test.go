package apdu

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandBytes(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"case 1", Command{Cla: 0x00, Ins: 0xA4, P1: 0x04, P2: 0x0C}, "00a4040c"},
		{"case 2 short", GetChallenge(8), "0084000008"},
		{"case 2 Ne 256", ReadBinary(0, 256), "00b0000000"},
		{"case 3 short", SelectEF(0x011E), "00a4020c02011e"},
		{"select application", SelectApplication(MRTDApplicationID), "00a4040c07a0000002471001"},
		{"case 4 short", Command{Ins: 0x88, Data: []byte{1, 2}, Ne: 256}, "0088000002010200"},
		{"read binary offset", ReadBinary(0x1234, 0xDF), "00b01234df"},
		{"case 2 extended", Command{Ins: 0xB0, Ne: 1000}, "00b00000" + "0003e8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.cmd.Bytes()
			require.NoError(t, err)
			require.Equal(t, tt.want, hex.EncodeToString(b))
		})
	}
}

func TestParseCommand(t *testing.T) {
	cmds := []Command{
		SelectApplication(MRTDApplicationID),
		GetChallenge(8),
		ReadBinary(4, 0xDF),
		ExternalAuthenticate(make([]byte, 40), 40),
		GeneralAuthenticate([]byte{0x7C, 0x00}, false),
		{Ins: 0xB0, Ne: 1000},
		{Ins: 0xD6, Data: make([]byte, 300), Ne: 300},
	}

	for _, c := range cmds {
		raw := c.MustBytes()
		parsed, err := ParseCommand(raw)
		require.NoError(t, err)
		require.Equal(t, c.Header(), parsed.Header())
		require.Equal(t, len(c.Data), len(parsed.Data))
		require.Equal(t, c.Ne, parsed.Ne)
	}

	_, err := ParseCommand([]byte{0x00, 0xA4})
	require.ErrorIs(t, err, ErrMalformedCommand)
	_, err = ParseCommand([]byte{0x00, 0xA4, 0x02, 0x0C, 0x05, 0x01})
	require.ErrorIs(t, err, ErrMalformedCommand)
}

func TestResponse(t *testing.T) {
	r, err := ParseResponse([]byte{0x01, 0x02, 0x90, 0x00})
	require.NoError(t, err)
	require.True(t, r.OK())
	require.Equal(t, []byte{0x01, 0x02}, r.Data)
	require.Equal(t, []byte{0x01, 0x02, 0x90, 0x00}, r.Bytes())

	_, err = ParseResponse([]byte{0x90})
	require.Error(t, err)

	r = Response{SW: SWSecurityNotSatisfied}
	err = r.Check(InsSelect)
	require.True(t, IsSecurityNotSatisfied(err))
	require.Contains(t, err.Error(), "6982")

	require.NoError(t, Response{SW: SWEndOfFile}.Check(InsReadBinary))
	require.True(t, IsSMError(Response{SW: SWSMObjectsIncorrect}.Check(InsReadBinary)))
}
