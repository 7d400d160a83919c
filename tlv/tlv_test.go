package tlv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadTag(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		tag  Tag
		size int
	}{
		{"single byte", []byte{0x61, 0x00}, 0x61, 1},
		{"two bytes", []byte{0x5F, 0x1F, 0x00}, 0x5F1F, 2},
		{"constructed two bytes", []byte{0x7F, 0x61, 0x00}, 0x7F61, 2},
		{"three bytes", []byte{0x5F, 0x81, 0x01}, 0x5F8101, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, n, err := ReadTag(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.tag, tag)
			require.Equal(t, tt.size, n)
		})
	}

	_, _, err := ReadTag([]byte{0x5F})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestLengthForms(t *testing.T) {
	for _, l := range []int{0, 1, 0x7F, 0x80, 0xFF, 0x100, 0xFFFF, 0x10000} {
		enc := EncodeLength(l)
		got, n, err := ReadLength(enc)
		require.NoError(t, err)
		require.Equal(t, l, got)
		require.Equal(t, len(enc), n)
	}

	_, _, err := ReadLength([]byte{0x80})
	require.ErrorIs(t, err, ErrLength)
	_, _, err = ReadLength([]byte{0x82, 0x01})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestHeaderLength(t *testing.T) {
	value := bytes.Repeat([]byte{0xAB}, 300)
	enc := Encode(0x77, value)

	header, l, err := HeaderLength(enc[:4])
	require.NoError(t, err)
	require.Equal(t, 4, header)
	require.Equal(t, 300, l)
}

func TestDecodeNested(t *testing.T) {
	inner := Encode(0x5F1F, []byte("P<UTO"))
	outer := EncodeNested(0x61, inner, Encode(0x02, []byte{0x01}))

	nodes, err := Decode(outer)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.True(t, nodes[0].Tag.Constructed())
	require.Equal(t, len(outer), nodes[0].Len)

	mrz, ok := nodes[0].Child(0x5F1F)
	require.True(t, ok)
	require.Equal(t, "P<UTO", string(mrz.Value))

	_, ok = nodes[0].Child(0x5F20)
	require.False(t, ok)
}

func TestDecodeSkipsPadding(t *testing.T) {
	b := append(Encode(0x80, []byte{1}), 0x00, 0x00)
	b = append(b, Encode(0x81, []byte{2})...)
	nodes, err := Decode(b)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Len(t, FindAll(nodes, 0x81), 1)
}

func TestDecodeTruncated(t *testing.T) {
	enc := Encode(0x75, bytes.Repeat([]byte{1}, 20))
	_, _, err := DecodeOne(enc[:10])
	require.ErrorIs(t, err, ErrTruncated)
}

func TestUnwrap(t *testing.T) {
	v, err := Unwrap(Encode(0x7C, []byte{0x80, 0x00}), 0x7C)
	require.NoError(t, err)
	require.Equal(t, []byte{0x80, 0x00}, v)

	_, err = Unwrap(Encode(0x7D, nil), 0x7C)
	require.Error(t, err)
}
