package portrait_test

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"testing"

	"go-emrtd-connector/portrait"
	"go-emrtd-connector/simulator"
	"go-emrtd-connector/tlv"

	"github.com/stretchr/testify/require"
)

func decodePNG(t *testing.T, b64 string) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func dg2(t *testing.T, doc simulator.Document) []byte {
	t.Helper()
	raw, err := doc.DG2()
	require.NoError(t, err)
	return raw
}

func TestParseDG2(t *testing.T) {
	images, err := portrait.ParseDG2(dg2(t, simulator.Specimen()))
	require.NoError(t, err)
	require.Len(t, images, 1)

	img := images[0]
	require.Equal(t, portrait.ImageJPEG, img.Type)
	require.Equal(t, 48, img.Width)
	require.Equal(t, 64, img.Height)
	require.Equal(t, 2, img.Gender)
	require.Equal(t, []byte{0xFF, 0xD8}, img.Data[:2])
}

func TestFromDG2(t *testing.T) {
	t.Run("small portrait keeps its size", func(t *testing.T) {
		b64, err := portrait.FromDG2(dg2(t, simulator.Specimen()), portrait.DefaultOptions)
		require.NoError(t, err)
		require.Equal(t, image.Rect(0, 0, 48, 64), decodePNG(t, b64).Bounds())
	})

	t.Run("large portrait is scaled down", func(t *testing.T) {
		jpg, err := simulator.GeneratePortrait(800, 600)
		require.NoError(t, err)
		doc := simulator.Specimen()
		doc.Portrait = jpg

		b64, err := portrait.FromDG2(dg2(t, doc), portrait.DefaultOptions)
		require.NoError(t, err)
		require.Equal(t, image.Rect(0, 0, 400, 300), decodePNG(t, b64).Bounds())
	})
}

func TestEncodePNGBase64(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 50))

	tests := []struct {
		name string
		opts portrait.Options
		want image.Rectangle
	}{
		{name: "no resize", opts: portrait.Options{}, want: image.Rect(0, 0, 100, 50)},
		{name: "width bound only", opts: portrait.Options{MaxWidth: 50}, want: image.Rect(0, 0, 50, 25)},
		{name: "height bound only", opts: portrait.Options{MaxHeight: 10, Colours: 216}, want: image.Rect(0, 0, 20, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b64, err := portrait.EncodePNGBase64(src, tt.opts)
			require.NoError(t, err)
			require.Equal(t, tt.want, decodePNG(t, b64).Bounds())
		})
	}
}

func TestParseDG2Errors(t *testing.T) {
	header := tlv.EncodeNested(0xA1, tlv.Encode(0x80, []byte{0x01, 0x01}))
	wrap := func(bits ...[]byte) []byte {
		children := append([][]byte{tlv.Encode(0x02, []byte{byte(len(bits))})}, bits...)
		return tlv.Encode(0x75, tlv.EncodeNested(0x7F61, children...))
	}

	tests := map[string][]byte{
		"wrong tag":          tlv.Encode(0x76, nil),
		"missing count":      tlv.Encode(0x75, tlv.EncodeNested(0x7F61)),
		"not a face record":  wrap(tlv.EncodeNested(0x7F60, header, tlv.Encode(0x5F2E, []byte("FIR\x00010\x00")))),
		"short header":       wrap(tlv.EncodeNested(0x7F60, header, tlv.Encode(0x5F2E, []byte("FAC\x00020\x00")))),
		"truncated":          wrap(tlv.EncodeNested(0x7F60, header, tlv.Encode(0x5F2E, []byte("FAC\x00010\x00\x00\x00")))),
		"protected template": wrap(tlv.EncodeNested(0x7F60, tlv.Encode(0x7D, []byte{0x00}))),
		"empty":              nil,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := portrait.ParseDG2(raw)
			require.Error(t, err)
			var perr portrait.ParseError
			require.ErrorAs(t, err, &perr)
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := portrait.Decode([]byte("not an image"))
	require.Error(t, err)
}
