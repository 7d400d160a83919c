package portrait

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/jpeg"
	"image/png"
	"log/slog"
	"math"

	xdraw "golang.org/x/image/draw"
	"pault.ag/go/cbeff/jpeg2000"
)

// Options control PNG conversion.
type Options struct {
	// MaxWidth and MaxHeight bound the output; the aspect ratio is kept.
	MaxWidth, MaxHeight int
	// Colours > 0 quantises to a palette with Floyd-Steinberg dithering.
	Colours int
	Level   png.CompressionLevel
}

// DefaultOptions keep a portrait small enough to travel inside a JSON result.
var DefaultOptions = Options{MaxWidth: 400, MaxHeight: 400, Colours: 256, Level: png.BestCompression}

// Decode decodes JPEG or JPEG 2000 image data.
func Decode(data []byte) (image.Image, error) {
	// Try JPEG first (most common)
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	// Try JPEG 2000 (JP2/J2K)
	if img, err := jpeg2000.Parse(data); err == nil {
		return img, nil
	}

	// Try generic image decode as fallback
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("unsupported or invalid image format")
}

// PNGBase64 decodes the facial image and re-encodes it as base64 PNG.
func (f FacialImage) PNGBase64(opts Options) (string, error) {
	img, err := Decode(f.Data)
	if err != nil {
		slog.Warn("Failed to decode facial image", "type", f.Type.String(), "error", err)
		return "", err
	}
	bounds := img.Bounds()
	slog.Debug("Facial image decoded", "width", bounds.Dx(), "height", bounds.Dy())
	return EncodePNGBase64(img, opts)
}

// EncodePNGBase64 encodes img as base64 PNG after the resize and
// quantisation opts ask for.
func EncodePNGBase64(img image.Image, opts Options) (string, error) {
	if opts.MaxWidth > 0 || opts.MaxHeight > 0 {
		img = resizeToFit(img, opts.MaxWidth, opts.MaxHeight)
	}

	var out = img
	if opts.Colours > 0 {
		// Choose a palette: Plan9 (256 colors) or WebSafe (~216 colors)
		pal := palette.Plan9
		if opts.Colours <= 216 {
			pal = palette.WebSafe
		}
		dst := image.NewPaletted(img.Bounds(), pal)
		draw.FloydSteinberg.Draw(dst, dst.Bounds(), img, img.Bounds().Min)
		out = dst
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: opts.Level}
	if err := enc.Encode(&buf, out); err != nil {
		return "", fmt.Errorf("encoding PNG: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// resizeToFit scales img to fit within maxW×maxH (keeping aspect ratio)
func resizeToFit(src image.Image, maxW, maxH int) image.Image {
	bw := src.Bounds().Dx()
	bh := src.Bounds().Dy()

	if maxW <= 0 {
		maxW = int(math.Round(float64(bw) * float64(maxH) / float64(bh)))
	}
	if maxH <= 0 {
		maxH = int(math.Round(float64(bh) * float64(maxW) / float64(bw)))
	}

	scale := math.Min(float64(maxW)/float64(bw), float64(maxH)/float64(bh))
	if scale >= 1.0 {
		return src // already small enough
	}
	w := int(math.Max(1, math.Round(float64(bw)*scale)))
	h := int(math.Max(1, math.Round(float64(bh)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// CatmullRom = high quality, good for photos/faces
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

// FromDG2 returns the first facial image of DG2 as base64 PNG.
func FromDG2(raw []byte, opts Options) (string, error) {
	images, err := ParseDG2(raw)
	if err != nil {
		return "", err
	}
	if len(images) == 0 {
		return "", fmt.Errorf("no facial images found in DG2")
	}
	slog.Debug("Converting DG2 portrait to PNG", "image_count", len(images), "type", images[0].Type.String())
	return images[0].PNGBase64(opts)
}
