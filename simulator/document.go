package simulator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strings"

	"go-emrtd-connector/lds"
	"go-emrtd-connector/mrz"
	"go-emrtd-connector/tlv"
)

// Document is the personal data a simulated chip carries.
type Document struct {
	DocumentCode   string
	IssuingState   string
	PrimaryName    string
	SecondaryName  string
	DocumentNumber string
	Nationality    string
	DateOfBirth    string
	Sex            string
	DateOfExpiry   string
	OptionalData   string
	CAN            string

	// DG11
	FullName     string
	PlaceOfBirth string
	Address      string
	// DG12
	IssuingAuthority string
	DateOfIssue      string

	// Portrait is JPEG data for DG2; a generated image is used when empty.
	Portrait []byte
}

// Specimen returns the ICAO 9303 part 4 specimen passport holder.
func Specimen() Document {
	return Document{
		DocumentCode:     "P",
		IssuingState:     "UTO",
		PrimaryName:      "ERIKSSON",
		SecondaryName:    "ANNA MARIA",
		DocumentNumber:   "L898902C3",
		Nationality:      "UTO",
		DateOfBirth:      "740812",
		Sex:              "F",
		DateOfExpiry:     "120415",
		OptionalData:     "ZE184226B",
		CAN:              "500321",
		FullName:         "ERIKSSON<<ANNA<MARIA",
		PlaceOfBirth:     "ZENITH",
		Address:          "123 MAPLE STREET<ZENITH",
		IssuingAuthority: "UTOPIA PASSPORT OFFICE",
		DateOfIssue:      "20020415",
	}
}

// Credential is the MRZ credential that opens the chip with BAC.
func (d Document) Credential() mrz.DocumentCredential {
	return mrz.NewDocumentCredential(d.DocumentNumber, d.DateOfBirth, d.DateOfExpiry)
}

func (d Document) CanCredential() mrz.CanCredential {
	return mrz.NewCanCredential(d.CAN)
}

func mrzText(s string) string {
	return strings.ReplaceAll(strings.ToUpper(s), " ", "<")
}

func pad(s string, n int) string {
	s = mrzText(s)
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat("<", n-len(s))
}

func checkDigit(s string) string {
	cd, err := mrz.CheckDigit(s)
	if err != nil {
		return "<"
	}
	return string(cd)
}

// MRZ returns the two 44 character lines of a TD3 machine readable zone.
func (d Document) MRZ() (string, string) {
	name := mrzText(d.PrimaryName) + "<<" + mrzText(d.SecondaryName)
	line1 := pad(d.DocumentCode, 2) + pad(d.IssuingState, 3) + pad(name, 39)

	docNo := pad(d.DocumentNumber, 9)
	optional := pad(d.OptionalData, 14)
	line2 := docNo + checkDigit(docNo) +
		pad(d.Nationality, 3) +
		d.DateOfBirth + checkDigit(d.DateOfBirth) +
		pad(d.Sex, 1) +
		d.DateOfExpiry + checkDigit(d.DateOfExpiry) +
		optional + checkDigit(optional)
	composite := line2[0:10] + line2[13:20] + line2[21:43]
	return line1, line2 + checkDigit(composite)
}

func (d Document) DG1() []byte {
	l1, l2 := d.MRZ()
	return tlv.Encode(lds.DG1.Tag(), tlv.Encode(0x5F1F, []byte(l1+l2)))
}

// DG2 wraps the portrait in a biometric information group template with
// an ISO/IEC 19794-5 facial record.
func (d Document) DG2() ([]byte, error) {
	img := d.Portrait
	width, height := 0, 0
	if len(img) == 0 {
		var err error
		img, err = GeneratePortrait(48, 64)
		if err != nil {
			return nil, err
		}
	}
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(img)); err == nil {
		width, height = cfg.Width, cfg.Height
	}

	var rec bytes.Buffer
	rec.WriteString("FAC\x00")
	rec.WriteString("010\x00")
	const headerLen, facialLen, imageInfoLen = 14, 20, 12
	total := headerLen + facialLen + imageInfoLen + len(img)
	binary.Write(&rec, binary.BigEndian, uint32(total))
	binary.Write(&rec, binary.BigEndian, uint16(1))
	// facial record header
	binary.Write(&rec, binary.BigEndian, uint32(facialLen+imageInfoLen+len(img)))
	binary.Write(&rec, binary.BigEndian, uint16(0)) // feature points
	rec.WriteByte(0x02)                             // gender: female
	rec.WriteByte(0x00)                             // eye colour
	rec.WriteByte(0x00)                             // hair colour
	rec.Write([]byte{0x00, 0x00, 0x00})             // feature mask
	rec.Write([]byte{0x00, 0x00})                   // expression
	rec.Write([]byte{0x00, 0x00, 0x00})             // pose angle
	rec.Write([]byte{0x00, 0x00, 0x00})             // pose angle uncertainty
	// image information
	rec.WriteByte(0x01) // full frontal
	rec.WriteByte(0x00) // JPEG
	binary.Write(&rec, binary.BigEndian, uint16(width))
	binary.Write(&rec, binary.BigEndian, uint16(height))
	rec.WriteByte(0x01) // 24 bit RGB
	rec.WriteByte(0x00)
	binary.Write(&rec, binary.BigEndian, uint16(0))
	binary.Write(&rec, binary.BigEndian, uint16(0))
	rec.Write(img)

	header := tlv.EncodeNested(0xA1,
		tlv.Encode(0x80, []byte{0x01, 0x01}),
		tlv.Encode(0x87, []byte{0x01, 0x01}),
		tlv.Encode(0x88, []byte{0x00, 0x08}),
	)
	bit := tlv.EncodeNested(0x7F60, header, tlv.Encode(0x5F2E, rec.Bytes()))
	group := tlv.EncodeNested(0x7F61, tlv.Encode(0x02, []byte{0x01}), bit)
	return tlv.Encode(lds.DG2.Tag(), group), nil
}

// GeneratePortrait renders a small gradient as JPEG.
func GeneratePortrait(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(4 * x), G: uint8(3 * y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encoding portrait: %w", err)
	}
	return buf.Bytes(), nil
}

func (d Document) DG11() []byte {
	return tlv.EncodeNested(lds.DG11.Tag(),
		tlv.Encode(0x5C, []byte{0x5F, 0x0E, 0x5F, 0x11, 0x5F, 0x42}),
		tlv.Encode(0x5F0E, []byte(d.FullName)),
		tlv.Encode(0x5F11, []byte(d.PlaceOfBirth)),
		tlv.Encode(0x5F42, []byte(d.Address)),
	)
}

func (d Document) DG12() []byte {
	return tlv.EncodeNested(lds.DG12.Tag(),
		tlv.Encode(0x5C, []byte{0x5F, 0x19, 0x5F, 0x26}),
		tlv.Encode(0x5F19, []byte(d.IssuingAuthority)),
		tlv.Encode(0x5F26, []byte(d.DateOfIssue)),
	)
}
