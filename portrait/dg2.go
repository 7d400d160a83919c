// Package portrait extracts facial images from DG2 and converts them to PNG.
package portrait

import (
	"bytes"
	"fmt"

	"github.com/gmrtd/gmrtd/document"
	"github.com/gmrtd/gmrtd/document/iso19794"
)

// ImageType is the encoding of a facial image.
type ImageType int

const (
	ImageJPEG ImageType = iota
	ImageJPEG2000
)

func (t ImageType) String() string {
	if t == ImageJPEG2000 {
		return "jpeg2000"
	}
	return "jpeg"
}

// ParseError reports a DG2 whose biometric templates cannot be decoded.
type ParseError struct{ msg string }

func (e ParseError) Error() string { return "DG2: " + e.msg }

func parseErr(format string, args ...any) error {
	return ParseError{fmt.Sprintf(format, args...)}
}

// FacialImage is one facial record of DG2.
type FacialImage struct {
	Gender               int
	EyeColour            int
	HairColour           int
	FeatureMask          int
	Expression           int
	PoseAngle            int
	PoseAngleUncertainty int
	FaceImageType        int
	Type                 ImageType
	Width                int
	Height               int
	ColourSpace          int
	SourceType           int
	DeviceType           int
	Quality              int
	Data                 []byte
}

// ParseDG2 returns every facial image of the biometric information group
// template. ISO/IEC 19794-5 records carry their image header; ISO/IEC
// 39794-5 blocks only the image data.
func ParseDG2(raw []byte) ([]FacialImage, error) {
	dg2, err := document.NewDG2(raw)
	if err != nil {
		return nil, parseErr("%v", err)
	}
	if dg2 == nil {
		return nil, parseErr("empty data group")
	}

	var out []FacialImage
	for _, bit := range dg2.BITs {
		switch {
		case bit.BDB.Iso19794 != nil:
			for _, img := range bit.BDB.Iso19794.Facial.Images {
				out = append(out, fromISO19794(img))
			}
		case bit.BDB.Iso39794 != nil:
			for _, data := range bit.BDB.Iso39794.Images() {
				out = append(out, FacialImage{Type: sniffType(data), Data: data})
			}
		}
	}
	return out, nil
}

func be(b []byte) int {
	v := 0
	for _, c := range b {
		v = v<<8 | int(c)
	}
	return v
}

func fromISO19794(img iso19794.Image) FacialImage {
	fi, ii := img.FacialInformation, img.ImageInformation
	out := FacialImage{
		Gender:               int(fi.Gender),
		EyeColour:            int(fi.EyeColor),
		HairColour:           int(fi.HairColor),
		FeatureMask:          be(fi.Properties[:]),
		Expression:           be(fi.Expression[:]),
		PoseAngle:            be(fi.Pose[:]),
		PoseAngleUncertainty: be(fi.PoseUncertainty[:]),
		FaceImageType:        int(ii.Type),
		Width:                int(ii.Width),
		Height:               int(ii.Height),
		ColourSpace:          int(ii.ColorSpace),
		SourceType:           int(ii.SourceType),
		DeviceType:           int(ii.DeviceType),
		Quality:              int(ii.Quality),
		Data:                 img.Data,
	}
	if ii.DataType != 0 {
		out.Type = ImageJPEG2000
	}
	return out
}

func sniffType(data []byte) ImageType {
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return ImageJPEG
	}
	return ImageJPEG2000
}
