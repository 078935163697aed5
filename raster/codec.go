package raster

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Frame assets may be WebP.
)

// Format is an encoding for still images.
type Format int

// Formats. JPEG is used for captures and composites, PNG for frame merges.
const (
	JPEG Format = iota
	PNG
)

// MIME returns the media type of the format.
func (f Format) MIME() string {
	if f == PNG {
		return "image/png"
	}
	return "image/jpeg"
}

// DefaultQuality is the JPEG quality for captures and composites.
const DefaultQuality = 95

// Encode encodes img in the given format. Quality applies to JPEG only, and
// DefaultQuality is used if it is zero.
func Encode(img image.Image, f Format, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	var err error
	if f == PNG {
		err = imaging.Encode(&buf, img, imaging.PNG)
	} else {
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", f.MIME(), err)
	}
	return buf.Bytes(), nil
}

// Decode decodes a still image into an NRGBA frame.
func Decode(r io.Reader) (*image.NRGBA, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, err
	}
	return Clone(img), nil
}

// DecodeBytes decodes an encoded still image.
func DecodeBytes(buf []byte) (*image.NRGBA, error) {
	return Decode(bytes.NewReader(buf))
}

var dataURLPrefix = regexp.MustCompile(`^data:image/\w+;base64,`)

// DataURL returns buf as a base64 data URL with the given media type.
func DataURL(buf []byte, mime string) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(buf)
}

// DecodeDataURL returns the bytes of a base64 image data URL. A bare base64
// string without the data: prefix is accepted as well.
func DecodeDataURL(s string) ([]byte, error) {
	s = dataURLPrefix.ReplaceAllString(strings.TrimSpace(s), "")
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 image data: %w", err)
	}
	return buf, nil
}
