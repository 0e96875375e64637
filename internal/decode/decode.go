// Package decode turns fetched bytes into images.
//
// Bytes are sniffed with mimetype before decoding so that an HTML error
// page or a JSON body fails fast with a useful content type in the error,
// instead of a generic "unknown format" from the image decoder.
package decode

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

// Image is a decoded image plus the metadata the cache and HTTP layer need.
type Image struct {
	Img    image.Image
	Format string // MIME subtype, e.g. "png"
	Size   int    // encoded byte length, used as the cache cost
}

// Error reports bytes that could not be interpreted as an image.
type Error struct {
	ContentType string // sniffed MIME type of the offending bytes
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("decode failed (content type %s): %v", e.ContentType, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var errNotImage = fmt.Errorf("not an image")

// Bytes decodes data into an Image.
func Bytes(data []byte) (*Image, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, &Error{ContentType: mt.String(), Err: errNotImage}
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{ContentType: mt.String(), Err: err}
	}

	return &Image{
		Img:    img,
		Format: strings.TrimPrefix(mt.String(), "image/"),
		Size:   len(data),
	}, nil
}

// EncodePNG re-encodes a decoded image as PNG for serving.
func EncodePNG(img *Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img.Img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
