package utils

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

const maxImageWidth = 2000

var ErrNotImage = errors.New("file is not a supported image")

// ProcessImage decodes data, caps its width and re-encodes it as WebP,
// falling back to JPEG. It returns the encoded bytes, content type and extension.
func ProcessImage(data []byte) ([]byte, string, string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", "", ErrNotImage
	}

	if img.Bounds().Dx() > maxImageWidth {
		img = imaging.Resize(img, maxImageWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: 85}); err != nil {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, "", "", err
		}
		return buf.Bytes(), "image/jpeg", ".jpg", nil
	}

	return buf.Bytes(), "image/webp", ".webp", nil
}

// IsImage verifies simple content type
func IsImage(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/jpg", "image/png", "image/webp", "image/gif":
		return true
	}
	return false
}
