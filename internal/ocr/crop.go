package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"github.com/jackzampolin/dafmap/internal/geom"
)

// DecodePage decodes page image bytes (PNG or JPEG) for cropping.
func DecodePage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	return img, nil
}

// CropPNG encodes the given sub-rectangle of img as PNG bytes. The box is
// clamped to the image bounds; a box fully outside them is an error.
func CropPNG(img image.Image, box geom.BBox) ([]byte, error) {
	rect := image.Rect(box.X, box.Y, box.Right(), box.Bottom()).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("crop %+v outside image bounds %v", box, img.Bounds())
	}

	sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return nil, fmt.Errorf("image type %T does not support cropping", img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, sub.SubImage(rect)); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
