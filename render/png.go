package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/ruteri/social-image/interfaces"
)

// PNGEncoder implements interfaces.ImageEncoder.
type PNGEncoder struct {
	CompressionLevel png.CompressionLevel
}

func (e *PNGEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: e.CompressionLevel}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrEncodeFailed, err)
	}
	return buf.Bytes(), nil
}
