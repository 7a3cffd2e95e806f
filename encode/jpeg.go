package encode

import (
	"bytes"
	"image"
	"image/jpeg"
)

// JPEGEncoder encodes tiles as JPEG.
type JPEGEncoder struct {
	Quality int // 1-100, default 90

	// Subsampling records the requested chroma subsampling (0=4:4:4,
	// 1=4:2:2, 2=4:2:0). The standard-library encoder emits its own fixed
	// subsampling; the value is validated and carried so a codec with full
	// control can honour it.
	Subsampling int
}

func (e *JPEGEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	quality := e.Quality
	if quality <= 0 {
		quality = 90
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *JPEGEncoder) Format() string        { return "jpeg" }
func (e *JPEGEncoder) MimeType() string      { return MimeJPEG }
func (e *JPEGEncoder) FileExtension() string { return ".jpg" }
