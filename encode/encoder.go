// Package encode converts decoded tiles and assembled canvases to and from
// their wire encodings.
package encode

import (
	"fmt"
	"image"
)

// MIME types returned alongside encoded bytes.
const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWebP = "image/webp"
)

// Magic byte prefixes of the supported encodings.
var (
	JPEGMagic = []byte{0xFF, 0xD8, 0xFF}
	PNGMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
)

// Encoder encodes an image into tile bytes.
type Encoder interface {
	// Encode encodes an image to bytes in the tile format.
	Encode(img image.Image) ([]byte, error)

	// Format returns the canonical format name ("jpeg", "png", "webp").
	Format() string

	// MimeType returns the MIME type of the encoded bytes.
	MimeType() string

	// FileExtension returns the appropriate file extension.
	FileExtension() string
}

// Options carries encoder tuning shared across formats.
type Options struct {
	// Quality applies to lossy formats, 1-100. Zero selects the default.
	Quality int

	// Subsampling selects JPEG chroma subsampling: 0 (4:4:4), 1 (4:2:2)
	// or 2 (4:2:0).
	Subsampling int
}

// NewEncoder creates an encoder for the given format name. Format matching
// is case-sensitive on the canonical lowercase names plus the common
// aliases.
func NewEncoder(format string, opts Options) (Encoder, error) {
	switch format {
	case "jpeg", "jpg", "JPEG":
		if opts.Subsampling < 0 || opts.Subsampling > 2 {
			return nil, fmt.Errorf("invalid jpeg subsampling %d (supported: 0, 1, 2)", opts.Subsampling)
		}
		return &JPEGEncoder{Quality: opts.Quality, Subsampling: opts.Subsampling}, nil
	case "png", "PNG":
		return &PNGEncoder{}, nil
	case "webp", "WEBP":
		return &WebPEncoder{Quality: opts.Quality}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding: %q (supported: jpeg, png, webp)", format)
	}
}
