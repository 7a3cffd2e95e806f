package gigatile

import (
	"context"
	"fmt"
	"image"

	"github.com/gigatile/gigatile/encode"
	"github.com/gigatile/gigatile/geom"
	"github.com/gigatile/gigatile/internal/imaging"
)

// TileFormat selects how pixel data is returned.
type TileFormat int

const (
	// FormatEncoded returns encoded bytes (JPEG, PNG or WebP) with a MIME
	// type. It is the default for composite operations; single-tile
	// requests with nil options return a decoded image instead.
	FormatEncoded TileFormat = iota
	// FormatImage returns a decoded image.Image.
	FormatImage
	// FormatRaw returns the raw RGBA pixel array, row-major, 4 bytes per
	// pixel.
	FormatRaw
)

// Tile is one block of pixel data returned by a source. Exactly one of
// Image and Data is populated, per Format.
type Tile struct {
	Format TileFormat
	Image  image.Image
	Data   []byte
	Mime   string

	// Width and Height are the actual pixel extents; edge tiles are
	// smaller than the source's declared tile geometry.
	Width  int
	Height int
}

// CacheSize reports the approximate memory footprint of the tile.
func (t *Tile) CacheSize() int {
	if t.Data != nil {
		return len(t.Data)
	}
	return t.Width * t.Height * 4
}

// TileOptions selects the output form of a single tile request.
type TileOptions struct {
	Format      TileFormat
	Encoding    string // for FormatEncoded; default "jpeg"
	Quality     int
	Subsampling int
}

func (o *TileOptions) format() TileFormat {
	if o == nil {
		return FormatImage
	}
	return o.Format
}

// cacheKey contributes the option state to tile cache keys.
func (o *TileOptions) cacheKey() string {
	if o == nil {
		return "img"
	}
	switch o.Format {
	case FormatRaw:
		return "raw"
	case FormatImage:
		return "img"
	default:
		return fmt.Sprintf("enc,%s,%d,%d", o.Encoding, o.Quality, o.Subsampling)
	}
}

// Source is the contract every backend satisfies: a pyramid of tiles with
// declared geometry and optional physical calibration. Implementations must
// be safe for concurrent GetTile calls.
type Source interface {
	// Metadata returns the pyramid geometry and calibration.
	Metadata() geom.Metadata

	// GetTile returns the tile at (x, y) on pyramid level z. Level 0 is
	// the most downsampled tier. Invalid coordinates fail with
	// ErrOutOfRange; undecodable payloads with ErrDecodeFailed.
	GetTile(ctx context.Context, x, y, z int, opts *TileOptions) (*Tile, error)

	// Close releases the source. Implementations must let in-flight tile
	// requests finish against the pre-close state.
	Close() error
}

// AssociatedImager is implemented by sources bundling ancillary images
// (label, macro, thumbnail) alongside the pyramid.
type AssociatedImager interface {
	AssociatedImages() []string
	AssociatedImage(ctx context.Context, name string) (image.Image, error)
}

// Geospatial is implemented by sources carrying geographic referencing.
type Geospatial interface {
	IsGeospatial() bool

	// WGS84Bounds returns the extent in lon/lat degrees when known.
	WGS84Bounds() (minLon, minLat, maxLon, maxLat float64, ok bool)
}

// Writer is implemented by sources that can accept tile writes.
type Writer interface {
	CanWrite() bool
}

// Backend constructs Sources for a file format family.
type Backend interface {
	// Name identifies the backend in fingerprints and diagnostics.
	Name() string

	// CanRead cheaply probes whether the path looks readable by this
	// backend. It may open the file briefly but must not retain state.
	CanRead(path string) bool

	// Open constructs a Source.
	Open(path string, opts *Options) (Source, error)
}

// unwrapper is implemented by source wrappers so capability queries reach
// the backend implementation.
type unwrapper interface {
	Unwrap() Source
}

func unwrapSource(src Source) Source {
	for {
		u, ok := src.(unwrapper)
		if !ok {
			return src
		}
		src = u.Unwrap()
	}
}

// AssociatedImagesOf lists the ancillary images of a source, or nil when
// the backend has none.
func AssociatedImagesOf(src Source) []string {
	if ai, ok := unwrapSource(src).(AssociatedImager); ok {
		return ai.AssociatedImages()
	}
	return nil
}

// AssociatedImageOf fetches one ancillary image by name.
func AssociatedImageOf(ctx context.Context, src Source, name string) (image.Image, error) {
	if ai, ok := unwrapSource(src).(AssociatedImager); ok {
		return ai.AssociatedImage(ctx, name)
	}
	return nil, fmt.Errorf("%w: source has no associated images", ErrOutOfRange)
}

// IsGeospatial reports whether a source carries geographic referencing.
func IsGeospatial(src Source) bool {
	if g, ok := unwrapSource(src).(Geospatial); ok {
		return g.IsGeospatial()
	}
	return false
}

// CanWrite reports whether a source accepts tile writes.
func CanWrite(src Source) bool {
	if w, ok := unwrapSource(src).(Writer); ok {
		return w.CanWrite()
	}
	return false
}

// PackTile converts a decoded, already-cropped tile image into the
// requested output form. Backends use it to finish GetTile results.
func PackTile(img image.Image, opts *TileOptions) (*Tile, error) {
	b := img.Bounds()
	t := &Tile{
		Format: opts.format(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}
	switch t.Format {
	case FormatImage:
		t.Image = img
	case FormatRaw:
		t.Data = imaging.ToRGBA(img).Pix
	case FormatEncoded:
		encoding := "jpeg"
		if opts != nil && opts.Encoding != "" {
			encoding = opts.Encoding
		}
		var encOpts encode.Options
		if opts != nil {
			encOpts = encode.Options{Quality: opts.Quality, Subsampling: opts.Subsampling}
		}
		enc, err := encode.NewEncoder(encoding, encOpts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
		data, err := enc.Encode(img)
		if err != nil {
			return nil, fmt.Errorf("encoding tile: %w", err)
		}
		t.Data = data
		t.Mime = enc.MimeType()
	default:
		return nil, fmt.Errorf("%w: unknown tile format %d", ErrInvalidOption, t.Format)
	}
	return t, nil
}

// DecodedImage returns the tile as a decoded image regardless of its
// format.
func (t *Tile) DecodedImage() (image.Image, error) {
	switch t.Format {
	case FormatImage:
		return t.Image, nil
	case FormatRaw:
		img := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
		copy(img.Pix, t.Data)
		return img, nil
	case FormatEncoded:
		format := encode.Sniff(t.Data)
		if format == "" {
			return nil, fmt.Errorf("%w: unrecognized tile bytes", ErrDecodeFailed)
		}
		img, err := encode.DecodeImage(t.Data, format)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: unknown tile format %d", ErrInvalidOption, t.Format)
}
