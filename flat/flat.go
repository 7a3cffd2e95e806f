// Package flat wraps a single non-pyramidal raster as a degenerate
// one-level tile source: the whole image is tile (0, 0, 0). It is the
// lowest-priority backend, picking up whatever the pyramidal backends
// decline.
package flat

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	// Register the stdlib and WebP decoders with the image package so
	// DecodeConfig and Decode recognize them.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "github.com/gen2brain/webp"

	"github.com/gigatile/gigatile"
	"github.com/gigatile/gigatile/geom"
	"github.com/gigatile/gigatile/internal/imaging"
)

// DefaultMaxSide is the largest width or height accepted without an
// explicit override; bigger images are rejected rather than decompressed
// into memory.
const DefaultMaxSide = 4096

func init() {
	gigatile.Register(backend{}, 50)
}

type backend struct{}

func (backend) Name() string { return "flat" }

// CanRead probes the file header through the registered image decoders.
func (backend) CanRead(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	_, _, err = image.DecodeConfig(f)
	return err == nil
}

func (backend) Open(path string, opts *gigatile.Options) (gigatile.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrIO, err)
	}
	defer f.Close()

	// Check the declared dimensions before decoding any pixels, so a
	// decompression bomb is rejected from its header alone.
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrUnsupportedFormat, err)
	}
	maxW, maxH := DefaultMaxSide, DefaultMaxSide
	if opts != nil && opts.MaxWidth > 0 {
		maxW = opts.MaxWidth
	}
	if opts != nil && opts.MaxHeight > 0 {
		maxH = opts.MaxHeight
	}
	if cfg.Width < 1 || cfg.Height < 1 {
		return nil, fmt.Errorf("%w: empty image", gigatile.ErrCorruptFile)
	}
	if cfg.Width > maxW || cfg.Height > maxH {
		return nil, fmt.Errorf("%w: %dx%d exceeds %dx%d", gigatile.ErrTooLarge,
			cfg.Width, cfg.Height, maxW, maxH)
	}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrIO, err)
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrDecodeFailed, err)
	}

	return &Source{img: imaging.ToRGBA(img)}, nil
}

// Source serves a decoded raster as a one-tile pyramid.
type Source struct {
	mu  sync.RWMutex
	img *image.RGBA
}

// Metadata declares a single level whose only tile is the whole image.
func (s *Source) Metadata() geom.Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.img.Bounds()
	return geom.Metadata{
		SizeX: b.Dx(), SizeY: b.Dy(),
		TileWidth: b.Dx(), TileHeight: b.Dy(),
		Levels: 1,
	}
}

// GetTile returns the whole image for (0, 0, 0) and ErrOutOfRange for
// every other address.
func (s *Source) GetTile(ctx context.Context, x, y, z int, opts *gigatile.TileOptions) (*gigatile.Tile, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrCancelled, err)
	}
	if z != 0 {
		return nil, fmt.Errorf("%w: level %d does not exist", gigatile.ErrOutOfRange, z)
	}
	if x != 0 || y != 0 {
		return nil, fmt.Errorf("%w: tile (%d,%d)", gigatile.ErrOutOfRange, x, y)
	}
	s.mu.RLock()
	img := s.img
	s.mu.RUnlock()
	if img == nil {
		return nil, fmt.Errorf("%w: source closed", gigatile.ErrIO)
	}
	return gigatile.PackTile(img, opts)
}

// Close drops the decoded pixels.
func (s *Source) Close() error {
	s.mu.Lock()
	s.img = nil
	s.mu.Unlock()
	return nil
}
