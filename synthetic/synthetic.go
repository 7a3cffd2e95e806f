// Package synthetic provides a procedurally generated tile source
// addressed by test:// URIs. Tiles are a deterministic function of their
// coordinates, so outputs compare byte-for-byte across runs; the dispatcher
// serves it like any file-backed source, which makes the whole composite
// surface testable without fixtures.
//
// The URI query parameterizes the source:
//
//	test://default
//	test://?sizeX=23021&sizeY=23162&magnification=40&mm_x=0.000252
//	test://?fractal=true&maxLevel=5
package synthetic

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"strconv"
	"strings"

	"github.com/gigatile/gigatile"
	"github.com/gigatile/gigatile/geom"
)

// Scheme prefixes every path this backend accepts.
const Scheme = "test://"

// Defaults for unparameterized test sources.
const (
	defaultSize     = 16384
	defaultTileSide = 256
)

func init() {
	gigatile.Register(backend{}, 90)
}

type backend struct{}

// New constructs a synthetic source directly from a test URI, without
// going through a registry.
func New(uri string) (gigatile.Source, error) {
	return backend{}.Open(uri, nil)
}

func (backend) Name() string { return "synthetic" }

func (backend) CanRead(path string) bool {
	return strings.HasPrefix(path, Scheme)
}

func (backend) Open(path string, opts *gigatile.Options) (gigatile.Source, error) {
	if !strings.HasPrefix(path, Scheme) {
		return nil, fmt.Errorf("%w: not a test URI", gigatile.ErrUnsupportedFormat)
	}
	u, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrInvalidOption, err)
	}
	q := u.Query()

	md := geom.Metadata{
		SizeX:      queryInt(q, "sizeX", defaultSize),
		SizeY:      queryInt(q, "sizeY", defaultSize),
		TileWidth:  queryInt(q, "tileWidth", defaultTileSide),
		TileHeight: queryInt(q, "tileHeight", defaultTileSide),
	}
	if md.SizeX < 1 || md.SizeY < 1 || md.TileWidth < 1 || md.TileHeight < 1 {
		return nil, fmt.Errorf("%w: non-positive test source geometry", gigatile.ErrInvalidOption)
	}
	md.Levels = geom.ComputeLevels(md.SizeX, md.SizeY, md.TileWidth, md.TileHeight)
	if v := queryInt(q, "maxLevel", 0); v > 0 {
		md.Levels = v + 1
	}
	md.Magnification = queryFloat(q, "magnification", 0)
	md.MMX = queryFloat(q, "mm_x", 0)
	md.MMY = queryFloat(q, "mm_y", md.MMX)

	return &Source{
		md:       md,
		minLevel: queryInt(q, "minLevel", 0),
		fractal:  q.Get("fractal") == "true",
	}, nil
}

// Source renders deterministic tiles.
type Source struct {
	md       geom.Metadata
	minLevel int
	fractal  bool
}

// Metadata returns the configured pyramid geometry.
func (s *Source) Metadata() geom.Metadata { return s.md }

// Close is a no-op; the source holds no resources.
func (s *Source) Close() error { return nil }

// GetTile renders the tile at (x, y, z). The pattern is a function of the
// level pixel coordinates and the level number, so re-renders are
// identical. Distinct tiles are not guaranteed to differ: blue sums the
// coarse x and y coordinates, so with 256-pixel tiles (1, 0) and (0, 1) on
// one level render the same.
func (s *Source) GetTile(ctx context.Context, x, y, z int, opts *gigatile.TileOptions) (*gigatile.Tile, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrCancelled, err)
	}
	if !s.md.ValidLevel(z) || z < s.minLevel {
		return nil, fmt.Errorf("%w: level %d", gigatile.ErrOutOfRange, z)
	}
	if x < 0 || x >= s.md.TilesAcross(z) || y < 0 || y >= s.md.TilesDown(z) {
		return nil, fmt.Errorf("%w: tile (%d,%d) at level %d", gigatile.ErrOutOfRange, x, y, z)
	}

	w, h := s.md.TileSize(z, x, y)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	ox := x * s.md.TileWidth
	oy := y * s.md.TileHeight
	for py := 0; py < h; py++ {
		gy := oy + py
		row := img.Pix[py*img.Stride : py*img.Stride+w*4]
		for px := 0; px < w; px++ {
			gx := ox + px
			i := px * 4
			if s.fractal && gx&gy != 0 {
				row[i], row[i+1], row[i+2], row[i+3] = 0, 0, 0, 255
				continue
			}
			row[i] = uint8(gx)
			row[i+1] = uint8(gy)
			row[i+2] = uint8(z*32 + gx>>8 + gy>>8)
			row[i+3] = 255
		}
	}
	return gigatile.PackTile(img, opts)
}

func queryInt(q url.Values, key string, def int) int {
	v := q.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryFloat(q url.Values, key string, def float64) float64 {
	v := q.Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
