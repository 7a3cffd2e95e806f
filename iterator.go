package gigatile

import (
	"context"
	"errors"
	"math"

	"github.com/gigatile/gigatile/geom"
	"github.com/gigatile/gigatile/internal/imaging"
)

// TilePosition reduces an iterator to a single tile, addressed by flat
// position, by level tile indices, or by region-grid indices.
type TilePosition struct {
	Position         *int
	LevelX, LevelY   *int
	RegionX, RegionY *int
}

// IteratorRange describes the tile grid an iterator walks. Minima are
// inclusive, maxima exclusive; Positions is the total tile count.
type IteratorRange struct {
	LevelXMin, LevelXMax int
	LevelYMin, LevelYMax int
	RegionXMax           int
	RegionYMax           int
	Positions            int
}

// TileRecord is one step of iteration.
type TileRecord struct {
	// Tile carries the pixel data in the requested format, already
	// cropped to the actual extent and resampled when asked.
	Tile *Tile

	// Width and Height are the actual pixel extents of Tile.
	Width, Height int

	// X and Y locate the tile's origin in base pixels.
	X, Y int

	// Level is the pyramid level the tile came from.
	Level int

	// LevelX and LevelY are the tile indices on that level.
	LevelX, LevelY int

	// RegionX and RegionY are the indices within the region's tile grid.
	RegionX, RegionY int

	// Position is the flat row-major index within the region grid.
	Position int

	// Range is the full iterator bounds.
	Range IteratorRange
}

// IteratorOptions configures TileIterator.
type IteratorOptions struct {
	Region geom.Region
	Scale  geom.Scale

	// Resample rescales tiles to the requested magnification when it does
	// not coincide with the selected level.
	Resample bool

	// Format, Encoding, Quality and Subsampling select the output form of
	// each tile.
	Format      TileFormat
	Encoding    string
	Quality     int
	Subsampling int

	// Position reduces the sequence to at most one tile.
	Position *TilePosition
}

// TileIterator walks the tiles covering a region at a selected level in
// row-major order. It is an explicit state machine: restartable with Reset,
// cancellable between tiles, and cheap to construct.
type TileIterator struct {
	src  Source
	md   geom.Metadata
	opts IteratorOptions

	level  int
	rng    IteratorRange
	factor float64 // output scale relative to level pixels; 1 when native

	nextX, nextY int
	single       bool
	done         bool
}

// NewTileIterator plans an iteration. A Scale with Exact set that matches
// no discrete level yields a valid, empty iterator rather than an error,
// as does a zero-area region.
func NewTileIterator(src Source, opts IteratorOptions) (*TileIterator, error) {
	md := src.Metadata()
	it := &TileIterator{src: src, md: md, opts: opts, done: true}

	level, err := geom.LevelFor(md, opts.Scale)
	if errors.Is(err, geom.ErrNoMatchingLevel) {
		return it, nil
	}
	if err != nil {
		return nil, err
	}
	it.level = level

	rect, err := opts.Region.Normalize(md, opts.Scale)
	if err != nil {
		return nil, err
	}
	if rect.Empty() {
		return it, nil
	}

	// Project the base-pixel rectangle onto the level grid and derive the
	// covering tile range.
	s := md.ScaleAtLevel(level)
	lw, lh := md.LevelSize(level)
	lx0 := rect.Left / s
	ly0 := rect.Top / s
	lx1 := min(ceilDiv(rect.Right, s), lw)
	ly1 := min(ceilDiv(rect.Bottom, s), lh)
	if lx1 <= lx0 || ly1 <= ly0 {
		return it, nil
	}

	x0 := lx0 / md.TileWidth
	y0 := ly0 / md.TileHeight
	x1 := ceilDiv(lx1, md.TileWidth)
	y1 := ceilDiv(ly1, md.TileHeight)

	it.rng = IteratorRange{
		LevelXMin: x0, LevelXMax: x1,
		LevelYMin: y0, LevelYMax: y1,
		RegionXMax: x1 - x0,
		RegionYMax: y1 - y0,
		Positions:  (x1 - x0) * (y1 - y0),
	}

	it.factor = 1
	if opts.Resample {
		cont, err := geom.FractionalLevel(md, opts.Scale, true)
		if err != nil {
			return nil, err
		}
		f := math.Pow(2, cont-float64(level))
		if math.Abs(f-1) > 1e-6 {
			it.factor = f
		}
	}

	it.done = false
	it.nextX, it.nextY = x0, y0

	if opts.Position != nil {
		x, y, ok := it.resolvePosition(*opts.Position)
		if !ok {
			it.done = true
			return it, nil
		}
		it.nextX, it.nextY = x, y
		it.single = true
	}
	return it, nil
}

// resolvePosition maps a TilePosition to level tile indices, reporting
// false when it falls outside the range.
func (it *TileIterator) resolvePosition(pos TilePosition) (x, y int, ok bool) {
	r := it.rng
	switch {
	case pos.Position != nil:
		p := *pos.Position
		if p < 0 || p >= r.Positions {
			return 0, 0, false
		}
		return r.LevelXMin + p%r.RegionXMax, r.LevelYMin + p/r.RegionXMax, true
	case pos.LevelX != nil && pos.LevelY != nil:
		x, y = *pos.LevelX, *pos.LevelY
	case pos.RegionX != nil && pos.RegionY != nil:
		x, y = r.LevelXMin+*pos.RegionX, r.LevelYMin+*pos.RegionY
	default:
		return 0, 0, false
	}
	if x < r.LevelXMin || x >= r.LevelXMax || y < r.LevelYMin || y >= r.LevelYMax {
		return 0, 0, false
	}
	return x, y, true
}

// Range returns the iterator bounds. A planned-empty iterator reports zero
// positions.
func (it *TileIterator) Range() IteratorRange {
	return it.rng
}

// Level returns the selected pyramid level.
func (it *TileIterator) Level() int {
	return it.level
}

// Reset rewinds the iterator to its first tile.
func (it *TileIterator) Reset() {
	if it.rng.Positions == 0 {
		it.done = true
		return
	}
	it.done = false
	if it.opts.Position != nil {
		if x, y, ok := it.resolvePosition(*it.opts.Position); ok {
			it.nextX, it.nextY = x, y
			return
		}
		it.done = true
		return
	}
	it.nextX, it.nextY = it.rng.LevelXMin, it.rng.LevelYMin
}

// Next yields the next tile record, or (nil, nil) when the sequence is
// exhausted. Cancellation is honoured between tiles.
func (it *TileIterator) Next(ctx context.Context) (*TileRecord, error) {
	if it.done {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelErr(err)
	}

	x, y := it.nextX, it.nextY
	rec, err := it.fetch(ctx, x, y)
	if err != nil {
		// State is unchanged: the caller may Skip past the bad tile.
		return nil, err
	}
	it.Skip()
	return rec, nil
}

// Skip advances past the tile Next would fetch without reading it,
// returning the skipped level indices. Callers use it to step over tiles
// whose decode failed when they tolerate errors.
func (it *TileIterator) Skip() (levelX, levelY int, ok bool) {
	if it.done {
		return 0, 0, false
	}
	levelX, levelY = it.nextX, it.nextY
	if it.single {
		it.done = true
		return levelX, levelY, true
	}
	it.nextX++
	if it.nextX >= it.rng.LevelXMax {
		it.nextX = it.rng.LevelXMin
		it.nextY++
		if it.nextY >= it.rng.LevelYMax {
			it.done = true
		}
	}
	return levelX, levelY, true
}

func (it *TileIterator) fetch(ctx context.Context, x, y int) (*TileRecord, error) {
	tileOpts := &TileOptions{
		Format:      it.opts.Format,
		Encoding:    it.opts.Encoding,
		Quality:     it.opts.Quality,
		Subsampling: it.opts.Subsampling,
	}

	var tile *Tile
	if it.factor != 1 {
		// Resampling needs decoded pixels; re-pack afterwards.
		raw, err := it.src.GetTile(ctx, x, y, it.level, &TileOptions{Format: FormatImage})
		if err != nil {
			return nil, err
		}
		w := scaleDim(raw.Width, it.factor)
		h := scaleDim(raw.Height, it.factor)
		resized := imaging.Resize(raw.Image, w, h)
		tile, err = PackTile(resized, tileOpts)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		tile, err = it.src.GetTile(ctx, x, y, it.level, tileOpts)
		if err != nil {
			return nil, err
		}
	}

	s := it.md.ScaleAtLevel(it.level)
	return &TileRecord{
		Tile:     tile,
		Width:    tile.Width,
		Height:   tile.Height,
		X:        x * it.md.TileWidth * s,
		Y:        y * it.md.TileHeight * s,
		Level:    it.level,
		LevelX:   x,
		LevelY:   y,
		RegionX:  x - it.rng.LevelXMin,
		RegionY:  y - it.rng.LevelYMin,
		Position: (y-it.rng.LevelYMin)*it.rng.RegionXMax + (x - it.rng.LevelXMin),
		Range:    it.rng,
	}, nil
}

// scaleDim truncates a scaled tile extent, never below one pixel.
func scaleDim(v int, factor float64) int {
	n := int(float64(v) * factor)
	if n < 1 {
		n = 1
	}
	return n
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// AllTiles drains an iterator, mainly for tests and small regions.
func AllTiles(ctx context.Context, it *TileIterator) ([]*TileRecord, error) {
	var records []*TileRecord
	for {
		rec, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return records, nil
		}
		records = append(records, rec)
	}
}
