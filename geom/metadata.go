// Package geom implements the coordinate and unit system of the tiling
// engine: pyramid level geometry, unit conversions, region normalization,
// and scale-to-level selection.
package geom

import (
	"math"
)

// Metadata describes the pyramid geometry and physical calibration of an
// open tile source. Level numbering follows the convention that level 0 is
// the most downsampled tier and level Levels-1 is base resolution; each
// step up doubles the resolution on both axes.
type Metadata struct {
	SizeX int // base-resolution width in pixels
	SizeY int // base-resolution height in pixels

	TileWidth  int
	TileHeight int

	Levels int

	// MMX and MMY are the physical size of a base pixel in millimetres.
	// Zero means the source is uncalibrated.
	MMX float64
	MMY float64

	// Magnification is the native optical magnification (e.g. 40 for a
	// 40x slide scan). Zero when unknown.
	Magnification float64
}

// ComputeLevels returns the number of pyramid levels needed so that the
// most downsampled level fits within a single tile.
func ComputeLevels(sizeX, sizeY, tileWidth, tileHeight int) int {
	if sizeX <= 0 || sizeY <= 0 || tileWidth <= 0 || tileHeight <= 0 {
		return 1
	}
	xc := math.Ceil(math.Log2(float64(sizeX) / float64(tileWidth)))
	yc := math.Ceil(math.Log2(float64(sizeY) / float64(tileHeight)))
	levels := int(math.Max(xc, yc)) + 1
	if levels < 1 {
		levels = 1
	}
	return levels
}

// ScaleAtLevel returns the downsample factor of a level relative to base
// resolution: 1 at the top level, doubling per step down.
func (m Metadata) ScaleAtLevel(level int) int {
	return 1 << uint(m.Levels-1-level)
}

// LevelSize returns the pixel dimensions of one pyramid level. Dimensions
// truncate rather than round up, so the last column and row of tiles may be
// narrower than the declared tile size.
func (m Metadata) LevelSize(level int) (w, h int) {
	s := m.ScaleAtLevel(level)
	w = m.SizeX / s
	h = m.SizeY / s
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// ValidLevel reports whether level addresses an existing pyramid tier.
func (m Metadata) ValidLevel(level int) bool {
	return level >= 0 && level < m.Levels
}

// TilesAcross returns the number of tile columns at a level.
func (m Metadata) TilesAcross(level int) int {
	w, _ := m.LevelSize(level)
	return (w + m.TileWidth - 1) / m.TileWidth
}

// TilesDown returns the number of tile rows at a level.
func (m Metadata) TilesDown(level int) int {
	_, h := m.LevelSize(level)
	return (h + m.TileHeight - 1) / m.TileHeight
}

// TileSize returns the actual pixel extent of the tile at (x, y) on a
// level. Edge tiles are cropped to the level bounds.
func (m Metadata) TileSize(level, x, y int) (w, h int) {
	lw, lh := m.LevelSize(level)
	w = m.TileWidth
	if rem := lw - x*m.TileWidth; rem < w {
		w = rem
	}
	h = m.TileHeight
	if rem := lh - y*m.TileHeight; rem < h {
		h = rem
	}
	return w, h
}

// LevelMag describes the effective calibration of a single pyramid level.
type LevelMag struct {
	Level         int
	Magnification float64 // 0 when the source is uncalibrated
	MMX           float64
	MMY           float64
}

// MagnificationForLevel reports the magnification and pixel size of one
// level. Uncalibrated fields stay zero.
func (m Metadata) MagnificationForLevel(level int) LevelMag {
	s := float64(m.ScaleAtLevel(level))
	lm := LevelMag{Level: level}
	if m.Magnification > 0 {
		lm.Magnification = m.Magnification / s
	}
	if m.MMX > 0 {
		lm.MMX = m.MMX * s
	}
	if m.MMY > 0 {
		lm.MMY = m.MMY * s
	}
	return lm
}
