// Package gigatile exposes arbitrary-resolution raster images — whole-slide
// scans, geospatial rasters, plain images — as a uniform pyramidal tile
// source. Backends register themselves on import, database/sql style:
//
//	import (
//		"github.com/gigatile/gigatile"
//		_ "github.com/gigatile/gigatile/flat"
//		_ "github.com/gigatile/gigatile/tiff"
//	)
//
//	src, err := gigatile.Open(ctx, "slide.svs", nil)
//
// Sources hand out individual tiles at (x, y, level) addresses; the
// package-level composite operations — TileIterator, GetRegion,
// GetThumbnail — build arbitrary crops, scales and thumbnails on top, with
// decoded tiles served from a shared bounded cache.
package gigatile
