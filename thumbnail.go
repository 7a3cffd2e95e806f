package gigatile

import (
	"context"
	"fmt"
	"math"

	"github.com/gigatile/gigatile/cache"
	"github.com/gigatile/gigatile/encode"
	"github.com/gigatile/gigatile/geom"
	"github.com/gigatile/gigatile/internal/imaging"
	"github.com/gigatile/gigatile/tracing"
)

// DefaultThumbnailSize bounds thumbnails when no size is requested.
const DefaultThumbnailSize = 256

// ThumbnailOptions configures GetThumbnail.
type ThumbnailOptions struct {
	// MaxWidth and MaxHeight bound the thumbnail; the image aspect is
	// preserved inside the box. Zero selects the 256-pixel default.
	MaxWidth  int
	MaxHeight int

	Format      TileFormat // default encoded bytes
	Encoding    string     // "JPEG", "PNG" or "WEBP"; empty selects JPEG
	Quality     int
	Subsampling int
}

// GetThumbnail renders the whole image into an aspect-preserving thumbnail.
// The pyramid level closest above the target resolution is assembled, then
// reduced with an area-average kernel. Encoded thumbnails for
// dispatcher-managed sources are cached under the source fingerprint.
func GetThumbnail(ctx context.Context, src Source, opts ThumbnailOptions) (*RegionResult, error) {
	ctx, span := tracing.StartSpan(ctx, "thumbnail.render")
	defer span.End()

	maxW := opts.MaxWidth
	maxH := opts.MaxHeight
	if maxW <= 0 {
		maxW = DefaultThumbnailSize
	}
	if maxH <= 0 {
		maxH = DefaultThumbnailSize
	}

	md := src.Metadata()
	// The limiting axis keeps its requested extent exactly; the other
	// follows the aspect. Images smaller than the box pass through.
	scaleX := float64(maxW) / float64(md.SizeX)
	scaleY := float64(maxH) / float64(md.SizeY)
	var outW, outH int
	scale := math.Min(scaleX, scaleY)
	switch {
	case scale >= 1:
		outW, outH = md.SizeX, md.SizeY
		scale = 1
	case scaleX <= scaleY:
		outW = maxW
		outH = int(float64(md.SizeY) * scaleX)
	default:
		outH = maxH
		outW = int(float64(md.SizeX) * scaleY)
	}
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}

	key := ""
	var tiles *cache.Cache
	if opts.Format != FormatImage {
		if cs, ok := src.(*cachedSource); ok {
			tiles = cs.tiles
			key = fmt.Sprintf("%s/thumb/%dx%d/%d,%s,%d,%d",
				cs.fp, outW, outH, opts.Format, opts.Encoding, opts.Quality, opts.Subsampling)
		}
	}
	if tiles != nil {
		if v, ok := tiles.Get(ctx, key); ok {
			if res, ok := v.(*RegionResult); ok {
				return res, nil
			}
		}
	}

	// Assemble the smallest level that still exceeds the target
	// resolution, then downscale with area averaging.
	level, err := levelForOutput(md, geom.Scale{}, scale, scale)
	if err != nil {
		return nil, err
	}
	assembled, err := GetRegion(ctx, src, RegionOptions{
		Scale:  geom.Scale{Level: &level},
		Format: FormatImage,
	})
	if err != nil {
		return nil, err
	}
	if assembled.Image == nil {
		return emptyResult(nil), nil
	}

	reduced, err := imaging.Downscale(ctx, assembled.Image, outW, outH)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelErr(ctx.Err())
		}
		return nil, err
	}

	encoding := opts.Encoding
	if encoding == "" {
		encoding = "JPEG"
	}
	var enc encode.Encoder
	if opts.Format == FormatEncoded {
		enc, err = encode.NewEncoder(canonicalEncoding(encoding), encode.Options{
			Quality:     opts.Quality,
			Subsampling: opts.Subsampling,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
	}
	res, err := finishCanvas(reduced, opts.Format, enc)
	if err != nil {
		return nil, err
	}
	if tiles != nil {
		tiles.Put(ctx, key, res)
	}
	return res, nil
}
