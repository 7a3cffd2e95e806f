package gigatile

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/gigatile/gigatile/encode"
	"github.com/gigatile/gigatile/geom"
	"github.com/gigatile/gigatile/internal/imaging"
	"github.com/gigatile/gigatile/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// MimeRaw labels raw RGBA pixel output.
const MimeRaw = "application/octet-stream"

// RegionOptions configures GetRegion.
type RegionOptions struct {
	Region geom.Region
	Scale  geom.Scale

	// Width and Height bound the output; the region is fitted inside,
	// preserving aspect. Zero derives the output size from the scale.
	Width  int
	Height int

	// Format selects the output form; the default is encoded bytes.
	Format TileFormat

	// Encoding is "JPEG", "PNG" or "WEBP"; empty selects JPEG.
	Encoding    string
	Quality     int
	Subsampling int

	// Edge selects the policy for regions extending past the image:
	// "crop" (default) shrinks the output, a colour fills the overhang.
	Edge string

	// TolerateErrors substitutes the edge fill colour for tiles whose
	// decode failed instead of failing the whole region.
	TolerateErrors bool
}

// RegionResult is an assembled region. Data and Mime are set for encoded
// and raw formats, Image for decoded output. A zero-area request yields
// empty Data with no error.
type RegionResult struct {
	Data   []byte
	Mime   string
	Image  image.Image
	Width  int
	Height int
}

// GetRegion cuts an arbitrary region out of the source at an arbitrary
// scale and returns it composited into a single output image.
func GetRegion(ctx context.Context, src Source, opts RegionOptions) (*RegionResult, error) {
	ctx, span := tracing.StartSpan(ctx, "region.assemble")
	defer span.End()

	md := src.Metadata()

	encoding := opts.Encoding
	if encoding == "" {
		encoding = "JPEG"
	}
	var enc encode.Encoder
	if opts.Format == FormatEncoded {
		var err error
		enc, err = encode.NewEncoder(canonicalEncoding(encoding), encode.Options{
			Quality:     opts.Quality,
			Subsampling: opts.Subsampling,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
		span.SetAttributes(attribute.String(tracing.AttrEncoding, enc.Format()))
	}

	fill, doFill, err := edgeFill(opts.Edge)
	if err != nil {
		return nil, err
	}

	// The loose rectangle sizes the output when the overhang is filled;
	// the clamped one bounds the tiles actually read.
	loose, err := opts.Region.NormalizeLoose(md, opts.Scale)
	if err != nil {
		return nil, err
	}
	clamped, err := opts.Region.Normalize(md, opts.Scale)
	if err != nil {
		return nil, err
	}
	frame := clamped
	if doFill {
		frame = loose
	}
	if frame.Empty() {
		return emptyResult(enc), nil
	}

	if opts.Width < 0 || opts.Height < 0 {
		return nil, fmt.Errorf("%w: invalid output width or height", ErrInvalidOption)
	}
	outW, outH, outScaleX, outScaleY, err := outputSize(md, opts, frame)
	if err != nil {
		if errors.Is(err, ErrNoMatchingLevel) {
			return emptyResult(enc), nil
		}
		return nil, err
	}
	if outW <= 0 || outH <= 0 {
		return emptyResult(enc), nil
	}

	level, err := levelForOutput(md, opts.Scale, outScaleX, outScaleY)
	if err != nil {
		if errors.Is(err, ErrNoMatchingLevel) {
			return emptyResult(enc), nil
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrLevel, level))

	canvas := image.NewRGBA(image.Rect(0, 0, outW, outH))
	if doFill {
		imaging.Fill(canvas, fill)
	}

	it, err := NewTileIterator(src, IteratorOptions{
		Region: baseRegion(clamped),
		Scale:  geom.Scale{Level: &level},
		Format: FormatImage,
	})
	if err != nil {
		return nil, err
	}

	s := md.ScaleAtLevel(level)
	place := func(levelX, levelY int, img image.Image) {
		// Tile extent in base pixels, mapped into output coordinates
		// relative to the frame origin.
		bx := levelX * md.TileWidth * s
		by := levelY * md.TileHeight * s
		bw := img.Bounds().Dx() * s
		bh := img.Bounds().Dy() * s
		dst := image.Rect(
			roundInt(float64(bx-frame.Left)*outScaleX),
			roundInt(float64(by-frame.Top)*outScaleY),
			roundInt(float64(bx+bw-frame.Left)*outScaleX),
			roundInt(float64(by+bh-frame.Top)*outScaleY),
		)
		imaging.DrawScaled(canvas, img, dst)
	}

	for {
		rec, err := it.Next(ctx)
		if err != nil {
			if opts.TolerateErrors && errors.Is(err, ErrDecodeFailed) {
				lx, ly, ok := it.Skip()
				if !ok {
					break
				}
				w, h := md.TileSize(level, lx, ly)
				sub := image.NewRGBA(image.Rect(0, 0, w, h))
				imaging.Fill(sub, fill)
				place(lx, ly, sub)
				continue
			}
			return nil, err
		}
		if rec == nil {
			break
		}
		place(rec.LevelX, rec.LevelY, rec.Tile.Image)
	}

	return finishCanvas(canvas, opts.Format, enc)
}

// outputSize determines the output dimensions and the output-per-base-pixel
// factors for a region of the given frame.
func outputSize(md geom.Metadata, opts RegionOptions, frame geom.Rect) (w, h int, sx, sy float64, err error) {
	srcW := float64(frame.Width())
	srcH := float64(frame.Height())
	if srcW <= 0 || srcH <= 0 {
		return 0, 0, 0, 0, nil
	}

	switch {
	case opts.Width > 0 && opts.Height > 0:
		scale := math.Min(float64(opts.Width)/srcW, float64(opts.Height)/srcH)
		w = int(srcW*scale + 0.5)
		h = int(srcH*scale + 0.5)
	case opts.Width > 0:
		scale := float64(opts.Width) / srcW
		w = opts.Width
		h = int(srcH*scale + 0.5)
	case opts.Height > 0:
		scale := float64(opts.Height) / srcH
		w = int(srcW*scale + 0.5)
		h = opts.Height
	default:
		cont, cerr := geom.FractionalLevel(md, opts.Scale, true)
		if cerr != nil {
			return 0, 0, 0, 0, cerr
		}
		scale := math.Pow(2, cont-float64(md.Levels-1))
		// Absorb float error from the log/pow round trip before
		// truncating, so an exact 0.375 scale maps 2000 pixels to 750.
		w = int(srcW*scale + 1e-9)
		h = int(srcH*scale + 1e-9)
	}
	if w < 1 || h < 1 {
		return 0, 0, 0, 0, nil
	}
	return w, h, float64(w) / srcW, float64(h) / srcH, nil
}

// levelForOutput selects the pyramid level for assembly: the smallest level
// whose resolution is at least the output resolution, never upsampling from
// a lower-resolution level. An exact scale binds the level instead.
func levelForOutput(md geom.Metadata, sc geom.Scale, outScaleX, outScaleY float64) (int, error) {
	if sc.Exact || sc.Level != nil {
		return geom.LevelFor(md, sc)
	}
	scale := math.Max(outScaleX, outScaleY)
	cont := float64(md.Levels-1) + math.Log2(scale)
	level := int(math.Ceil(cont - 1e-9))
	if level < 0 {
		level = 0
	}
	if level > md.Levels-1 {
		level = md.Levels - 1
	}
	return level, nil
}

// baseRegion expresses a normalized rectangle as a base-pixel Region.
func baseRegion(r geom.Rect) geom.Region {
	return geom.Region{
		Left:  float64(r.Left),
		Top:   float64(r.Top),
		Width: geom.F(float64(r.Width())), Height: geom.F(float64(r.Height())),
	}
}

// edgeFill parses the edge policy into a fill colour. doFill is false for
// the default crop policy.
func edgeFill(edge string) (color.RGBA, bool, error) {
	if edge == "" || edge == EdgeCrop {
		return color.RGBA{}, false, nil
	}
	c, err := ParseColor(edge)
	if err != nil {
		return color.RGBA{}, false, err
	}
	return c, true, nil
}

func emptyResult(enc encode.Encoder) *RegionResult {
	res := &RegionResult{}
	if enc != nil {
		res.Mime = enc.MimeType()
	}
	return res
}

func finishCanvas(canvas *image.RGBA, format TileFormat, enc encode.Encoder) (*RegionResult, error) {
	res := &RegionResult{
		Width:  canvas.Rect.Dx(),
		Height: canvas.Rect.Dy(),
	}
	switch format {
	case FormatImage:
		res.Image = canvas
	case FormatRaw:
		res.Data = canvas.Pix
		res.Mime = MimeRaw
	default:
		data, err := enc.Encode(canvas)
		if err != nil {
			return nil, fmt.Errorf("encoding region: %w", err)
		}
		res.Data = data
		res.Mime = enc.MimeType()
	}
	return res, nil
}

// canonicalEncoding maps the public encoding names ("JPEG") onto encoder
// format names.
func canonicalEncoding(s string) string {
	switch s {
	case "JPEG", "jpeg", "jpg":
		return "jpeg"
	case "PNG", "png":
		return "png"
	case "WEBP", "webp":
		return "webp"
	}
	return s
}

func roundInt(v float64) int {
	return int(math.Round(v))
}
