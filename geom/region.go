package geom

import (
	"fmt"
	"math"
)

// Region describes a rectangular area of the image in the coordinate system
// named by Units. Left and Top may be negative, in which case they measure
// backwards from the right and bottom edges. The extent comes either from
// Width/Height or from Right/Bottom; nil extent fields run to the image
// edge. The zero Region covers the whole image in base pixels.
type Region struct {
	Left float64
	Top  float64

	Width  *float64
	Height *float64
	Right  *float64
	Bottom *float64

	Units Unit
}

// F returns a pointer to v, for populating the optional Region fields.
func F(v float64) *float64 { return &v }

// Rect is a normalized region: a half-open pixel rectangle in base
// coordinates with 0 <= Left <= Right <= SizeX (and likewise on Y).
type Rect struct {
	Left, Top, Right, Bottom int
}

// Width returns the rectangle width in pixels.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns the rectangle height in pixels.
func (r Rect) Height() int { return r.Bottom - r.Top }

// Empty reports whether the rectangle has zero area.
func (r Rect) Empty() bool { return r.Right <= r.Left || r.Bottom <= r.Top }

// Normalize resolves the region to a base-pixel rectangle: unit conversion,
// negative-offset adjustment, default extents, and clamping to the image
// bounds. A region lying entirely outside the image yields ErrOutOfRange;
// a zero-area region inside the image is valid.
func (rg Region) Normalize(md Metadata, sc Scale) (Rect, error) {
	loose, err := rg.NormalizeLoose(md, sc)
	if err != nil {
		return Rect{}, err
	}
	return clampRect(float64(loose.Left), float64(loose.Top),
		float64(loose.Right), float64(loose.Bottom), md), nil
}

// NormalizeLoose resolves the region to base pixels without clamping to the
// image bounds, for callers that fill beyond-bounds pixels instead of
// cropping them. A region with no overlap at all still fails with
// ErrOutOfRange.
func (rg Region) NormalizeLoose(md Metadata, sc Scale) (Rect, error) {
	fx, fy, err := unitFactors(md, rg.Units, sc)
	if err != nil {
		return Rect{}, err
	}

	left := rg.Left * fx
	top := rg.Top * fy
	if left < 0 {
		left += float64(md.SizeX)
	}
	if top < 0 {
		top += float64(md.SizeY)
	}

	right := float64(md.SizeX)
	switch {
	case rg.Width != nil:
		if *rg.Width < 0 {
			return Rect{}, fmt.Errorf("%w: negative region width", ErrInvalidOption)
		}
		right = left + *rg.Width*fx
	case rg.Right != nil:
		right = *rg.Right * fx
		if right < 0 {
			right += float64(md.SizeX)
		}
	}

	bottom := float64(md.SizeY)
	switch {
	case rg.Height != nil:
		if *rg.Height < 0 {
			return Rect{}, fmt.Errorf("%w: negative region height", ErrInvalidOption)
		}
		bottom = top + *rg.Height*fy
	case rg.Bottom != nil:
		bottom = *rg.Bottom * fy
		if bottom < 0 {
			bottom += float64(md.SizeY)
		}
	}

	if right < left || bottom < top {
		return Rect{}, fmt.Errorf("%w: inverted region", ErrInvalidOption)
	}

	r := Rect{
		Left:   int(math.Floor(left + pixelSnap)),
		Top:    int(math.Floor(top + pixelSnap)),
		Right:  int(math.Floor(right + pixelSnap)),
		Bottom: int(math.Floor(bottom + pixelSnap)),
	}
	if !r.Empty() && (r.Left >= md.SizeX || r.Top >= md.SizeY || r.Right <= 0 || r.Bottom <= 0) {
		return Rect{}, fmt.Errorf("%w: region outside the image", ErrOutOfRange)
	}
	return r, nil
}

// pixelSnap absorbs float error from unit conversion before truncating to
// a pixel grid, so values like 0.252mm / 0.000252mm land on 1000 exactly.
const pixelSnap = 1e-6

func clampRect(left, top, right, bottom float64, md Metadata) Rect {
	r := Rect{
		Left:   int(math.Floor(left + pixelSnap)),
		Top:    int(math.Floor(top + pixelSnap)),
		Right:  int(math.Floor(right + pixelSnap)),
		Bottom: int(math.Floor(bottom + pixelSnap)),
	}
	if r.Left < 0 {
		r.Left = 0
	}
	if r.Top < 0 {
		r.Top = 0
	}
	if r.Right > md.SizeX {
		r.Right = md.SizeX
	}
	if r.Bottom > md.SizeY {
		r.Bottom = md.SizeY
	}
	if r.Right < r.Left {
		r.Right = r.Left
	}
	if r.Bottom < r.Top {
		r.Bottom = r.Top
	}
	return r
}

// FRect is a rectangle with float64 coordinates, used when converting
// regions between unit systems.
type FRect struct {
	Left, Top, Right, Bottom float64
}

// ConvertRect converts a rectangle between two unit systems. The conversion
// goes through base pixels, composing the linear per-axis factors of the
// two systems.
func ConvertRect(md Metadata, r FRect, from Unit, fromScale Scale, to Unit, toScale Scale) (FRect, error) {
	ffx, ffy, err := unitFactors(md, from, fromScale)
	if err != nil {
		return FRect{}, err
	}
	tfx, tfy, err := unitFactors(md, to, toScale)
	if err != nil {
		return FRect{}, err
	}
	return FRect{
		Left:   r.Left * ffx / tfx,
		Top:    r.Top * ffy / tfy,
		Right:  r.Right * ffx / tfx,
		Bottom: r.Bottom * ffy / tfy,
	}, nil
}
