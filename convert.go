package gigatile

import (
	"github.com/gigatile/gigatile/geom"
)

// ConvertRegionScale re-expresses a region in another unit system, using
// one scale to interpret the input units and another for the output. The
// result carries explicit Left/Top/Width/Height in the target units.
func ConvertRegionScale(src Source, region geom.Region, fromScale, toScale geom.Scale, toUnits geom.Unit) (geom.Region, error) {
	md := src.Metadata()

	rect, err := region.NormalizeLoose(md, fromScale)
	if err != nil {
		return geom.Region{}, err
	}
	out, err := geom.ConvertRect(md, geom.FRect{
		Left: float64(rect.Left), Top: float64(rect.Top),
		Right: float64(rect.Right), Bottom: float64(rect.Bottom),
	}, geom.BasePixels, fromScale, toUnits, toScale)
	if err != nil {
		return geom.Region{}, err
	}

	return geom.Region{
		Left:   out.Left,
		Top:    out.Top,
		Width:  geom.F(out.Right - out.Left),
		Height: geom.F(out.Bottom - out.Top),
		Units:  toUnits,
	}, nil
}
