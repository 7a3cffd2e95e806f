package geom

import (
	"errors"
	"fmt"
)

// Errors surfaced by the geometry layer. The root package re-exports these
// alongside the backend error values.
var (
	// ErrOutOfRange reports coordinates or regions outside the image.
	ErrOutOfRange = errors.New("out of range")

	// ErrMissingCalibration reports a calibrated unit (mm, magnification)
	// requested on a source that carries no such calibration.
	ErrMissingCalibration = errors.New("missing calibration")

	// ErrNoMatchingLevel reports an exact scale request that does not land
	// on a discrete pyramid level.
	ErrNoMatchingLevel = errors.New("no matching level")

	// ErrInvalidOption reports an unknown unit, rounding mode, or
	// ill-formed region.
	ErrInvalidOption = errors.New("invalid option")
)

// Unit tags the coordinate system of a region or scale value.
type Unit int

const (
	// BasePixels are pixel coordinates at the highest-resolution level.
	BasePixels Unit = iota
	// MagPixels are pixel coordinates at the magnification requested by
	// the accompanying scale.
	MagPixels
	// MM are physical millimetres, resolved through the source calibration.
	MM
	// Fraction addresses the image as [0, 1] on both axes.
	Fraction
)

func (u Unit) String() string {
	switch u {
	case BasePixels:
		return "base_pixels"
	case MagPixels:
		return "mag_pixels"
	case MM:
		return "mm"
	case Fraction:
		return "fraction"
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

// ParseUnit resolves a unit name. The alias "pixels" is promoted to
// MagPixels when the request's scale specifies a magnification, and to
// BasePixels otherwise.
func ParseUnit(name string, sc Scale) (Unit, error) {
	switch name {
	case "", "base_pixels":
		return BasePixels, nil
	case "pixels":
		if sc.Magnification > 0 {
			return MagPixels, nil
		}
		return BasePixels, nil
	case "mag_pixels":
		return MagPixels, nil
	case "mm":
		return MM, nil
	case "fraction":
		return Fraction, nil
	}
	return 0, fmt.Errorf("%w: unknown units %q", ErrInvalidOption, name)
}

// unitFactors returns the per-axis multipliers converting a value in u to
// base pixels.
func unitFactors(md Metadata, u Unit, sc Scale) (fx, fy float64, err error) {
	switch u {
	case BasePixels:
		return 1, 1, nil
	case Fraction:
		return float64(md.SizeX), float64(md.SizeY), nil
	case MM:
		if md.MMX <= 0 || md.MMY <= 0 {
			return 0, 0, fmt.Errorf("%w: source has no mm scale", ErrMissingCalibration)
		}
		return 1 / md.MMX, 1 / md.MMY, nil
	case MagPixels:
		if sc.Magnification <= 0 {
			// No requested magnification: mag pixels degrade to base pixels.
			return 1, 1, nil
		}
		if md.Magnification <= 0 {
			return 0, 0, fmt.Errorf("%w: source has no magnification", ErrMissingCalibration)
		}
		f := md.Magnification / sc.Magnification
		return f, f, nil
	}
	return 0, 0, fmt.Errorf("%w: unknown units %v", ErrInvalidOption, u)
}
