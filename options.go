package gigatile

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// EdgeCrop is the Edge value selecting shrink-to-bounds behaviour for
// regions that extend past the image.
const EdgeCrop = "crop"

// Options configures how a source is opened and how its default outputs
// are encoded.
type Options struct {
	// MaxWidth and MaxHeight bound flat (non-pyramidal) images. Zero
	// selects the backend default.
	MaxWidth  int
	MaxHeight int

	// Encoding is the default output encoding for composite operations:
	// "JPEG", "PNG" or "WEBP". Empty selects JPEG.
	Encoding string

	// JPEGQuality is 0 (default) or 1-100.
	JPEGQuality int

	// JPEGSubsampling selects chroma subsampling: 0 (4:4:4), 1 (4:2:2),
	// 2 (4:2:0).
	JPEGSubsampling int

	// Edge selects the policy for regions extending past the image:
	// "crop" (default) or a fill colour ("#rrggbb" or a named colour).
	Edge string
}

// Validate checks option values without opening anything.
func (o *Options) Validate() error {
	if o == nil {
		return nil
	}
	if o.MaxWidth < 0 || o.MaxHeight < 0 {
		return fmt.Errorf("%w: negative max size", ErrInvalidOption)
	}
	switch strings.ToUpper(o.Encoding) {
	case "", "JPEG", "PNG", "WEBP":
	default:
		return fmt.Errorf("%w: invalid encoding %q", ErrInvalidOption, o.Encoding)
	}
	if o.JPEGQuality < 0 || o.JPEGQuality > 100 {
		return fmt.Errorf("%w: jpeg quality %d out of range", ErrInvalidOption, o.JPEGQuality)
	}
	if o.JPEGSubsampling < 0 || o.JPEGSubsampling > 2 {
		return fmt.Errorf("%w: jpeg subsampling %d out of range", ErrInvalidOption, o.JPEGSubsampling)
	}
	if o.Edge != "" && o.Edge != EdgeCrop {
		if _, err := ParseColor(o.Edge); err != nil {
			return err
		}
	}
	return nil
}

// stateKey folds the options into source fingerprints, so the same path
// opened with different options yields distinct instances.
func (o *Options) stateKey() string {
	if o == nil {
		return ""
	}
	return fmt.Sprintf("%d,%d,%s,%d,%d,%s",
		o.MaxWidth, o.MaxHeight, o.Encoding, o.JPEGQuality, o.JPEGSubsampling, o.Edge)
}

// ParseOptions builds Options from a loosely-typed dictionary, the form
// collaborators pass through configuration. Unknown keys are rejected.
func ParseOptions(raw map[string]any) (*Options, error) {
	opts := &Options{}
	for key, val := range raw {
		switch key {
		case "max_size":
			switch v := val.(type) {
			case int:
				opts.MaxWidth, opts.MaxHeight = v, v
			case float64:
				opts.MaxWidth, opts.MaxHeight = int(v), int(v)
			case map[string]any:
				w, werr := intValue(v["width"])
				h, herr := intValue(v["height"])
				if werr != nil || herr != nil {
					return nil, fmt.Errorf("%w: max_size width/height must be numbers", ErrInvalidOption)
				}
				opts.MaxWidth, opts.MaxHeight = w, h
			default:
				return nil, fmt.Errorf("%w: max_size must be a number or {width, height}", ErrInvalidOption)
			}
		case "encoding":
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("%w: encoding must be a string", ErrInvalidOption)
			}
			opts.Encoding = s
		case "jpeg_quality":
			n, err := intValue(val)
			if err != nil {
				return nil, fmt.Errorf("%w: jpeg_quality must be a number", ErrInvalidOption)
			}
			opts.JPEGQuality = n
		case "jpeg_subsampling":
			n, err := intValue(val)
			if err != nil {
				return nil, fmt.Errorf("%w: jpeg_subsampling must be a number", ErrInvalidOption)
			}
			opts.JPEGSubsampling = n
		case "edge":
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("%w: edge must be a string", ErrInvalidOption)
			}
			opts.Edge = s
		default:
			return nil, fmt.Errorf("%w: unknown option %q", ErrInvalidOption, key)
		}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func intValue(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// namedColors are the colour names accepted as edge fills.
var namedColors = map[string]color.RGBA{
	"black":       {0, 0, 0, 255},
	"white":       {255, 255, 255, 255},
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"blue":        {0, 0, 255, 255},
	"yellow":      {255, 255, 0, 255},
	"cyan":        {0, 255, 255, 255},
	"magenta":     {255, 0, 255, 255},
	"gray":        {128, 128, 128, 255},
	"grey":        {128, 128, 128, 255},
	"transparent": {0, 0, 0, 0},
}

// ParseColor parses "#rgb", "#rrggbb", "#rrggbbaa" or a named colour.
func ParseColor(s string) (color.RGBA, error) {
	if c, ok := namedColors[strings.ToLower(s)]; ok {
		return c, nil
	}
	if !strings.HasPrefix(s, "#") {
		return color.RGBA{}, fmt.Errorf("%w: invalid colour %q", ErrInvalidOption, s)
	}
	hex := s[1:]
	var r, g, b, a uint64
	var err error
	switch len(hex) {
	case 3:
		r, g, b, a, err = parseHexParts(hex, 1)
	case 6, 8:
		r, g, b, a, err = parseHexParts(hex, 2)
	default:
		return color.RGBA{}, fmt.Errorf("%w: invalid colour %q", ErrInvalidOption, s)
	}
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: invalid colour %q", ErrInvalidOption, s)
	}
	return color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: uint8(a)}, nil
}

func parseHexParts(hex string, digits int) (r, g, b, a uint64, err error) {
	part := func(i int) (uint64, error) {
		v, err := strconv.ParseUint(hex[i*digits:(i+1)*digits], 16, 8)
		if err != nil {
			return 0, err
		}
		if digits == 1 {
			v = v*16 + v
		}
		return v, nil
	}
	if r, err = part(0); err != nil {
		return
	}
	if g, err = part(1); err != nil {
		return
	}
	if b, err = part(2); err != nil {
		return
	}
	a = 255
	if len(hex) == 8 {
		a, err = part(3)
	}
	return
}
