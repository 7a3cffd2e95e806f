package geom

import (
	"errors"
	"math"
	"testing"
)

func TestRegionNormalizeBasePixels(t *testing.T) {
	md := Metadata{SizeX: 58368, SizeY: 12288, TileWidth: 256, TileHeight: 256, Levels: 9}

	r, err := Region{Left: 48000, Top: 3000, Width: F(1000), Height: F(1000)}.Normalize(md, Scale{})
	if err != nil {
		t.Fatal(err)
	}
	want := Rect{Left: 48000, Top: 3000, Right: 49000, Bottom: 4000}
	if r != want {
		t.Fatalf("rect = %+v, want %+v", r, want)
	}

	// Negative offsets measure from the far edges and resolve to the same
	// rectangle.
	r2, err := Region{
		Left: 48000 - float64(md.SizeX), Top: 3000 - float64(md.SizeY),
		Width: F(1000), Height: F(1000),
	}.Normalize(md, Scale{})
	if err != nil {
		t.Fatal(err)
	}
	if r2 != want {
		t.Fatalf("negative offsets: rect = %+v, want %+v", r2, want)
	}

	// Right/Bottom instead of Width/Height.
	r3, err := Region{Left: 48000, Top: 3000, Right: F(49000), Bottom: F(4000)}.Normalize(md, Scale{})
	if err != nil {
		t.Fatal(err)
	}
	if r3 != want {
		t.Fatalf("right/bottom: rect = %+v, want %+v", r3, want)
	}
}

func TestRegionNormalizeFraction(t *testing.T) {
	md := Metadata{SizeX: 58368, SizeY: 12288, TileWidth: 256, TileHeight: 256, Levels: 9}

	want, err := Region{Left: 48000, Top: 3000, Width: F(1000), Height: F(1000)}.Normalize(md, Scale{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Region{
		Left:  48000.0 / float64(md.SizeX),
		Top:   3000.0 / float64(md.SizeY),
		Width: F(1000.0 / float64(md.SizeX)), Height: F(1000.0 / float64(md.SizeY)),
		Units: Fraction,
	}.Normalize(md, Scale{})
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("fraction rect = %+v, want %+v", got, want)
	}
}

func TestRegionNormalizeMM(t *testing.T) {
	md := svsMeta()
	r, err := Region{
		Left: 0.252, Top: 0.504, Width: F(0.252), Height: F(0.252), Units: MM,
	}.Normalize(md, Scale{})
	if err != nil {
		t.Fatal(err)
	}
	want := Rect{Left: 1000, Top: 2000, Right: 2000, Bottom: 3000}
	if r != want {
		t.Fatalf("mm rect = %+v, want %+v", r, want)
	}

	md.MMX, md.MMY = 0, 0
	if _, err := (Region{Left: 1, Units: MM}).Normalize(md, Scale{}); !errors.Is(err, ErrMissingCalibration) {
		t.Errorf("mm on uncalibrated source: err = %v, want ErrMissingCalibration", err)
	}
}

func TestRegionNormalizeMagPixels(t *testing.T) {
	md := svsMeta()
	r, err := Region{
		Left: 500, Top: 250, Width: F(500), Height: F(500), Units: MagPixels,
	}.Normalize(md, Scale{Magnification: 20})
	if err != nil {
		t.Fatal(err)
	}
	want := Rect{Left: 1000, Top: 500, Right: 2000, Bottom: 1500}
	if r != want {
		t.Fatalf("mag-pixel rect = %+v, want %+v", r, want)
	}
}

func TestRegionDefaultsAndClamping(t *testing.T) {
	md := Metadata{SizeX: 1000, SizeY: 800, TileWidth: 256, TileHeight: 256, Levels: 3}

	// The zero region covers the whole image.
	r, err := Region{}.Normalize(md, Scale{})
	if err != nil {
		t.Fatal(err)
	}
	if r != (Rect{0, 0, 1000, 800}) {
		t.Fatalf("zero region = %+v", r)
	}

	// Extents past the edge clamp.
	r, err = Region{Left: 900, Top: 700, Width: F(500), Height: F(500)}.Normalize(md, Scale{})
	if err != nil {
		t.Fatal(err)
	}
	if r != (Rect{900, 700, 1000, 800}) {
		t.Fatalf("clamped region = %+v", r)
	}

	// Zero-area regions are valid.
	r, err = Region{Left: 100, Top: 100, Width: F(500), Height: F(0)}.Normalize(md, Scale{})
	if err != nil {
		t.Fatal(err)
	}
	if !r.Empty() {
		t.Fatalf("zero-height region not empty: %+v", r)
	}

	// Entirely outside fails.
	if _, err := (Region{Left: 2000, Top: 0, Width: F(10), Height: F(10)}).Normalize(md, Scale{}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("outside region: err = %v, want ErrOutOfRange", err)
	}

	// Negative width fails.
	if _, err := (Region{Width: F(-5)}).Normalize(md, Scale{}); !errors.Is(err, ErrInvalidOption) {
		t.Errorf("negative width: err = %v, want ErrInvalidOption", err)
	}
}

func TestConvertRectRoundTrip(t *testing.T) {
	md := svsMeta()
	orig := FRect{Left: 1000, Top: 2000, Right: 3500, Bottom: 4000}

	for _, u := range []Unit{BasePixels, MM, Fraction, MagPixels} {
		sc := Scale{Magnification: 10}
		out, err := ConvertRect(md, orig, BasePixels, sc, u, sc)
		if err != nil {
			t.Fatalf("convert to %v: %v", u, err)
		}
		back, err := ConvertRect(md, out, u, sc, BasePixels, sc)
		if err != nil {
			t.Fatalf("convert back from %v: %v", u, err)
		}
		tol := 1.0 / float64(md.SizeX)
		for _, d := range []float64{
			back.Left - orig.Left, back.Top - orig.Top,
			back.Right - orig.Right, back.Bottom - orig.Bottom,
		} {
			if math.Abs(d) > tol {
				t.Errorf("round-trip through %v drifted by %v", u, d)
			}
		}
	}
}

func TestParseUnit(t *testing.T) {
	tests := []struct {
		name string
		sc   Scale
		want Unit
		ok   bool
	}{
		{"base_pixels", Scale{}, BasePixels, true},
		{"", Scale{}, BasePixels, true},
		{"pixels", Scale{}, BasePixels, true},
		{"pixels", Scale{Magnification: 20}, MagPixels, true},
		{"mag_pixels", Scale{}, MagPixels, true},
		{"mm", Scale{}, MM, true},
		{"fraction", Scale{}, Fraction, true},
		{"furlongs", Scale{}, 0, false},
	}
	for _, tt := range tests {
		got, err := ParseUnit(tt.name, tt.sc)
		if tt.ok != (err == nil) {
			t.Errorf("ParseUnit(%q): err = %v", tt.name, err)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseUnit(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
