package gigatile_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"testing"

	"github.com/gigatile/gigatile"
	"github.com/gigatile/gigatile/encode"
	"github.com/gigatile/gigatile/geom"
	_ "github.com/gigatile/gigatile/synthetic"
)

const wideURI = "test://?sizeX=58368&sizeY=12288&magnification=40"

func decodePNGSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestRegionPNG(t *testing.T) {
	src := openTestSource(t, wideURI)

	res, err := gigatile.GetRegion(context.Background(), src, gigatile.RegionOptions{
		Region: geom.Region{
			Left: 48000, Top: 3000,
			Width: geom.F(1000), Height: geom.F(1000),
		},
		Encoding: "PNG",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(res.Data, encode.PNGMagic) {
		t.Fatalf("output starts with % X", res.Data[:8])
	}
	if res.Mime != "image/png" {
		t.Errorf("mime = %q", res.Mime)
	}
	w, h := decodePNGSize(t, res.Data)
	if w != 1000 || h != 1000 {
		t.Fatalf("decoded size = %dx%d, want 1000x1000", w, h)
	}
}

func TestRegionNegativeOffsetsIdentical(t *testing.T) {
	src := openTestSource(t, wideURI)
	md := src.Metadata()

	base := gigatile.RegionOptions{
		Region: geom.Region{
			Left: 48000, Top: 3000,
			Width: geom.F(1000), Height: geom.F(1000),
		},
		Encoding: "PNG",
	}
	a, err := gigatile.GetRegion(context.Background(), src, base)
	if err != nil {
		t.Fatal(err)
	}

	neg := base
	neg.Region.Left = 48000 - float64(md.SizeX)
	neg.Region.Top = 3000 - float64(md.SizeY)
	b, err := gigatile.GetRegion(context.Background(), src, neg)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Fatal("negative offsets produced different bytes")
	}

	// Right/bottom form resolves to the same pixels too.
	rb := base
	rb.Region = geom.Region{
		Left: 48000, Top: 3000,
		Right: geom.F(49000), Bottom: geom.F(4000),
	}
	c, err := gigatile.GetRegion(context.Background(), src, rb)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Data, c.Data) {
		t.Fatal("right/bottom region produced different bytes")
	}
}

func TestRegionZeroArea(t *testing.T) {
	src := openTestSource(t, wideURI)
	res, err := gigatile.GetRegion(context.Background(), src, gigatile.RegionOptions{
		Region: geom.Region{
			Left: 48000, Top: 3000,
			Width: geom.F(1000), Height: geom.F(0),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Data) != 0 {
		t.Fatalf("zero-area region returned %d bytes", len(res.Data))
	}
}

func TestRegionScaledOutput(t *testing.T) {
	src := openTestSource(t, wideURI)
	res, err := gigatile.GetRegion(context.Background(), src, gigatile.RegionOptions{
		Region: geom.Region{Width: geom.F(2000), Height: geom.F(1500)},
		Width:  500, Height: 500,
		Encoding: "PNG",
	})
	if err != nil {
		t.Fatal(err)
	}
	w, h := decodePNGSize(t, res.Data)
	if w != 500 || h != 375 {
		t.Fatalf("decoded size = %dx%d, want 500x375", w, h)
	}
}

func TestRegionMagnification(t *testing.T) {
	src := openTestSource(t, wideURI)

	// Non-exact: output scales by mag/native = 0.375.
	res, err := gigatile.GetRegion(context.Background(), src, gigatile.RegionOptions{
		Region:   geom.Region{Width: geom.F(2000), Height: geom.F(1500)},
		Scale:    geom.Scale{Magnification: 15},
		Encoding: "PNG",
	})
	if err != nil {
		t.Fatal(err)
	}
	w, h := decodePNGSize(t, res.Data)
	if w != 750 || h != 562 {
		t.Fatalf("decoded size = %dx%d, want 750x562", w, h)
	}

	// Exact at a non-level magnification: empty output, no error.
	res, err = gigatile.GetRegion(context.Background(), src, gigatile.RegionOptions{
		Region:   geom.Region{Width: geom.F(2000), Height: geom.F(1500)},
		Scale:    geom.Scale{Magnification: 15, Exact: true},
		Encoding: "PNG",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Data) != 0 {
		t.Fatalf("exact mismatch returned %d bytes", len(res.Data))
	}

	// Exact at a discrete level works.
	res, err = gigatile.GetRegion(context.Background(), src, gigatile.RegionOptions{
		Region:   geom.Region{Width: geom.F(2000), Height: geom.F(1500)},
		Scale:    geom.Scale{Magnification: 10, Exact: true},
		Encoding: "PNG",
	})
	if err != nil {
		t.Fatal(err)
	}
	w, h = decodePNGSize(t, res.Data)
	if w != 500 || h != 375 {
		t.Fatalf("decoded size = %dx%d, want 500x375", w, h)
	}
}

func TestRegionJPEGDefaults(t *testing.T) {
	src := openTestSource(t, wideURI)
	opts := gigatile.RegionOptions{
		Region: geom.Region{Left: 1000, Top: 1000, Width: geom.F(600), Height: geom.F(400)},
	}
	res, err := gigatile.GetRegion(context.Background(), src, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(res.Data, encode.JPEGMagic) {
		t.Fatal("default encoding is not JPEG")
	}
	if res.Mime != "image/jpeg" {
		t.Errorf("mime = %q", res.Mime)
	}

	low := opts
	low.Quality = 10
	lowRes, err := gigatile.GetRegion(context.Background(), src, low)
	if err != nil {
		t.Fatal(err)
	}
	if len(lowRes.Data) >= len(res.Data) {
		t.Errorf("quality 10 (%d bytes) not smaller than default (%d bytes)", len(lowRes.Data), len(res.Data))
	}
}

func TestRegionEdgePolicies(t *testing.T) {
	src := openTestSource(t, "test://?sizeX=1000&sizeY=800")

	// Crop (the default): the overhang shrinks away.
	res, err := gigatile.GetRegion(context.Background(), src, gigatile.RegionOptions{
		Region: geom.Region{Left: 900, Top: 700, Width: geom.F(200), Height: geom.F(200)},
		Format: gigatile.FormatImage,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Width != 100 || res.Height != 100 {
		t.Fatalf("cropped output = %dx%d, want 100x100", res.Width, res.Height)
	}

	// Colour fill: the output keeps the requested extent and the overhang
	// carries the fill colour.
	res, err = gigatile.GetRegion(context.Background(), src, gigatile.RegionOptions{
		Region: geom.Region{Left: 900, Top: 700, Width: geom.F(200), Height: geom.F(200)},
		Format: gigatile.FormatImage,
		Edge:   "#ff0000",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Width != 200 || res.Height != 200 {
		t.Fatalf("filled output = %dx%d, want 200x200", res.Width, res.Height)
	}
	r, g, b, _ := res.Image.At(150, 150).RGBA()
	if r>>8 != 255 || g>>8 != 0 || b>>8 != 0 {
		t.Errorf("overhang pixel = (%d,%d,%d), want red", r>>8, g>>8, b>>8)
	}
	r, _, _, _ = res.Image.At(10, 10).RGBA()
	if r>>8 == 255 {
		t.Error("in-bounds pixel overwritten by fill")
	}

	// An invalid colour is an option error.
	_, err = gigatile.GetRegion(context.Background(), src, gigatile.RegionOptions{
		Region: geom.Region{Width: geom.F(10), Height: geom.F(10)},
		Edge:   "#nothex",
	})
	if !errors.Is(err, gigatile.ErrInvalidOption) {
		t.Errorf("err = %v, want ErrInvalidOption", err)
	}
}

// flakySource fails decoding one specific tile.
type flakySource struct {
	gigatile.Source
	badX, badY, badZ int
}

func (f *flakySource) GetTile(ctx context.Context, x, y, z int, opts *gigatile.TileOptions) (*gigatile.Tile, error) {
	if x == f.badX && y == f.badY && z == f.badZ {
		return nil, fmt.Errorf("%w: synthetic corruption", gigatile.ErrDecodeFailed)
	}
	return f.Source.GetTile(ctx, x, y, z, opts)
}

func TestRegionTolerateErrors(t *testing.T) {
	inner := openTestSource(t, "test://?sizeX=512&sizeY=512")
	src := &flakySource{Source: inner, badX: 0, badY: 0, badZ: inner.Metadata().Levels - 1}

	opts := gigatile.RegionOptions{Format: gigatile.FormatImage}

	// By default a bad tile fails the whole region.
	if _, err := gigatile.GetRegion(context.Background(), src, opts); !errors.Is(err, gigatile.ErrDecodeFailed) {
		t.Fatalf("err = %v, want ErrDecodeFailed", err)
	}

	// With TolerateErrors the bad tile is painted with the fill colour
	// and assembly continues.
	opts.TolerateErrors = true
	opts.Edge = "#00ff00"
	res, err := gigatile.GetRegion(context.Background(), src, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Width != 512 || res.Height != 512 {
		t.Fatalf("output = %dx%d", res.Width, res.Height)
	}
	_, g, _, _ := res.Image.At(10, 10).RGBA()
	if g>>8 != 255 {
		t.Errorf("bad-tile area green = %d, want 255", g>>8)
	}
	_, g2, _, _ := res.Image.At(400, 400).RGBA()
	if g2>>8 == 255 {
		t.Error("good-tile area overwritten by fill")
	}
}

func TestRegionInvalidParams(t *testing.T) {
	src := openTestSource(t, wideURI)
	ctx := context.Background()

	if _, err := gigatile.GetRegion(ctx, src, gigatile.RegionOptions{Encoding: "TIFF"}); !errors.Is(err, gigatile.ErrInvalidOption) {
		t.Errorf("bad encoding: err = %v", err)
	}
	if _, err := gigatile.GetRegion(ctx, src, gigatile.RegionOptions{Width: -5}); !errors.Is(err, gigatile.ErrInvalidOption) {
		t.Errorf("negative width: err = %v", err)
	}
	if _, err := gigatile.GetRegion(ctx, src, gigatile.RegionOptions{
		Region: geom.Region{Left: 1e9, Width: geom.F(10), Height: geom.F(10)},
	}); !errors.Is(err, gigatile.ErrOutOfRange) {
		t.Errorf("far outside region: err = %v", err)
	}
}

func TestRegionRawFormat(t *testing.T) {
	src := openTestSource(t, "test://?sizeX=1024&sizeY=1024")
	res, err := gigatile.GetRegion(context.Background(), src, gigatile.RegionOptions{
		Region: geom.Region{Left: 0, Top: 0, Width: geom.F(64), Height: geom.F(32)},
		Format: gigatile.FormatRaw,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Data) != 64*32*4 {
		t.Fatalf("raw payload = %d bytes, want %d", len(res.Data), 64*32*4)
	}
	if res.Mime != gigatile.MimeRaw {
		t.Errorf("mime = %q", res.Mime)
	}
}

func TestThumbnail(t *testing.T) {
	src := openTestSource(t, wideURI)

	res, err := gigatile.GetThumbnail(context.Background(), src, gigatile.ThumbnailOptions{
		Encoding: "PNG",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(res.Data, encode.PNGMagic) {
		t.Fatal("thumbnail is not a PNG")
	}
	w, h := decodePNGSize(t, res.Data)
	if w != 256 || h != 53 {
		t.Fatalf("thumbnail = %dx%d, want 256x53", w, h)
	}

	// A repeated request is served from the cache with identical bytes.
	again, err := gigatile.GetThumbnail(context.Background(), src, gigatile.ThumbnailOptions{
		Encoding: "PNG",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res.Data, again.Data) {
		t.Fatal("cached thumbnail differs")
	}

	square, err := gigatile.GetThumbnail(context.Background(), src, gigatile.ThumbnailOptions{
		MaxWidth: 100, MaxHeight: 100, Encoding: "PNG",
	})
	if err != nil {
		t.Fatal(err)
	}
	w, h = decodePNGSize(t, square.Data)
	if w != 100 || h != 21 {
		t.Fatalf("bounded thumbnail = %dx%d, want 100x21", w, h)
	}
}

func TestConvertRegionScale(t *testing.T) {
	src := openTestSource(t, slideURI)

	out, err := gigatile.ConvertRegionScale(src,
		geom.Region{Left: 1000, Top: 2000, Width: geom.F(4000), Height: geom.F(4000)},
		geom.Scale{}, geom.Scale{Magnification: 20}, geom.MagPixels)
	if err != nil {
		t.Fatal(err)
	}
	if out.Units != geom.MagPixels {
		t.Fatalf("units = %v", out.Units)
	}
	// Half the native magnification halves every coordinate.
	if out.Left != 500 || out.Top != 1000 || *out.Width != 2000 || *out.Height != 2000 {
		t.Fatalf("converted = left %v top %v w %v h %v", out.Left, out.Top, *out.Width, *out.Height)
	}

	if _, err := gigatile.ConvertRegionScale(src,
		geom.Region{Width: geom.F(10), Height: geom.F(10)},
		geom.Scale{}, geom.Scale{}, geom.MM); err != nil {
		t.Fatalf("mm conversion on calibrated source: %v", err)
	}
}
