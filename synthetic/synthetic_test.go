package synthetic

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gigatile/gigatile"
)

func openSource(t *testing.T, uri string) gigatile.Source {
	t.Helper()
	src, err := backend{}.Open(uri, nil)
	if err != nil {
		t.Fatalf("open %s: %v", uri, err)
	}
	return src
}

func TestCanRead(t *testing.T) {
	b := backend{}
	if !b.CanRead("test://default") {
		t.Error("rejected test URI")
	}
	if b.CanRead("/data/slide.svs") {
		t.Error("accepted a file path")
	}
}

func TestMetadataFromQuery(t *testing.T) {
	src := openSource(t, "test://?sizeX=23021&sizeY=23162&magnification=40&mm_x=0.000252")
	md := src.Metadata()
	if md.SizeX != 23021 || md.SizeY != 23162 {
		t.Fatalf("size = %dx%d", md.SizeX, md.SizeY)
	}
	if md.Levels != 8 {
		t.Fatalf("levels = %d, want 8", md.Levels)
	}
	if md.Magnification != 40 || md.MMX != 0.000252 || md.MMY != 0.000252 {
		t.Fatalf("calibration = %v/%v/%v", md.Magnification, md.MMX, md.MMY)
	}
}

func TestTileDeterminism(t *testing.T) {
	src := openSource(t, "test://default")
	ctx := context.Background()

	a, err := src.GetTile(ctx, 3, 2, src.Metadata().Levels-1, &gigatile.TileOptions{Format: gigatile.FormatRaw})
	if err != nil {
		t.Fatal(err)
	}
	b, err := src.GetTile(ctx, 3, 2, src.Metadata().Levels-1, &gigatile.TileOptions{Format: gigatile.FormatRaw})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Fatal("re-rendered tile differs")
	}

	c, err := src.GetTile(ctx, 2, 2, src.Metadata().Levels-1, &gigatile.TileOptions{Format: gigatile.FormatRaw})
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.Data, c.Data) {
		t.Fatal("distinct tiles render identically")
	}
}

func TestEdgeTileGeometry(t *testing.T) {
	src := openSource(t, "test://?sizeX=23021&sizeY=23162")
	md := src.Metadata()
	ctx := context.Background()

	for z := 0; z < md.Levels; z++ {
		nx := md.TilesAcross(z)
		ny := md.TilesDown(z)
		tile, err := src.GetTile(ctx, nx-1, ny-1, z, nil)
		if err != nil {
			t.Fatalf("level %d: %v", z, err)
		}
		wantW, wantH := md.TileSize(z, nx-1, ny-1)
		if tile.Width != wantW || tile.Height != wantH {
			t.Errorf("level %d edge tile = %dx%d, want %dx%d", z, tile.Width, tile.Height, wantW, wantH)
		}
	}
}

func TestOutOfRange(t *testing.T) {
	src := openSource(t, "test://?sizeX=1024&sizeY=1024")
	md := src.Metadata()
	ctx := context.Background()

	cases := [][3]int{
		{0, 0, md.Levels},
		{0, 0, -1},
		{md.TilesAcross(md.Levels - 1), 0, md.Levels - 1},
		{0, md.TilesDown(md.Levels - 1), md.Levels - 1},
		{-1, 0, 0},
	}
	for _, c := range cases {
		if _, err := src.GetTile(ctx, c[0], c[1], c[2], nil); !errors.Is(err, gigatile.ErrOutOfRange) {
			t.Errorf("GetTile(%d,%d,%d): err = %v, want ErrOutOfRange", c[0], c[1], c[2], err)
		}
	}
}

func TestMinLevel(t *testing.T) {
	src := openSource(t, "test://?sizeX=4096&sizeY=4096&minLevel=2")
	if _, err := src.GetTile(context.Background(), 0, 0, 1, nil); !errors.Is(err, gigatile.ErrOutOfRange) {
		t.Errorf("below minLevel: err = %v, want ErrOutOfRange", err)
	}
	if _, err := src.GetTile(context.Background(), 0, 0, 2, nil); err != nil {
		t.Errorf("at minLevel: %v", err)
	}
}

func TestFractalPattern(t *testing.T) {
	src := openSource(t, "test://?sizeX=512&sizeY=512&fractal=true")
	tile, err := src.GetTile(context.Background(), 0, 0, src.Metadata().Levels-1, nil)
	if err != nil {
		t.Fatal(err)
	}
	img := tile.Image
	// (1,1) has gx&gy != 0 and must be masked; (0,y) never is.
	r, g, b, _ := img.At(1, 1).RGBA()
	if r != 0 || g != 0 || b != 0 {
		t.Error("fractal mask missing at (1,1)")
	}
	r, _, _, _ = img.At(0, 128).RGBA()
	if r>>8 != 0 {
		t.Error("unexpected red component on unmasked column")
	}
}
