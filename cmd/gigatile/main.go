// Command gigatile inspects tile sources and extracts tiles, regions and
// thumbnails from them.
//
// Usage:
//
//	gigatile info <file>
//	gigatile tile [flags] <file> <z> <x> <y>
//	gigatile region [flags] <file>
//	gigatile thumbnail [flags] <file>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"github.com/gigatile/gigatile"
	"github.com/gigatile/gigatile/geom"

	// Backends register with the dispatcher on import.
	_ "github.com/gigatile/gigatile/flat"
	_ "github.com/gigatile/gigatile/pmtiles"
	_ "github.com/gigatile/gigatile/synthetic"
	_ "github.com/gigatile/gigatile/tiff"
)

// Set via -ldflags at build time.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "info":
		err = runInfo(ctx, os.Args[2:])
	case "tile":
		err = runTile(ctx, os.Args[2:])
	case "region":
		err = runRegion(ctx, os.Args[2:])
	case "thumbnail":
		err = runThumbnail(ctx, os.Args[2:])
	case "version":
		fmt.Printf("gigatile %s\n", version)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: gigatile <command> [flags] <args>

Commands:
  info       Print pyramid geometry, calibration and capabilities
  tile       Extract a single tile at z/x/y
  region     Extract a cropped, scaled region
  thumbnail  Render a whole-image thumbnail
  version    Print the version
`)
}

func openSource(ctx context.Context, path string, verbose bool) (gigatile.Source, error) {
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
	return gigatile.Open(ctx, path, nil)
}

func runInfo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "Debug logging")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: gigatile info <file>")
	}

	src, err := openSource(ctx, fs.Arg(0), *verbose)
	if err != nil {
		return err
	}
	defer src.Close()

	md := src.Metadata()
	fmt.Printf("Source: %s\n", fs.Arg(0))
	fmt.Printf("Size: %d x %d\n", md.SizeX, md.SizeY)
	fmt.Printf("Tile: %d x %d\n", md.TileWidth, md.TileHeight)
	fmt.Printf("Levels: %d\n", md.Levels)
	if md.Magnification > 0 {
		fmt.Printf("Magnification: %gx\n", md.Magnification)
	}
	if md.MMX > 0 {
		fmt.Printf("Pixel size: %g x %g mm\n", md.MMX, md.MMY)
	}
	for z := 0; z < md.Levels; z++ {
		w, h := md.LevelSize(z)
		fmt.Printf("  level %d: %d x %d (%d x %d tiles)\n",
			z, w, h, md.TilesAcross(z), md.TilesDown(z))
	}
	if names := gigatile.AssociatedImagesOf(src); len(names) > 0 {
		fmt.Printf("Associated images: %v\n", names)
	}
	if gigatile.IsGeospatial(src) {
		fmt.Printf("Geospatial: yes\n")
	}
	return nil
}

func runTile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tile", flag.ExitOnError)
	out := fs.String("out", "tile.jpg", "Output file")
	encoding := fs.String("encoding", "JPEG", "Output encoding: JPEG, PNG, WEBP")
	quality := fs.Int("quality", 0, "JPEG/WebP quality 1-100 (0 = default)")
	verbose := fs.Bool("verbose", false, "Debug logging")
	fs.Parse(args)
	if fs.NArg() != 4 {
		return fmt.Errorf("usage: gigatile tile [flags] <file> <z> <x> <y>")
	}

	z, err1 := strconv.Atoi(fs.Arg(1))
	x, err2 := strconv.Atoi(fs.Arg(2))
	y, err3 := strconv.Atoi(fs.Arg(3))
	if err1 != nil || err2 != nil || err3 != nil {
		return fmt.Errorf("tile address must be three integers")
	}

	src, err := openSource(ctx, fs.Arg(0), *verbose)
	if err != nil {
		return err
	}
	defer src.Close()

	tile, err := src.GetTile(ctx, x, y, z, &gigatile.TileOptions{
		Format:   gigatile.FormatEncoded,
		Encoding: *encoding,
		Quality:  *quality,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, tile.Data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d x %d, %d bytes, %s)\n", *out, tile.Width, tile.Height, len(tile.Data), tile.Mime)
	return nil
}

func regionFlags(fs *flag.FlagSet) (left, top, width, height *float64, units, encoding *string, outW, outH, quality *int, edge *string) {
	left = fs.Float64("left", 0, "Region left edge")
	top = fs.Float64("top", 0, "Region top edge")
	width = fs.Float64("width", 0, "Region width (0 = to the right edge)")
	height = fs.Float64("height", 0, "Region height (0 = to the bottom edge)")
	units = fs.String("units", "base_pixels", "Units: base_pixels, mag_pixels, mm, fraction")
	encoding = fs.String("encoding", "JPEG", "Output encoding: JPEG, PNG, WEBP")
	outW = fs.Int("out-width", 0, "Output width (0 = native)")
	outH = fs.Int("out-height", 0, "Output height (0 = native)")
	quality = fs.Int("quality", 0, "JPEG/WebP quality 1-100 (0 = default)")
	edge = fs.String("edge", "crop", `Edge policy: "crop" or a fill colour`)
	return
}

func runRegion(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("region", flag.ExitOnError)
	out := fs.String("out", "region.jpg", "Output file")
	mag := fs.Float64("magnification", 0, "Target magnification (0 = native)")
	exact := fs.Bool("exact", false, "Fail on inexact level matches")
	verbose := fs.Bool("verbose", false, "Debug logging")
	left, top, width, height, units, encoding, outW, outH, quality, edge := regionFlags(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: gigatile region [flags] <file>")
	}

	src, err := openSource(ctx, fs.Arg(0), *verbose)
	if err != nil {
		return err
	}
	defer src.Close()

	scale := geom.Scale{Magnification: *mag, Exact: *exact}
	u, err := geom.ParseUnit(*units, scale)
	if err != nil {
		return err
	}
	region := geom.Region{Left: *left, Top: *top, Units: u}
	if *width > 0 {
		region.Width = geom.F(*width)
	}
	if *height > 0 {
		region.Height = geom.F(*height)
	}

	res, err := gigatile.GetRegion(ctx, src, gigatile.RegionOptions{
		Region:   region,
		Scale:    scale,
		Width:    *outW,
		Height:   *outH,
		Encoding: *encoding,
		Quality:  *quality,
		Edge:     *edge,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, res.Data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d x %d, %d bytes, %s)\n", *out, res.Width, res.Height, len(res.Data), res.Mime)
	return nil
}

func runThumbnail(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("thumbnail", flag.ExitOnError)
	out := fs.String("out", "thumbnail.jpg", "Output file")
	maxW := fs.Int("max-width", gigatile.DefaultThumbnailSize, "Maximum width")
	maxH := fs.Int("max-height", gigatile.DefaultThumbnailSize, "Maximum height")
	encoding := fs.String("encoding", "JPEG", "Output encoding: JPEG, PNG, WEBP")
	quality := fs.Int("quality", 0, "JPEG/WebP quality 1-100 (0 = default)")
	verbose := fs.Bool("verbose", false, "Debug logging")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: gigatile thumbnail [flags] <file>")
	}

	src, err := openSource(ctx, fs.Arg(0), *verbose)
	if err != nil {
		return err
	}
	defer src.Close()

	res, err := gigatile.GetThumbnail(ctx, src, gigatile.ThumbnailOptions{
		MaxWidth:  *maxW,
		MaxHeight: *maxH,
		Encoding:  *encoding,
		Quality:   *quality,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, res.Data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d x %d, %d bytes, %s)\n", *out, res.Width, res.Height, len(res.Data), res.Mime)
	return nil
}
