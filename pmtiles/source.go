package pmtiles

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"sort"

	"github.com/gigatile/gigatile"
	"github.com/gigatile/gigatile/encode"
	"github.com/gigatile/gigatile/geom"
)

// tileSide is the pixel size of web-map raster tiles. Archives with other
// tile sizes are detected from their first payload.
const tileSide = 256

func init() {
	gigatile.Register(backend{}, 20)
}

type backend struct{}

func (backend) Name() string { return "pmtiles" }

// CanRead checks the archive magic and version byte.
func (backend) CanRead(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var head [8]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		return false
	}
	return string(head[:7]) == magic && head[7] == version
}

func (backend) Open(path string, opts *gigatile.Options) (gigatile.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrIO, err)
	}

	src, err := newSource(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", gigatile.ErrCorruptFile, err)
	}
	return src, nil
}

// Source exposes a raster PMTiles archive as a pyramid over the global
// tile grid of its maximum zoom.
type Source struct {
	file   *os.File
	hdr    header
	refs   map[uint64]tileRef
	md     geom.Metadata
	format string
	side   int
}

type tileRef struct {
	offset uint64
	length uint32
}

func newSource(f *os.File) (*Source, error) {
	headerBuf := make([]byte, headerSize)
	if _, err := f.ReadAt(headerBuf, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	hdr, err := parseHeader(headerBuf)
	if err != nil {
		return nil, err
	}
	if hdr.tileType == tileTypeMVT {
		return nil, fmt.Errorf("vector archives carry no raster tiles")
	}

	rootData := make([]byte, hdr.rootDirLength)
	if _, err := f.ReadAt(rootData, int64(hdr.rootDirOffset)); err != nil {
		return nil, fmt.Errorf("reading root directory: %w", err)
	}
	rootEntries, err := parseDirectory(rootData)
	if err != nil {
		return nil, fmt.Errorf("parsing root directory: %w", err)
	}

	// Resolve leaf directories into a flat tile index.
	var all []dirEntry
	for _, e := range rootEntries {
		if e.runLength == 0 {
			leafData := make([]byte, e.length)
			if _, err := f.ReadAt(leafData, int64(hdr.leafDirOffset+e.offset)); err != nil {
				return nil, fmt.Errorf("reading leaf directory: %w", err)
			}
			leafEntries, err := parseDirectory(leafData)
			if err != nil {
				return nil, fmt.Errorf("parsing leaf directory: %w", err)
			}
			all = append(all, leafEntries...)
			continue
		}
		all = append(all, e)
	}

	refs := make(map[uint64]tileRef, len(all))
	for _, e := range all {
		for r := uint32(0); r < e.runLength; r++ {
			refs[e.tileID+uint64(r)] = tileRef{
				offset: hdr.tileDataOffset + e.offset + uint64(r)*uint64(e.length),
				length: e.length,
			}
		}
	}

	src := &Source{
		file:   f,
		hdr:    hdr,
		refs:   refs,
		format: hdr.formatName(),
		side:   tileSide,
	}
	src.detectTileSide()

	n := 1 << uint(hdr.maxZoom)
	src.md = geom.Metadata{
		SizeX:      n * src.side,
		SizeY:      n * src.side,
		TileWidth:  src.side,
		TileHeight: src.side,
		Levels:     int(hdr.maxZoom) + 1,
	}
	return src, nil
}

// detectTileSide decodes the lowest-addressed payload to learn the actual
// tile pixel size when it differs from the default.
func (s *Source) detectTileSide() {
	if len(s.refs) == 0 || s.format == "" {
		return
	}
	ids := make([]uint64, 0, len(s.refs))
	for id := range s.refs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	data, err := s.readPayload(s.refs[ids[0]])
	if err != nil {
		return
	}
	img, err := encode.DecodeImage(data, s.format)
	if err != nil {
		return
	}
	if w := img.Bounds().Dx(); w > 0 && w == img.Bounds().Dy() {
		s.side = w
	}
}

func (s *Source) readPayload(ref tileRef) ([]byte, error) {
	data := make([]byte, ref.length)
	if _, err := s.file.ReadAt(data, int64(ref.offset)); err != nil {
		return nil, err
	}
	return data, nil
}

// Metadata maps the zoom range onto pyramid levels: level z is web-map
// zoom z, up to the archive's maximum.
func (s *Source) Metadata() geom.Metadata { return s.md }

// Close closes the archive file.
func (s *Source) Close() error { return s.file.Close() }

// GetTile returns the tile at web-map address (x, y, z). Addresses inside
// the grid with no stored payload (outside the archive footprint, or below
// its minimum zoom) decode to transparent pixels.
func (s *Source) GetTile(ctx context.Context, x, y, z int, opts *gigatile.TileOptions) (*gigatile.Tile, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrCancelled, err)
	}
	if !s.md.ValidLevel(z) {
		return nil, fmt.Errorf("%w: level %d of %d", gigatile.ErrOutOfRange, z, s.md.Levels)
	}
	n := 1 << uint(z)
	if x < 0 || x >= n || y < 0 || y >= n {
		return nil, fmt.Errorf("%w: tile (%d,%d) at zoom %d", gigatile.ErrOutOfRange, x, y, z)
	}

	ref, ok := s.refs[tileID(z, x, y)]
	if !ok {
		return gigatile.PackTile(image.NewRGBA(image.Rect(0, 0, s.side, s.side)), opts)
	}

	data, err := s.readPayload(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrIO, err)
	}

	// Stored payloads pass through unchanged when the caller wants
	// encoded bytes in the archive's own format.
	if opts != nil && opts.Format == gigatile.FormatEncoded && matchesEncoding(opts.Encoding, s.format) {
		return &gigatile.Tile{
			Format: gigatile.FormatEncoded,
			Data:   data,
			Mime:   "image/" + s.format,
			Width:  s.side,
			Height: s.side,
		}, nil
	}

	format := s.format
	if format == "" {
		format = encode.Sniff(data)
	}
	img, err := encode.DecodeImage(data, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrDecodeFailed, err)
	}
	return gigatile.PackTile(img, opts)
}

func matchesEncoding(requested, stored string) bool {
	if stored == "" {
		return false
	}
	switch requested {
	case "":
		return stored == "jpeg"
	case "jpeg", "JPEG", "jpg":
		return stored == "jpeg"
	case "png", "PNG":
		return stored == "png"
	case "webp", "WEBP":
		return stored == "webp"
	}
	return false
}

// IsGeospatial is true for archives carrying a footprint.
func (s *Source) IsGeospatial() bool {
	_, _, _, _, ok := s.hdr.bounds()
	return ok
}

// WGS84Bounds returns the archive footprint in lon/lat degrees.
func (s *Source) WGS84Bounds() (minLon, minLat, maxLon, maxLat float64, ok bool) {
	return s.hdr.bounds()
}
