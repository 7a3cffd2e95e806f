package tiff

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/gigatile/gigatile"
	"github.com/gigatile/gigatile/geom"
	"github.com/gigatile/gigatile/internal/imaging"
)

// downsampleTolerance is how far a level's dimensions may stray from an
// exact halving of the previous level, in pixels, before the IFD is
// rejected from the pyramid.
const downsampleTolerance = 2

func init() {
	gigatile.Register(backend{}, 10)
}

type backend struct{}

func (backend) Name() string { return "tiff" }

// CanRead checks the TIFF byte-order and magic markers without parsing the
// directory chain.
func (backend) CanRead(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var header [4]byte
	if _, err := f.Read(header[:]); err != nil {
		return false
	}
	switch string(header[:2]) {
	case "II":
		return header[2] == 42 && header[3] == 0 || header[2] == 43 && header[3] == 0
	case "MM":
		return header[2] == 0 && (header[3] == 42 || header[3] == 43)
	}
	return false
}

func (backend) Open(path string, opts *gigatile.Options) (gigatile.Source, error) {
	r, err := openReader(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", gigatile.ErrIO, err)
		}
		return nil, fmt.Errorf("%w: %v", gigatile.ErrCorruptFile, err)
	}

	src := &Source{reader: r}
	src.classifyIFDs()
	src.buildMetadata()
	return src, nil
}

// Source exposes the pyramid of a tiled TIFF file.
type Source struct {
	reader *reader

	// pyramid maps geometry levels onto IFD indices: pyramid[0] is the
	// base directory, each subsequent entry roughly half its size.
	pyramid []int

	// associated maps ancillary image names (label, macro, thumbnail) to
	// IFD indices.
	associated map[string]int

	md  geom.Metadata
	geo geoInfo
}

// classifyIFDs splits the directory chain into pyramid levels and
// associated images. A tiled directory with the base tile size that halves
// the previous level within tolerance extends the pyramid; every other
// directory becomes an associated image and the walk continues past it, so
// an inconsistent directory degrades the source to fewer levels rather
// than failing it.
func (s *Source) classifyIFDs() {
	ifds := s.reader.ifds
	s.pyramid = []int{0}
	s.associated = map[string]int{}

	prev := &ifds[0]
	for i := 1; i < len(ifds); i++ {
		ifd := &ifds[i]
		// SVS files interleave a strip thumbnail between the base and
		// the first overview, so non-matching directories become
		// associated images without ending the chain.
		if ifd.Tiled() && sameTileGeometry(ifd, prev) && halvesOf(ifd, prev) {
			s.pyramid = append(s.pyramid, i)
			prev = ifd
			continue
		}
		s.addAssociated(i)
	}
}

// sameTileGeometry requires pyramid levels to share the base tile size;
// directories with other layouts (promoted strips) stay out of the chain.
func sameTileGeometry(candidate, prev *IFD) bool {
	return candidate.TileWidth == prev.TileWidth && candidate.TileHeight == prev.TileHeight
}

// halvesOf reports whether candidate is within tolerance of half of prev
// on both axes.
func halvesOf(candidate, prev *IFD) bool {
	halfW := int(prev.Width) / 2
	halfH := int(prev.Height) / 2
	dw := int(candidate.Width) - halfW
	dh := int(candidate.Height) - halfH
	if dw < 0 {
		dw = -dw
	}
	if dh < 0 {
		dh = -dh
	}
	return dw <= downsampleTolerance && dh <= downsampleTolerance
}

// addAssociated names an ancillary directory. SVS files label their
// directories in the description; unnamed extras number off.
func (s *Source) addAssociated(i int) {
	desc := strings.ToLower(s.reader.ifds[i].Description)
	name := ""
	switch {
	case strings.Contains(desc, "label"):
		name = "label"
	case strings.Contains(desc, "macro"):
		name = "macro"
	case strings.Contains(desc, "thumbnail"):
		name = "thumbnail"
	}
	if name == "" {
		if _, taken := s.associated["thumbnail"]; !taken && !s.reader.ifds[i].Tiled() {
			name = "thumbnail"
		} else {
			name = fmt.Sprintf("image-%d", i)
		}
	}
	if _, taken := s.associated[name]; taken {
		name = fmt.Sprintf("%s-%d", name, i)
	}
	s.associated[name] = i
}

// buildMetadata derives the pyramid geometry and calibration. Calibration
// comes from an Aperio description (AppMag, MPP) when present, else from
// the TIFF resolution tags.
func (s *Source) buildMetadata() {
	base := &s.reader.ifds[0]
	s.md = geom.Metadata{
		SizeX:      int(base.Width),
		SizeY:      int(base.Height),
		TileWidth:  int(base.TileWidth),
		TileHeight: int(base.TileHeight),
		Levels:     len(s.pyramid),
	}

	if mag, mpp, ok := parseAperioDescription(base.Description); ok {
		s.md.Magnification = mag
		if mpp > 0 {
			s.md.MMX = mpp / 1000
			s.md.MMY = mpp / 1000
		}
	}
	if s.md.MMX == 0 && base.XResolution > 0 {
		switch base.ResolutionUnit {
		case 2: // inch
			s.md.MMX = 25.4 / base.XResolution
		case 3: // centimetre
			s.md.MMX = 10 / base.XResolution
		}
		if s.md.MMX != 0 {
			s.md.MMY = s.md.MMX
			if base.YResolution > 0 && base.ResolutionUnit == 2 {
				s.md.MMY = 25.4 / base.YResolution
			} else if base.YResolution > 0 && base.ResolutionUnit == 3 {
				s.md.MMY = 10 / base.YResolution
			}
		}
	}

	s.geo = parseGeoInfo(base, s.reader.path)
}

// parseAperioDescription extracts AppMag and MPP from an SVS image
// description ("Aperio ...|AppMag = 40|MPP = 0.2520|...").
func parseAperioDescription(desc string) (mag, mpp float64, ok bool) {
	if !strings.Contains(desc, "Aperio") {
		return 0, 0, false
	}
	for _, field := range strings.Split(desc, "|") {
		k, v, found := strings.Cut(field, "=")
		if !found {
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.TrimSpace(k) {
		case "AppMag":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				mag = f
			}
		case "MPP":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				mpp = f
			}
		}
	}
	return mag, mpp, mag > 0 || mpp > 0
}

// Metadata returns the pyramid geometry.
func (s *Source) Metadata() geom.Metadata { return s.md }

// Close releases the mapping once in-flight reads complete.
func (s *Source) Close() error { return s.reader.close() }

// GetTile reads one native tile. Interior JPEG tiles requested as encoded
// JPEG bytes pass through without a decode round trip; everything else is
// decoded, cropped to the declared edge geometry, and packed.
func (s *Source) GetTile(ctx context.Context, x, y, z int, opts *gigatile.TileOptions) (*gigatile.Tile, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrCancelled, err)
	}
	if !s.md.ValidLevel(z) {
		return nil, fmt.Errorf("%w: level %d of %d", gigatile.ErrOutOfRange, z, s.md.Levels)
	}
	if x < 0 || x >= s.md.TilesAcross(z) || y < 0 || y >= s.md.TilesDown(z) {
		return nil, fmt.Errorf("%w: tile (%d,%d) at level %d", gigatile.ErrOutOfRange, x, y, z)
	}

	ifd := &s.reader.ifds[s.pyramid[s.md.Levels-1-z]]
	w, h := s.md.TileSize(z, x, y)

	if opts != nil && opts.Format == gigatile.FormatEncoded &&
		jpegPreferred(opts) && ifd.Compression == compressionJPEG &&
		w == int(ifd.TileWidth) && h == int(ifd.TileHeight) {
		data, err := s.reader.encodedJPEGTile(ifd, x, y)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", gigatile.ErrDecodeFailed, err)
		}
		if data != nil {
			return &gigatile.Tile{
				Format: gigatile.FormatEncoded,
				Data:   data,
				Mime:   "image/jpeg",
				Width:  w,
				Height: h,
			}, nil
		}
	}

	img, err := s.reader.decodeTile(ifd, x, y)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrDecodeFailed, err)
	}
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		img = imaging.Crop(img, image.Rect(0, 0, w, h))
	}
	return gigatile.PackTile(img, opts)
}

func jpegPreferred(opts *gigatile.TileOptions) bool {
	return opts.Encoding == "" || opts.Encoding == "jpeg" || opts.Encoding == "JPEG"
}

// AssociatedImages lists the ancillary images bundled with the slide.
func (s *Source) AssociatedImages() []string {
	names := make([]string, 0, len(s.associated))
	for name := range s.associated {
		names = append(names, name)
	}
	return names
}

// AssociatedImage decodes one ancillary image by name.
func (s *Source) AssociatedImage(ctx context.Context, name string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrCancelled, err)
	}
	i, ok := s.associated[name]
	if !ok {
		return nil, fmt.Errorf("%w: no associated image %q", gigatile.ErrOutOfRange, name)
	}
	img, err := s.reader.decodeWholeIFD(&s.reader.ifds[i])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gigatile.ErrDecodeFailed, err)
	}
	return img, nil
}

// IsGeospatial reports whether the file carries geographic referencing.
func (s *Source) IsGeospatial() bool {
	return s.geo.referenced()
}

// WGS84Bounds projects the raster extent to lon/lat when the projection is
// known.
func (s *Source) WGS84Bounds() (minLon, minLat, maxLon, maxLat float64, ok bool) {
	return s.geo.wgs84Bounds(s.md.SizeX, s.md.SizeY)
}
