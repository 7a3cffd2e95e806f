package tiff

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// GeoTIFF GeoKey IDs.
const (
	gkGeographicType  = 2048
	gkProjectedCSType = 3072
)

// geoInfo holds the geographic referencing of a raster, when present.
type geoInfo struct {
	epsg       int
	originX    float64
	originY    float64
	pixelSizeX float64 // positive, in CRS units
	pixelSizeY float64
}

func (g geoInfo) referenced() bool {
	return g.pixelSizeX > 0 && g.pixelSizeY > 0
}

// parseGeoInfo extracts referencing from GeoTIFF tags, falling back to a
// TFW world-file sidecar when the tags are absent.
func parseGeoInfo(ifd *IFD, path string) geoInfo {
	var info geoInfo

	if len(ifd.ModelPixelScale) >= 2 {
		info.pixelSizeX = ifd.ModelPixelScale[0]
		info.pixelSizeY = ifd.ModelPixelScale[1]
	}
	if len(ifd.ModelTiepoint) >= 6 {
		// The tiepoint maps pixel (I,J) to world (X,Y); shift to the
		// top-left corner.
		info.originX = ifd.ModelTiepoint[3] - ifd.ModelTiepoint[0]*info.pixelSizeX
		info.originY = ifd.ModelTiepoint[4] + ifd.ModelTiepoint[1]*info.pixelSizeY
	}
	info.epsg = parseEPSG(ifd.GeoKeys)

	if !info.referenced() {
		if sidecar := findWorldFile(path); sidecar != "" {
			if w, err := parseWorldFile(sidecar); err == nil {
				info = w
			}
		}
	}
	if info.epsg == 0 && info.referenced() {
		info.epsg = inferEPSG(info, ifd.Width, ifd.Height)
	}
	return info
}

// parseEPSG pulls the CRS code out of a GeoKey directory.
func parseEPSG(geoKeys []uint16) int {
	if len(geoKeys) < 4 {
		return 0
	}
	numKeys := int(geoKeys[3])
	for i := 0; i < numKeys; i++ {
		base := 4 + i*4
		if base+3 >= len(geoKeys) {
			break
		}
		switch geoKeys[base] {
		case gkProjectedCSType, gkGeographicType:
			if v := geoKeys[base+3]; v > 0 {
				return int(v)
			}
		}
	}
	return 0
}

// findWorldFile looks for a TFW sidecar alongside the raster.
func findWorldFile(path string) string {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	for _, c := range []string{".tfw", ".TFW", ".tifw", ".TIFW"} {
		p := base + c
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// parseWorldFile reads the six world-file parameters. The stored origin is
// the centre of the upper-left pixel; it is shifted to the corner here.
func parseWorldFile(path string) (geoInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return geoInfo{}, fmt.Errorf("reading world file %s: %w", path, err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 6 {
		return geoInfo{}, fmt.Errorf("world file %s: expected 6 lines, got %d", path, len(lines))
	}
	vals := make([]float64, 6)
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(lines[i]), 64)
		if err != nil {
			return geoInfo{}, fmt.Errorf("world file %s line %d: %w", path, i+1, err)
		}
		vals[i] = v
	}
	if vals[1] != 0 || vals[2] != 0 {
		return geoInfo{}, fmt.Errorf("world file %s: rotation is not supported", path)
	}
	px := math.Abs(vals[0])
	py := math.Abs(vals[3])
	return geoInfo{
		pixelSizeX: px,
		pixelSizeY: py,
		originX:    vals[4] - px/2,
		originY:    vals[5] + py/2,
	}, nil
}

// inferEPSG guesses the CRS from the coordinate magnitudes when the
// GeoKeys are silent: lon/lat ranges read as WGS84, the Swiss LV95 window
// as EPSG:2056, the WebMercator envelope as EPSG:3857.
func inferEPSG(info geoInfo, width, height uint32) int {
	maxX := info.originX + float64(width)*info.pixelSizeX
	minY := info.originY - float64(height)*info.pixelSizeY

	if info.originX >= -180 && maxX <= 360 && minY >= -90 && info.originY <= 90 {
		return 4326
	}
	if info.originX >= 2400000 && info.originX <= 2900000 &&
		info.originY >= 1000000 && info.originY <= 1400000 {
		return 2056
	}
	if math.Abs(info.originX) <= 20037508.34 && math.Abs(info.originY) <= 20048966.10 {
		return 3857
	}
	return 0
}

// wgs84Bounds projects the raster extent to lon/lat degrees.
func (g geoInfo) wgs84Bounds(width, height int) (minLon, minLat, maxLon, maxLat float64, ok bool) {
	if !g.referenced() {
		return 0, 0, 0, 0, false
	}
	minX := g.originX
	maxY := g.originY
	maxX := minX + float64(width)*g.pixelSizeX
	minY := maxY - float64(height)*g.pixelSizeY

	var toWGS84 func(x, y float64) (lon, lat float64)
	switch g.epsg {
	case 4326:
		toWGS84 = func(x, y float64) (float64, float64) { return x, y }
	case 3857:
		toWGS84 = webMercatorToWGS84
	case 2056:
		toWGS84 = lv95ToWGS84
	default:
		return 0, 0, 0, 0, false
	}

	minLon, minLat = math.Inf(1), math.Inf(1)
	maxLon, maxLat = math.Inf(-1), math.Inf(-1)
	for _, c := range [][2]float64{{minX, minY}, {minX, maxY}, {maxX, minY}, {maxX, maxY}} {
		lon, lat := toWGS84(c[0], c[1])
		minLon = math.Min(minLon, lon)
		maxLon = math.Max(maxLon, lon)
		minLat = math.Min(minLat, lat)
		maxLat = math.Max(maxLat, lat)
	}
	return minLon, minLat, maxLon, maxLat, true
}

// webMercatorToWGS84 converts EPSG:3857 metres to lon/lat degrees.
func webMercatorToWGS84(x, y float64) (lon, lat float64) {
	lon = x * 180 / 20037508.342789244
	lat = math.Atan(math.Exp(y*math.Pi/20037508.342789244))*360/math.Pi - 90
	return
}

// lv95ToWGS84 converts Swiss LV95 (EPSG:2056) coordinates to lon/lat
// degrees using the swisstopo approximate formulas.
func lv95ToWGS84(easting, northing float64) (lon, lat float64) {
	y := (easting - 2_600_000) / 1_000_000
	x := (northing - 1_200_000) / 1_000_000

	lonSec := 2.6779094 + 4.728982*y + 0.791484*y*x + 0.1306*y*x*x - 0.0436*y*y*y
	latSec := 16.9023892 + 3.238272*x - 0.270978*y*y - 0.002528*x*x - 0.0447*y*y*x - 0.0140*x*x*x

	lon = lonSec * 100 / 36
	lat = latSec * 100 / 36
	return
}
