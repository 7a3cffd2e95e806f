// Package tiff reads pyramidal TIFF families — tiled TIFF, BigTIFF,
// SVS/Aperio slides and GeoTIFF rasters — as tile sources. Files are
// memory-mapped and their directory structure is parsed once at open; tile
// reads then address the map directly, holding a mutex only briefly to pin
// the mapping against a concurrent close.
package tiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// TIFF tag IDs used by the reader.
const (
	tagNewSubfileType    = 254
	tagImageWidth        = 256
	tagImageLength       = 257
	tagBitsPerSample     = 258
	tagCompression       = 259
	tagPhotometric       = 262
	tagImageDescription  = 270
	tagStripOffsets      = 273
	tagSamplesPerPixel   = 277
	tagRowsPerStrip      = 278
	tagStripByteCounts   = 279
	tagXResolution       = 282
	tagYResolution       = 283
	tagPlanarConfig      = 284
	tagResolutionUnit    = 296
	tagPredictor         = 317
	tagTileWidth         = 322
	tagTileLength        = 323
	tagTileOffsets       = 324
	tagTileByteCounts    = 325
	tagSampleFormat      = 339
	tagJPEGTables        = 347
	tagModelPixelScale   = 33550
	tagModelTiepoint     = 33922
	tagGeoKeyDirectory   = 34735
	tagGeoDoubleParams   = 34736
	tagGeoASCIIParams    = 34737
	tagGDALNoData        = 42113
)

// Compression schemes the reader decodes.
const (
	compressionNone      = 1
	compressionLZW       = 5
	compressionJPEG      = 7
	compressionDeflate   = 8
	compressionDeflateNS = 32946 // non-standard deflate used by old writers
)

// NewSubfileType bits.
const (
	subfileReducedImage = 1
)

// TIFF data types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndef     = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
	dtLong8     = 16
	dtSLong8    = 17
	dtIFD8      = 18
)

// IFD is one parsed image file directory.
type IFD struct {
	Width           uint32
	Height          uint32
	TileWidth       uint32
	TileHeight      uint32
	BitsPerSample   []uint16
	SamplesPerPixel uint16
	Compression     uint16
	Photometric     uint16
	PlanarConfig    uint16
	Predictor       uint16
	SubfileType     uint32
	Description     string

	TileOffsets    []uint64
	TileByteCounts []uint64

	StripOffsets    []uint64
	StripByteCounts []uint64
	RowsPerStrip    uint32

	SampleFormat []uint16
	JPEGTables   []byte

	XResolution    float64 // pixels per ResolutionUnit
	YResolution    float64
	ResolutionUnit uint16 // 1=none, 2=inch, 3=centimetre

	ModelTiepoint   []float64
	ModelPixelScale []float64
	GeoKeys         []uint16
	GeoDoubleParams []float64
	GeoASCIIParams  string
	NoData          string
}

// TilesAcross returns the number of tile columns.
func (ifd *IFD) TilesAcross() int {
	return int((ifd.Width + ifd.TileWidth - 1) / ifd.TileWidth)
}

// TilesDown returns the number of tile rows.
func (ifd *IFD) TilesDown() int {
	return int((ifd.Height + ifd.TileHeight - 1) / ifd.TileHeight)
}

// Tiled reports whether the directory carries a tile layout (as opposed to
// strips).
func (ifd *IFD) Tiled() bool {
	return ifd.TileWidth > 0 && ifd.TileHeight > 0 && len(ifd.TileOffsets) > 0
}

// entry is a raw directory entry: tag, type, count and either the inline
// value bytes or the resolved external data.
type entry struct {
	tag      uint16
	dataType uint16
	count    uint64
	value    []byte
}

// parseTIFF reads every IFD from a TIFF or BigTIFF stream.
func parseTIFF(r io.ReadSeeker) ([]IFD, binary.ByteOrder, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, nil, fmt.Errorf("reading TIFF header: %w", err)
	}

	var bo binary.ByteOrder
	switch string(header[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("invalid TIFF byte order: %x", header[0:2])
	}

	magic := bo.Uint16(header[2:4])
	bigTIFF := magic == 43
	if magic != 42 && magic != 43 {
		return nil, nil, fmt.Errorf("invalid TIFF magic: %d", magic)
	}

	var offset uint64
	if bigTIFF {
		// BigTIFF: offset size (8) and a zero pad precede a 64-bit first
		// IFD offset.
		var rest [8]byte
		if _, err := io.ReadFull(r, rest[:]); err != nil {
			return nil, nil, fmt.Errorf("reading BigTIFF header: %w", err)
		}
		offset = bo.Uint64(rest[:])
	} else {
		offset = uint64(bo.Uint32(header[4:8]))
	}

	var ifds []IFD
	seen := map[uint64]bool{}
	for offset != 0 {
		if seen[offset] {
			return nil, nil, fmt.Errorf("IFD chain loops at offset %d", offset)
		}
		seen[offset] = true

		ifd, next, err := parseOneIFD(r, bo, offset, bigTIFF)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing IFD at offset %d: %w", offset, err)
		}
		ifds = append(ifds, ifd)
		offset = next
	}
	return ifds, bo, nil
}

func parseOneIFD(r io.ReadSeeker, bo binary.ByteOrder, offset uint64, bigTIFF bool) (IFD, uint64, error) {
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return IFD{}, 0, err
	}

	var count uint64
	if bigTIFF {
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return IFD{}, 0, err
		}
		count = bo.Uint64(buf[:])
	} else {
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return IFD{}, 0, err
		}
		count = uint64(bo.Uint16(buf[:]))
	}

	entrySize := 12
	if bigTIFF {
		entrySize = 20
	}
	entries := make([]entry, count)
	for i := range entries {
		buf := make([]byte, entrySize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return IFD{}, 0, err
		}
		entries[i] = parseEntry(buf, bo, bigTIFF)
	}

	var next uint64
	if bigTIFF {
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return IFD{}, 0, err
		}
		next = bo.Uint64(buf[:])
	} else {
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return IFD{}, 0, err
		}
		next = uint64(bo.Uint32(buf[:]))
	}

	for i := range entries {
		if err := resolveEntry(r, bo, &entries[i], bigTIFF); err != nil {
			return IFD{}, 0, fmt.Errorf("resolving tag %d: %w", entries[i].tag, err)
		}
	}

	return buildIFD(entries, bo), next, nil
}

func parseEntry(buf []byte, bo binary.ByteOrder, bigTIFF bool) entry {
	e := entry{
		tag:      bo.Uint16(buf[0:2]),
		dataType: bo.Uint16(buf[2:4]),
	}
	if bigTIFF {
		e.count = bo.Uint64(buf[4:12])
		e.value = append([]byte(nil), buf[12:20]...)
	} else {
		e.count = uint64(bo.Uint32(buf[4:8]))
		e.value = append([]byte(nil), buf[8:12]...)
	}
	return e
}

func dataTypeSize(dt uint16) int {
	switch dt {
	case dtByte, dtASCII, dtSByte, dtUndef:
		return 1
	case dtShort, dtSShort:
		return 2
	case dtLong, dtSLong, dtFloat:
		return 4
	case dtRational, dtSRational, dtDouble, dtLong8, dtSLong8, dtIFD8:
		return 8
	default:
		return 1
	}
}

// resolveEntry fetches external data for entries whose value does not fit
// inline.
func resolveEntry(r io.ReadSeeker, bo binary.ByteOrder, e *entry, bigTIFF bool) error {
	total := int(e.count) * dataTypeSize(e.dataType)
	inline := 4
	if bigTIFF {
		inline = 8
	}
	if total <= inline {
		return nil
	}

	var offset uint64
	if bigTIFF {
		offset = bo.Uint64(e.value)
	} else {
		offset = uint64(bo.Uint32(e.value))
	}
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return err
	}
	data := make([]byte, total)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	e.value = data
	return nil
}

func buildIFD(entries []entry, bo binary.ByteOrder) IFD {
	ifd := IFD{
		SamplesPerPixel: 1,
		PlanarConfig:    1,
		Predictor:       1,
	}

	for _, e := range entries {
		switch e.tag {
		case tagNewSubfileType:
			ifd.SubfileType = uintValue32(e, bo)
		case tagImageWidth:
			ifd.Width = uintValue32(e, bo)
		case tagImageLength:
			ifd.Height = uintValue32(e, bo)
		case tagTileWidth:
			ifd.TileWidth = uintValue32(e, bo)
		case tagTileLength:
			ifd.TileHeight = uintValue32(e, bo)
		case tagBitsPerSample:
			ifd.BitsPerSample = uint16Slice(e, bo)
		case tagSamplesPerPixel:
			ifd.SamplesPerPixel = uintValue16(e, bo)
		case tagCompression:
			ifd.Compression = uintValue16(e, bo)
		case tagPhotometric:
			ifd.Photometric = uintValue16(e, bo)
		case tagPlanarConfig:
			ifd.PlanarConfig = uintValue16(e, bo)
		case tagPredictor:
			ifd.Predictor = uintValue16(e, bo)
		case tagImageDescription:
			ifd.Description = asciiValue(e)
		case tagTileOffsets:
			ifd.TileOffsets = uint64Slice(e, bo)
		case tagTileByteCounts:
			ifd.TileByteCounts = uint64Slice(e, bo)
		case tagStripOffsets:
			ifd.StripOffsets = uint64Slice(e, bo)
		case tagStripByteCounts:
			ifd.StripByteCounts = uint64Slice(e, bo)
		case tagRowsPerStrip:
			ifd.RowsPerStrip = uintValue32(e, bo)
		case tagSampleFormat:
			ifd.SampleFormat = uint16Slice(e, bo)
		case tagJPEGTables:
			ifd.JPEGTables = append([]byte(nil), e.value[:e.count]...)
		case tagXResolution:
			ifd.XResolution = rationalValue(e, bo)
		case tagYResolution:
			ifd.YResolution = rationalValue(e, bo)
		case tagResolutionUnit:
			ifd.ResolutionUnit = uintValue16(e, bo)
		case tagModelTiepoint:
			ifd.ModelTiepoint = float64Slice(e, bo)
		case tagModelPixelScale:
			ifd.ModelPixelScale = float64Slice(e, bo)
		case tagGeoKeyDirectory:
			ifd.GeoKeys = uint16Slice(e, bo)
		case tagGeoDoubleParams:
			ifd.GeoDoubleParams = float64Slice(e, bo)
		case tagGeoASCIIParams:
			ifd.GeoASCIIParams = asciiValue(e)
		case tagGDALNoData:
			ifd.NoData = asciiValue(e)
		}
	}
	return ifd
}

func uintValue16(e entry, bo binary.ByteOrder) uint16 {
	switch e.dataType {
	case dtShort:
		return bo.Uint16(e.value)
	case dtLong:
		return uint16(bo.Uint32(e.value))
	default:
		return uint16(e.value[0])
	}
}

func uintValue32(e entry, bo binary.ByteOrder) uint32 {
	switch e.dataType {
	case dtShort:
		return uint32(bo.Uint16(e.value))
	case dtLong:
		return bo.Uint32(e.value)
	case dtLong8:
		return uint32(bo.Uint64(e.value))
	default:
		return uint32(e.value[0])
	}
}

func asciiValue(e entry) string {
	n := int(e.count)
	if n > len(e.value) {
		n = len(e.value)
	}
	s := e.value[:n]
	// ASCII values are NUL-terminated.
	for i, c := range s {
		if c == 0 {
			return string(s[:i])
		}
	}
	return string(s)
}

func rationalValue(e entry, bo binary.ByteOrder) float64 {
	if e.dataType != dtRational || len(e.value) < 8 {
		return 0
	}
	num := bo.Uint32(e.value[0:4])
	den := bo.Uint32(e.value[4:8])
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func uint16Slice(e entry, bo binary.ByteOrder) []uint16 {
	n := int(e.count)
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = bo.Uint16(e.value[i*2 : i*2+2])
	}
	return out
}

func uint64Slice(e entry, bo binary.ByteOrder) []uint64 {
	n := int(e.count)
	out := make([]uint64, n)
	switch e.dataType {
	case dtShort:
		for i := 0; i < n; i++ {
			out[i] = uint64(bo.Uint16(e.value[i*2 : i*2+2]))
		}
	case dtLong:
		for i := 0; i < n; i++ {
			out[i] = uint64(bo.Uint32(e.value[i*4 : i*4+4]))
		}
	case dtLong8:
		for i := 0; i < n; i++ {
			out[i] = bo.Uint64(e.value[i*8 : i*8+8])
		}
	}
	return out
}

func float64Slice(e entry, bo binary.ByteOrder) []float64 {
	n := int(e.count)
	out := make([]float64, n)
	size := dataTypeSize(e.dataType)
	for i := 0; i < n; i++ {
		off := i * size
		switch e.dataType {
		case dtDouble:
			out[i] = math.Float64frombits(bo.Uint64(e.value[off : off+8]))
		case dtFloat:
			out[i] = float64(math.Float32frombits(bo.Uint32(e.value[off : off+4])))
		}
	}
	return out
}
