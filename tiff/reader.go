package tiff

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

// reader owns the memory-mapped file and decodes raw tile payloads. Tile
// reads address the read-only mapping directly and run concurrently; each
// read takes the mutex only to pin and unpin the mapping, which keeps it
// alive until in-flight reads drain on close.
type reader struct {
	data []byte
	bo   binary.ByteOrder
	ifds []IFD
	path string

	mu      sync.Mutex
	active  int
	closing bool
}

// openReader maps the file and parses its directory chain. Strip-based
// primary images are promoted to a virtual tile layout.
func openReader(path string) (*reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	data, err := mmapFile(f.Fd(), int(fi.Size()))
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	ifds, bo, err := parseTIFF(bytes.NewReader(data))
	if err != nil {
		munmapFile(data)
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(ifds) == 0 {
		munmapFile(data)
		return nil, fmt.Errorf("%s: no IFDs found", path)
	}

	for i := range ifds {
		if !ifds[i].Tiled() && len(ifds[i].StripOffsets) > 0 {
			promoteStripsToTiles(&ifds[i])
		}
	}
	if !ifds[0].Tiled() {
		munmapFile(data)
		return nil, fmt.Errorf("%s: no tile or strip layout found", path)
	}

	switch ifds[0].Compression {
	case compressionNone, compressionLZW, compressionJPEG, compressionDeflate, compressionDeflateNS:
	default:
		munmapFile(data)
		return nil, fmt.Errorf("%s: unsupported compression type %d", path, ifds[0].Compression)
	}

	return &reader{data: data, bo: bo, ifds: ifds, path: path}, nil
}

// promoteStripsToTiles rewrites a strip layout as full-width virtual tiles.
// Each virtual tile is one strip; short final strips become truncated edge
// tiles like any other.
func promoteStripsToTiles(ifd *IFD) {
	rps := ifd.RowsPerStrip
	if rps == 0 || rps > ifd.Height {
		rps = ifd.Height
	}
	ifd.TileWidth = ifd.Width
	ifd.TileHeight = rps
	ifd.TileOffsets = ifd.StripOffsets
	ifd.TileByteCounts = ifd.StripByteCounts
}

// acquire pins the mapping for a read. It fails once close has begun.
func (r *reader) acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return fmt.Errorf("%s: reader closed", r.path)
	}
	r.active++
	return nil
}

// release unpins the mapping, unmapping it if close is waiting.
func (r *reader) release() {
	r.mu.Lock()
	r.active--
	unmap := r.closing && r.active == 0 && r.data != nil
	var data []byte
	if unmap {
		data = r.data
		r.data = nil
	}
	r.mu.Unlock()
	if unmap {
		munmapFile(data)
	}
}

// close marks the reader closed. The mapping is released immediately when
// idle, otherwise by the last in-flight read.
func (r *reader) close() error {
	r.mu.Lock()
	r.closing = true
	unmap := r.active == 0 && r.data != nil
	var data []byte
	if unmap {
		data = r.data
		r.data = nil
	}
	r.mu.Unlock()
	if unmap {
		return munmapFile(data)
	}
	return nil
}

// rawTile returns the stored (still compressed) payload of one tile.
func (r *reader) rawTile(ifd *IFD, col, row int) ([]byte, error) {
	across := ifd.TilesAcross()
	down := ifd.TilesDown()
	if col < 0 || col >= across || row < 0 || row >= down {
		return nil, fmt.Errorf("tile (%d,%d) out of range (%dx%d)", col, row, across, down)
	}
	idx := row*across + col
	if idx >= len(ifd.TileOffsets) || idx >= len(ifd.TileByteCounts) {
		return nil, fmt.Errorf("tile index %d beyond directory", idx)
	}
	offset := ifd.TileOffsets[idx]
	size := ifd.TileByteCounts[idx]
	if size == 0 {
		return nil, nil // sparse tile
	}
	end := offset + size
	if end > uint64(len(r.data)) {
		return nil, fmt.Errorf("tile data [%d:%d] exceeds file size %d", offset, end, len(r.data))
	}
	return r.data[offset:end], nil
}

// decodeTile reads and decodes one tile to an image covering the declared
// tile extent. Sparse tiles decode to transparent pixels.
func (r *reader) decodeTile(ifd *IFD, col, row int) (image.Image, error) {
	if err := r.acquire(); err != nil {
		return nil, err
	}
	defer r.release()

	data, err := r.rawTile(ifd, col, row)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return image.NewRGBA(image.Rect(0, 0, int(ifd.TileWidth), int(ifd.TileHeight))), nil
	}

	switch ifd.Compression {
	case compressionJPEG:
		return decodeJPEGTile(ifd, data)
	case compressionNone:
		if ifd.Predictor == 2 {
			buf := append([]byte(nil), data...)
			undoHorizontalPredictor(buf, int(ifd.TileWidth), int(ifd.SamplesPerPixel))
			return r.decodeRawTile(ifd, buf)
		}
		return r.decodeRawTile(ifd, data)
	case compressionDeflate, compressionDeflateNS:
		decompressed, err := decompressDeflate(data)
		if err != nil {
			return nil, fmt.Errorf("decompressing deflate tile: %w", err)
		}
		if ifd.Predictor == 2 {
			undoHorizontalPredictor(decompressed, int(ifd.TileWidth), int(ifd.SamplesPerPixel))
		}
		return r.decodeRawTile(ifd, decompressed)
	case compressionLZW:
		decompressed, err := decompressLZW(data)
		if err != nil {
			return nil, fmt.Errorf("decompressing LZW tile: %w", err)
		}
		if ifd.Predictor == 2 {
			undoHorizontalPredictor(decompressed, int(ifd.TileWidth), int(ifd.SamplesPerPixel))
		}
		return r.decodeRawTile(ifd, decompressed)
	default:
		return nil, fmt.Errorf("unsupported compression: %d", ifd.Compression)
	}
}

// encodedJPEGTile returns the stored JPEG payload of a tile with the shared
// JPEG tables spliced in, so the bytes stand alone as a JPEG file.
func (r *reader) encodedJPEGTile(ifd *IFD, col, row int) ([]byte, error) {
	if err := r.acquire(); err != nil {
		return nil, err
	}
	defer r.release()

	data, err := r.rawTile(ifd, col, row)
	if err != nil || data == nil {
		return nil, err
	}
	return spliceJPEGTables(ifd, data), nil
}

// spliceJPEGTables merges the IFD's shared quantization/Huffman tables with
// a tile payload: the tables' trailing EOI and the payload's leading SOI
// are dropped so the concatenation is one well-formed stream.
func spliceJPEGTables(ifd *IFD, data []byte) []byte {
	if len(ifd.JPEGTables) == 0 {
		return append([]byte(nil), data...)
	}
	tables := ifd.JPEGTables
	if len(tables) >= 2 && tables[len(tables)-2] == 0xFF && tables[len(tables)-1] == 0xD9 {
		tables = tables[:len(tables)-2]
	}
	tile := data
	if len(tile) >= 2 && tile[0] == 0xFF && tile[1] == 0xD8 {
		tile = tile[2:]
	}
	out := make([]byte, 0, len(tables)+len(tile))
	out = append(out, tables...)
	out = append(out, tile...)
	return out
}

func decodeJPEGTile(ifd *IFD, data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(spliceJPEGTables(ifd, data)))
	if err != nil {
		return nil, fmt.Errorf("decoding JPEG tile: %w", err)
	}
	return img, nil
}

// decompressDeflate handles both zlib-wrapped (the TIFF standard) and raw
// deflate streams, since some writers omit the zlib header.
func decompressDeflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err == nil {
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err == nil {
			return out, nil
		}
	}
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	return io.ReadAll(fr)
}

// undoHorizontalPredictor reverses predictor=2: samples are stored as
// deltas from the previous sample in the row.
func undoHorizontalPredictor(data []byte, width, samplesPerPixel int) {
	rowBytes := width * samplesPerPixel
	for off := 0; off+rowBytes <= len(data); off += rowBytes {
		row := data[off : off+rowBytes]
		for x := samplesPerPixel; x < rowBytes; x++ {
			row[x] += row[x-samplesPerPixel]
		}
	}
}

// decodeRawTile expands uncompressed samples to RGBA. Single-band pixels
// matching the GDAL nodata value become transparent.
func (r *reader) decodeRawTile(ifd *IFD, data []byte) (image.Image, error) {
	w := int(ifd.TileWidth)
	h := int(ifd.TileHeight)
	spp := int(ifd.SamplesPerPixel)

	var hasNodata bool
	var nodataVal uint8
	if spp <= 2 {
		if nd := strings.TrimSpace(r.ifds[0].NoData); nd != "" {
			if v, err := strconv.ParseFloat(nd, 64); err == nil && v >= 0 && v <= 255 && v == math.Floor(v) {
				nodataVal = uint8(v)
				hasNodata = true
			}
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := (y*w + x) * spp
			if idx+spp > len(data) {
				break
			}
			var c color.RGBA
			switch spp {
			case 1:
				v := data[idx]
				c = color.RGBA{v, v, v, 255}
				if hasNodata && v == nodataVal {
					c.A = 0
				}
			case 2:
				v := data[idx]
				a := data[idx+1]
				if hasNodata && v == nodataVal {
					a = 0
				}
				c = color.RGBA{v, v, v, a}
			default:
				c.R = data[idx]
				c.G = data[idx+1]
				c.B = data[idx+2]
				if spp > 3 {
					c.A = data[idx+3]
				} else {
					c.A = 255
				}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

// decodeWholeIFD renders a full directory — used for associated images,
// which are small.
func (r *reader) decodeWholeIFD(ifd *IFD) (image.Image, error) {
	if !ifd.Tiled() {
		return nil, fmt.Errorf("directory has no pixel layout")
	}
	full := image.NewRGBA(image.Rect(0, 0, int(ifd.Width), int(ifd.Height)))
	for row := 0; row < ifd.TilesDown(); row++ {
		for col := 0; col < ifd.TilesAcross(); col++ {
			tile, err := r.decodeTile(ifd, col, row)
			if err != nil {
				return nil, err
			}
			drawInto(full, tile, col*int(ifd.TileWidth), row*int(ifd.TileHeight))
		}
	}
	return full, nil
}

// drawInto copies src into dst at (x0, y0), clipping to dst.
func drawInto(dst *image.RGBA, src image.Image, x0, y0 int) {
	b := src.Bounds()
	for y := 0; y < b.Dy(); y++ {
		dy := y0 + y
		if dy < 0 || dy >= dst.Rect.Dy() {
			continue
		}
		for x := 0; x < b.Dx(); x++ {
			dx := x0 + x
			if dx < 0 || dx >= dst.Rect.Dx() {
				continue
			}
			dst.Set(dx, dy, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
}
