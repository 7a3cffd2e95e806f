package tiff

// TIFF-flavoured LZW decoder.
//
// TIFF LZW differs from the GIF/PDF variant that compress/lzw implements in
// when the code width grows: TIFF widens one code early ("early change"),
// as soon as the next free code reaches 2^width - 1, while GIF waits until
// it reaches 2^width. Feeding a TIFF
// stream to compress/lzw therefore fails with invalid-code errors, so the
// decoder lives here, following the TIFF 6.0 specification.

import (
	"errors"
	"io"
)

const (
	lzwMaxWidth  = 12
	lzwClearCode = 256
	lzwEOICode   = 257
	lzwFirstCode = 258
)

type lzwEntry struct {
	prefix int  // index of the prefix entry, -1 for single bytes
	suffix byte // the byte this entry appends
	length int  // total string length
}

type lzwDecoder struct {
	src    []byte
	bitPos int
}

// decompressLZW decompresses a TIFF LZW stream (MSB-first bit order).
func decompressLZW(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	d := &lzwDecoder{src: data}
	return d.decode()
}

// readBits reads n bits MSB-first.
func (d *lzwDecoder) readBits(n int) (int, error) {
	result := 0
	for i := 0; i < n; i++ {
		bytePos := d.bitPos / 8
		if bytePos >= len(d.src) {
			return 0, io.ErrUnexpectedEOF
		}
		bit := (int(d.src[bytePos]) >> (7 - d.bitPos%8)) & 1
		result = result<<1 | bit
		d.bitPos++
	}
	return result, nil
}

func (d *lzwDecoder) decode() ([]byte, error) {
	table := make([]lzwEntry, 4097)
	for i := 0; i < 256; i++ {
		table[i] = lzwEntry{prefix: -1, suffix: byte(i), length: 1}
	}

	nextCode := lzwFirstCode
	codeWidth := 9

	var output []byte
	buf := make([]byte, 0, 4096)

	// expand walks the prefix chain of a code into buf.
	expand := func(code int) []byte {
		e := &table[code]
		buf = buf[:e.length]
		for i := e.length - 1; code >= 0; i-- {
			e := &table[code]
			buf[i] = e.suffix
			code = e.prefix
		}
		return buf
	}

	code, err := d.readBits(codeWidth)
	if err != nil {
		return nil, err
	}
	if code != lzwClearCode {
		return nil, errors.New("lzw: stream does not start with a clear code")
	}

	prevCode := -1
	for {
		code, err := d.readBits(codeWidth)
		if err != nil {
			if err == io.ErrUnexpectedEOF {
				// Streams may end without an explicit EOI.
				return output, nil
			}
			return nil, err
		}

		switch {
		case code == lzwEOICode:
			return output, nil
		case code == lzwClearCode:
			nextCode = lzwFirstCode
			codeWidth = 9
			prevCode = -1
			continue
		case prevCode == -1:
			if code >= 256 {
				return nil, errors.New("lzw: non-literal code after clear")
			}
			output = append(output, byte(code))
			prevCode = code
			continue
		}

		switch {
		case code < nextCode:
			s := expand(code)
			output = append(output, s...)
			if nextCode < len(table) {
				table[nextCode] = lzwEntry{
					prefix: prevCode,
					suffix: s[0],
					length: table[prevCode].length + 1,
				}
				nextCode++
			}
		case code == nextCode:
			// KwKwK: the code being defined right now.
			s := expand(prevCode)
			first := s[0]
			output = append(output, s...)
			output = append(output, first)
			if nextCode < len(table) {
				table[nextCode] = lzwEntry{
					prefix: prevCode,
					suffix: first,
					length: table[prevCode].length + 1,
				}
				nextCode++
			}
		default:
			return nil, errors.New("lzw: invalid code")
		}

		// Early width increment per TIFF 6.0.
		if nextCode+1 >= 1<<codeWidth && codeWidth < lzwMaxWidth {
			codeWidth++
		}
		prevCode = code
	}
}
