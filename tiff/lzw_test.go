package tiff

import (
	"bytes"
	"testing"
)

// lzwCompress is a minimal TIFF-LZW encoder used to exercise the decoder.
// It mirrors the early width increment: the code width grows when the
// next code to be assigned no longer fits the current width.
func lzwCompress(data []byte) []byte {
	var out []byte
	var bitBuf, bitCount int

	codeWidth := 9
	emit := func(code int) {
		bitBuf = bitBuf<<codeWidth | code
		bitCount += codeWidth
		for bitCount >= 8 {
			out = append(out, byte(bitBuf>>(bitCount-8)))
			bitCount -= 8
		}
	}

	dict := map[string]int{}
	nextCode := lzwFirstCode
	reset := func() {
		dict = map[string]int{}
		for i := 0; i < 256; i++ {
			dict[string([]byte{byte(i)})] = i
		}
		nextCode = lzwFirstCode
		codeWidth = 9
	}

	emit(lzwClearCode)
	reset()

	// The encoder's table runs one entry ahead of the decoder's, so the
	// width grows at nextCode >= 2^width where the decoder uses
	// nextCode+1 >= 2^width; both switch at the same code boundary.
	widen := func() {
		if nextCode >= 1<<codeWidth && codeWidth < lzwMaxWidth {
			codeWidth++
		}
	}

	var w []byte
	for _, c := range data {
		wc := append(append([]byte(nil), w...), c)
		if _, ok := dict[string(wc)]; ok {
			w = wc
			continue
		}
		emit(dict[string(w)])
		if nextCode < 4094 {
			dict[string(wc)] = nextCode
			nextCode++
			widen()
		} else {
			emit(lzwClearCode)
			reset()
		}
		w = []byte{c}
	}
	if len(w) > 0 {
		emit(dict[string(w)])
		nextCode++ // the decoder defines an entry here even at stream end
		widen()
	}
	emit(lzwEOICode)
	if bitCount > 0 {
		out = append(out, byte(bitBuf<<(8-bitCount)))
	}
	return out
}

func TestLZWRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("A"),
		[]byte("ABABABABABABABA"),
		[]byte("to be or not to be, that is the question"),
		bytes.Repeat([]byte{0x00}, 1000),
		bytes.Repeat([]byte("RGBrgb"), 600),
	}
	// A pseudo-random payload long enough to push the code width past 9
	// bits.
	big := make([]byte, 8192)
	seed := uint32(42)
	for i := range big {
		seed = seed*1664525 + 1013904223
		big[i] = byte(seed >> 24)
	}
	cases = append(cases, big)

	for i, want := range cases {
		got, err := decompressLZW(lzwCompress(want))
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("case %d: round trip changed %d bytes to %d", i, len(want), len(got))
		}
	}
}

func TestLZWRejectsGarbage(t *testing.T) {
	// A stream that does not open with a clear code is invalid.
	if _, err := decompressLZW([]byte{0x00, 0x00, 0x00}); err == nil {
		t.Error("expected error for missing clear code")
	}
	if out, err := decompressLZW(nil); err != nil || out != nil {
		t.Errorf("empty input: (%v, %v)", out, err)
	}
}

func TestLZWTilePath(t *testing.T) {
	src := openPyramid(t, writePyramid(t, "", compressionLZW, lzwCompress))
	tile, err := src.GetTile(t.Context(), 0, 0, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	r, g, _, _ := tile.Image.At(33, 12).RGBA()
	wantR, wantG, _ := pixelAt(0, 33, 12)
	if byte(r>>8) != wantR || byte(g>>8) != wantG {
		t.Errorf("lzw pixel = (%d,%d), want (%d,%d)", r>>8, g>>8, wantR, wantG)
	}
}
