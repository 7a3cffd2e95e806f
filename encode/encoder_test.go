package encode

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// gradientImage creates a size x size RGBA image with a gradient pattern.
func gradientImage(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x % 256),
				G: uint8(y % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img
}

func TestNewEncoder(t *testing.T) {
	tests := []struct {
		format  string
		wantFmt string
		wantExt string
		wantErr bool
	}{
		{"jpeg", "jpeg", ".jpg", false},
		{"jpg", "jpeg", ".jpg", false},
		{"JPEG", "jpeg", ".jpg", false},
		{"png", "png", ".png", false},
		{"PNG", "png", ".png", false},
		{"webp", "webp", ".webp", false},
		{"bmp", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			enc, err := NewEncoder(tt.format, Options{Quality: 85})
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if enc.Format() != tt.wantFmt {
				t.Errorf("Format() = %q, want %q", enc.Format(), tt.wantFmt)
			}
			if enc.FileExtension() != tt.wantExt {
				t.Errorf("FileExtension() = %q, want %q", enc.FileExtension(), tt.wantExt)
			}
		})
	}
}

func TestInvalidSubsampling(t *testing.T) {
	for _, sub := range []int{-1, 3, 10} {
		if _, err := NewEncoder("jpeg", Options{Subsampling: sub}); err == nil {
			t.Errorf("subsampling %d: expected error", sub)
		}
	}
	for sub := 0; sub <= 2; sub++ {
		if _, err := NewEncoder("jpeg", Options{Subsampling: sub}); err != nil {
			t.Errorf("subsampling %d: %v", sub, err)
		}
	}
}

func TestJPEGMagicAndQuality(t *testing.T) {
	img := gradientImage(128)

	enc, err := NewEncoder("jpeg", Options{})
	if err != nil {
		t.Fatal(err)
	}
	data, err := enc.Encode(img)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, JPEGMagic) {
		t.Fatalf("JPEG output starts with % X", data[:3])
	}
	if enc.MimeType() != MimeJPEG {
		t.Errorf("MimeType = %q", enc.MimeType())
	}

	low, err := (&JPEGEncoder{Quality: 10}).Encode(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(low) >= len(data) {
		t.Errorf("quality 10 output (%d bytes) not smaller than default (%d bytes)", len(low), len(data))
	}

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Bounds().Dx() != 128 || decoded.Bounds().Dy() != 128 {
		t.Errorf("decoded size = %v", decoded.Bounds())
	}
}

func TestPNGRoundTrip(t *testing.T) {
	img := gradientImage(64)

	enc, err := NewEncoder("png", Options{})
	if err != nil {
		t.Fatal(err)
	}
	data, err := enc.Encode(img)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, PNGMagic) {
		t.Fatalf("PNG output starts with % X", data[:8])
	}

	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []image.Point{{0, 0}, {13, 40}, {63, 63}} {
		r1, g1, b1, a1 := img.At(p.X, p.Y).RGBA()
		r2, g2, b2, a2 := decoded.At(p.X, p.Y).RGBA()
		if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
			t.Fatalf("pixel %v changed across PNG round trip", p)
		}
	}
}

func TestDecodeImage(t *testing.T) {
	img := gradientImage(32)
	for _, format := range []string{"jpeg", "png", "webp"} {
		enc, err := NewEncoder(format, Options{})
		if err != nil {
			t.Fatal(err)
		}
		data, err := enc.Encode(img)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		decoded, err := DecodeImage(data, format)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if decoded.Bounds().Dx() != 32 {
			t.Errorf("%s: decoded width %d", format, decoded.Bounds().Dx())
		}
		if got := Sniff(data); got != format {
			t.Errorf("Sniff(%s bytes) = %q", format, got)
		}
	}

	if _, err := DecodeImage([]byte("not an image"), "tiff"); err == nil {
		t.Error("expected error for unsupported format")
	}
	if Sniff([]byte("plain text")) != "" {
		t.Error("Sniff misidentified text")
	}
}
