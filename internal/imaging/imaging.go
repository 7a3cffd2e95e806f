// Package imaging holds the pixel-level helpers shared by the backends and
// the region assembler: format normalization, bilinear rescaling,
// area-average downscaling, and canvas compositing.
package imaging

import (
	"context"
	"image"
	"image/color"
	imgdraw "image/draw"

	"github.com/oov/downscale"
	xdraw "golang.org/x/image/draw"
)

// ToRGBA returns img as *image.RGBA with a zero-origin rectangle,
// converting only when necessary.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	imgdraw.Draw(rgba, rgba.Rect, img, b.Min, imgdraw.Src)
	return rgba
}

// Resize rescales src to w x h with bilinear interpolation.
func Resize(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Rect, src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// Downscale reduces src to w x h with an area-average kernel, which keeps
// thumbnails free of the aliasing a plain bilinear reduction produces at
// large ratios. Requests that do not shrink on both axes fall back to
// bilinear resizing.
func Downscale(ctx context.Context, src image.Image, w, h int) (*image.RGBA, error) {
	b := src.Bounds()
	if w >= b.Dx() || h >= b.Dy() {
		return Resize(src, w, h), nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := downscale.RGBA(ctx, dst, ToRGBA(src)); err != nil {
		return nil, err
	}
	return dst, nil
}

// Crop copies the given zero-origin-relative rectangle out of img.
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	imgdraw.Draw(dst, dst.Rect, img, img.Bounds().Min.Add(r.Min), imgdraw.Src)
	return dst
}

// Fill paints the whole image with a single colour.
func Fill(img *image.RGBA, c color.RGBA) {
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i] = c.R
		pix[i+1] = c.G
		pix[i+2] = c.B
		pix[i+3] = c.A
	}
}

// DrawAt composites src onto dst with its top-left corner at the given
// destination offset, clipping to the canvas.
func DrawAt(dst *image.RGBA, src image.Image, x, y int) {
	b := src.Bounds()
	r := image.Rect(x, y, x+b.Dx(), y+b.Dy())
	imgdraw.Draw(dst, r, src, b.Min, imgdraw.Src)
}

// DrawScaled composites src onto the destination rectangle, bilinearly
// resampling when the rectangle size differs from the source size. The
// rectangle may have subpixel provenance; callers round it before the call
// and the resampling absorbs the fractional placement error.
func DrawScaled(dst *image.RGBA, src image.Image, r image.Rectangle) {
	b := src.Bounds()
	if r.Dx() == b.Dx() && r.Dy() == b.Dy() {
		imgdraw.Draw(dst, r, src, b.Min, imgdraw.Src)
		return
	}
	xdraw.BiLinear.Scale(dst, r, src, b, xdraw.Src, nil)
}
