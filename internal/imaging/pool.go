package imaging

import (
	"image"
	"sync"
)

// rgbaPoolKey identifies a pool by canvas dimensions.
type rgbaPoolKey struct {
	w, h int
}

// rgbaPools maps (width, height) -> *sync.Pool of *image.RGBA. Only a
// handful of distinct canvas sizes exist at a time (tile size, thumbnail
// size), so the map stays tiny.
var rgbaPools sync.Map

// GetRGBA returns a zeroed *image.RGBA from the pool, or allocates one.
func GetRGBA(w, h int) *image.RGBA {
	key := rgbaPoolKey{w, h}
	if p, ok := rgbaPools.Load(key); ok {
		if v := p.(*sync.Pool).Get(); v != nil {
			img := v.(*image.RGBA)
			clear(img.Pix)
			return img
		}
	}
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

// PutRGBA returns a canvas to the pool for reuse. Nil images are ignored.
func PutRGBA(img *image.RGBA) {
	if img == nil {
		return
	}
	key := rgbaPoolKey{img.Rect.Dx(), img.Rect.Dy()}
	p, _ := rgbaPools.LoadOrStore(key, &sync.Pool{})
	p.(*sync.Pool).Put(img)
}
