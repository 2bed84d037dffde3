package raster

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Image is a row-major 8-bit RGBA buffer. Alpha 0 means fully transparent
// for Paste merging; 255 means opaque.
type Image struct {
	W, H int
	Pix  []byte
}

// Len returns the byte length of a w*h RGBA buffer.
func Len(w, h int) int { return w * h * 4 }

// New allocates a zeroed image.
func New(w, h int) *Image {
	return &Image{W: w, H: h, Pix: make([]byte, Len(w, h))}
}

// FromBytes copies pix into a new image. len(pix) must be Len(w, h).
func FromBytes(pix []byte, w, h int) *Image {
	im := New(w, h)
	copy(im.Pix, pix)
	return im
}

func (im *Image) Empty() bool { return im == nil || len(im.Pix) == 0 }

// Clone returns an independent copy.
func (im *Image) Clone() *Image {
	if im.Empty() {
		return nil
	}
	return FromBytes(im.Pix, im.W, im.H)
}

// rgba wraps the buffer as an image.RGBA without copying.
func (im *Image) rgba() *image.RGBA {
	return &image.RGBA{Pix: im.Pix, Stride: im.W * 4, Rect: image.Rect(0, 0, im.W, im.H)}
}

// Resize returns a bilinear resample of src at w x h. A same-size resize
// is an exact copy.
func Resize(src *Image, w, h int) *Image {
	if src.W == w && src.H == h {
		return src.Clone()
	}
	dst := New(w, h)
	draw.BiLinear.Scale(dst.rgba(), dst.rgba().Rect, src.rgba(), src.rgba().Rect, draw.Src, nil)
	return dst
}

// FlipH returns a horizontally mirrored copy.
func FlipH(src *Image) *Image {
	dst := New(src.W, src.H)
	for y := 0; y < src.H; y++ {
		row := y * src.W * 4
		for x := 0; x < src.W; x++ {
			si := row + x*4
			di := row + (src.W-1-x)*4
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}

// Paste writes src onto dst at (dx, dy), clipping to dst bounds.
// Without merge, source pixels overwrite the destination. With merge,
// opaque source pixels replace the destination, fully transparent pixels
// preserve it, and intermediate alphas blend proportionally.
func Paste(src, dst *Image, dx, dy int, merge bool) {
	for y := 0; y < src.H; y++ {
		ty := dy + y
		if ty < 0 || ty >= dst.H {
			continue
		}
		for x := 0; x < src.W; x++ {
			tx := dx + x
			if tx < 0 || tx >= dst.W {
				continue
			}
			si := (y*src.W + x) * 4
			di := (ty*dst.W + tx) * 4
			if !merge {
				copy(dst.Pix[di:di+4], src.Pix[si:si+4])
				continue
			}
			a := src.Pix[si+3]
			switch a {
			case 255:
				copy(dst.Pix[di:di+4], src.Pix[si:si+4])
			case 0:
				// keep destination
			default:
				af := float64(a) / 255.0
				for c := 0; c < 3; c++ {
					v := float64(src.Pix[si+c])*af + float64(dst.Pix[di+c])*(1-af)
					dst.Pix[di+c] = byte(math.Round(v))
				}
			}
		}
	}
}
