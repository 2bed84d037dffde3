package tcl

import (
	"github.com/gleenn/dfplayer/internal/raster"
)

type colorSpace uint8

const (
	spaceRGB colorSpace = iota
	spaceHSL
)

// strands is the concatenated per-strand colour buffer: one 4-byte record
// per LED, tagged with the colour space currently held in the records.
// In HSL the record order is H, L, S; alpha rides along untouched.
type strands struct {
	space    colorSpace
	colors   [][]byte
	lengths  []int
	ledImage *raster.Image
}

func newStrands(strandCount, strandLength int) *strands {
	s := &strands{
		space:   spaceRGB,
		colors:  make([][]byte, strandCount),
		lengths: make([]int, strandCount),
	}
	for i := range s.colors {
		s.colors[i] = make([]byte, strandLength*4)
	}
	return s
}

func (s *strands) at(strand, led int) []byte {
	return s.colors[strand][led*4 : led*4+4]
}

// populateColors averages each LED's claimed pixels from the image.
// LEDs whose claim set is empty render opaque black.
func (s *strands) populateColors(m *layoutMap, img *raster.Image) {
	for strand := 0; strand < m.strandCount; strand++ {
		n := m.lengths[strand]
		s.lengths[strand] = n
		for led := 0; led < n; led++ {
			coords := m.coords[strand][led]
			dst := s.at(strand, led)
			if len(coords) == 0 {
				dst[0], dst[1], dst[2], dst[3] = 0, 0, 0, 255
				continue
			}
			var r, g, b uint32
			for _, c := range coords {
				i := (c.Y*img.W + c.X) * 4
				r += uint32(img.Pix[i])
				g += uint32(img.Pix[i+1])
				b += uint32(img.Pix[i+2])
			}
			cnt := uint32(len(coords))
			dst[0] = byte(r / cnt)
			dst[1] = byte(g / cnt)
			dst[2] = byte(b / cnt)
			dst[3] = 255
		}
	}
}

func (s *strands) convertHls(toHls bool) {
	for strand := range s.colors {
		for led := 0; led < s.lengths[strand]; led++ {
			c := s.at(strand, led)
			if toHls {
				c[0], c[1], c[2] = rgbToHls(c[0], c[1], c[2])
			} else {
				c[0], c[1], c[2] = hlsToRgb(c[0], c[1], c[2])
			}
		}
	}
	if toHls {
		s.space = spaceHSL
	} else {
		s.space = spaceRGB
	}
}

// extend256 stretches v from [lo, hi] to the full byte range.
func extend256(v, lo, hi byte) byte {
	if hi == lo {
		return hi
	}
	return byte(255 * int(v-lo) / int(hi-lo))
}

// performHdr applies the local contrast stretch over each LED's HDR
// sibling set. Hue and alpha are always preserved. Expects HSL records.
func (s *strands) performHdr(m *layoutMap, mode HdrMode) {
	if mode == HdrNone {
		return
	}
	res := make([][]byte, len(s.colors))
	for strand := range s.colors {
		res[strand] = make([]byte, len(s.colors[strand]))
		for led := 0; led < s.lengths[strand]; led++ {
			var lMin, sMin byte = 255, 255
			var lMax, sMax byte = 0, 0
			for _, sib := range m.hdrSiblings[strand][led] {
				hls := s.at(sib.strand, sib.led)
				if hls[1] < lMin {
					lMin = hls[1]
				}
				if hls[1] > lMax {
					lMax = hls[1]
				}
				if hls[2] < sMin {
					sMin = hls[2]
				}
				if hls[2] > sMax {
					sMax = hls[2]
				}
			}
			src := s.at(strand, led)
			dst := res[strand][led*4 : led*4+4]
			dst[0] = src[0]
			if mode == HdrLsat || mode == HdrLuminance {
				dst[1] = extend256(src[1], lMin, lMax)
			} else {
				dst[1] = src[1]
			}
			if mode == HdrLsat || mode == HdrSaturation {
				dst[2] = extend256(src[2], sMin, sMax)
			} else {
				dst[2] = src[2]
			}
			dst[3] = src[3]
		}
	}
	for strand := range s.colors {
		copy(s.colors[strand][:s.lengths[strand]*4], res[strand])
	}
}

func (s *strands) applyGamma(g *RgbGamma) {
	for strand := range s.colors {
		for led := 0; led < s.lengths[strand]; led++ {
			g.Apply(s.at(strand, led))
		}
	}
}

// saveLedImage paints each LED's final colour over its claimed pixels.
func (s *strands) saveLedImage(m *layoutMap, width, height int) {
	img := raster.New(width, height)
	for strand := range s.colors {
		for led := 0; led < s.lengths[strand]; led++ {
			c := s.at(strand, led)
			for _, pt := range m.coords[strand][led] {
				i := (pt.Y*width + pt.X) * 4
				copy(img.Pix[i:i+4], c)
			}
		}
	}
	s.ledImage = img
}
