package tcl

import "math"

// RgbGamma holds per-channel lookup tables built from (inMin, inMax, gamma)
// ranges. Tables are precomputed once per SetGammaRanges call, same scheme
// as the byte-expansion LUT in the SPI encoder this replaces.
type RgbGamma struct {
	lut [3][256]byte
}

// NewRgbGamma returns tables with the same gamma on all three channels
// over the full 0..255 input range.
func NewRgbGamma(gamma float64) *RgbGamma {
	g := &RgbGamma{}
	g.SetGammaRanges(0, 255, gamma, 0, 255, gamma, 0, 255, gamma)
	return g
}

// SetGammaRanges rebuilds the tables. Invalid ranges (min >= max, or
// values outside 0..255) leave the previous tables untouched.
func (g *RgbGamma) SetGammaRanges(
	rMin, rMax int, rGamma float64,
	gMin, gMax int, gGamma float64,
	bMin, bMax int, bGamma float64) {
	if rMin < 0 || rMax > 255 || rMin >= rMax ||
		gMin < 0 || gMax > 255 || gMin >= gMax ||
		bMin < 0 || bMax > 255 || bMin >= bMax {
		return
	}
	fill := func(dst *[256]byte, min, max int, gamma float64) {
		d := float64(max - min)
		for i := 0; i < 256; i++ {
			v := i
			if v < min {
				v = min
			} else if v > max {
				v = max
			}
			out := math.Pow(float64(v-min)/d, gamma) * 255.0
			dst[i] = byte(math.Round(out))
		}
	}
	fill(&g.lut[0], rMin, rMax, rGamma)
	fill(&g.lut[1], gMin, gMax, gGamma)
	fill(&g.lut[2], bMin, bMax, bGamma)
}

// Apply maps one RGBA record in place. Alpha is untouched.
func (g *RgbGamma) Apply(rgba []byte) {
	rgba[0] = g.lut[0][rgba[0]]
	rgba[1] = g.lut[1][rgba[1]]
	rgba[2] = g.lut[2][rgba[2]]
}
