package tcl

import (
	"testing"

	"github.com/gleenn/dfplayer/internal/raster"
)

// testImage fills a w x h image with one opaque colour.
func testImage(w, h int, r, g, b byte) *raster.Image {
	img := raster.New(w, h)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = r
		img.Pix[i+1] = g
		img.Pix[i+2] = b
		img.Pix[i+3] = 255
	}
	return img
}

func TestHlsRoundTripExact(t *testing.T) {
	cases := [][3]byte{
		{0, 0, 0}, {255, 255, 255}, {128, 0, 0}, {0, 128, 0}, {0, 0, 128},
		{128, 128, 128},
	}
	for _, c := range cases {
		h, l, s := rgbToHls(c[0], c[1], c[2])
		r, g, b := hlsToRgb(h, l, s)
		if r != c[0] || g != c[1] || b != c[2] {
			t.Fatalf("round trip %v -> (%d,%d,%d) -> (%d,%d,%d)", c, h, l, s, r, g, b)
		}
	}
}

func TestHlsRoundTripNearlyLossless(t *testing.T) {
	// The 8-bit quantisation loses a little on saturated colours; the
	// round trip must stay within a few counts per channel.
	cases := [][3]byte{
		{255, 0, 0}, {0, 255, 0}, {0, 0, 255}, {200, 50, 120}, {17, 230, 98},
	}
	absDiff := func(a, b byte) int {
		if a > b {
			return int(a - b)
		}
		return int(b - a)
	}
	for _, c := range cases {
		h, l, s := rgbToHls(c[0], c[1], c[2])
		r, g, b := hlsToRgb(h, l, s)
		if absDiff(r, c[0]) > 6 || absDiff(g, c[1]) > 6 || absDiff(b, c[2]) > 6 {
			t.Fatalf("round trip %v drifted to (%d,%d,%d)", c, r, g, b)
		}
	}
}

func TestHlsRanges(t *testing.T) {
	h, l, s := rgbToHls(0, 0, 255)
	if h != 120 {
		t.Fatalf("blue hue: want 120, got %d", h)
	}
	if l != 128 || s != 255 {
		t.Fatalf("blue l/s: got %d/%d", l, s)
	}
}

func TestExtend256(t *testing.T) {
	if v := extend256(100, 100, 200); v != 0 {
		t.Fatalf("low end: got %d", v)
	}
	if v := extend256(200, 100, 200); v != 255 {
		t.Fatalf("high end: got %d", v)
	}
	if v := extend256(42, 42, 42); v != 42 {
		t.Fatalf("degenerate range: got %d", v)
	}
}

func TestHdrLsatStretch(t *testing.T) {
	// Two LEDs that are HDR siblings of each other, HSL (0,100,100) and
	// (0,200,200). LSAT stretches both channels to the full range.
	l := NewLayout(8, 4)
	l.AddCoord(0, 0, 0)
	l.AddCoord(0, 5, 0)
	m := buildLayoutMap(l, 16, 4)

	s := newStrands(8, 4)
	s.lengths[0] = 2
	copy(s.at(0, 0), []byte{0, 100, 100, 255})
	copy(s.at(0, 1), []byte{0, 200, 200, 255})
	s.space = spaceHSL

	s.performHdr(m, HdrLsat)
	if got := s.at(0, 0); got[0] != 0 || got[1] != 0 || got[2] != 0 {
		t.Fatalf("LED 0: want (0,0,0), got (%d,%d,%d)", got[0], got[1], got[2])
	}
	if got := s.at(0, 1); got[0] != 0 || got[1] != 255 || got[2] != 255 {
		t.Fatalf("LED 1: want (0,255,255), got (%d,%d,%d)", got[0], got[1], got[2])
	}
}

func TestHdrLuminanceLeavesSaturation(t *testing.T) {
	l := NewLayout(8, 4)
	l.AddCoord(0, 0, 0)
	l.AddCoord(0, 5, 0)
	m := buildLayoutMap(l, 16, 4)

	s := newStrands(8, 4)
	s.lengths[0] = 2
	copy(s.at(0, 0), []byte{10, 100, 100, 255})
	copy(s.at(0, 1), []byte{10, 200, 200, 255})
	s.space = spaceHSL

	s.performHdr(m, HdrLuminance)
	if got := s.at(0, 0); got[1] != 0 || got[2] != 100 {
		t.Fatalf("want L stretched, S kept: got (%d,%d,%d)", got[0], got[1], got[2])
	}
}

func TestHdrNoneIsNoOp(t *testing.T) {
	l := NewLayout(8, 4)
	l.AddCoord(0, 0, 0)
	l.AddCoord(0, 1, 1)
	m := buildLayoutMap(l, 8, 8)
	img := testImage(8, 8, 90, 40, 170)

	withHdr := newStrands(8, 4)
	withHdr.populateColors(m, img)
	withHdr.convertHls(true)
	withHdr.performHdr(m, HdrNone)
	withHdr.convertHls(false)

	without := newStrands(8, 4)
	without.populateColors(m, img)
	without.convertHls(true)
	without.convertHls(false)

	for strand := range withHdr.colors {
		for i, v := range withHdr.colors[strand] {
			if without.colors[strand][i] != v {
				t.Fatalf("strand %d byte %d differs: %d vs %d",
					strand, i, v, without.colors[strand][i])
			}
		}
	}
}
