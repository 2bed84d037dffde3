package tcl

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Coord is a pixel coordinate on the controller canvas.
type Coord struct {
	X, Y int
}

// Layout is the configured strand wiring: an ordered list of pixel
// coordinates per strand, in physical order along the wire.
type Layout struct {
	strandCount  int
	strandLength int
	coords       [][]Coord
}

// NewLayout allocates an empty layout. The wire format packs one bit per
// strand into each output byte, so strandCount must be 1..8.
func NewLayout(strandCount, strandLength int) *Layout {
	if strandCount < 1 || strandCount > 8 {
		panic(fmt.Sprintf("strand count %d out of range 1..8", strandCount))
	}
	if strandLength < 1 {
		panic(fmt.Sprintf("invalid strand length %d", strandLength))
	}
	return &Layout{
		strandCount:  strandCount,
		strandLength: strandLength,
		coords:       make([][]Coord, strandCount),
	}
}

// AddCoord appends the next LED coordinate to a strand. Coordinates past
// the strand length are logged and dropped.
func (l *Layout) AddCoord(strand, x, y int) {
	if strand < 0 || strand >= l.strandCount {
		panic(fmt.Sprintf("strand %d out of range", strand))
	}
	if len(l.coords[strand]) == l.strandLength {
		log.Warn().Int("strand", strand).Msg("cannot add more coords to strand")
		return
	}
	l.coords[strand] = append(l.coords[strand], Coord{X: x, Y: y})
}

// StrandLen returns the configured LED count of one strand.
func (l *Layout) StrandLen(strand int) int { return len(l.coords[strand]) }

type layoutFile struct {
	Strands [][][2]int `yaml:"strands"`
}

// LoadLayout reads a strand layout from a yaml file: a `strands` list,
// each entry an ordered list of [x, y] pairs.
func LoadLayout(path string, strandCount, strandLength int) (*Layout, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f layoutFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if len(f.Strands) > strandCount {
		return nil, fmt.Errorf("layout %s has %d strands, controller supports %d",
			path, len(f.Strands), strandCount)
	}
	l := NewLayout(strandCount, strandLength)
	for s, pts := range f.Strands {
		for _, p := range pts {
			l.AddCoord(s, p[0], p[1])
		}
	}
	return l, nil
}

// ledRef addresses one LED as (strand, led position).
type ledRef struct {
	strand, led int
}

// layoutMap is the per-controller derivation of a Layout: the image
// pixels each LED samples (first-claim, at most one owner per pixel)
// and the HDR sibling set within kHdrSiblingsDistance pixel units.
type layoutMap struct {
	strandCount  int
	strandLength int
	lengths      []int
	coords       [][][]Coord
	hdrSiblings  [][][]ledRef
}

const kHdrSiblingsDistance = 13

type pixelUsage struct {
	inUse     bool
	isPrimary bool
	owner     ledRef
}

func buildLayoutMap(l *Layout, width, height int) *layoutMap {
	m := &layoutMap{
		strandCount:  l.strandCount,
		strandLength: l.strandLength,
		lengths:      make([]int, l.strandCount),
		coords:       make([][][]Coord, l.strandCount),
		hdrSiblings:  make([][][]ledRef, l.strandCount),
	}
	usage := make([]pixelUsage, width*height)

	claim := func(strand, led, x, y int) {
		if x < 0 || x >= width || y < 0 || y >= height {
			return
		}
		pos := y*width + x
		if usage[pos].inUse {
			return
		}
		usage[pos] = pixelUsage{inUse: true, isPrimary: true, owner: ledRef{strand, led}}
		m.coords[strand][led] = append(m.coords[strand][led], Coord{X: x, Y: y})
	}

	// Claim order matters: the LED's own pixel first, then the
	// neighbourhood, ascending strand order across strands.
	offsets := [9][2]int{
		{0, 0}, {-1, -1}, {-1, 0}, {-1, 1}, {1, -1}, {1, 0}, {1, 1}, {0, -1}, {0, 1},
	}
	for strand := 0; strand < l.strandCount; strand++ {
		n := len(l.coords[strand])
		m.lengths[strand] = n
		m.coords[strand] = make([][]Coord, n)
		m.hdrSiblings[strand] = make([][]ledRef, n)
		for led := 0; led < n; led++ {
			c := l.coords[strand][led]
			for _, off := range offsets {
				claim(strand, led, c.X+off[0], c.Y+off[1])
			}
		}
	}

	maxDist2 := kHdrSiblingsDistance * kHdrSiblingsDistance
	for s1 := 0; s1 < l.strandCount; s1++ {
		for led1, c1 := range l.coords[s1] {
			for s2 := 0; s2 < l.strandCount; s2++ {
				for led2, c2 := range l.coords[s2] {
					dx := c2.X - c1.X
					dy := c2.Y - c1.Y
					if dx*dx+dy*dy < maxDist2 {
						m.hdrSiblings[s1][led1] = append(
							m.hdrSiblings[s1][led1], ledRef{s2, led2})
					}
				}
			}
		}
	}
	return m
}
