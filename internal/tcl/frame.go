package tcl

// Wire frame packing. Each LED position emits 24 bytes: 8 per channel in
// B, G, R order. Output byte b (bit position 7..0) carries one bit plane
// across the strands: bit s is set iff strand s has this LED and the
// channel byte has that bit set. The controller's black level offsets
// every byte by 0x2C.

const frameBlackOffset = 0x2C

// frameDataLen returns the packed frame size for a strand length.
func frameDataLen(strandLength int) int { return strandLength * 8 * 3 }

// convertStrandsToFrame packs the strand buffer into a wire frame.
// Expects RGB records.
func convertStrandsToFrame(s *strands, strandLength int) []byte {
	result := make([]byte, frameDataLen(strandLength))
	pos := 0
	for led := 0; led < strandLength; led++ {
		pos += buildFrameColorSeq(s, led, 2, result[pos:])
		pos += buildFrameColorSeq(s, led, 1, result[pos:])
		pos += buildFrameColorSeq(s, led, 0, result[pos:])
	}
	for i := range result {
		result[i] += frameBlackOffset
	}
	return result
}

// buildFrameColorSeq emits the 8 bit-plane bytes of one channel of one
// LED position into dst and returns the byte count written.
func buildFrameColorSeq(s *strands, led, component int, dst []byte) int {
	pos := 0
	for mask := byte(0x80); mask > 0; mask >>= 1 {
		var b byte
		for strand := range s.colors {
			if led >= s.lengths[strand] {
				continue
			}
			if s.colors[strand][led*4+component]&mask != 0 {
				b |= 1 << strand
			}
		}
		dst[pos] = b
		pos++
	}
	return pos
}
