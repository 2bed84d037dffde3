package tcl

import (
	"github.com/rs/zerolog/log"

	"github.com/gleenn/dfplayer/internal/raster"
)

// Controller drives one TCL pixel controller: it owns the derived layout
// map, gamma tables, cached images and the UDP socket state. Socket
// methods are invoked from the renderer worker only; everything else runs
// under the renderer lock.
type Controller struct {
	id           int
	width        int
	height       int
	strandCount  int
	strandLength int

	gamma   *RgbGamma
	layout  *layoutMap
	hdrMode HdrMode

	conn                 udpConn
	initSent             bool
	requireReset         bool
	lastReplyTime        int64
	framesSentAfterReply int

	effectImage *raster.Image
	lastImage   *raster.Image
	lastLed     *raster.Image
	lastImageID int
}

func newController(id, width, height int, layout *Layout, gamma float64) *Controller {
	c := &Controller{
		id:           id,
		width:        width,
		height:       height,
		strandCount:  layout.strandCount,
		strandLength: layout.strandLength,
		gamma:        NewRgbGamma(gamma),
		layout:       buildLayoutMap(layout, width, height),
		requireReset: true,
	}
	return c
}

func (c *Controller) ID() int     { return c.id }
func (c *Controller) Width() int  { return c.width }
func (c *Controller) Height() int { return c.height }

func (c *Controller) setGammaRanges(
	rMin, rMax int, rGamma float64,
	gMin, gMax int, gGamma float64,
	bMin, bMax int, bGamma float64) {
	c.gamma.SetGammaRanges(rMin, rMax, rGamma, gMin, gMax, gGamma, bMin, bMax, bGamma)
}

func (c *Controller) setHdrMode(mode HdrMode) { c.hdrMode = mode }

// buildImage fits a source image onto the controller canvas per the
// effect mode. Returns nil on an empty source.
func (c *Controller) buildImage(pix []byte, w, h int, mode EffectMode) *raster.Image {
	if len(pix) == 0 || w <= 0 || h <= 0 {
		return nil
	}
	src := raster.FromBytes(pix, w, h)
	switch mode {
	case EffectDuplicate:
		dst := raster.New(c.width, c.height)
		half := raster.Resize(src, c.width/2, c.height)
		raster.Paste(half, dst, 0, 0, false)
		raster.Paste(half, dst, c.width/2, 0, false)
		return dst
	case EffectMirror:
		dst := raster.New(c.width, c.height)
		half := raster.Resize(src, c.width/2, c.height)
		raster.Paste(half, dst, 0, 0, false)
		raster.Paste(raster.FlipH(half), dst, c.width/2, 0, false)
		return dst
	default: // EffectOverlay
		return raster.Resize(src, c.width, c.height)
	}
}

func (c *Controller) setEffectImage(pix []byte, w, h int, mode EffectMode) {
	c.effectImage = c.buildImage(pix, w, h, mode)
}

// applyEffect merges the configured overlay onto the image, if any.
func (c *Controller) applyEffect(img *raster.Image) {
	if c.effectImage.Empty() {
		return
	}
	raster.Paste(c.effectImage, img, 0, 0, true)
}

// buildFrameDataForImage runs the full pipeline for one frame and updates
// the cached images.
func (c *Controller) buildFrameDataForImage(img *raster.Image, id int) []byte {
	c.applyEffect(img)
	s := c.convertImageToStrands(img)
	frame := convertStrandsToFrame(s, c.strandLength)
	c.lastImage = img.Clone()
	c.lastImageID = id
	c.lastLed = s.ledImage
	return frame
}

// convertImageToStrands samples the image into strand colours, applies
// the HSL round-trip with HDR in between, then gamma.
func (c *Controller) convertImageToStrands(img *raster.Image) *strands {
	s := newStrands(c.strandCount, c.strandLength)
	s.populateColors(c.layout, img)
	s.convertHls(true)
	s.performHdr(c.layout, c.hdrMode)
	s.convertHls(false)
	// Gamma last, to keep the RGB-HSL conversions linear.
	s.applyGamma(c.gamma)
	s.saveLedImage(c.layout, c.width, c.height)
	return s
}

func (c *Controller) getAndClearLastImage() *raster.Image {
	img := c.lastImage
	c.lastImage = nil
	return img
}

func (c *Controller) getAndClearLastLedImage() *raster.Image {
	img := c.lastLed
	c.lastLed = nil
	return img
}

func (c *Controller) scheduleReset() { c.requireReset = true }

// updateAutoReset flags a reset when the controller went quiet: more than
// two frames sent since the last reply and the reply gap exceeds the
// configured window.
func (c *Controller) updateAutoReset(autoResetAfterNoDataMs int64) {
	if autoResetAfterNoDataMs <= 0 || c.requireReset || c.framesSentAfterReply <= 2 {
		return
	}
	replyDelay := nowMillis() - c.lastReplyTime
	if replyDelay > autoResetAfterNoDataMs {
		log.Error().
			Int("controller", c.id).
			Int64("reply_delay_ms", replyDelay).
			Int("frames_sent", c.framesSentAfterReply).
			Msg("no reply from controller, resetting")
		c.requireReset = true
	}
}
