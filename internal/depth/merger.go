package depth

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Depth processing constants: the sensor's practical range is 0.5-3m,
// and the trigger slab selects objects 1.5-2.5m out.
const (
	clampMin uint16 = 500
	clampMax uint16 = 3000

	rangeMin uint16 = 1500
	rangeMax uint16 = 2500

	blurKernel = 7

	// A person takes at least 10% and at most 33% of the image size.
	minObjectRatio = 0.10
	maxObjectRatio = 0.33
	objectScale    = 500.0

	maxObjectCount = 100
)

// Circle is a detected contour centroid with its equivalent radius in
// pixels, largest first in Merger.Circles output.
type Circle struct {
	X, Y   int
	Radius int
}

// Merger pulls depth and video frames from the attached devices on a
// paced loop, merges them into one wide canvas and extracts person
// candidates from the depth slab.
type Merger struct {
	fps          int
	videoEnabled bool
	depthEnabled bool

	devicesMu sync.Mutex
	devices   []Device

	mergerMu sync.Mutex
	width    int // per device
	height   int

	depthOrig  []uint16
	depthBlur  []uint16
	depthRange []byte
	videoData  []byte // packed RGB

	circles          []Circle
	hasNewDepthImage bool
	hasNewVideoImage bool

	hasStartedThread bool
	shouldExit       chan struct{}
	loopDone         chan struct{}
}

// NewMerger returns an idle merger. Enable streams and add devices, then
// Start it.
func NewMerger() *Merger {
	return &Merger{fps: 15}
}

// EnableVideo must be called before Start.
func (m *Merger) EnableVideo() {
	if m.hasStartedThread {
		panic("EnableVideo after Start")
	}
	m.videoEnabled = true
}

// EnableDepth must be called before Start.
func (m *Merger) EnableDepth() {
	if m.hasStartedThread {
		panic("EnableDepth after Start")
	}
	m.depthEnabled = true
}

// AddDevice attaches an opened device. All devices must share frame
// dimensions; mismatches are logged and the device is ignored.
func (m *Merger) AddDevice(d Device) {
	m.devicesMu.Lock()
	defer m.devicesMu.Unlock()
	if m.hasStartedThread {
		panic("AddDevice after Start")
	}
	if len(m.devices) > 0 && (d.Width() != m.width || d.Height() != m.height) {
		log.Error().
			Int("width", d.Width()).Int("height", d.Height()).
			Msg("device dimensions do not match, ignoring device")
		return
	}
	m.width = d.Width()
	m.height = d.Height()
	m.devices = append(m.devices, d)
}

// Start allocates the merged canvases and launches the paced worker.
func (m *Merger) Start(fps int) {
	m.mergerMu.Lock()
	defer m.mergerMu.Unlock()
	m.devicesMu.Lock()
	if m.hasStartedThread {
		m.devicesMu.Unlock()
		return
	}
	m.hasStartedThread = true
	m.fps = fps

	n := m.width * len(m.devices) * m.height
	m.depthOrig = make([]uint16, n)
	m.depthBlur = make([]uint16, n)
	m.depthRange = make([]byte, n)
	m.videoData = make([]byte, n*3)
	m.devicesMu.Unlock()

	m.shouldExit = make(chan struct{})
	m.loopDone = make(chan struct{})
	go m.runMergerLoop()
	log.Info().Int("fps", fps).Int("devices", len(m.devices)).Msg("depth merger started")
}

// Stop terminates the worker and closes the devices.
func (m *Merger) Stop() {
	m.mergerMu.Lock()
	if !m.hasStartedThread || m.shouldExit == nil {
		m.mergerMu.Unlock()
		return
	}
	exit, done := m.shouldExit, m.loopDone
	m.shouldExit = nil
	m.mergerMu.Unlock()

	close(exit)
	<-done

	m.devicesMu.Lock()
	defer m.devicesMu.Unlock()
	for _, d := range m.devices {
		_ = d.Close()
	}
}

func (m *Merger) runMergerLoop() {
	defer close(m.loopDone)
	msPerFrame := time.Second / time.Duration(m.fps)
	next := time.Now().Add(msPerFrame)
	for {
		m.mergerMu.Lock()
		exit := m.shouldExit
		m.mergerMu.Unlock()
		if exit == nil {
			return
		}
		if d := time.Until(next); d > 0 {
			select {
			case <-exit:
				return
			case <-time.After(d):
			}
		}
		next = next.Add(msPerFrame)

		m.MergeImages()
	}
}

// MergeImages runs one merger tick: pull device frames into the wide
// canvas, then reprocess the depth slab when anything changed.
func (m *Merger) MergeImages() {
	m.mergerMu.Lock()
	defer m.mergerMu.Unlock()

	hasDepthUpdate := false
	hasVideoUpdate := false
	{
		m.devicesMu.Lock()
		fullWidth := m.width * len(m.devices)
		for i, d := range m.devices {
			off := i * m.width
			if m.depthEnabled && d.GetAndClearDepthData(m.depthOrig[off:], fullWidth) {
				hasDepthUpdate = true
			}
			if m.videoEnabled && d.GetAndClearVideoData(m.videoData[off*3:], fullWidth) {
				hasVideoUpdate = true
			}
		}
		m.devicesMu.Unlock()
	}

	m.circles = m.circles[:0]
	if hasDepthUpdate {
		m.contrastDepthLocked()
		m.findContoursLocked()
		m.hasNewDepthImage = true
	}
	if hasVideoUpdate {
		m.hasNewVideoImage = true
	}
}

// contrastDepthLocked clamps, blurs and thresholds the merged depth map
// into the binary range mask, then denoises it with morphology.
func (m *Merger) contrastDepthLocked() {
	w := m.fullWidth()
	h := m.height

	clampU16(m.depthOrig, clampMin, clampMax)
	boxBlurU16(m.depthOrig, m.depthBlur, w, h, blurKernel)
	inRangeU16(m.depthBlur, rangeMin, rangeMax, m.depthRange)

	m.depthRange = erode(m.depthRange, w, h, 3, 3)
	m.depthRange = erode(m.depthRange, w, h, 3, 3)
	m.depthRange = dilate(m.depthRange, w, h, 8, 8)
	m.depthRange = dilate(m.depthRange, w, h, 8, 8)
}

// findContoursLocked extracts person-sized components from the range
// mask and publishes their centroids, largest first.
func (m *Merger) findContoursLocked() {
	w := m.fullWidth()
	maskCopy := make([]byte, len(m.depthRange))
	copy(maskCopy, m.depthRange)
	contours := findExternalContours(maskCopy, w, m.height)
	if len(contours) == 0 {
		return
	}
	if len(contours) > maxObjectCount {
		log.Warn().Int("count", len(contours)).Msg("too many objects found")
		return
	}

	for _, c := range contours {
		area, cx, cy := c.moments()
		if area == 0 {
			continue
		}
		radius := math.Sqrt(area / math.Pi)
		ratio := radius / objectScale
		if ratio < minObjectRatio || ratio > maxObjectRatio {
			continue
		}
		m.circles = append(m.circles, Circle{
			X:      int(cx),
			Y:      int(cy),
			Radius: int(radius),
		})
	}
	sort.Slice(m.circles, func(i, j int) bool {
		return m.circles[i].Radius > m.circles[j].Radius
	})
}

func (m *Merger) fullWidth() int { return len(m.depthOrig) / max(m.height, 1) }

// Width returns the merged canvas width in pixels.
func (m *Merger) Width() int {
	m.devicesMu.Lock()
	defer m.devicesMu.Unlock()
	return m.width * len(m.devices)
}

func (m *Merger) Height() int { return m.height }

// DepthDataLength returns the merged depth buffer size in bytes.
func (m *Merger) DepthDataLength() int {
	m.mergerMu.Lock()
	defer m.mergerMu.Unlock()
	return len(m.depthOrig) * 2
}

// GetDepthData copies the blurred depth map into dst.
func (m *Merger) GetDepthData(dst []uint16) {
	m.mergerMu.Lock()
	defer m.mergerMu.Unlock()
	copy(dst, m.depthBlur)
}

// GetVideoData copies the merged packed RGB video frame into dst.
func (m *Merger) GetVideoData(dst []byte) {
	m.mergerMu.Lock()
	defer m.mergerMu.Unlock()
	copy(dst, m.videoData)
}

// GetAndClearLastDepthColorImage renders the blurred depth map through
// the JET palette with detected circles drawn on top (first red, rest
// green) and clears the new-image flag. Returns nil when nothing new
// arrived since the last call.
func (m *Merger) GetAndClearLastDepthColorImage() []byte {
	m.mergerMu.Lock()
	defer m.mergerMu.Unlock()
	if !m.hasNewDepthImage {
		return nil
	}
	w := m.fullWidth()
	dst := make([]byte, len(m.depthBlur)*3)
	colorizeDepth(m.depthBlur, dst)
	for i, c := range m.circles {
		if i == 0 {
			drawCircleRGB(dst, w, m.height, c.X, c.Y, c.Radius, 255, 0, 0)
		} else {
			drawCircleRGB(dst, w, m.height, c.X, c.Y, c.Radius, 0, 255, 0)
		}
	}
	m.hasNewDepthImage = false
	return dst
}

// GetAndClearLastVideoImage unpacks the merged RGB frame into RGBA rows
// with zero alpha and clears the new-image flag. Returns nil when
// nothing new arrived.
func (m *Merger) GetAndClearLastVideoImage() []byte {
	m.mergerMu.Lock()
	defer m.mergerMu.Unlock()
	if !m.hasNewVideoImage {
		return nil
	}
	w := m.fullWidth()
	dst := make([]byte, w*m.height*4)
	for i := 0; i < w*m.height; i++ {
		dst[i*4] = m.videoData[i*3]
		dst[i*4+1] = m.videoData[i*3+1]
		dst[i*4+2] = m.videoData[i*3+2]
		dst[i*4+3] = 0
	}
	m.hasNewVideoImage = false
	return dst
}

// Circles returns a copy of the current detections, largest first.
func (m *Merger) Circles() []Circle {
	m.mergerMu.Lock()
	defer m.mergerMu.Unlock()
	return append([]Circle(nil), m.circles...)
}

// GetPersonCoordX returns the normalized horizontal position of the
// largest detection, or -1 when there is none.
func (m *Merger) GetPersonCoordX() float64 {
	m.mergerMu.Lock()
	defer m.mergerMu.Unlock()
	if len(m.circles) == 0 {
		return -1
	}
	w := m.fullWidth()
	return float64(m.circles[0].X) / float64(w)
}
