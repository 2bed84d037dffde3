package tcl

import (
	"container/heap"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gleenn/dfplayer/internal/raster"
)

// workItem is a priority-queue entry: either a frame to transmit at its
// deadline or a reset request for a controller.
type workItem struct {
	needsReset bool
	controller *Controller
	img        *raster.Image
	id         int
	timeMs     int64
	seq        int64
}

// workQueue is a min-heap on (timeMs, insertion order).
type workQueue []*workItem

func (q workQueue) Len() int { return len(q) }
func (q workQueue) Less(i, j int) bool {
	if q[i].timeMs != q[j].timeMs {
		return q[i].timeMs < q[j].timeMs
	}
	return q[i].seq < q[j].seq
}
func (q workQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *workQueue) Push(x any)   { *q = append(*q, x.(*workItem)) }
func (q *workQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// Renderer owns the controllers and the deadline-ordered work queue, and
// runs the single worker that builds and transmits frames.
type Renderer struct {
	mu   sync.Mutex
	cond *sync.Cond

	controllers       []*Controller
	controllersLocked bool

	queue   workQueue
	nextSeq int64

	fps                    int
	enableNet              bool
	baseTime               int64
	autoResetAfterNoDataMs int64

	hasStartedThread bool
	isShuttingDown   bool
	workerDone       chan struct{}

	frameDelays []int

	// nowFn is wall-clock time in ms; swapped in scheduler tests.
	nowFn func() int64
}

// NewRenderer returns an idle renderer. Add controllers, lock the
// topology, then start the message loop.
func NewRenderer() *Renderer {
	r := &Renderer{
		fps:                    15,
		autoResetAfterNoDataMs: 5000,
		nowFn:                  nowMillis,
	}
	r.cond = sync.NewCond(&r.mu)
	r.baseTime = r.nowFn()
	return r
}

// AddController registers a controller. Must precede LockControllers;
// duplicate ids and post-lock additions are programmer errors.
func (r *Renderer) AddController(id, width, height int, layout *Layout, gamma float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.controllersLocked {
		panic("AddController after LockControllers")
	}
	if r.findControllerLocked(id) != nil {
		panic(fmt.Sprintf("duplicate controller id %d", id))
	}
	if width <= 0 || height <= 0 {
		panic(fmt.Sprintf("invalid controller size %dx%d", width, height))
	}
	r.controllers = append(r.controllers, newController(id, width, height, layout, gamma))
}

func (r *Renderer) findControllerLocked(id int) *Controller {
	for _, c := range r.controllers {
		if c.id == id {
			return c
		}
	}
	return nil
}

// LockControllers freezes the topology.
func (r *Renderer) LockControllers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllersLocked = true
}

// StartMessageLoop starts the worker. enableNet false keeps the full
// pipeline running without touching sockets.
func (r *Renderer) StartMessageLoop(fps int, enableNet bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.controllersLocked {
		panic("StartMessageLoop before LockControllers")
	}
	if r.hasStartedThread {
		return
	}
	r.fps = fps
	r.enableNet = enableNet
	r.hasStartedThread = true
	r.workerDone = make(chan struct{})
	go r.run()
}

// Shutdown stops the worker; at most one in-flight frame transmission
// completes. Safe to call more than once.
func (r *Renderer) Shutdown() {
	r.mu.Lock()
	if !r.hasStartedThread || r.isShuttingDown {
		r.mu.Unlock()
		return
	}
	r.isShuttingDown = true
	r.cond.Broadcast()
	done := r.workerDone
	r.mu.Unlock()

	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = nil
	for _, c := range r.controllers {
		c.closeSocket()
	}
}

// SetGamma applies one exponent to all channels of all controllers.
// 1.0 is uncorrected, which reads too bright in the middle; 2.4 is a
// good starting point.
func (r *Renderer) SetGamma(gamma float64) {
	r.SetGammaRanges(0, 255, gamma, 0, 255, gamma, 0, 255, gamma)
}

func (r *Renderer) SetGammaRanges(
	rMin, rMax int, rGamma float64,
	gMin, gMax int, gGamma float64,
	bMin, bMax int, bGamma float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.controllers {
		c.setGammaRanges(rMin, rMax, rGamma, gMin, gMax, gGamma, bMin, bMax, bGamma)
	}
}

func (r *Renderer) SetHdrMode(mode HdrMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.controllers {
		c.setHdrMode(mode)
	}
}

func (r *Renderer) SetAutoResetAfterNoDataMs(v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoResetAfterNoDataMs = v
}

// GetAndClearFrameDelays returns the transmit delays (ms past deadline)
// accumulated since the previous call.
func (r *Renderer) GetAndClearFrameDelays() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.frameDelays
	r.frameDelays = nil
	return res
}

// GetFrameSendDurationMs reports the protocol pacing cost of one frame
// transmission for this topology.
func (r *Renderer) GetFrameSendDurationMs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.controllers) == 0 {
		return 0
	}
	return FrameSendDurationMs(r.controllers[0].strandLength)
}

func (r *Renderer) GetQueueSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Renderer) GetAndClearLastImage(controllerID int) *raster.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.findControllerLocked(controllerID); c != nil {
		return c.getAndClearLastImage()
	}
	return nil
}

func (r *Renderer) GetAndClearLastLedImage(controllerID int) *raster.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.findControllerLocked(controllerID); c != nil {
		return c.getAndClearLastLedImage()
	}
	return nil
}

func (r *Renderer) GetLastImageId(controllerID int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.findControllerLocked(controllerID); c != nil {
		return c.lastImageID
	}
	return -1
}

// ScheduleImageAt fits the image on the caller thread and enqueues the
// frame at the FPS-aligned deadline. Mismatched sizes and unknown
// controllers are logged and ignored; enqueues during shutdown are
// dropped.
func (r *Renderer) ScheduleImageAt(
	controllerID int, pix []byte, w, h int, mode EffectMode, id int, targetTimeMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasStartedThread {
		panic("ScheduleImageAt before StartMessageLoop")
	}
	if r.isShuttingDown {
		return
	}
	c := r.findControllerLocked(controllerID)
	if c == nil {
		log.Warn().Int("controller", controllerID).Msg("ignoring ScheduleImageAt on unknown controller")
		return
	}
	if len(pix) != raster.Len(w, h) {
		log.Warn().Int("len", len(pix)).Int("w", w).Int("h", h).
			Msg("unexpected image size in ScheduleImageAt")
		return
	}

	timeAbs := r.alignToFpsLocked(targetTimeMs)
	img := c.buildImage(pix, w, h, mode)
	r.enqueueLocked(&workItem{controller: c, img: img, id: id, timeMs: timeAbs})
}

// alignToFpsLocked snaps a target time to the nearest FPS tick relative
// to the renderer base time.
func (r *Renderer) alignToFpsLocked(timeAbs int64) int64 {
	if timeAbs <= r.baseTime {
		return timeAbs
	}
	frameNum := math.Round(float64(timeAbs-r.baseTime) / 1000.0 * float64(r.fps))
	return r.baseTime + int64(frameNum*1000.0/float64(r.fps))
}

func (r *Renderer) enqueueLocked(it *workItem) {
	it.seq = r.nextSeq
	r.nextSeq++
	heap.Push(&r.queue, it)
	r.cond.Broadcast()
}

// ScheduleReset enqueues a reset for a controller. When it reaches the
// head of the queue it cancels all pending frames.
func (r *Renderer) ScheduleReset(controllerID int, targetTimeMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isShuttingDown {
		return
	}
	c := r.findControllerLocked(controllerID)
	if c == nil {
		log.Warn().Int("controller", controllerID).Msg("ignoring ScheduleReset on unknown controller")
		return
	}
	r.enqueueLocked(&workItem{needsReset: true, controller: c, timeMs: targetTimeMs})
}

func (r *Renderer) SetEffectImage(controllerID int, pix []byte, w, h int, mode EffectMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.findControllerLocked(controllerID); c != nil {
		c.setEffectImage(pix, w, h, mode)
	}
}

// ResetImageQueue drops all pending work.
func (r *Renderer) ResetImageQueue() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = nil
}

func (r *Renderer) run() {
	defer close(r.workerDone)
	for {
		r.mu.Lock()
		if r.isShuttingDown {
			r.mu.Unlock()
			return
		}
		if r.enableNet {
			for _, c := range r.controllers {
				c.updateAutoReset(r.autoResetAfterNoDataMs)
			}
		}
		r.mu.Unlock()

		if r.enableNet {
			failedInit := false
			for _, c := range r.controllers {
				if !c.initController() {
					failedInit = true
				}
			}
			if failedInit {
				sleep(time.Second)
				continue
			}
		}

		var frame []byte
		var item *workItem
		r.mu.Lock()
		for !r.isShuttingDown {
			var nextTime int64
			item, nextTime = r.popNextWorkItemLocked(r.nowFn())
			if item != nil {
				break
			}
			r.waitForQueueLocked(nextTime)
		}
		if r.isShuttingDown {
			r.mu.Unlock()
			return
		}
		if item.needsReset {
			item.controller.scheduleReset()
			r.mu.Unlock()
			continue
		}
		if !item.img.Empty() {
			frame = item.controller.buildFrameDataForImage(item.img, item.id)
		}
		r.mu.Unlock()

		if frame == nil {
			continue
		}
		// Blocking UDP I/O happens outside the lock to keep
		// scheduling responsive.
		if !r.enableNet || item.controller.sendFrame(frame) {
			r.mu.Lock()
			r.frameDelays = append(r.frameDelays, int(r.nowFn()-item.timeMs))
			r.mu.Unlock()
		} else {
			log.Warn().Int("controller", item.controller.id).
				Msg("scheduling reset after failed frame")
			r.mu.Lock()
			item.controller.scheduleReset()
			r.mu.Unlock()
		}
	}
}

// popNextWorkItemLocked returns the next due item, skipping forward past
// stale frames when several are already due. A reset at the head drains
// the queue. When nothing is due, returns nil and the wake-up time of
// the earliest future item (0 when the queue is empty).
func (r *Renderer) popNextWorkItemLocked(now int64) (*workItem, int64) {
	if len(r.queue) == 0 {
		return nil, 0
	}
	for {
		item := r.queue[0]
		if item.needsReset {
			r.queue = nil
			return item, 0
		}
		if item.timeMs > now {
			return nil, item.timeMs
		}
		heap.Pop(&r.queue)
		if len(r.queue) == 0 {
			return item, 0
		}
		if r.queue[0].timeMs > now {
			return item, r.queue[0].timeMs
		}
		// A newer item is also due; drop this one as stale.
	}
}

func (r *Renderer) waitForQueueLocked(nextTime int64) {
	if nextTime == 0 {
		r.cond.Wait()
		return
	}
	// sync.Cond has no timed wait; use a timer that re-broadcasts.
	delay := nextTime - r.nowFn()
	if delay <= 0 {
		return
	}
	t := time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	r.cond.Wait()
	t.Stop()
}
