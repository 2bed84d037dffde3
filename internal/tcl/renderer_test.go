package tcl

import (
	"bytes"
	"testing"
	"time"

	"github.com/gleenn/dfplayer/internal/raster"
)

func testRenderer(t *testing.T) *Renderer {
	t.Helper()
	r := NewRenderer()
	l := NewLayout(8, 2)
	l.AddCoord(0, 0, 0)
	r.AddController(0, 2, 1, l, 1.0)
	r.LockControllers()
	return r
}

func TestScheduleAlignsToFps(t *testing.T) {
	r := testRenderer(t)
	r.baseTime = 0
	r.fps = 10
	r.hasStartedThread = true

	pix := make([]byte, raster.Len(2, 1))
	for i, target := range []int64{50, 150, 250} {
		r.ScheduleImageAt(0, pix, 2, 1, EffectOverlay, i+1, target)
	}
	if len(r.queue) != 3 {
		t.Fatalf("queue size %d", len(r.queue))
	}
	// 50ms rounds to the 100ms tick at fps 10; 150 to 200; 250 to 300.
	want := map[int64]bool{100: true, 200: true, 300: true}
	for _, it := range r.queue {
		if !want[it.timeMs] {
			t.Fatalf("unaligned deadline %d", it.timeMs)
		}
	}
}

func TestPopSkipsStaleFrames(t *testing.T) {
	r := testRenderer(t)
	c := r.controllers[0]
	for i, tm := range []int64{50, 150, 250} {
		r.enqueueLocked(&workItem{controller: c, img: raster.New(2, 1), id: i + 1, timeMs: tm})
	}
	item, next := r.popNextWorkItemLocked(300)
	if item == nil || item.id != 3 {
		t.Fatalf("expected newest due item, got %+v", item)
	}
	if next != 0 {
		t.Fatalf("expected empty queue after skip, next=%d", next)
	}
	if len(r.queue) != 0 {
		t.Fatalf("stale items left in queue: %d", len(r.queue))
	}
}

func TestPopReportsFutureItem(t *testing.T) {
	r := testRenderer(t)
	c := r.controllers[0]
	r.enqueueLocked(&workItem{controller: c, img: raster.New(2, 1), id: 1, timeMs: 500})
	item, next := r.popNextWorkItemLocked(100)
	if item != nil {
		t.Fatalf("future item popped: %+v", item)
	}
	if next != 500 {
		t.Fatalf("next wake time %d", next)
	}
}

func TestResetDrainsQueue(t *testing.T) {
	r := testRenderer(t)
	c := r.controllers[0]
	r.enqueueLocked(&workItem{controller: c, img: raster.New(2, 1), id: 1, timeMs: 100})
	r.enqueueLocked(&workItem{needsReset: true, controller: c, timeMs: 50})
	r.enqueueLocked(&workItem{controller: c, img: raster.New(2, 1), id: 2, timeMs: 200})

	item, _ := r.popNextWorkItemLocked(60)
	if item == nil || !item.needsReset {
		t.Fatalf("expected reset at head, got %+v", item)
	}
	if len(r.queue) != 0 {
		t.Fatalf("reset must drain the queue, %d left", len(r.queue))
	}
}

func TestTieBreakByInsertionOrder(t *testing.T) {
	r := testRenderer(t)
	c := r.controllers[0]
	r.enqueueLocked(&workItem{controller: c, img: raster.New(2, 1), id: 1, timeMs: 100})
	r.enqueueLocked(&workItem{controller: c, img: raster.New(2, 1), id: 2, timeMs: 100})
	item, _ := r.popNextWorkItemLocked(100)
	// Both are due; the skip-forward rule keeps the newest.
	if item.id != 2 {
		t.Fatalf("expected insertion-order tie break, got id %d", item.id)
	}
}

func TestScheduleRejectsBadImageSize(t *testing.T) {
	r := testRenderer(t)
	r.hasStartedThread = true
	r.ScheduleImageAt(0, make([]byte, 5), 2, 1, EffectOverlay, 1, 100)
	if len(r.queue) != 0 {
		t.Fatal("bad image size must be ignored")
	}
}

func TestScheduleDroppedDuringShutdown(t *testing.T) {
	r := testRenderer(t)
	r.hasStartedThread = true
	r.isShuttingDown = true
	r.ScheduleImageAt(0, make([]byte, raster.Len(2, 1)), 2, 1, EffectOverlay, 1, 100)
	if len(r.queue) != 0 {
		t.Fatal("enqueue after shutdown must be dropped")
	}
}

func TestWorkerSendsFrameWithoutNet(t *testing.T) {
	r := testRenderer(t)
	r.StartMessageLoop(100, false)
	defer r.Shutdown()

	pix := make([]byte, raster.Len(2, 1))
	r.ScheduleImageAt(0, pix, 2, 1, EffectOverlay, 42, nowMillis())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.GetLastImageId(0) == 42 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if r.GetLastImageId(0) != 42 {
		t.Fatal("frame not rendered")
	}
	delays := r.GetAndClearFrameDelays()
	if len(delays) != 1 {
		t.Fatalf("expected one frame delay, got %v", delays)
	}
	if img := r.GetAndClearLastImage(0); img.Empty() {
		t.Fatal("last image not cached")
	}
	if img := r.GetAndClearLastImage(0); !img.Empty() {
		t.Fatal("last image not cleared")
	}
}

// fakeConn records written packets and never yields replies.
type fakeConn struct {
	packets [][]byte
}

func (f *fakeConn) Write(b []byte) (int, error) {
	f.packets = append(f.packets, append([]byte(nil), b...))
	return len(b), nil
}
func (f *fakeConn) Read(b []byte) (int, error)        { return 0, timeoutErr{} }
func (f *fakeConn) SetReadDeadline(t time.Time) error { return nil }
func (f *fakeConn) Close() error                      { return nil }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestAutoResetWatchdog(t *testing.T) {
	oldSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = oldSleep }()

	l := NewLayout(8, 2)
	l.AddCoord(0, 0, 0)
	c := newController(0, 2, 1, l, 1.0)
	fc := &fakeConn{}
	c.conn = fc
	c.initSent = true
	c.requireReset = false

	// Five frames sent with no replies inside the watchdog window.
	c.framesSentAfterReply = 5
	c.lastReplyTime = nowMillis() - 2000

	c.updateAutoReset(1000)
	if !c.requireReset {
		t.Fatal("watchdog did not request a reset")
	}

	if !c.initController() {
		t.Fatal("init failed")
	}
	if len(fc.packets) != 2 {
		t.Fatalf("expected reset+init, got %d packets", len(fc.packets))
	}
	if !bytes.Equal(fc.packets[0], msgReset) {
		t.Fatalf("first packet %v, want reset", fc.packets[0])
	}
	if !bytes.Equal(fc.packets[1], msgInit) {
		t.Fatalf("second packet %v, want init", fc.packets[1])
	}
}

func TestWatchdogNeedsThreeFrames(t *testing.T) {
	l := NewLayout(8, 2)
	c := newController(0, 2, 1, l, 1.0)
	c.requireReset = false
	c.framesSentAfterReply = 2
	c.lastReplyTime = nowMillis() - 10000
	c.updateAutoReset(1000)
	if c.requireReset {
		t.Fatal("watchdog must wait for more than two unanswered frames")
	}
}

func TestSendFramePacketSequence(t *testing.T) {
	oldSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = oldSleep }()

	l := NewLayout(8, 512)
	l.AddCoord(0, 0, 0)
	c := newController(0, 4, 4, l, 1.0)
	fc := &fakeConn{}
	c.conn = fc

	frame := make([]byte, frameDataLen(512))
	if !c.sendFrame(frame) {
		t.Fatal("send failed")
	}
	// start + 12 data + end
	if len(fc.packets) != 14 {
		t.Fatalf("packet count %d", len(fc.packets))
	}
	if !bytes.Equal(fc.packets[0], msgStartFrame) {
		t.Fatal("missing start frame")
	}
	if !bytes.Equal(fc.packets[13], msgEndFrame) {
		t.Fatal("missing end frame")
	}
	for i := 1; i <= 12; i++ {
		p := fc.packets[i]
		if len(p) != 12+1024+4 {
			t.Fatalf("data packet %d length %d", i, len(p))
		}
		if p[0] != 0x88 || p[1] != byte(i-1) {
			t.Fatalf("data packet %d header %#x seq %d", i, p[0], p[1])
		}
	}
	if c.framesSentAfterReply != 1 {
		t.Fatalf("framesSentAfterReply %d", c.framesSentAfterReply)
	}
}
