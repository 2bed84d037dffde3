package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gleenn/dfplayer/internal/depth"
	"github.com/gleenn/dfplayer/internal/tcl"
)

// State is the monitor surface: it streams LED preview images and depth
// detections to websocket clients and accepts control messages that
// adjust the renderer at runtime.
type State struct {
	mu sync.RWMutex

	Renderer      *tcl.Renderer
	Merger        *depth.Merger
	ControllerIDs []int
	FPS           int

	startTime time.Time
	clients   map[*websocket.Conn]bool
}

func NewState(r *tcl.Renderer, m *depth.Merger, controllerIDs []int, fps int) *State {
	return &State{
		Renderer:      r,
		Merger:        m,
		ControllerIDs: controllerIDs,
		FPS:           fps,
		startTime:     time.Now(),
		clients:       map[*websocket.Conn]bool{},
	}
}

type ledPreview struct {
	ID      int    `json:"id"`
	ImageID int    `json:"image_id"`
	RGBA    []byte `json:"rgba,omitempty"`
}

type frameMsg struct {
	T        int64        `json:"t"`
	Leds     []ledPreview `json:"leds"`
	PersonX  float64      `json:"person_x"`
	DepthRGB []byte       `json:"depth_rgb,omitempty"`
	DepthW   int          `json:"depth_w,omitempty"`
	DepthH   int          `json:"depth_h,omitempty"`
}

// RunBroadcastLoop pushes monitor frames at the configured rate until
// stop is closed.
func (s *State) RunBroadcastLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second / time.Duration(max(1, s.FPS)))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.RLock()
		idle := len(s.clients) == 0
		s.mu.RUnlock()
		if idle {
			continue
		}

		msg := frameMsg{T: time.Now().UnixMilli()}
		for _, id := range s.ControllerIDs {
			p := ledPreview{ID: id, ImageID: s.Renderer.GetLastImageId(id)}
			if img := s.Renderer.GetAndClearLastLedImage(id); !img.Empty() {
				p.RGBA = img.Pix
			}
			msg.Leds = append(msg.Leds, p)
		}
		if s.Merger != nil {
			msg.PersonX = s.Merger.GetPersonCoordX()
			if rgb := s.Merger.GetAndClearLastDepthColorImage(); rgb != nil {
				msg.DepthRGB = rgb
				msg.DepthW = s.Merger.Width()
				msg.DepthH = s.Merger.Height()
			}
		}
		s.broadcast(msg)
	}
}

func (s *State) broadcast(msg frameMsg) {
	b, _ := json.Marshal(msg)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		c.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Debug().Err(err).Msg("write monitor frame")
		}
	}
}

func (s *State) HandleFramesWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *State) HandleControlWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.applyControl(msg)
	}
}

func (s *State) applyControl(msg map[string]any) {
	if v, ok := msg["gamma"].(float64); ok {
		s.Renderer.SetGamma(v)
	}
	if v, ok := msg["hdr_mode"].(string); ok {
		mode, err := tcl.ParseHdrMode(v)
		if err != nil {
			log.Warn().Str("hdr_mode", v).Msg("unknown hdr mode in control message")
		} else {
			s.Renderer.SetHdrMode(mode)
		}
	}
	if v, ok := msg["auto_reset_ms"].(float64); ok {
		s.Renderer.SetAutoResetAfterNoDataMs(int64(v))
	}
	if v, ok := msg["reset_queue"].(bool); ok && v {
		s.Renderer.ResetImageQueue()
	}
	if v, ok := msg["reset_controller"].(float64); ok {
		s.Renderer.ScheduleReset(int(v), time.Now().UnixMilli())
	}
}

func (s *State) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"uptime_s":      time.Since(s.startTime).Seconds(),
		"fps":           s.FPS,
		"queue_size":    s.Renderer.GetQueueSize(),
		"frame_send_ms": s.Renderer.GetFrameSendDurationMs(),
		"frame_delays":  s.Renderer.GetAndClearFrameDelays(),
	}
	if s.Merger != nil {
		resp["person_x"] = s.Merger.GetPersonCoordX()
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
