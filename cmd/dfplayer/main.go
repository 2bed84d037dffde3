package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gleenn/dfplayer/internal/config"
	"github.com/gleenn/dfplayer/internal/depth"
	"github.com/gleenn/dfplayer/internal/tcl"
	"github.com/gleenn/dfplayer/internal/ws"
)

func main() {
	// ---- Flags (config.yaml can override most) ----
	var (
		fps          = flag.Int("fps", 15, "render frames per second")
		enableNet    = flag.Bool("net", false, "transmit frames to controllers over UDP")
		gamma        = flag.Float64("gamma", 2.4, "output gamma")
		hdrMode      = flag.String("hdr", "none", "hdr mode: none | luminance | saturation | lsat")
		autoResetMs  = flag.Int64("auto-reset-ms", 5000, "reset after this many ms without replies (0 disables)")
		strandCount  = flag.Int("strand-count", 8, "strands per controller")
		strandLength = flag.Int("strand-length", 512, "max LEDs per strand")
		addr         = flag.String("addr", ":8080", "HTTP listen address")
		configPath   = flag.String("config", "config.yaml", "path to config.yaml")
		demo         = flag.Bool("demo", true, "schedule demo gradient frames")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	// ---- Load config.yaml (optional) ----
	var cfg *config.Config
	if c, err := config.Load(*configPath); err != nil {
		log.Warn().Err(err).Str("path", *configPath).Msg("config load failed; proceeding with flags")
	} else {
		cfg = c
	}

	// ---- Effective params ----
	eFPS, eNet, eGamma := *fps, *enableNet, *gamma
	eHdr, eAutoReset := *hdrMode, *autoResetMs
	eStrands, eStrandLen := *strandCount, *strandLength
	if cfg != nil {
		if cfg.Renderer.FPS > 0 {
			eFPS = cfg.Renderer.FPS
		}
		eNet = cfg.Renderer.EnableNet
		if cfg.Renderer.Gamma > 0 {
			eGamma = cfg.Renderer.Gamma
		}
		if cfg.Renderer.HdrMode != "" {
			eHdr = cfg.Renderer.HdrMode
		}
		if cfg.Renderer.AutoResetMs != 0 {
			eAutoReset = cfg.Renderer.AutoResetMs
		}
		if cfg.Renderer.StrandCount > 0 {
			eStrands = cfg.Renderer.StrandCount
		}
		if cfg.Renderer.StrandLength > 0 {
			eStrandLen = cfg.Renderer.StrandLength
		}
	}

	// ---- Controllers ----
	renderer := tcl.NewRenderer()
	var ids []int
	if cfg != nil && len(cfg.Controllers) > 0 {
		for _, cc := range cfg.Controllers {
			layout, err := tcl.LoadLayout(cc.LayoutPath, eStrands, eStrandLen)
			if err != nil {
				log.Fatal().Err(err).Str("path", cc.LayoutPath).Msg("layout load failed")
			}
			renderer.AddController(cc.ID, cc.Width, cc.Height, layout, eGamma)
			ids = append(ids, cc.ID)
		}
	} else {
		// No config: one demo controller with a serpentine layout.
		log.Warn().Msg("no controllers configured; using a built-in demo controller")
		layout := tcl.NewLayout(eStrands, eStrandLen)
		w, h := 64, 16
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				xx := x
				if y%2 == 1 {
					xx = w - 1 - x
				}
				layout.AddCoord(y*eStrands/h, xx*3+1, y+1)
			}
		}
		renderer.AddController(0, w*3+2, h+2, layout, eGamma)
		ids = append(ids, 0)
	}
	renderer.LockControllers()

	mode, err := tcl.ParseHdrMode(eHdr)
	if err != nil {
		log.Warn().Err(err).Msg("unknown hdr mode; using none")
	}
	renderer.SetHdrMode(mode)
	renderer.SetAutoResetAfterNoDataMs(eAutoReset)
	renderer.StartMessageLoop(eFPS, eNet)

	// ---- Depth merger ----
	var merger *depth.Merger
	if cfg != nil && (cfg.Sensor.EnableDepth || cfg.Sensor.EnableVideo) {
		merger = depth.NewMerger()
		if cfg.Sensor.EnableDepth {
			merger.EnableDepth()
		}
		if cfg.Sensor.EnableVideo {
			merger.EnableVideo()
		}
		// Device handles come from the sensor SDK; none are wired in
		// this binary, so the merger idles until devices exist.
		sensorFPS := cfg.Sensor.FPS
		if sensorFPS <= 0 {
			sensorFPS = 15
		}
		merger.Start(sensorFPS)
	}

	// ---- Monitor ----
	state := ws.NewState(renderer, merger, ids, eFPS)
	stopBroadcast := make(chan struct{})
	go state.RunBroadcastLoop(stopBroadcast)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", state.HandleFramesWS)
	mux.HandleFunc("/control", state.HandleControlWS)
	mux.HandleFunc("/health", state.HandleHealth)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", *addr).Bool("net", eNet).Msg("HTTP monitor starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server crashed")
		}
	}()

	// ---- Demo producer ----
	stopDemo := make(chan struct{})
	if *demo {
		go runDemoProducer(renderer, ids, eFPS, stopDemo)
	}

	// ---- Graceful shutdown ----
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	s := <-ch
	log.Info().Str("signal", s.String()).Msg("shutting down")

	close(stopDemo)
	close(stopBroadcast)
	_ = srv.Close()
	renderer.Shutdown()
	if merger != nil {
		merger.Stop()
	}
}

// runDemoProducer stands in for the visualiser: it schedules a scrolling
// gradient on every controller half a frame ahead of its deadline.
func runDemoProducer(r *tcl.Renderer, ids []int, fps int, stop <-chan struct{}) {
	type canvas struct {
		w, h int
	}
	sizes := map[int]canvas{}
	for _, id := range ids {
		sizes[id] = canvas{w: 200, h: 50}
	}

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	imageID := 0
	phase := 0.0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		imageID++
		phase += 0.01
		target := time.Now().UnixMilli() + int64(500/fps)
		for _, id := range ids {
			c := sizes[id]
			pix := make([]byte, c.w*c.h*4)
			for y := 0; y < c.h; y++ {
				for x := 0; x < c.w; x++ {
					i := (y*c.w + x) * 4
					t := float64(x)/float64(c.w) + phase
					t -= float64(int(t))
					pix[i] = byte(255 * t)
					pix[i+1] = byte(255 * (1 - t))
					pix[i+2] = byte(64 + 191*float64(y)/float64(c.h))
					pix[i+3] = 255
				}
			}
			r.ScheduleImageAt(id, pix, c.w, c.h, tcl.EffectOverlay, imageID, target)
		}
	}
}
