package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSaveRoundTrip(t *testing.T) {
	c := &Config{
		Renderer: RendererCfg{
			FPS:          15,
			EnableNet:    true,
			Gamma:        2.4,
			HdrMode:      "lsat",
			AutoResetMs:  5000,
			StrandCount:  8,
			StrandLength: 512,
		},
		Controllers: []ControllerCfg{
			{ID: 0, Width: 200, Height: 50, LayoutPath: "layout0.yaml"},
			{ID: 1, Width: 200, Height: 50, LayoutPath: "layout1.yaml"},
		},
		Sensor: SensorCfg{FPS: 15, EnableDepth: true},
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Renderer.FPS != 15 || got.Renderer.HdrMode != "lsat" {
		t.Fatalf("renderer cfg mangled: %+v", got.Renderer)
	}
	if len(got.Controllers) != 2 || got.Controllers[1].LayoutPath != "layout1.yaml" {
		t.Fatalf("controllers mangled: %+v", got.Controllers)
	}
	if !got.Sensor.EnableDepth || got.Sensor.EnableVideo {
		t.Fatalf("sensor cfg mangled: %+v", got.Sensor)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
