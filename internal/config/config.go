package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type ControllerCfg struct {
	ID         int    `yaml:"id"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	LayoutPath string `yaml:"layout"`
}

type GammaCfg struct {
	RMin int     `yaml:"r_min"`
	RMax int     `yaml:"r_max"`
	R    float64 `yaml:"r"`
	GMin int     `yaml:"g_min"`
	GMax int     `yaml:"g_max"`
	G    float64 `yaml:"g"`
	BMin int     `yaml:"b_min"`
	BMax int     `yaml:"b_max"`
	B    float64 `yaml:"b"`
}

type RendererCfg struct {
	FPS          int      `yaml:"fps"`
	EnableNet    bool     `yaml:"enable_net"`
	Gamma        float64  `yaml:"gamma"`
	GammaRanges  GammaCfg `yaml:"gamma_ranges,omitempty"`
	HdrMode      string   `yaml:"hdr_mode"` // none | luminance | saturation | lsat
	AutoResetMs  int64    `yaml:"auto_reset_after_no_data_ms"`
	StrandCount  int      `yaml:"strand_count"`
	StrandLength int      `yaml:"strand_length"`
}

type SensorCfg struct {
	FPS         int  `yaml:"fps"`
	EnableDepth bool `yaml:"enable_depth"`
	EnableVideo bool `yaml:"enable_video"`
}

type Config struct {
	Renderer    RendererCfg     `yaml:"renderer"`
	Controllers []ControllerCfg `yaml:"controllers"`
	Sensor      SensorCfg       `yaml:"sensor"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
