package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	FrameRateHz int `yaml:"frame_rate_hz"`

	MaxConcurrentRequests int     `yaml:"max_concurrent_requests"`
	CacheMaxSize          int     `yaml:"cache_max_size"`
	SSEThreshold          float64 `yaml:"sse_threshold"`
	DebugDrawBounds       bool    `yaml:"debug_draw_bounds"`

	Viewport Viewport `yaml:"viewport"`
	Orbit    Orbit    `yaml:"orbit"`
	Fetch    Fetch    `yaml:"fetch"`
}

type Viewport struct {
	Width   int     `yaml:"width"`
	Height  int     `yaml:"height"`
	FOVYDeg float64 `yaml:"fov_y_deg"`
	Near    float64 `yaml:"near"`
	Far     float64 `yaml:"far"`
}

// Orbit drives the built-in camera path: a circle of the given radius around
// center, one revolution per period.
type Orbit struct {
	Center    []float64 `yaml:"center"`
	Radius    float64   `yaml:"radius"`
	Height    float64   `yaml:"height"`
	PeriodSec float64   `yaml:"period_sec"`
}

// Fetch tunes the HTTP transport. S3 credentials come from the environment,
// not from here.
type Fetch struct {
	TimeoutMs   int    `yaml:"timeout_ms"`
	MaxAttempts int    `yaml:"max_attempts"`
	RetryBaseMs int    `yaml:"retry_base_ms"`
	UserAgent   string `yaml:"user_agent"`
	ArchivePath string `yaml:"archive_path"`
}

// Defaults is the tuning used when no stream.yaml is present.
func Defaults() Tuning {
	return Tuning{
		FrameRateHz:           30,
		MaxConcurrentRequests: 8,
		CacheMaxSize:          512,
		SSEThreshold:          16,
		Viewport:              Viewport{Width: 1280, Height: 720, FOVYDeg: 60, Near: 0.1, Far: 1e6},
		Orbit:                 Orbit{Radius: 500, Height: 150, PeriodSec: 60},
		Fetch:                 Fetch{TimeoutMs: 30000, MaxAttempts: 4, RetryBaseMs: 200, UserAgent: "tilestream/1.0"},
	}
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("stream.yaml: %w", err)
	}
	return t, nil
}
