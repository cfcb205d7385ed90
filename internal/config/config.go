package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kr/pretty"
	"github.com/pelletier/go-toml/v2"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

// DefaultPaths are searched in order when no config file is given
var DefaultPaths = []string{"gop-inspector.toml", "/etc/gop-inspector/config.toml"}

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Source   SourceConfig   `toml:"source"`
	Inspect  InspectConfig  `toml:"inspect"`
	Recorder RecorderConfig `toml:"recorder"`
	WebRTC   WebRTCConfig   `toml:"webrtc"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Log      LogConfig      `toml:"log"`

	// LoadedFrom is the file the config was read from, empty for defaults
	LoadedFrom string `toml:"-"`
}

type ServerConfig struct {
	HTTPAddr    string   `toml:"http_addr"`
	PprofAddr   string   `toml:"pprof_addr"`
	EventBuffer int      `toml:"event_buffer"`
	ShutdownTTL Duration `toml:"shutdown_timeout"`
}

// Duration is a time.Duration read from TOML as a string such as "5s"
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	x, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(x)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type SourceConfig struct {
	Path  string  `toml:"path"` // "-" reads stdin
	Codec string  `toml:"codec"`
	FPS   float64 `toml:"fps"` // 0 disables pacing
	Loop  bool    `toml:"loop"`
}

type InspectConfig struct {
	QueueSize    int `toml:"queue_size"`
	GopIndexSize int `toml:"gop_index_size"`
}

type RecorderConfig struct {
	Path            string `toml:"path"`
	QueueSize       int    `toml:"queue_size"`
	SegmentOnChange bool   `toml:"segment_on_change"`
}

type WebRTCConfig struct {
	MaxClients  int      `toml:"max_clients"`
	STUNServers []string `toml:"stun_servers"`
	QueueSize   int      `toml:"queue_size"`
	WaitForGop  bool     `toml:"wait_for_gop"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"` // empty disables the metrics server
}

type LogConfig struct {
	Level string `toml:"level"`
	Color bool   `toml:"color"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:    ":8081",
			EventBuffer: 32,
			ShutdownTTL: Duration(5 * time.Second),
		},
		Source: SourceConfig{
			Path:  "-",
			Codec: "h264",
			FPS:   30,
		},
		Inspect: InspectConfig{
			QueueSize:    30,
			GopIndexSize: 4096,
		},
		Recorder: RecorderConfig{
			Path:            "./recordings",
			QueueSize:       60,
			SegmentOnChange: true,
		},
		WebRTC: WebRTCConfig{
			MaxClients:  10,
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			QueueSize:   30,
			WaitForGop:  true,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// Parse tries to find and parse config from paths in order.
// Missing files are skipped; with none found the defaults are returned.
func Parse(paths []string) (*Config, error) {
	config := Default()

	var data []byte
	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err == nil {
			data = b
			config.LoadedFrom = path
			break
		}
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return nil, err
	}

	if data != nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", config.LoadedFrom, err)
		}
	}

	return &config, nil
}

// Validate checks value ranges and cross-field constraints
func (c *Config) Validate() error {
	if _, err := types.ParseVideoCodec(c.Source.Codec); err != nil {
		return fmt.Errorf("source.codec: %w", err)
	}
	if c.Source.Path == "" {
		return errors.New("source.path: must not be empty")
	}
	if c.Source.FPS < 0 {
		return fmt.Errorf("source.fps: %v is negative", c.Source.FPS)
	}
	for name, v := range map[string]int{
		"inspect.queue_size":     c.Inspect.QueueSize,
		"inspect.gop_index_size": c.Inspect.GopIndexSize,
		"recorder.queue_size":    c.Recorder.QueueSize,
		"webrtc.queue_size":      c.WebRTC.QueueSize,
		"webrtc.max_clients":     c.WebRTC.MaxClients,
		"server.event_buffer":    c.Server.EventBuffer,
	} {
		if v <= 0 {
			return fmt.Errorf("%s: %d must be positive", name, v)
		}
	}
	return nil
}

// Codec returns the configured source codec
func (c *Config) Codec() types.VideoCodec {
	codec, err := types.ParseVideoCodec(c.Source.Codec)
	if err != nil {
		return types.CodecH264
	}
	return codec
}

// Dump renders the config for debug logging
func (c *Config) Dump() string {
	return fmt.Sprintf("%# v", pretty.Formatter(*c))
}
