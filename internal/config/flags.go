package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Flags overlays command-line flags on a Config. Only flags given on the
// command line override values from the config file.
type Flags struct {
	fs         *pflag.FlagSet
	setters    map[string]func(*Config)
	ConfigFile *string
}

// BindFlags registers the config flags on fs, with the built-in defaults
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs, setters: make(map[string]func(*Config))}
	def := Default()

	f.ConfigFile = fs.StringP("config", "c", "", "Config file (TOML); default search: "+strings.Join(DefaultPaths, ", "))

	f.str("http", "HTTP server address", &def, func(c *Config) *string { return &c.Server.HTTPAddr })
	f.str("pprof", "pprof server address (empty disables)", &def, func(c *Config) *string { return &c.Server.PprofAddr })
	f.integer("event-buffer", "Per-subscriber event buffer", &def, func(c *Config) *int { return &c.Server.EventBuffer })
	f.duration("shutdown-timeout", "Graceful shutdown timeout", &def, func(c *Config) *Duration { return &c.Server.ShutdownTTL })

	f.str("source", "Annex-B input file, - for stdin", &def, func(c *Config) *string { return &c.Source.Path })
	f.str("codec", "Codec of the input stream", &def, func(c *Config) *string { return &c.Source.Codec })
	f.float("fps", "Chunk pacing rate, 0 to disable", &def, func(c *Config) *float64 { return &c.Source.FPS })
	f.boolean("loop", "Restart the input file at EOF", &def, func(c *Config) *bool { return &c.Source.Loop })

	f.integer("inspect-queue", "Inspection queue size", &def, func(c *Config) *int { return &c.Inspect.QueueSize })
	f.integer("gop-index-size", "GOP starts kept for seeking", &def, func(c *Config) *int { return &c.Inspect.GopIndexSize })

	f.str("record-path", "Recording output path", &def, func(c *Config) *string { return &c.Recorder.Path })
	f.integer("record-queue", "Recorder queue size", &def, func(c *Config) *int { return &c.Recorder.QueueSize })
	f.boolean("segment-on-change", "Start a new recording file when stream parameters change", &def, func(c *Config) *bool { return &c.Recorder.SegmentOnChange })

	f.integer("max-clients", "Maximum WebRTC clients", &def, func(c *Config) *int { return &c.WebRTC.MaxClients })
	f.strings("stun", "STUN server URLs", &def, func(c *Config) *[]string { return &c.WebRTC.STUNServers })
	f.integer("webrtc-queue", "WebRTC queue size", &def, func(c *Config) *int { return &c.WebRTC.QueueSize })
	f.boolean("wait-for-gop", "Hold new WebRTC clients until the next GOP start", &def, func(c *Config) *bool { return &c.WebRTC.WaitForGop })

	f.str("metrics", "Metrics server address (empty disables)", &def, func(c *Config) *string { return &c.Metrics.Addr })

	f.str("log-level", "Log level (debug, info, warn, error, silent)", &def, func(c *Config) *string { return &c.Log.Level })
	f.boolean("log-color", "Enable colored log output", &def, func(c *Config) *bool { return &c.Log.Color })

	return f
}

// Paths returns the config file search list
func (f *Flags) Paths() []string {
	if *f.ConfigFile != "" {
		return []string{*f.ConfigFile}
	}
	return DefaultPaths
}

// Apply copies the flags set on the command line into c
func (f *Flags) Apply(c *Config) {
	f.fs.Visit(func(fl *pflag.Flag) {
		if set, ok := f.setters[fl.Name]; ok {
			set(c)
		}
	})
}

// Load parses the config file selected by the flags and applies the flags on top
func (f *Flags) Load() (*Config, error) {
	c, err := Parse(f.Paths())
	if err != nil {
		return nil, err
	}
	f.Apply(c)
	return c, c.Validate()
}

func (f *Flags) str(name, usage string, def *Config, field func(*Config) *string) {
	v := f.fs.String(name, *field(def), usage)
	f.setters[name] = func(c *Config) { *field(c) = *v }
}

func (f *Flags) strings(name, usage string, def *Config, field func(*Config) *[]string) {
	v := f.fs.StringSlice(name, *field(def), usage)
	f.setters[name] = func(c *Config) { *field(c) = append([]string(nil), (*v)...) }
}

func (f *Flags) integer(name, usage string, def *Config, field func(*Config) *int) {
	v := f.fs.Int(name, *field(def), usage)
	f.setters[name] = func(c *Config) { *field(c) = *v }
}

func (f *Flags) float(name, usage string, def *Config, field func(*Config) *float64) {
	v := f.fs.Float64(name, *field(def), usage)
	f.setters[name] = func(c *Config) { *field(c) = *v }
}

func (f *Flags) boolean(name, usage string, def *Config, field func(*Config) *bool) {
	v := f.fs.Bool(name, *field(def), usage)
	f.setters[name] = func(c *Config) { *field(c) = *v }
}

func (f *Flags) duration(name, usage string, def *Config, field func(*Config) *Duration) {
	v := f.fs.Duration(name, time.Duration(*field(def)), usage)
	f.setters[name] = func(c *Config) { *field(c) = Duration(*v) }
}
