package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

func TestConfig(t *testing.T) {
	conf, err := Parse([]string{"testdata/missing.toml", "testdata/config_test.toml"})
	assert.NilError(t, err)
	assert.Equal(t, conf.LoadedFrom, "testdata/config_test.toml")

	assert.Equal(t, conf.Server.HTTPAddr, "127.0.0.1:8181")
	assert.Equal(t, conf.Server.EventBuffer, 8)
	assert.Equal(t, conf.Server.ShutdownTTL, Duration(2*time.Second))

	assert.Equal(t, conf.Source.Path, "/var/lib/camera/front.h264")
	assert.Equal(t, conf.Codec(), types.CodecH264)
	assert.Equal(t, conf.Source.FPS, 25.0)
	assert.Equal(t, conf.Source.Loop, true)

	// untouched keys keep their defaults
	assert.Equal(t, conf.Inspect.QueueSize, 30)
	assert.Equal(t, conf.Inspect.GopIndexSize, 100)

	assert.Equal(t, conf.Recorder.Path, "/tmp/rec")
	assert.Equal(t, conf.Recorder.SegmentOnChange, false)
	assert.Equal(t, conf.Recorder.QueueSize, 60)

	assert.Equal(t, conf.WebRTC.MaxClients, 3)
	assert.DeepEqual(t, conf.WebRTC.STUNServers, []string{"stun:a.example:3478", "stun:b.example:3478"})
	assert.Equal(t, conf.WebRTC.WaitForGop, true)

	assert.Equal(t, conf.Metrics.Addr, "")
	assert.Equal(t, conf.Log.Level, "debug")
	assert.Equal(t, conf.Log.Color, false)

	assert.NilError(t, conf.Validate())
}

func TestConfigDefaults(t *testing.T) {
	conf, err := Parse([]string{"testdata/does-not-exist.toml"})
	assert.NilError(t, err)
	assert.Equal(t, conf.LoadedFrom, "")
	assert.DeepEqual(t, *conf, Default())
	assert.NilError(t, conf.Validate())
}

func TestConfigInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	assert.NilError(t, os.WriteFile(path, []byte("[server\nhttp_addr = 1"), 0o644))

	_, err := Parse([]string{path})
	assert.ErrorContains(t, err, "bad.toml")
}

func TestValidate(t *testing.T) {
	conf := Default()
	conf.Source.Codec = "mpeg2"
	assert.ErrorContains(t, conf.Validate(), "source.codec")

	conf = Default()
	conf.Inspect.QueueSize = 0
	assert.ErrorContains(t, conf.Validate(), "inspect.queue_size")

	conf = Default()
	conf.Source.FPS = -1
	assert.ErrorContains(t, conf.Validate(), "source.fps")
}

func TestFlagsOverrideFile(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := BindFlags(fs)
	assert.NilError(t, fs.Parse([]string{
		"--config", "testdata/config_test.toml",
		"--max-clients", "7",
		"--stun", "stun:c.example:3478",
		"--shutdown-timeout", "750ms",
		"--log-color",
	}))

	conf, err := flags.Load()
	assert.NilError(t, err)

	assert.Equal(t, conf.WebRTC.MaxClients, 7)
	assert.DeepEqual(t, conf.WebRTC.STUNServers, []string{"stun:c.example:3478"})
	assert.Equal(t, conf.Server.ShutdownTTL, Duration(750*time.Millisecond))
	assert.Equal(t, conf.Log.Color, true)

	// not given on the command line: file values win over flag defaults
	assert.Equal(t, conf.Server.HTTPAddr, "127.0.0.1:8181")
	assert.Equal(t, conf.Log.Level, "debug")
}

func TestFlagsPaths(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := BindFlags(fs)
	assert.NilError(t, fs.Parse(nil))
	assert.DeepEqual(t, flags.Paths(), DefaultPaths)
}

func TestDump(t *testing.T) {
	conf := Default()
	out := conf.Dump()
	assert.Check(t, is.Contains(out, "HTTPAddr"))
	assert.Check(t, is.Contains(out, ":8081"))
}
