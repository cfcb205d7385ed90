// Command chunkinspect splits an Annex-B file into access units and prints
// the GOP-start verdict of each one as a JSON line, followed by a summary.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/h264"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/source"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/tracker"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/inspect"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

type options struct {
	codec       string
	single      bool
	summaryOnly bool
	logLevel    string
}

type chunkReport struct {
	Frame     uint64                      `json:"frame"`
	Size      int                         `json:"size"`
	Units     []string                    `json:"units"`
	GopStart  bool                        `json:"gop_start"`
	Details   *types.VideoEncodingDetails `json:"details,omitempty"`
	Frames    *int                        `json:"frames_detected,omitempty"`
	ErrorKind string                      `json:"error_kind,omitempty"`
	Error     string                      `json:"error,omitempty"`
}

type summary struct {
	Chunks       uint64  `json:"chunks"`
	Bytes        string  `json:"bytes"`
	GopStarts    uint64  `json:"gop_starts"`
	Changes      uint64  `json:"changes"`
	Errors       uint64  `json:"errors"`
	MultiFrame   uint64  `json:"multi_frame_chunks"`
	FramesPerGop float64 `json:"frames_per_gop"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var opts options
	fs := pflag.NewFlagSet("chunkinspect", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.codec, "codec", "h264", "codec of the input stream")
	fs.BoolVar(&opts.single, "single", false, "inspect the whole input as one chunk")
	fs.BoolVar(&opts.summaryOnly, "summary-only", false, "print only the summary line")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: chunkinspect [flags] <file|->\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "chunkinspect: %v\n", err)
		return 2
	}
	logger.Init(level, stderr, false)

	codec, err := types.ParseVideoCodec(opts.codec)
	if err != nil {
		fmt.Fprintf(stderr, "chunkinspect: %v\n", err)
		return 2
	}

	data, err := readInput(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintf(stderr, "chunkinspect: %v\n", err)
		return 1
	}

	if err := inspectAll(data, codec, opts, stdout); err != nil {
		fmt.Fprintf(stderr, "chunkinspect: %v\n", err)
		return 1
	}
	return 0
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func splitChunks(data []byte, codec types.VideoCodec, single bool) []types.VideoChunk {
	if single || codec != types.CodecH264 {
		return []types.VideoChunk{{Data: data, Codec: codec}}
	}
	return source.ReadAll(data, codec)
}

func inspectAll(data []byte, codec types.VideoCodec, opts options, w io.Writer) error {
	chunks := splitChunks(data, codec, opts.single)
	t := tracker.New(codec, tracker.Options{IndexSize: len(chunks)})
	enc := json.NewEncoder(w)

	var total uint64
	for i := range chunks {
		chunk := &chunks[i]
		total += uint64(len(chunk.Data))
		res := t.Inspect(chunk)
		if opts.summaryOnly {
			continue
		}
		if err := enc.Encode(report(chunk, res)); err != nil {
			return err
		}
	}

	st := t.Stats()
	return enc.Encode(summary{
		Chunks:       st.Chunks,
		Bytes:        humanize.Bytes(total),
		GopStarts:    st.GopStarts,
		Changes:      st.Changes,
		Errors:       st.Errors,
		MultiFrame:   st.MultiFrame,
		FramesPerGop: st.FramesPerGop,
	})
}

func report(chunk *types.VideoChunk, res tracker.Result) chunkReport {
	r := chunkReport{
		Frame:    chunk.FrameNum,
		Size:     len(chunk.Data),
		Units:    unitNames(chunk),
		GopStart: chunk.GopStart,
		Details:  res.Inspection.GopDetection.Details,
		Frames:   res.Inspection.NumFramesDetected,
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
		r.ErrorKind = "Unknown"
		var ie *inspect.InspectionError
		if errors.As(res.Err, &ie) {
			r.ErrorKind = ie.Kind.String()
		}
	}
	return r
}

func unitNames(chunk *types.VideoChunk) []string {
	if chunk.Codec != types.CodecH264 {
		return nil
	}
	units := h264.SplitNALUnits(chunk.Data)
	names := make([]string, 0, len(units))
	for _, u := range units {
		if len(u) == 0 {
			continue
		}
		h, err := h264.ParseHeader(u[0])
		if err != nil {
			names = append(names, "Invalid")
			continue
		}
		names = append(names, h.Type().String())
	}
	return names
}
