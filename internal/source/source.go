package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

// Options configures a paced source
type Options struct {
	Path  string // "-" reads stdin
	Codec types.VideoCodec
	FPS   float64 // 0 emits chunks as fast as they are consumed
	Loop  bool    // restart at EOF, files only
}

// Source reads chunks from a file or stdin and emits them at a fixed rate
type Source struct {
	opts   Options
	reader *Reader
	closer io.Closer
}

// Open opens the input named by opts.Path
func Open(opts Options) (*Source, error) {
	if opts.Path == "-" {
		if opts.Loop {
			logger.Warn("Source", "Loop ignored for stdin")
			opts.Loop = false
		}
		return &Source{opts: opts, reader: NewReader(os.Stdin, opts.Codec)}, nil
	}

	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return &Source{opts: opts, reader: NewReader(f, opts.Codec), closer: f}, nil
}

// New creates a source over an already open stream
func New(r io.Reader, opts Options) *Source {
	return &Source{opts: opts, reader: NewReader(r, opts.Codec)}
}

// Run sends chunks to out until the stream ends or ctx is cancelled.
// out is not closed. Returns nil at end of stream.
func (s *Source) Run(ctx context.Context, out chan<- types.VideoChunk) error {
	var tick <-chan time.Time
	if s.opts.FPS > 0 {
		interval := time.Duration(float64(time.Second) / s.opts.FPS)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
		logger.Info("Source", "Reading %s (pacing at %.2f fps)", s.name(), s.opts.FPS)
	} else {
		logger.Info("Source", "Reading %s (unpaced)", s.name())
	}

	pass := 0
	for {
		chunk, err := s.reader.Next()
		if errors.Is(err, io.EOF) {
			if !s.opts.Loop || pass == 0 {
				logger.Info("Source", "End of stream after %d chunks", s.reader.frameNum)
				return nil
			}
			if err := s.reader.Rewind(); err != nil {
				return fmt.Errorf("rewind: %w", err)
			}
			pass = 0
			logger.Debug("Source", "Looping %s", s.name())
			continue
		}
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}
		pass++

		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
			chunk.Timestamp = time.Now()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- chunk:
		}
	}
}

func (s *Source) name() string {
	if s.opts.Path == "-" || s.opts.Path == "" {
		return "stdin"
	}
	return s.opts.Path
}

// Close releases the underlying file
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
