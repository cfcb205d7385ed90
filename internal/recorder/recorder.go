package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Options configures a Recorder
type Options struct {
	BasePath        string
	QueueSize       int
	SegmentOnChange bool // start a new file when the encoding details change
}

type sample struct {
	data    []byte
	details *types.VideoEncodingDetails // set for GOP starts
}

// Recorder writes the Annex-B stream to files. Writing starts at the first
// GOP start after Start, so every file begins with a decodable picture.
type Recorder struct {
	mu        sync.RWMutex
	opts      Options
	recording bool
	queue     chan sample
	stop      chan struct{}
	wg        sync.WaitGroup

	// Owned by the writer goroutine while recording, read under mu
	file         *os.File
	filename     string
	segments     []string
	details      *types.VideoEncodingDetails
	chunkCount   uint64
	bytesWritten uint64
	skipped      uint64 // chunks dropped while waiting for a GOP start
	writeErrors  uint64
	startTime    time.Time
}

// NewRecorder creates a new recorder
func NewRecorder(opts Options) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 60
	}
	return &Recorder{
		opts:  opts,
		queue: make(chan sample, opts.QueueSize),
	}
}

// Start begins a recording. The first file is opened at the next GOP start.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}
	if err := os.MkdirAll(r.opts.BasePath, 0o755); err != nil {
		return fmt.Errorf("failed to create recordings directory: %w", err)
	}

	r.recording = true
	r.stop = make(chan struct{})
	r.file = nil
	r.filename = ""
	r.segments = nil
	r.details = nil
	r.chunkCount = 0
	r.bytesWritten = 0
	r.skipped = 0
	r.writeErrors = 0
	r.startTime = time.Now()

	r.wg.Add(1)
	go r.writeChunks(r.stop)

	logger.Info("Recorder", "Recording requested, waiting for next GOP start")
	return nil
}

// Stop ends the recording and closes the current file
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.recording = false
	close(r.stop)
	r.mu.Unlock()

	// Wait for write goroutine to drain the queue
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeFileLocked()
}

// SendChunk queues a chunk for writing (non-blocking). gop is the chunk's
// inspection verdict. Returns false if not recording or the queue is full.
func (r *Recorder) SendChunk(chunk *types.VideoChunk, gop types.GopStartDetection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return false
	}

	select {
	case r.queue <- sample{data: chunk.Data, details: gop.Details}:
		return true
	default:
		return false
	}
}

func (r *Recorder) writeChunks(stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case s := <-r.queue:
			r.write(s)
		case <-stop:
			for {
				select {
				case s := <-r.queue:
					r.write(s)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(s sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.details != nil {
		switch {
		case r.file == nil:
			if err := r.openSegmentLocked(s.details); err != nil {
				r.writeErrors++
				logger.Error("Recorder", "%v", err)
				return
			}
		case r.opts.SegmentOnChange && r.details != nil && !r.details.Equal(*s.details):
			logger.Info("Recorder", "Stream parameters changed (%s %dx%d), starting new segment",
				s.details.CodecString, s.details.Width(), s.details.Height())
			if err := r.closeFileLocked(); err != nil {
				logger.Warn("Recorder", "%v", err)
			}
			if err := r.openSegmentLocked(s.details); err != nil {
				r.writeErrors++
				logger.Error("Recorder", "%v", err)
				return
			}
		}
		d := *s.details
		r.details = &d
	}

	if r.file == nil {
		r.skipped++
		return
	}

	n, err := r.file.Write(s.data)
	r.bytesWritten += uint64(n)
	if err != nil {
		r.writeErrors++
		logger.Warn("Recorder", "Write to %s failed: %v", r.filename, err)
		return
	}
	r.chunkCount++
}

func (r *Recorder) openSegmentLocked(details *types.VideoEncodingDetails) error {
	name := fmt.Sprintf("recording_%s_%03d.h264", r.startTime.Format("20060102_150405.000"), len(r.segments)+1)
	f, err := os.Create(filepath.Join(r.opts.BasePath, name))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	r.file = f
	r.filename = name
	r.segments = append(r.segments, name)
	logger.Info("Recorder", "Writing %s (%s %dx%d)", name, details.CodecString, details.Width(), details.Height())
	return nil
}

func (r *Recorder) closeFileLocked() error {
	if r.file == nil {
		return nil
	}
	f := r.file
	r.file = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	logger.Info("Recorder", "Closed %s (%s total, %d chunks)", r.filename, humanize.Bytes(r.bytesWritten), r.chunkCount)
	return nil
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// QueueUsage returns the number of queued chunks and the queue capacity
func (r *Recorder) QueueUsage() (int, int) {
	return len(r.queue), cap(r.queue)
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	return RecordingStatus{
		Recording:     r.recording,
		WaitingForGop: r.recording && r.file == nil && len(r.segments) == 0,
		Filename:      r.filename,
		Segments:      append([]string(nil), r.segments...),
		ChunkCount:    r.chunkCount,
		BytesWritten:  r.bytesWritten,
		Size:          humanize.Bytes(r.bytesWritten),
		Skipped:       r.skipped,
		WriteErrors:   r.writeErrors,
		DurationMs:    duration.Milliseconds(),
		StartTime:     r.startTime,
	}
}

// Close stops any recording in progress
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording     bool      `json:"recording"`
	WaitingForGop bool      `json:"waiting_for_gop"`
	Filename      string    `json:"filename"`
	Segments      []string  `json:"segments"`
	ChunkCount    uint64    `json:"chunk_count"`
	BytesWritten  uint64    `json:"bytes_written"`
	Size          string    `json:"size"`
	Skipped       uint64    `json:"skipped_chunks"`
	WriteErrors   uint64    `json:"write_errors"`
	DurationMs    int64     `json:"duration_ms"`
	StartTime     time.Time `json:"start_time"`
}
