package tracker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/inspect"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

// Publisher receives stream events
type Publisher interface {
	Publish(ev events.Event)
}

// GopEntry is one indexed GOP start
type GopEntry struct {
	FrameNum  uint64                     `json:"frame"`
	Timestamp time.Time                  `json:"timestamp"`
	Details   types.VideoEncodingDetails `json:"details"`
}

// Result is the verdict for one chunk
type Result struct {
	Inspection types.VideoChunkInspection
	Err        error // inspection error; Inspection is NotStartOfGop when set
	First      bool  // first GOP start with known details
	Changed    bool  // details differ from the previous GOP start
}

// Stats summarizes what the tracker has seen
type Stats struct {
	Chunks       uint64                      `json:"chunks"`
	GopStarts    uint64                      `json:"gop_starts"`
	Errors       uint64                      `json:"errors"`
	Changes      uint64                      `json:"changes"`
	MultiFrame   uint64                      `json:"multi_frame_chunks"`
	IndexedGops  int                         `json:"indexed_gops"`
	LastError    string                      `json:"last_error,omitempty"`
	Current      *types.VideoEncodingDetails `json:"current,omitempty"`
	LastGopFrame *uint64                     `json:"last_gop_frame,omitempty"`
	FramesPerGop float64                     `json:"frames_per_gop"`
}

// Options configures a Tracker. Metrics and Events are optional.
type Options struct {
	IndexSize int
	Metrics   *metrics.Metrics
	Events    Publisher
}

// Tracker classifies the chunks of one stream and indexes its GOP starts
type Tracker struct {
	mu      sync.RWMutex
	codec   types.VideoCodec
	opts    Options
	current *types.VideoEncodingDetails
	gops    []GopEntry // ordered by FrameNum, at most opts.IndexSize
	stats   Stats
}

// New creates a tracker for a stream of the given codec
func New(codec types.VideoCodec, opts Options) *Tracker {
	if opts.IndexSize <= 0 {
		opts.IndexSize = 1
	}
	return &Tracker{
		codec: codec,
		opts:  opts,
		gops:  make([]GopEntry, 0, opts.IndexSize),
	}
}

// Inspect classifies chunk and records the verdict. chunk.GopStart is set,
// and the frame size is filled in from the details of a GOP start.
func (t *Tracker) Inspect(chunk *types.VideoChunk) Result {
	start := time.Now()
	insp, err := inspect.InspectVideoChunk(chunk.Data, t.codec)
	elapsed := time.Since(start)

	if m := t.opts.Metrics; m != nil {
		m.ChunksInspected.Add(1)
		m.ObserveInspection(elapsed)
	}

	if err != nil {
		return t.fail(chunk, err)
	}

	res := Result{Inspection: insp}
	frames := insp.FramesDetected()

	t.mu.Lock()
	t.stats.Chunks++
	if frames > 1 {
		t.stats.MultiFrame++
	}

	var entry GopEntry
	details := insp.GopDetection.Details
	if details != nil {
		res.First = t.current == nil
		res.Changed = t.current != nil && !t.current.Equal(*details)
		d := *details
		t.current = &d
		t.stats.GopStarts++
		if res.Changed {
			t.stats.Changes++
		}
		entry = GopEntry{FrameNum: chunk.FrameNum, Timestamp: chunk.Timestamp, Details: d}
		t.index(entry)
	}
	t.mu.Unlock()

	chunk.GopStart = details != nil
	if details != nil {
		chunk.Width, chunk.Height = details.Width(), details.Height()
	}

	if m := t.opts.Metrics; m != nil {
		m.FramesDetected.Add(uint64(frames))
		if frames > 1 {
			m.MultiFrameChunks.Add(1)
		}
		if details != nil {
			m.GopStarts.Add(1)
			m.CodedWidth.Store(uint64(details.Width()))
			m.CodedHeight.Store(uint64(details.Height()))
			if res.Changed {
				m.ParameterChanges.Add(1)
			}
		} else {
			m.NonGopStarts.Add(1)
		}
	}

	if frames > 1 {
		logger.Debug("Tracker", "Chunk #%d holds %d slices", chunk.FrameNum, frames)
	}
	if details != nil {
		t.announce(chunk, entry, res)
	}
	return res
}

func (t *Tracker) fail(chunk *types.VideoChunk, err error) Result {
	chunk.GopStart = false

	kind := "Unknown"
	var ie *inspect.InspectionError
	if errors.As(err, &ie) {
		kind = ie.Kind.String()
	}

	t.mu.Lock()
	t.stats.Chunks++
	t.stats.Errors++
	t.stats.LastError = err.Error()
	n := t.stats.Errors
	t.mu.Unlock()

	if m := t.opts.Metrics; m != nil {
		m.InspectError(kind)
		m.NonGopStarts.Add(1)
	}

	// repeated failures usually share one cause
	if n == 1 || n%100 == 0 {
		logger.Warn("Tracker", "Chunk #%d: %v (%d errors)", chunk.FrameNum, err, n)
	}

	if t.opts.Events != nil {
		t.opts.Events.Publish(events.Event{
			Kind:      events.KindInspectError,
			FrameNum:  chunk.FrameNum,
			Timestamp: chunk.Timestamp,
			Fields:    map[string]any{"error_kind": kind, "error": err.Error()},
		})
	}

	return Result{Inspection: types.VideoChunkInspection{GopDetection: types.NotStartOfGop()}, Err: err}
}

func (t *Tracker) announce(chunk *types.VideoChunk, entry GopEntry, res Result) {
	d := entry.Details
	switch {
	case res.First:
		logger.Info("Tracker", "Stream started at chunk #%d: %s %dx%d", chunk.FrameNum, d.CodecString, d.Width(), d.Height())
	case res.Changed:
		logger.Info("Tracker", "Stream parameters changed at chunk #%d: %s %dx%d", chunk.FrameNum, d.CodecString, d.Width(), d.Height())
	default:
		logger.Debug("Tracker", "GOP start at chunk #%d", chunk.FrameNum)
	}

	if t.opts.Events == nil {
		return
	}
	kind := events.KindGopStart
	if res.First {
		kind = events.KindStreamStarted
	} else if res.Changed {
		kind = events.KindDetailsChanged
	}
	t.opts.Events.Publish(events.Event{
		Kind:      kind,
		FrameNum:  chunk.FrameNum,
		Timestamp: chunk.Timestamp,
		Fields:    events.DetailsFields(d),
	})
}

// index appends e, evicting the oldest entry when full. Caller holds mu.
func (t *Tracker) index(e GopEntry) {
	if n := len(t.gops); n > 0 && e.FrameNum <= t.gops[n-1].FrameNum {
		// numbering restarted; older entries no longer describe this stream
		t.gops = t.gops[:0]
	}
	if len(t.gops) == t.opts.IndexSize {
		copy(t.gops, t.gops[1:])
		t.gops = t.gops[:len(t.gops)-1]
	}
	t.gops = append(t.gops, e)
}

// Current returns the details of the last GOP start
func (t *Tracker) Current() (types.VideoEncodingDetails, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return types.VideoEncodingDetails{}, false
	}
	return *t.current, true
}

// Seek returns the closest indexed GOP start at or before frame
func (t *Tracker) Seek(frame uint64) (GopEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i := sort.Search(len(t.gops), func(i int) bool { return t.gops[i].FrameNum > frame })
	if i == 0 {
		return GopEntry{}, false
	}
	return t.gops[i-1], true
}

// Gops returns a copy of the GOP index, oldest first
func (t *Tracker) Gops() []GopEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]GopEntry(nil), t.gops...)
}

// Stats returns a snapshot of the tracker counters
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.stats
	s.IndexedGops = len(t.gops)
	if t.current != nil {
		d := *t.current
		s.Current = &d
	}
	if n := len(t.gops); n > 0 {
		last := t.gops[n-1].FrameNum
		s.LastGopFrame = &last
	}
	if s.GopStarts > 0 {
		s.FramesPerGop = float64(s.Chunks) / float64(s.GopStarts)
	}
	return s
}
