package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Enable pprof on the default mux
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/h264"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/source"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/tracker"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/webrtc"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

// inspected is a chunk together with its verdict
type inspected struct {
	chunk *types.VideoChunk
	gop   types.GopStartDetection
}

// Server runs the inspection pipeline: source -> inspect -> WebRTC + recorder
type Server struct {
	cfg        *config.Config
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	metrics    *metrics.Metrics
	source     *source.Source
	processor  *h264.Processor
	tracker    *tracker.Tracker
	events     *events.Broadcaster
	webrtc     *webrtc.Server
	recorder   *recorder.Recorder
	httpServer *http.Server
	hasHeaders atomic.Bool // processor state, readable from handlers

	// Channels for goroutine communication
	sourceChan   chan types.VideoChunk
	processChan  chan *types.VideoChunk
	webrtcChan   chan *types.VideoChunk
	recorderChan chan inspected
}

// NewServer creates the pipeline components from cfg
func NewServer(cfg *config.Config) (*Server, error) {
	src, err := source.Open(source.Options{
		Path:  cfg.Source.Path,
		Codec: cfg.Codec(),
		FPS:   cfg.Source.FPS,
		Loop:  cfg.Source.Loop,
	})
	if err != nil {
		return nil, err
	}
	return newServer(cfg, src), nil
}

func newServer(cfg *config.Config, src *source.Source) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	m := metrics.New()
	broadcaster := events.NewBroadcaster(cfg.Server.EventBuffer)

	mux := http.NewServeMux()
	srv := &Server{
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		metrics:   m,
		source:    src,
		processor: h264.NewProcessor(),
		tracker: tracker.New(cfg.Codec(), tracker.Options{
			IndexSize: cfg.Inspect.GopIndexSize,
			Metrics:   m,
			Events:    broadcaster,
		}),
		events: broadcaster,
		webrtc: webrtc.NewServer(webrtc.Options{
			STUNServers: cfg.WebRTC.STUNServers,
			MaxClients:  cfg.WebRTC.MaxClients,
			QueueSize:   cfg.WebRTC.QueueSize,
			WaitForGop:  cfg.WebRTC.WaitForGop,
			FPS:         cfg.Source.FPS,
		}),
		recorder: recorder.NewRecorder(recorder.Options{
			BasePath:        cfg.Recorder.Path,
			QueueSize:       cfg.Recorder.QueueSize,
			SegmentOnChange: cfg.Recorder.SegmentOnChange,
		}),
		httpServer: &http.Server{
			Addr:    cfg.Server.HTTPAddr,
			Handler: mux,
		},
		sourceChan:   make(chan types.VideoChunk),
		processChan:  make(chan *types.VideoChunk, cfg.Inspect.QueueSize),
		webrtcChan:   make(chan *types.VideoChunk, cfg.WebRTC.QueueSize),
		recorderChan: make(chan inspected, cfg.Recorder.QueueSize),
	}

	srv.setupRoutes(mux)
	return srv
}

// Start starts all server components
func (s *Server) Start() error {
	logger.Info("Main", "Starting GOP inspector...")
	logger.Info("Main", "  Source: %s (%s, %.2f fps, loop=%v)", s.cfg.Source.Path, s.cfg.Codec(), s.cfg.Source.FPS, s.cfg.Source.Loop)
	logger.Info("Main", "  HTTP server: %s", s.cfg.Server.HTTPAddr)
	logger.Info("Main", "  Recording path: %s", s.cfg.Recorder.Path)

	if addr := s.cfg.Server.PprofAddr; addr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if addr := s.cfg.Metrics.Addr; addr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", addr)
			if err := s.metrics.StartServer(addr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", s.cfg.Server.HTTPAddr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	s.startPipeline()

	logger.Info("Main", "Server started successfully")
	return nil
}

func (s *Server) startPipeline() {
	s.wg.Add(5)
	go s.runSource()
	go s.readChunks()
	go s.processChunks()
	go s.distributeWebRTC()
	go s.distributeRecorder()
}

// runSource feeds sourceChan until the stream ends
func (s *Server) runSource() {
	defer s.wg.Done()

	err := s.source.Run(s.ctx, s.sourceChan)
	switch {
	case err == nil:
		logger.Info("Reader", "Source drained")
	case errors.Is(err, context.Canceled):
	default:
		s.metrics.ReadErrors.Add(1)
		logger.Error("Reader", "Source stopped: %v", err)
	}
}

// readChunks hands source chunks to the processor. Paced sources drop chunks
// when the processor falls behind; unpaced sources block instead.
func (s *Server) readChunks() {
	defer s.wg.Done()

	paced := s.cfg.Source.FPS > 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.sourceChan:
			s.metrics.ChunksRead.Add(1)
			s.metrics.UpdateChunkLatency(chunk.Timestamp)

			c := chunk
			if !paced {
				select {
				case s.processChan <- &c:
				case <-s.ctx.Done():
					return
				}
				continue
			}
			select {
			case s.processChan <- &c:
			default:
				s.metrics.ChunksDropped.Add(1)
			}
		}
	}
}

// processChunks inspects chunks and fans them out
func (s *Server) processChunks() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.processChan:
			s.process(chunk)
		}
	}
}

func (s *Server) process(chunk *types.VideoChunk) {
	// Parameter set cache for recordings and late joiners
	if err := s.processor.Process(chunk); err != nil {
		logger.Debug("Processor", "Chunk #%d: %v", chunk.FrameNum, err)
	}
	s.hasHeaders.Store(s.processor.HasHeaders())

	res := s.tracker.Inspect(chunk)
	if chunk.GopStart {
		chunk.Data = s.processor.PrependHeaders(chunk.Data)
	}

	select {
	case s.webrtcChan <- chunk:
	default:
		s.metrics.WebRTCChunksDropped.Add(1)
	}

	select {
	case s.recorderChan <- inspected{chunk: chunk, gop: res.Inspection.GopDetection}:
	default:
		s.metrics.RecorderChunksDropped.Add(1)
	}

	s.metrics.UpdateBufferUsage(
		len(s.webrtcChan), cap(s.webrtcChan),
		len(s.recorderChan), cap(s.recorderChan),
	)
}

// distributeWebRTC distributes chunks to WebRTC clients
func (s *Server) distributeWebRTC() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.webrtcChan:
			sent, dropped := s.webrtc.SendChunk(chunk)
			s.metrics.WebRTCChunksSent.Add(uint64(sent))
			s.metrics.WebRTCChunksDropped.Add(uint64(dropped))
			s.metrics.ActiveClients.Store(uint64(s.webrtc.GetClientCount()))
		}
	}
}

// distributeRecorder distributes chunks to the recorder
func (s *Server) distributeRecorder() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case in := <-s.recorderChan:
			if s.recorder.SendChunk(in.chunk, in.gop) {
				s.metrics.RecorderChunksSent.Add(1)
			}
			s.updateRecordingMetrics()
		}
	}
}

func (s *Server) updateRecordingMetrics() {
	status := s.recorder.GetStatus()
	if status.Recording {
		s.metrics.RecordingActive.Store(1)
		s.metrics.RecordingBytes.Store(status.BytesWritten)
		s.metrics.RecordingChunks.Store(status.ChunkCount)
		s.metrics.RecordingSegments.Store(uint64(len(status.Segments)))
	} else {
		s.metrics.RecordingActive.Store(0)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.cancel()
	s.wg.Wait()

	var errs []error
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("recorder: %w", err))
	}
	s.webrtc.Close()
	s.events.Close()
	if err := s.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("source: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Server.ShutdownTTL))
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	return errors.Join(errs...)
}
