package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

const (
	// H.264 clock rate (90kHz for video)
	h264ClockRate = 90000

	defaultFPS = 30
)

// ErrMaxClients is returned by HandleOffer when the client limit is reached
var ErrMaxClients = errors.New("maximum clients reached")

// Options configures a Server
type Options struct {
	STUNServers []string
	MaxClients  int
	QueueSize   int     // per-client chunk queue
	WaitForGop  bool    // hold new clients until the next GOP start
	FPS         float64 // sample duration; 0 uses 30
}

// Client represents a connected WebRTC client
type Client struct {
	id         string
	peerConn   *webrtc.PeerConnection
	videoTrack *webrtc.TrackLocalStaticSample
	chunkChan  chan *types.VideoChunk
	closeChan  chan struct{}
	waiting    atomic.Bool // no GOP start delivered yet

	chunksSent    atomic.Uint64
	chunksDropped atomic.Uint64
	chunksSkipped atomic.Uint64 // withheld while waiting for a GOP start
}

// Server manages WebRTC connections
type Server struct {
	clients   map[string]*Client
	clientsMu sync.RWMutex
	config    webrtc.Configuration
	opts      Options
	api       *webrtc.API
	nextID    atomic.Uint64
}

// NewServer creates a new WebRTC server
func NewServer(opts Options) *Server {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 30
	}
	if opts.FPS <= 0 {
		opts.FPS = defaultFPS
	}

	// Configure ICE servers
	iceServers := make([]webrtc.ICEServer, 0, len(opts.STUNServers))
	for _, url := range opts.STUNServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	// If no STUN servers provided, use default
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		}
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		logger.Error("WebRTC", "Failed to register codecs: %v", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(settingsEngine),
		webrtc.WithMediaEngine(mediaEngine),
	)

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		opts: opts,
		api:  api,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	if s.GetClientCount() >= s.opts.MaxClients {
		return nil, fmt.Errorf("%w (%d)", ErrMaxClients, s.opts.MaxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeH264,
			ClockRate: h264ClockRate,
		},
		"video",
		"gop-inspector",
	)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	rtpSender, err := peerConn.AddTrack(videoTrack)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to add track: %w", err)
	}

	// Drain RTCP so the sender's interceptors keep running
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}()

	client := s.newClient(peerConn, videoTrack)

	peerConn.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Debug("WebRTC", "Client %s ICE state: %s", client.id, state.String())
		if state == webrtc.ICEConnectionStateDisconnected ||
			state == webrtc.ICEConnectionStateFailed ||
			state == webrtc.ICEConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (ICE: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.addClient(client)
	go s.sendChunks(client)

	if s.opts.WaitForGop {
		logger.Info("WebRTC", "Client %s connected, waiting for next GOP start", client.id)
	} else {
		logger.Info("WebRTC", "Client %s connected", client.id)
	}
	return answerJSON, nil
}

func (s *Server) newClient(peerConn *webrtc.PeerConnection, track *webrtc.TrackLocalStaticSample) *Client {
	c := &Client{
		id:         fmt.Sprintf("client-%d", s.nextID.Add(1)),
		peerConn:   peerConn,
		videoTrack: track,
		chunkChan:  make(chan *types.VideoChunk, s.opts.QueueSize),
		closeChan:  make(chan struct{}),
	}
	c.waiting.Store(s.opts.WaitForGop)
	return c
}

func (s *Server) addClient(c *Client) {
	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()
}

// SendChunk queues a chunk for every client. Clients still waiting for a GOP
// start skip chunks until one arrives. Returns how many clients were sent the
// chunk and how many dropped it on a full queue.
func (s *Server) SendChunk(chunk *types.VideoChunk) (sent, dropped int) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		if client.waiting.Load() {
			if !chunk.GopStart {
				client.chunksSkipped.Add(1)
				continue
			}
			client.waiting.Store(false)
			logger.Debug("WebRTC", "Client %s starts at chunk #%d (skipped %d)",
				client.id, chunk.FrameNum, client.chunksSkipped.Load())
		}

		select {
		case client.chunkChan <- chunk:
			client.chunksSent.Add(1)
			sent++
		default:
			client.chunksDropped.Add(1)
			dropped++
		}
	}
	return sent, dropped
}

// sendChunks writes queued chunks to a client's track
func (s *Server) sendChunks(client *Client) {
	duration := time.Duration(float64(time.Second) / s.opts.FPS)
	for {
		select {
		case <-client.closeChan:
			return

		case chunk, ok := <-client.chunkChan:
			if !ok {
				return
			}
			if err := client.videoTrack.WriteSample(media.Sample{
				Data:     chunk.Data,
				Duration: duration,
			}); err != nil {
				if !errors.Is(err, io.ErrClosedPipe) {
					logger.Warn("WebRTC", "Error writing sample for client %s: %v", client.id, err)
				}
				return
			}

			if chunk.FrameNum%30 == 0 {
				logger.Debug("WebRTC", "Sent chunk #%d to client %s", chunk.FrameNum, client.id)
			}
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	close(client.closeChan)
	close(client.chunkChan)
	if client.peerConn != nil {
		client.peerConn.Close()
	}

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d, skipped: %d)",
		clientID, client.chunksSent.Load(), client.chunksDropped.Load(), client.chunksSkipped.Load())
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		var waiting uint64
		if client.waiting.Load() {
			waiting = 1
		}
		stats[id] = map[string]uint64{
			"chunks_sent":    client.chunksSent.Load(),
			"chunks_dropped": client.chunksDropped.Load(),
			"chunks_skipped": client.chunksSkipped.Load(),
			"waiting":        waiting,
		}
	}
	return stats
}

// QueueUsage returns the fullest client queue and its capacity
func (s *Server) QueueUsage() (int, int) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	used := 0
	for _, client := range s.clients {
		used = max(used, len(client.chunkChan))
	}
	return used, s.opts.QueueSize
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
