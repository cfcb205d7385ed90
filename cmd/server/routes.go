package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/webrtc"
)

// setupRoutes sets up HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// CORS middleware
	corsMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next(w, r)
		}
	}

	// WebRTC signaling
	mux.HandleFunc("/offer", corsMiddleware(s.handleOffer))

	// Recording control
	mux.HandleFunc("/start", corsMiddleware(s.handleStartRecording))
	mux.HandleFunc("/stop", corsMiddleware(s.handleStopRecording))
	mux.HandleFunc("/status", corsMiddleware(s.handleStatus))

	// GOP index
	mux.HandleFunc("/gops", corsMiddleware(s.handleGops))
	mux.HandleFunc("/seek", corsMiddleware(s.handleSeek))

	// Stream events (SSE)
	mux.Handle("/events", s.events)

	// Health check
	mux.HandleFunc("/health", s.handleHealth)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("HTTP", "Response write failed: %v", err)
	}
}

// handleOffer handles WebRTC offer
func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	offerJSON, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	answerJSON, err := s.webrtc.HandleOffer(offerJSON)
	if err != nil {
		s.metrics.WebRTCErrors.Add(1)
		logger.Warn("HTTP", "WebRTC offer error: %v", err)
		status := http.StatusInternalServerError
		if errors.Is(err, webrtc.ErrMaxClients) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, fmt.Sprintf("Failed to handle offer: %v", err), status)
		return
	}

	s.metrics.TotalClients.Add(1)

	w.Header().Set("Content-Type", "application/json")
	w.Write(answerJSON)
}

// handleStartRecording handles start recording request
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.recorder.Start(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recorder.ErrAlreadyRecording) {
			status = http.StatusConflict
		}
		s.metrics.RecorderErrors.Add(1)
		http.Error(w, fmt.Sprintf("Failed to start recording: %v", err), status)
		return
	}

	status := s.recorder.GetStatus()
	s.events.Publish(events.Event{Kind: events.KindRecording, Fields: map[string]any{"recording": true}})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  status,
	})
}

// handleStopRecording handles stop recording request
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.recorder.Stop(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recorder.ErrNotRecording) {
			status = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf("Failed to stop recording: %v", err), status)
		return
	}

	status := s.recorder.GetStatus()
	s.updateRecordingMetrics()
	s.events.Publish(events.Event{Kind: events.KindRecording, Fields: map[string]any{
		"recording": false,
		"size":      status.Size,
		"segments":  len(status.Segments),
	}})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  status,
	})
}

// queueUsage is the fill level of one buffered queue
type queueUsage struct {
	Used     int `json:"used"`
	Capacity int `json:"capacity"`
}

func usage(used, capacity int) queueUsage {
	return queueUsage{Used: used, Capacity: capacity}
}

// handleStatus reports recording, stream, client and queue state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	published, dropped := s.events.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"recording": s.recorder.GetStatus(),
		"stream":    s.tracker.Stats(),
		"webrtc":    s.webrtc.GetClientStats(),
		"events": map[string]any{
			"subscribers": s.events.Clients(),
			"published":   published,
			"dropped":     dropped,
		},
		"queues": map[string]queueUsage{
			"process":         usage(len(s.processChan), cap(s.processChan)),
			"webrtc":          usage(len(s.webrtcChan), cap(s.webrtcChan)),
			"webrtc_client":   usage(s.webrtc.QueueUsage()),
			"recorder":        usage(len(s.recorderChan), cap(s.recorderChan)),
			"recorder_writer": usage(s.recorder.QueueUsage()),
		},
	})
}

// handleGops lists the indexed GOP starts
func (s *Server) handleGops(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Gops())
}

// handleSeek returns the GOP start to begin decoding from for ?frame=N
func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	frame, err := strconv.ParseUint(r.URL.Query().Get("frame"), 10, 64)
	if err != nil {
		http.Error(w, "frame must be a non-negative integer", http.StatusBadRequest)
		return
	}

	entry, ok := s.tracker.Seek(frame)
	if !ok {
		http.Error(w, fmt.Sprintf("no indexed GOP start at or before chunk %d", frame), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleHealth handles health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"webrtc_clients": s.webrtc.GetClientCount(),
		"recording":      s.recorder.IsRecording(),
		"has_headers":    s.hasHeaders.Load(),
	}
	if d, ok := s.tracker.Current(); ok {
		resp["details"] = d
	}
	writeJSON(w, http.StatusOK, resp)
}
