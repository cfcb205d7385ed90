// Package inspect classifies demuxed video sample chunks as closed GOP starts
// before they reach a decoder, and recovers the stream parameters that come
// with a GOP start.
package inspect

import (
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/h264"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

// MaxPushSize is the window in which chunks are fed to the NAL splitter.
// It bounds buffering only; results do not depend on it.
const MaxPushSize = 256

// InspectVideoChunk inspects one sample chunk, which must hold a single frame.
//
// For H.264 the chunk is Annex-B framed. It starts a GOP when it carries both
// a decodable SPS and an IDR slice, in any order. A complete SPS that fails to
// decode is an error even if an IDR slice is present; unparsable NAL headers
// are skipped. Other codecs are reported as unsupported.
//
// Safe for concurrent use.
func InspectVideoChunk(data []byte, codec types.VideoCodec) (types.VideoChunkInspection, error) {
	switch codec {
	case types.CodecH264:
		return inspectH264(data, MaxPushSize)
	default:
		return types.VideoChunkInspection{}, unsupportedCodec(codec)
	}
}

func inspectH264(data []byte, window int) (types.VideoChunkInspection, error) {
	state := &h264InspectionState{}
	reader := h264.NewAnnexBReader(state)
	for offset := 0; offset < len(data); offset += window {
		end := offset + window
		if end > len(data) {
			end = len(data)
		}
		reader.Push(data[offset:end])
	}
	reader.Flush()

	return state.result()
}

// h264InspectionState accumulates what the NAL units of one chunk reveal
type h264InspectionState struct {
	spsSeen    bool
	details    types.VideoEncodingDetails
	spsErrMsg  string
	spsErr     error
	idrFound   bool
	frameCount int
}

// NAL implements h264.Handler
func (s *h264InspectionState) NAL(nal h264.NAL) h264.Interest {
	header, err := nal.Header()
	if err != nil {
		return h264.InterestIgnore
	}

	switch header.Type() {
	case h264.UnitTypeSPS:
		if !nal.IsComplete() {
			return h264.InterestBuffer
		}
		s.setSPS(nal.RBSP())
	case h264.UnitTypeSliceIDR:
		s.idrFound = true
		s.frameCount++
	case h264.UnitTypeSliceNonIDR:
		s.frameCount++
	}
	return h264.InterestIgnore
}

// setSPS decodes an SPS payload; the latest SPS of the chunk wins, failed or not
func (s *h264InspectionState) setSPS(rbsp []byte) {
	s.spsSeen = true
	s.details = types.VideoEncodingDetails{}
	s.spsErrMsg, s.spsErr = "", nil

	sps, err := h264.ParseSPS(rbsp)
	if err != nil {
		s.spsErrMsg, s.spsErr = fmt.Sprintf("failed reading SPS: %v", err), err
		return
	}
	details, err := h264.EncodingDetailsFromSPS(sps)
	if err != nil {
		s.spsErrMsg, s.spsErr = err.Error(), err
		return
	}
	s.details = details

	if logger.Enabled(logger.DEBUG) {
		logger.Debug("Inspect", "SPS id=%d: %s %dx%d", sps.ID, details.CodecString, details.Width(), details.Height())
	}
}

func (s *h264InspectionState) result() (types.VideoChunkInspection, error) {
	frames := s.frameCount
	if s.spsErr != nil {
		return types.VideoChunkInspection{}, failedToExtractEncodingDetails(s.spsErrMsg, s.spsErr)
	}

	inspection := types.VideoChunkInspection{
		GopDetection:      types.NotStartOfGop(),
		NumFramesDetected: &frames,
	}
	if s.spsSeen && s.idrFound {
		inspection.GopDetection = types.StartOfGop(s.details)
	}
	return inspection, nil
}
