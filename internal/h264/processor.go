package h264

import (
	"bytes"
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

// startCode4 is prepended to cached parameter sets
var startCode4 = []byte{0x00, 0x00, 0x00, 0x01}

// Processor tracks the parameter sets of a stream and tags chunks with what it finds
type Processor struct {
	spsCache   []byte // Cached SPS NAL unit, with start code
	ppsCache   []byte // Cached PPS NAL unit, with start code
	hasHeaders bool   // True if SPS/PPS are cached
	sps        *SeqParameterSet
}

// NewProcessor creates a new H.264 processor
func NewProcessor() *Processor {
	return &Processor{}
}

// Process scans a chunk, caches its parameter sets and sets IsIDR and the
// frame size. Only parameter sets are copied; slice data is never buffered.
// A parameter set that fails to decode is returned as an error after the
// whole chunk has been scanned.
func (p *Processor) Process(chunk *types.VideoChunk) error {
	if len(chunk.Data) == 0 {
		return nil
	}

	var spsErr error
	r := NewAnnexBReader(HandlerFunc(func(nal NAL) Interest {
		h, err := nal.Header()
		if err != nil {
			return InterestIgnore
		}
		switch h.Type() {
		case UnitTypeSPS, UnitTypePPS:
			if !nal.IsComplete() {
				return InterestBuffer
			}
			if h.Type() == UnitTypeSPS {
				spsErr = p.updateSPS(nal.Bytes())
			} else {
				p.ppsCache = withStartCode(nal.Bytes())
				p.hasHeaders = len(p.spsCache) > 0
			}
		case UnitTypeSliceIDR:
			chunk.IsIDR = true
		}
		return InterestIgnore
	}))
	r.Push(chunk.Data)
	r.Flush()

	if p.sps != nil {
		if w, h, err := p.sps.PixelDimensions(); err == nil {
			chunk.Width, chunk.Height = int(w), int(h)
		}
	}
	return spsErr
}

func (p *Processor) updateSPS(nal []byte) error {
	if len(p.spsCache) > len(startCode4) && bytes.Equal(p.spsCache[len(startCode4):], nal) {
		return nil
	}
	p.spsCache = withStartCode(nal)
	p.hasHeaders = len(p.ppsCache) > 0

	sps, err := DecodeSPS(nal)
	if err != nil {
		p.sps = nil
		return fmt.Errorf("decode SPS: %w", err)
	}
	p.sps = sps
	if logger.Enabled(logger.DEBUG) {
		w, h, _ := sps.PixelDimensions()
		logger.Debug("H264", "SPS id=%d %s %dx%d chroma=%s fps=%.2f",
			sps.ID, sps.CodecString(), w, h, sps.ChromaFormat, sps.FrameRate())
	}
	return nil
}

func withStartCode(nal []byte) []byte {
	out := make([]byte, 0, len(startCode4)+len(nal))
	out = append(out, startCode4...)
	return append(out, nal...)
}

// PrependHeaders prepends the cached SPS/PPS to IDR chunks that carry no SPS.
// This is necessary for recording or viewing mid-stream.
func (p *Processor) PrependHeaders(data []byte) []byte {
	if !p.hasHeaders || !ContainsUnitType(data, UnitTypeSliceIDR) || ContainsUnitType(data, UnitTypeSPS) {
		return data
	}

	result := make([]byte, 0, len(p.spsCache)+len(p.ppsCache)+len(data))
	result = append(result, p.spsCache...)
	result = append(result, p.ppsCache...)
	result = append(result, data...)
	return result
}

// HasHeaders returns true if SPS/PPS headers are cached
func (p *Processor) HasHeaders() bool {
	return p.hasHeaders
}

// ContainsUnitType reports whether an Annex-B buffer holds a unit of type t
func ContainsUnitType(data []byte, t UnitType) bool {
	found := false
	r := NewAnnexBReader(HandlerFunc(func(nal NAL) Interest {
		if h, err := nal.Header(); err == nil && h.Type() == t {
			found = true
		}
		return InterestIgnore
	}))
	r.Push(data)
	r.Flush()
	return found
}
