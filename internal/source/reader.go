package source

import (
	"errors"
	"io"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/internal/h264"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

// readSize is the read window on the underlying stream
const readSize = 32 * 1024

// Reader groups an Annex-B elementary stream into access-unit chunks.
//
// A new access unit begins at an access unit delimiter, at a parameter set or
// SEI following slice data, or at a slice whose first_mb_in_slice is zero.
// Chunks are re-framed with 4-byte start codes.
type Reader struct {
	r     io.Reader
	codec types.VideoCodec
	split *h264.AnnexBReader
	buf   []byte
	eof   bool

	cur      [][]byte // units of the access unit being assembled
	curVCL   bool
	curIDR   bool
	ready    []types.VideoChunk
	frameNum uint64
	now      func() time.Time
}

// NewReader creates a chunk reader over r
func NewReader(r io.Reader, codec types.VideoCodec) *Reader {
	cr := &Reader{
		r:     r,
		codec: codec,
		buf:   make([]byte, readSize),
		now:   time.Now,
	}
	cr.split = h264.NewAnnexBReader(h264.HandlerFunc(cr.nal))
	return cr
}

func (cr *Reader) nal(nal h264.NAL) h264.Interest {
	if !nal.IsComplete() {
		return h264.InterestBuffer
	}
	unit := append([]byte(nil), nal.Bytes()...)

	hdr, err := nal.Header()
	if err != nil {
		// unparseable units stay with the current access unit
		cr.cur = append(cr.cur, unit)
		return h264.InterestBuffer
	}

	t := hdr.Type()
	switch {
	case t == h264.UnitTypeAUD:
		cr.cut()
	case t == h264.UnitTypeSPS, t == h264.UnitTypePPS, t == h264.UnitTypeSEI,
		t >= h264.UnitTypePrefix && t <= 18:
		if cr.curVCL {
			cr.cut()
		}
	case t.IsVCL():
		if cr.curVCL {
			if sh, err := h264.ParseSliceHeader(unit); err == nil && sh.FirstMbInSlice == 0 {
				cr.cut()
			}
		}
		cr.curVCL = true
		if t == h264.UnitTypeSliceIDR {
			cr.curIDR = true
		}
	}
	cr.cur = append(cr.cur, unit)
	return h264.InterestBuffer
}

// cut closes the access unit in progress
func (cr *Reader) cut() {
	if len(cr.cur) == 0 {
		return
	}
	size := 0
	for _, u := range cr.cur {
		size += 4 + len(u)
	}
	data := make([]byte, 0, size)
	for _, u := range cr.cur {
		data = append(data, 0x00, 0x00, 0x00, 0x01)
		data = append(data, u...)
	}

	cr.ready = append(cr.ready, types.VideoChunk{
		Data:      data,
		Timestamp: cr.now(),
		FrameNum:  cr.frameNum,
		Codec:     cr.codec,
		IsIDR:     cr.curIDR,
	})
	cr.frameNum++
	cr.cur = nil
	cr.curVCL = false
	cr.curIDR = false
}

// Next returns the next access unit, or io.EOF once the stream is drained
func (cr *Reader) Next() (types.VideoChunk, error) {
	for len(cr.ready) == 0 {
		if cr.eof {
			return types.VideoChunk{}, io.EOF
		}
		n, err := cr.r.Read(cr.buf)
		if n > 0 {
			cr.split.Push(cr.buf[:n])
		}
		if errors.Is(err, io.EOF) {
			cr.split.Flush()
			cr.cut()
			cr.eof = true
		} else if err != nil {
			return types.VideoChunk{}, err
		}
	}
	chunk := cr.ready[0]
	cr.ready = cr.ready[1:]
	return chunk, nil
}

// Rewind restarts reading at the start of a seekable stream. Chunk numbering continues.
func (cr *Reader) Rewind() error {
	s, ok := cr.r.(io.Seeker)
	if !ok {
		return errors.New("source is not seekable")
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return err
	}
	cr.split.Reset()
	cr.cur = nil
	cr.curVCL = false
	cr.curIDR = false
	cr.ready = nil
	cr.eof = false
	return nil
}

// ReadAll splits a whole buffered stream into chunks
func ReadAll(data []byte, codec types.VideoCodec) []types.VideoChunk {
	cr := NewReader(nil, codec)
	cr.split.Push(data)
	cr.split.Flush()
	cr.cut()
	return cr.ready
}
