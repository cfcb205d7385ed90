package h264

import (
	"errors"
	"fmt"
)

// ErrNALHeader is returned for a NAL unit whose header cannot be interpreted
var ErrNALHeader = errors.New("invalid NAL unit header")

// UnitType is the nal_unit_type field of a NAL unit header
type UnitType uint8

// NAL unit types (Rec. H.264 Table 7-1)
const (
	UnitTypeUnspecified   UnitType = 0
	UnitTypeSliceNonIDR   UnitType = 1
	UnitTypeSliceDataA    UnitType = 2
	UnitTypeSliceDataB    UnitType = 3
	UnitTypeSliceDataC    UnitType = 4
	UnitTypeSliceIDR      UnitType = 5
	UnitTypeSEI           UnitType = 6
	UnitTypeSPS           UnitType = 7
	UnitTypePPS           UnitType = 8
	UnitTypeAUD           UnitType = 9
	UnitTypeEndOfSequence UnitType = 10
	UnitTypeEndOfStream   UnitType = 11
	UnitTypeFiller        UnitType = 12
	UnitTypeSPSExtension  UnitType = 13
	UnitTypePrefix        UnitType = 14
	UnitTypeSubsetSPS     UnitType = 15
)

var unitTypeNames = map[UnitType]string{
	UnitTypeUnspecified:   "Unspecified",
	UnitTypeSliceNonIDR:   "SliceNonIDR",
	UnitTypeSliceDataA:    "SliceDataA",
	UnitTypeSliceDataB:    "SliceDataB",
	UnitTypeSliceDataC:    "SliceDataC",
	UnitTypeSliceIDR:      "SliceIDR",
	UnitTypeSEI:           "SEI",
	UnitTypeSPS:           "SPS",
	UnitTypePPS:           "PPS",
	UnitTypeAUD:           "AUD",
	UnitTypeEndOfSequence: "EndOfSequence",
	UnitTypeEndOfStream:   "EndOfStream",
	UnitTypeFiller:        "Filler",
	UnitTypeSPSExtension:  "SPSExtension",
	UnitTypePrefix:        "Prefix",
	UnitTypeSubsetSPS:     "SubsetSPS",
}

func (t UnitType) String() string {
	if name, ok := unitTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Reserved(%d)", uint8(t))
}

// IsVCL reports whether the unit carries slice data
func (t UnitType) IsVCL() bool {
	return t >= UnitTypeSliceNonIDR && t <= UnitTypeSliceIDR
}

// Header is the one-byte NAL unit header
type Header uint8

// ParseHeader validates a NAL header byte. The forbidden_zero_bit must be clear.
func ParseHeader(b byte) (Header, error) {
	if b&0x80 != 0 {
		return 0, fmt.Errorf("%w: forbidden_zero_bit set in 0x%02x", ErrNALHeader, b)
	}
	return Header(b), nil
}

// Type returns nal_unit_type
func (h Header) Type() UnitType {
	return UnitType(h & 0x1F)
}

// NAL is a view of a NAL unit as seen by the splitter, without its start code.
// The view is only valid for the duration of the handler call.
type NAL struct {
	data     []byte
	complete bool
}

// NewNAL wraps the bytes of a whole NAL unit (no start code)
func NewNAL(data []byte) NAL {
	return NAL{data: data, complete: true}
}

// Header parses the first byte of the unit
func (n NAL) Header() (Header, error) {
	if len(n.data) == 0 {
		return 0, fmt.Errorf("%w: empty unit", ErrNALHeader)
	}
	return ParseHeader(n.data[0])
}

// IsComplete reports whether the unit has been seen up to its end
func (n NAL) IsComplete() bool {
	return n.complete
}

// Bytes returns the escaped bytes seen so far, header included
func (n NAL) Bytes() []byte {
	return n.data
}

// RBSP returns the unit payload after the header with emulation prevention removed
func (n NAL) RBSP() []byte {
	if len(n.data) < 2 {
		return nil
	}
	return Unescape(n.data[1:])
}

// Interest is a handler's answer about the rest of the current NAL unit
type Interest int

const (
	// InterestBuffer asks for the unit again once more bytes (or its end) are known
	InterestBuffer Interest = iota
	// InterestIgnore drops the rest of the unit
	InterestIgnore
)

// Handler receives NAL units from an AnnexBReader
type Handler interface {
	NAL(nal NAL) Interest
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(nal NAL) Interest

// NAL calls f(nal)
func (f HandlerFunc) NAL(nal NAL) Interest {
	return f(nal)
}

// AnnexBReader splits an Annex-B byte stream into NAL units. Input may be pushed
// in windows of any size; start codes spanning two windows are recognised.
//
// A unit is handed to the handler after every Push that added bytes to it, and
// once more when its end is found, for as long as the handler returns
// InterestBuffer. Bytes before the first start code are discarded, as are the
// zero bytes preceding a start code.
type AnnexBReader struct {
	handler  Handler
	inUnit   bool
	zeros    int // zero bytes seen but not yet attributed
	unit     []byte
	interest Interest
	dirty    bool
}

// NewAnnexBReader creates a reader delivering units to h
func NewAnnexBReader(h Handler) *AnnexBReader {
	return &AnnexBReader{handler: h}
}

// Push feeds the next window of the stream
func (r *AnnexBReader) Push(data []byte) {
	for _, b := range data {
		r.feed(b)
	}
	if r.inUnit && r.interest == InterestBuffer && r.dirty {
		r.dirty = false
		r.interest = r.handler.NAL(NAL{data: r.unit})
		if r.interest == InterestIgnore {
			r.unit = r.unit[:0]
		}
	}
}

// Flush marks the end of the stream: the unit in progress is complete
func (r *AnnexBReader) Flush() {
	if r.inUnit {
		r.endUnit()
	}
	r.Reset()
}

// Reset drops all state without delivering the unit in progress
func (r *AnnexBReader) Reset() {
	r.inUnit = false
	r.zeros = 0
	r.unit = r.unit[:0]
	r.interest = InterestBuffer
	r.dirty = false
}

func (r *AnnexBReader) feed(b byte) {
	if !r.inUnit {
		switch {
		case b == 0x00:
			r.zeros++
		case b == 0x01 && r.zeros >= 2:
			r.zeros = 0
			r.startUnit()
		default:
			r.zeros = 0
		}
		return
	}

	switch {
	case b == 0x00:
		r.zeros++
		if r.zeros == 3 {
			// 00 00 00 cannot occur inside a unit
			r.endUnit()
		}
		return
	case b == 0x01 && r.zeros >= 2:
		r.zeros = 0
		r.endUnit()
		r.startUnit()
		return
	}

	for ; r.zeros > 0; r.zeros-- {
		r.appendByte(0x00)
	}
	r.appendByte(b)
}

func (r *AnnexBReader) appendByte(b byte) {
	if r.interest != InterestBuffer {
		return
	}
	r.unit = append(r.unit, b)
	r.dirty = true
}

func (r *AnnexBReader) startUnit() {
	r.inUnit = true
	r.unit = r.unit[:0]
	r.interest = InterestBuffer
	r.dirty = false
}

// endUnit completes the current unit; pending zeros are trailing bytes and are dropped.
func (r *AnnexBReader) endUnit() {
	if r.interest == InterestBuffer && len(r.unit) > 0 {
		r.handler.NAL(NAL{data: r.unit, complete: true})
	}
	r.inUnit = false
	r.unit = r.unit[:0]
	r.dirty = false
}

// SplitNALUnits returns the NAL units of a complete Annex-B buffer, without start codes.
// The returned slices are copies.
func SplitNALUnits(data []byte) [][]byte {
	var units [][]byte
	r := NewAnnexBReader(HandlerFunc(func(nal NAL) Interest {
		if nal.IsComplete() {
			units = append(units, append([]byte(nil), nal.Bytes()...))
		}
		return InterestBuffer
	}))
	r.Push(data)
	r.Flush()
	return units
}
