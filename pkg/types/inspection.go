package types

import "fmt"

// ChromaSubsamplingMode describes the chroma layout of decoded pictures
type ChromaSubsamplingMode uint8

const (
	ChromaMonochrome ChromaSubsamplingMode = iota
	ChromaYuv420
	ChromaYuv422
	ChromaYuv444
)

// String returns the conventional notation of the chroma layout
func (m ChromaSubsamplingMode) String() string {
	switch m {
	case ChromaMonochrome:
		return "monochrome"
	case ChromaYuv420:
		return "4:2:0"
	case ChromaYuv422:
		return "4:2:2"
	case ChromaYuv444:
		return "4:4:4"
	default:
		return "unknown"
	}
}

// MarshalText encodes the chroma layout as its notation
func (m ChromaSubsamplingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a chroma layout notation
func (m *ChromaSubsamplingMode) UnmarshalText(b []byte) error {
	for c := ChromaMonochrome; c <= ChromaYuv444; c++ {
		if c.String() == string(b) {
			*m = c
			return nil
		}
	}
	return fmt.Errorf("unknown chroma subsampling: %q", b)
}

// VideoEncodingDetails are the stream parameters recovered from a parameter set.
//
// They are derived from the bitstream and never constructed independently.
type VideoEncodingDetails struct {
	// CodecString is the RFC 6381 codec identifier, e.g. "avc1.64000A"
	CodecString string `json:"codec_string"`

	// CodedDimensions is [width, height] in pixels after frame cropping
	CodedDimensions [2]uint16 `json:"coded_dimensions"`

	// BitDepth of the luma samples, nil if unknown
	BitDepth *uint8 `json:"bit_depth,omitempty"`

	// ChromaSubsampling layout, nil if unknown
	ChromaSubsampling *ChromaSubsamplingMode `json:"chroma_subsampling,omitempty"`
}

// Width returns the coded width
func (d VideoEncodingDetails) Width() int {
	return int(d.CodedDimensions[0])
}

// Height returns the coded height
func (d VideoEncodingDetails) Height() int {
	return int(d.CodedDimensions[1])
}

// Equal reports whether two sets of details describe the same stream parameters
func (d VideoEncodingDetails) Equal(o VideoEncodingDetails) bool {
	if d.CodecString != o.CodecString || d.CodedDimensions != o.CodedDimensions {
		return false
	}
	if (d.BitDepth == nil) != (o.BitDepth == nil) ||
		(d.BitDepth != nil && *d.BitDepth != *o.BitDepth) {
		return false
	}
	if (d.ChromaSubsampling == nil) != (o.ChromaSubsampling == nil) ||
		(d.ChromaSubsampling != nil && *d.ChromaSubsampling != *o.ChromaSubsampling) {
		return false
	}
	return true
}

// GopStartDetection tells whether a chunk starts a closed GOP.
// Details is set exactly when the chunk is a GOP start.
type GopStartDetection struct {
	Details *VideoEncodingDetails `json:"details,omitempty"`
}

// StartOfGop returns a detection for a chunk that starts a GOP with the given parameters
func StartOfGop(details VideoEncodingDetails) GopStartDetection {
	return GopStartDetection{Details: &details}
}

// NotStartOfGop returns a detection for a chunk that does not start a GOP
func NotStartOfGop() GopStartDetection {
	return GopStartDetection{}
}

// IsStartOfGop reports whether the chunk starts a GOP
func (g GopStartDetection) IsStartOfGop() bool {
	return g.Details != nil
}

// VideoChunkInspection is the result of a successful chunk inspection
type VideoChunkInspection struct {
	// GopDetection tells whether the chunk starts a GOP
	GopDetection GopStartDetection `json:"gop_detection"`

	// NumFramesDetected is the number of slices seen in the chunk, nil if the
	// codec was not inspected. More than one is an input data problem since a
	// chunk is expected to hold exactly one frame.
	NumFramesDetected *int `json:"num_frames_detected,omitempty"`
}

// FramesDetected returns the detected frame count, or 0 if unknown
func (i VideoChunkInspection) FramesDetected() int {
	if i.NumFramesDetected == nil {
		return 0
	}
	return *i.NumFramesDetected
}
