package inspect

import (
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

// ErrorKind classifies inspection failures
type ErrorKind int

const (
	// KindUnsupportedCodec: the codec has no inspector
	KindUnsupportedCodec ErrorKind = iota + 1
	// KindNalHeader: a NAL unit header could not be parsed. Chunk inspection
	// skips such units, so this kind is not returned by InspectVideoChunk.
	KindNalHeader
	// KindFailedToExtractEncodingDetails: a complete SPS could not be decoded or interpreted
	KindFailedToExtractEncodingDetails
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnsupportedCodec:
		return "UnsupportedCodec"
	case KindNalHeader:
		return "NalHeaderError"
	case KindFailedToExtractEncodingDetails:
		return "FailedToExtractEncodingDetails"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// InspectionError is returned by InspectVideoChunk
type InspectionError struct {
	Kind    ErrorKind
	Codec   types.VideoCodec // set for KindUnsupportedCodec
	Message string
	Err     error
}

// Sentinels for errors.Is; they match any InspectionError of the same kind
var (
	ErrUnsupportedCodec               = &InspectionError{Kind: KindUnsupportedCodec}
	ErrNalHeader                      = &InspectionError{Kind: KindNalHeader}
	ErrFailedToExtractEncodingDetails = &InspectionError{Kind: KindFailedToExtractEncodingDetails}
)

func (e *InspectionError) Error() string {
	switch e.Kind {
	case KindUnsupportedCodec:
		return fmt.Sprintf("unsupported codec: %s", e.Codec)
	case KindNalHeader:
		if e.Message == "" {
			return "NAL header error"
		}
		return "NAL header error: " + e.Message
	default:
		return "failed to extract encoding details: " + e.Message
	}
}

func (e *InspectionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an InspectionError of the same kind
func (e *InspectionError) Is(target error) bool {
	t, ok := target.(*InspectionError)
	return ok && t.Kind == e.Kind
}

func unsupportedCodec(codec types.VideoCodec) error {
	return &InspectionError{Kind: KindUnsupportedCodec, Codec: codec}
}

func failedToExtractEncodingDetails(msg string, err error) error {
	return &InspectionError{Kind: KindFailedToExtractEncodingDetails, Codec: types.CodecH264, Message: msg, Err: err}
}
