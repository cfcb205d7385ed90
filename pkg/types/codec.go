package types

import (
	"fmt"
	"strings"
)

// VideoCodec identifies the codec a sample chunk is encoded with
type VideoCodec uint8

const (
	CodecH264 VideoCodec = iota
	CodecH265
	CodecAV1
	CodecVP8
	CodecVP9
)

var codecNames = map[VideoCodec]string{
	CodecH264: "H264",
	CodecH265: "H265",
	CodecAV1:  "AV1",
	CodecVP8:  "VP8",
	CodecVP9:  "VP9",
}

// String returns the codec name
func (c VideoCodec) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return fmt.Sprintf("VideoCodec(%d)", uint8(c))
}

// MarshalText encodes the codec as its name
func (c VideoCodec) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a codec name
func (c *VideoCodec) UnmarshalText(b []byte) error {
	v, err := ParseVideoCodec(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseVideoCodec parses a codec name (case-insensitive, common aliases accepted)
func ParseVideoCodec(s string) (VideoCodec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "h.264", "avc", "avc1":
		return CodecH264, nil
	case "h265", "h.265", "hevc", "hvc1", "hev1":
		return CodecH265, nil
	case "av1", "av01":
		return CodecAV1, nil
	case "vp8":
		return CodecVP8, nil
	case "vp9", "vp09":
		return CodecVP9, nil
	default:
		return 0, fmt.Errorf("unknown video codec: %q", s)
	}
}
