package events

import (
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

// Kind names a stream event
type Kind string

const (
	KindStreamStarted  Kind = "stream_started"  // first GOP start with known details
	KindDetailsChanged Kind = "details_changed" // GOP start with different details
	KindGopStart       Kind = "gop_start"
	KindInspectError   Kind = "inspect_error"
	KindRecording      Kind = "recording"
)

// Event is a stream event before serialization.
// Field values must be types accepted by structpb.NewValue.
type Event struct {
	Kind      Kind
	FrameNum  uint64
	Timestamp time.Time
	Fields    map[string]any
}

// SerializedEvent holds pre-serialized data in both formats
type SerializedEvent struct {
	Kind         Kind
	JSONData     []byte // protojson rendering of the event struct
	ProtobufData []byte // binary google.protobuf.Struct, base64 encoded for SSE
}

// DetailsFields flattens encoding details into event fields
func DetailsFields(d types.VideoEncodingDetails) map[string]any {
	fields := map[string]any{
		"codec":  d.CodecString,
		"width":  d.Width(),
		"height": d.Height(),
	}
	if d.BitDepth != nil {
		fields["bit_depth"] = int(*d.BitDepth)
	}
	if d.ChromaSubsampling != nil {
		fields["chroma_subsampling"] = d.ChromaSubsampling.String()
	}
	return fields
}

// Serialize renders the event as a google.protobuf.Struct in JSON and binary form
func Serialize(ev Event) (*SerializedEvent, error) {
	m := make(map[string]any, len(ev.Fields)+3)
	for k, v := range ev.Fields {
		m[k] = v
	}
	m["kind"] = string(ev.Kind)
	m["frame"] = ev.FrameNum
	if !ev.Timestamp.IsZero() {
		m["timestamp"] = float64(ev.Timestamp.UnixMicro()) / 1e6
	}

	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.Kind, err)
	}

	jsonData, err := protojson.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("event %s: json: %w", ev.Kind, err)
	}

	pbData, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("event %s: protobuf: %w", ev.Kind, err)
	}

	return &SerializedEvent{
		Kind:         ev.Kind,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// Decode parses the base64 protobuf form back into a Struct
func Decode(protobufData []byte) (*structpb.Struct, error) {
	raw, err := base64.StdEncoding.DecodeString(string(protobufData))
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := proto.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}
