package types

import "time"

// VideoChunk is one demuxed sample (a single access unit) with metadata
type VideoChunk struct {
	Data      []byte     // Raw sample bytes, Annex-B framed for H.264
	Timestamp time.Time  // Capture or arrival timestamp
	FrameNum  uint64     // Sequential chunk number within the stream
	Codec     VideoCodec // Codec of the stream the chunk belongs to
	IsIDR     bool       // True if the chunk carries an IDR slice
	GopStart  bool       // True if inspection classified the chunk as a closed GOP start
	Width     int        // Coded width, 0 until known
	Height    int        // Coded height, 0 until known
}
