package events

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

func testDetails() types.VideoEncodingDetails {
	depth := uint8(8)
	chroma := types.ChromaYuv420
	return types.VideoEncodingDetails{
		CodecString:       "avc1.64000A",
		CodedDimensions:   [2]uint16{64, 64},
		BitDepth:          &depth,
		ChromaSubsampling: &chroma,
	}
}

func TestSerializeBothForms(t *testing.T) {
	ts := time.Unix(1700000000, 500000000)
	se, err := Serialize(Event{
		Kind:      KindStreamStarted,
		FrameNum:  42,
		Timestamp: ts,
		Fields:    DetailsFields(testDetails()),
	})
	require.NoError(t, err)
	assert.Equal(t, KindStreamStarted, se.Kind)

	var got map[string]any
	require.NoError(t, json.Unmarshal(se.JSONData, &got))
	assert.Equal(t, "stream_started", got["kind"])
	assert.Equal(t, 42.0, got["frame"])
	assert.Equal(t, 1700000000.5, got["timestamp"])
	assert.Equal(t, "avc1.64000A", got["codec"])
	assert.Equal(t, 64.0, got["width"])
	assert.Equal(t, 8.0, got["bit_depth"])
	assert.Equal(t, "4:2:0", got["chroma_subsampling"])

	s, err := Decode(se.ProtobufData)
	require.NoError(t, err)
	assert.Equal(t, "avc1.64000A", s.Fields["codec"].GetStringValue())
	assert.Equal(t, 64.0, s.Fields["height"].GetNumberValue())
}

func TestSerializeRejectsUnsupportedField(t *testing.T) {
	_, err := Serialize(Event{Kind: KindGopStart, Fields: map[string]any{"bad": struct{}{}}})
	assert.Error(t, err)
}

func TestDetailsFieldsOmitUnknown(t *testing.T) {
	fields := DetailsFields(types.VideoEncodingDetails{CodecString: "avc1.42001E"})
	assert.NotContains(t, fields, "bit_depth")
	assert.NotContains(t, fields, "chroma_subsampling")
}

func TestBroadcasterFanout(t *testing.T) {
	b := NewBroadcaster(4)
	id1, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()
	assert.Equal(t, 2, b.Clients())

	b.Publish(Event{Kind: KindGopStart, FrameNum: 1})

	for _, ch := range []<-chan *SerializedEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, KindGopStart, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	b.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok)
	assert.Equal(t, 1, b.Clients())
}

func TestBroadcasterDropsForSlowClient(t *testing.T) {
	b := NewBroadcaster(1)
	_, ch := b.Subscribe()

	b.Publish(Event{Kind: KindGopStart, FrameNum: 1})
	b.Publish(Event{Kind: KindGopStart, FrameNum: 2})

	published, dropped := b.Stats()
	assert.Equal(t, uint64(2), published)
	assert.Equal(t, uint64(1), dropped)
	assert.Len(t, ch, 1)
}

func TestBroadcasterSkipsWithoutClients(t *testing.T) {
	b := NewBroadcaster(1)
	b.Publish(Event{Kind: KindGopStart})
	published, _ := b.Stats()
	assert.Zero(t, published)
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster(1)
	_, ch := b.Subscribe()
	b.Close()
	_, ok := <-ch
	assert.False(t, ok)

	_, late := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	b.Close()
}

func TestServeHTTPStreamsEvents(t *testing.T) {
	for _, tc := range []struct {
		name   string
		accept string
		format string
	}{
		{"json", "text/event-stream", "application/json"},
		{"protobuf", "application/x-protobuf", "application/protobuf"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBroadcaster(4)
			srv := httptest.NewServer(b)
			defer srv.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
			require.NoError(t, err)
			req.Header.Set("Accept", tc.accept)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
			assert.Equal(t, tc.format, resp.Header.Get("X-Content-Format"))

			require.Eventually(t, func() bool { return b.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
			b.Publish(Event{Kind: KindDetailsChanged, FrameNum: 7, Fields: DetailsFields(testDetails())})

			r := bufio.NewReader(resp.Body)
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			assert.Equal(t, "event: details_changed\n", line)

			line, err = r.ReadString('\n')
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(line, "data: "), line)
			payload := strings.TrimSuffix(strings.TrimPrefix(line, "data: "), "\n")

			if tc.name == "json" {
				var got map[string]any
				require.NoError(t, json.Unmarshal([]byte(payload), &got))
				assert.Equal(t, 7.0, got["frame"])
			} else {
				s, err := Decode([]byte(payload))
				require.NoError(t, err)
				assert.Equal(t, "details_changed", s.Fields["kind"].GetStringValue())
			}
		})
	}
}
