package h264

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

var testPPS = []byte{0x68, 0xEB, 0xE3, 0xCB, 0x22, 0xC0}

func TestProcessorCachesHeaders(t *testing.T) {
	p := NewProcessor()
	assert.False(t, p.HasHeaders())

	chunk := &types.VideoChunk{Data: annexB(testSPS, testPPS, testIDR)}
	require.NoError(t, p.Process(chunk))

	assert.True(t, p.HasHeaders())
	assert.True(t, chunk.IsIDR)
	assert.Equal(t, 64, chunk.Width)
	assert.Equal(t, 64, chunk.Height)
	assert.Equal(t, append([]byte{0, 0, 0, 1}, testSPS...), p.spsCache)
	assert.Equal(t, append([]byte{0, 0, 0, 1}, testPPS...), p.ppsCache)
	require.NotNil(t, p.sps)
	assert.Equal(t, uint8(100), p.sps.ProfileIdc)
}

func TestProcessorNonIDRChunk(t *testing.T) {
	p := NewProcessor()
	require.NoError(t, p.Process(&types.VideoChunk{Data: annexB(testSPS, testPPS, testIDR)}))

	nonIDR := append([]byte{0x61}, testIDR[1:]...)
	chunk := &types.VideoChunk{Data: annexB(nonIDR)}
	require.NoError(t, p.Process(chunk))
	assert.False(t, chunk.IsIDR)
	assert.Equal(t, 64, chunk.Width, "size comes from the cached SPS")
}

func TestProcessorReportsBrokenSPS(t *testing.T) {
	p := NewProcessor()
	chunk := &types.VideoChunk{Data: annexB(testBrokenSPS, testPPS, testIDR)}
	err := p.Process(chunk)
	assert.ErrorIs(t, err, ErrRemainingData)
	assert.True(t, chunk.IsIDR, "the chunk is still scanned to the end")
	assert.Nil(t, p.sps)
	assert.True(t, p.HasHeaders(), "raw parameter sets are cached regardless")
}

func TestProcessorEmptyChunk(t *testing.T) {
	p := NewProcessor()
	assert.NoError(t, p.Process(&types.VideoChunk{}))
	assert.False(t, p.HasHeaders())
}

func TestPrependHeaders(t *testing.T) {
	p := NewProcessor()
	idr := annexB(testIDR)

	assert.Equal(t, idr, p.PrependHeaders(idr), "nothing cached yet")

	require.NoError(t, p.Process(&types.VideoChunk{Data: annexB(testSPS, testPPS)}))

	out := p.PrependHeaders(idr)
	assert.True(t, bytes.HasPrefix(out, p.spsCache))
	assert.True(t, bytes.HasSuffix(out, idr))
	assert.Len(t, out, len(p.spsCache)+len(p.ppsCache)+len(idr))

	nonIDR := annexB(append([]byte{0x41}, testIDR[1:]...))
	assert.Equal(t, nonIDR, p.PrependHeaders(nonIDR))

	full := annexB(testSPS, testPPS, testIDR)
	assert.Equal(t, full, p.PrependHeaders(full), "chunk already carries its SPS")
}

func TestContainsUnitType(t *testing.T) {
	stream := annexB(testSPS, testPPS, testIDR)
	assert.True(t, ContainsUnitType(stream, UnitTypeSliceIDR))
	assert.True(t, ContainsUnitType(stream, UnitTypePPS))
	assert.False(t, ContainsUnitType(stream, UnitTypeSliceNonIDR))
}
