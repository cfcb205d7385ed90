package h264

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect pushes data in windows of the given size and returns the complete units
func collect(data []byte, window int) [][]byte {
	var units [][]byte
	r := NewAnnexBReader(HandlerFunc(func(nal NAL) Interest {
		if nal.IsComplete() {
			units = append(units, append([]byte(nil), nal.Bytes()...))
		}
		return InterestBuffer
	}))
	for i := 0; i < len(data); i += window {
		end := i + window
		if end > len(data) {
			end = len(data)
		}
		r.Push(data[i:end])
	}
	r.Flush()
	return units
}

func TestAnnexBReaderSplitsUnits(t *testing.T) {
	stream := annexB(testSPS, testIDR)
	units := collect(stream, len(stream))
	require.Len(t, units, 2)
	assert.Equal(t, testSPS, units[0])
	assert.Equal(t, testIDR, units[1])
}

func TestAnnexBReaderIgnoresLeadingGarbageAndTrailingZeros(t *testing.T) {
	var stream []byte
	stream = append(stream, 0xFF, 0x12, 0x00, 0x01) // not a start code
	stream = append(stream, 0x00, 0x00, 0x01, 0x09, 0xF0)
	stream = append(stream, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01) // trailing_zero_8bits then start code
	stream = append(stream, 0x41, 0x9A, 0x00, 0x00, 0x00)

	units := collect(stream, 3)
	require.Len(t, units, 2)
	assert.Equal(t, []byte{0x09, 0xF0}, units[0])
	assert.Equal(t, []byte{0x41, 0x9A}, units[1])
}

func TestAnnexBReaderKeepsEscapedZeros(t *testing.T) {
	unit := []byte{0x06, 0x00, 0x00, 0x03, 0x01, 0x00, 0x80}
	units := collect(annexB(unit), 1)
	require.Len(t, units, 1)
	assert.Equal(t, unit, units[0])
}

func TestAnnexBReaderWindowSizeDoesNotChangeUnits(t *testing.T) {
	stream := annexB(
		[]byte{0x09, 0x10},
		testSPS,
		[]byte{0x68, 0xEB, 0xE3, 0xCB, 0x22, 0xC0},
		testIDR,
		[]byte{0x06, 0x05, 0x00, 0x00, 0x03, 0x02, 0x80},
		append(append([]byte(nil), testIDR...), 0x80),
	)
	want := collect(stream, len(stream))
	require.Len(t, want, 6)

	for _, window := range []int{1, 2, 3, 4, 5, 7, 16, 31, 256} {
		assert.Equal(t, want, collect(stream, window), "window %d", window)
	}
}

func TestAnnexBReaderInterest(t *testing.T) {
	stream := annexB(testSPS, testIDR)

	var calls []bool
	r := NewAnnexBReader(HandlerFunc(func(nal NAL) Interest {
		h, err := nal.Header()
		require.NoError(t, err)
		calls = append(calls, nal.IsComplete())
		if h.Type() == UnitTypeSliceIDR {
			return InterestIgnore
		}
		return InterestBuffer
	}))
	for i := 0; i < len(stream); i += 8 {
		end := i + 8
		if end > len(stream) {
			end = len(stream)
		}
		r.Push(stream[i:end])
	}
	r.Flush()

	// SPS: partial views until the IDR start code completes it; IDR: one view, then ignored
	require.NotEmpty(t, calls)
	completes := 0
	for _, c := range calls {
		if c {
			completes++
		}
	}
	assert.Equal(t, 1, completes, "only the SPS is delivered complete")
	assert.False(t, calls[len(calls)-1], "last call is the ignored IDR")
}

func TestAnnexBReaderFlushCompletesLastUnit(t *testing.T) {
	var got []byte
	r := NewAnnexBReader(HandlerFunc(func(nal NAL) Interest {
		if nal.IsComplete() {
			got = append([]byte(nil), nal.Bytes()...)
		}
		return InterestBuffer
	}))
	r.Push(annexB(testSPS))
	assert.Nil(t, got)
	r.Flush()
	assert.Equal(t, testSPS, got)
}

func TestAnnexBReaderResetDropsUnit(t *testing.T) {
	called := false
	r := NewAnnexBReader(HandlerFunc(func(nal NAL) Interest {
		if nal.IsComplete() {
			called = true
		}
		return InterestBuffer
	}))
	r.Push(annexB(testSPS))
	r.Reset()
	r.Flush()
	assert.False(t, called)
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader(0x67)
	require.NoError(t, err)
	assert.Equal(t, UnitTypeSPS, h.Type())

	h, err = ParseHeader(0x41)
	require.NoError(t, err)
	assert.Equal(t, UnitTypeSliceNonIDR, h.Type())
	assert.True(t, h.Type().IsVCL())

	_, err = ParseHeader(0xE5)
	assert.ErrorIs(t, err, ErrNALHeader)

	_, err = NAL{}.Header()
	assert.ErrorIs(t, err, ErrNALHeader)
}

func TestUnitTypeString(t *testing.T) {
	assert.Equal(t, "SliceIDR", UnitTypeSliceIDR.String())
	assert.Equal(t, "Reserved(22)", UnitType(22).String())
	assert.False(t, UnitTypeSPS.IsVCL())
}

func TestSplitNALUnits(t *testing.T) {
	stream := annexB(testSPS, testIDR)
	units := SplitNALUnits(stream)
	require.Len(t, units, 2)

	// copies, not views
	stream[5] ^= 0xFF
	assert.True(t, bytes.Equal(testSPS, units[0]))
}
