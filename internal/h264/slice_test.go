package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSliceHeaderIDR(t *testing.T) {
	sh, err := ParseSliceHeader(testIDR)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), sh.FirstMbInSlice)
	assert.Equal(t, uint32(7), sh.SliceType)
	assert.Equal(t, uint32(0), sh.PPSID)
}

func TestParseSliceHeaderFields(t *testing.T) {
	var w bitWriter
	w.ue(12) // first_mb_in_slice
	w.ue(5)  // P, all slices of the picture
	w.ue(3)
	w.u(8, 0xAA)
	nal := append([]byte{0x41}, w.trailing()...)

	sh, err := ParseSliceHeader(nal)
	require.NoError(t, err)
	assert.Equal(t, SliceHeader{FirstMbInSlice: 12, SliceType: 5, PPSID: 3}, sh)
}

func TestParseSliceHeaderErrors(t *testing.T) {
	_, err := ParseSliceHeader(testSPS)
	assert.ErrorIs(t, err, ErrNALHeader)

	_, err = ParseSliceHeader([]byte{0xE5, 0x88})
	assert.ErrorIs(t, err, ErrNALHeader)

	_, err = ParseSliceHeader([]byte{0x65})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = ParseSliceHeader(nil)
	assert.ErrorIs(t, err, ErrNALHeader)
}
