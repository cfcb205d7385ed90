package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSPSCapturedStream(t *testing.T) {
	sps, err := DecodeSPS(testSPS)
	require.NoError(t, err)

	assert.Equal(t, uint8(100), sps.ProfileIdc)
	assert.Equal(t, uint8(0), sps.ConstraintFlags)
	assert.Equal(t, uint8(10), sps.LevelIdc)
	assert.Equal(t, uint32(0), sps.ID)
	assert.Equal(t, ChromaFormatYUV420, sps.ChromaFormat)
	assert.Equal(t, uint8(0), sps.BitDepthLumaMinus8)
	assert.Nil(t, sps.ScalingMatrix)
	assert.Equal(t, uint8(2), sps.Log2MaxFrameNumMinus4)
	assert.Equal(t, uint8(0), sps.PicOrderCntType)
	assert.Equal(t, uint8(4), sps.Log2MaxPicOrderCntLsbMinus4)
	assert.Equal(t, uint32(16), sps.MaxNumRefFrames)
	assert.Equal(t, uint64(4), sps.PicWidthInMbs())
	assert.Equal(t, uint64(4), sps.FrameHeightInMbs())
	assert.True(t, sps.FrameMbsOnly)
	assert.True(t, sps.Direct8x8Inference)
	assert.Nil(t, sps.FrameCropping)

	require.NotNil(t, sps.VUI)
	assert.True(t, sps.VUI.TimingInfoPresent)
	assert.Equal(t, uint32(1), sps.VUI.NumUnitsInTick)
	assert.Equal(t, uint32(50), sps.VUI.TimeScale)
	assert.True(t, sps.VUI.FixedFrameRate)
	assert.InDelta(t, 25.0, sps.FrameRate(), 1e-9)
	assert.True(t, sps.VUI.BitstreamRestriction)
	assert.Equal(t, uint32(2), sps.VUI.MaxNumReorderFrames)
	assert.Equal(t, uint32(16), sps.VUI.MaxDecFrameBuffering)
}

func TestDecodeSPSRemainingData(t *testing.T) {
	_, err := DecodeSPS(testBrokenSPS)
	assert.ErrorIs(t, err, ErrRemainingData)
}

func TestDecodeSPSTruncated(t *testing.T) {
	for n := 2; n < len(testSPS); n++ {
		_, err := DecodeSPS(testSPS[:n])
		assert.Error(t, err, "prefix of %d bytes", n)
	}

	// every field present, only the stop bit byte lost
	_, err := DecodeSPS(testSPS[:len(testSPS)-1])
	assert.ErrorIs(t, err, ErrTruncated)
	assert.ErrorContains(t, err, "rbsp_stop_one_bit")
}

func TestDecodeSPSRejectsOtherUnits(t *testing.T) {
	_, err := DecodeSPS(testIDR)
	assert.ErrorContains(t, err, "not an SPS")

	_, err = DecodeSPS(nil)
	assert.ErrorIs(t, err, ErrNALHeader)

	bad := append([]byte{0xE7}, testSPS[1:]...)
	_, err = DecodeSPS(bad)
	assert.ErrorIs(t, err, ErrNALHeader)
}

func TestParseSPSPicOrderCountType1(t *testing.T) {
	nal := buildSPS(spsParams{
		profile: 66, level: 30, pocType: 1,
		widthMbs: 20, heightMapUnits: 15, frameMbsOnly: true,
	})
	sps, err := DecodeSPS(nal)
	require.NoError(t, err)

	assert.Equal(t, uint8(1), sps.PicOrderCntType)
	assert.Equal(t, int32(-1), sps.OffsetForNonRefPic)
	assert.Equal(t, int32(2), sps.OffsetForTopToBottomField)
	assert.Equal(t, []int32{-3, 7}, sps.OffsetForRefFrame)
	assert.Equal(t, ChromaFormatYUV420, sps.ChromaFormat, "defaults to 4:2:0 without the chroma block")
	assert.Nil(t, sps.VUI)
}

func TestParseSPSHighProfileChroma(t *testing.T) {
	nal := buildSPS(spsParams{
		profile: 244, level: 51, chromaFormat: 3, separateColourPlane: true,
		bitDepthLumaMinus8: 4, widthMbs: 8, heightMapUnits: 8, frameMbsOnly: true,
	})
	sps, err := DecodeSPS(nal)
	require.NoError(t, err)
	assert.Equal(t, ChromaFormatYUV444, sps.ChromaFormat)
	assert.True(t, sps.SeparateColourPlane)
	assert.Equal(t, uint8(0), sps.ChromaArrayType())
	assert.Equal(t, uint8(12), sps.BitDepthLuma())
}

func TestParseSPSScalingLists(t *testing.T) {
	w := &bitWriter{}
	w.u(8, 100)
	w.u(8, 0)
	w.u(8, 40)
	w.ue(1)      // seq_parameter_set_id
	w.ue(1)      // chroma_format_idc
	w.ue(0)      // bit_depth_luma_minus8
	w.ue(0)      // bit_depth_chroma_minus8
	w.bit(false) // qpprime_y_zero_transform_bypass_flag
	w.bit(true)  // seq_scaling_matrix_present_flag
	// list 0: default via delta bringing nextScale to 0
	w.bit(true)
	w.se(-8)
	// list 1: flat 16
	w.bit(true)
	w.se(8)
	w.se(0)
	for j := 2; j < 16; j++ {
		w.se(0)
	}
	// lists 2..5 absent
	for i := 2; i < 6; i++ {
		w.bit(false)
	}
	// list 6: first value 9, then repeat through nextScale 0
	w.bit(true)
	w.se(1)
	w.se(-9)
	w.bit(false)
	w.ue(0) // log2_max_frame_num_minus4
	w.ue(2) // pic_order_cnt_type
	w.ue(1) // max_num_ref_frames
	w.bit(false)
	w.ue(119)
	w.ue(67)
	w.bit(true)
	w.bit(true)
	w.bit(false)
	w.bit(false)

	sps, err := ParseSPS(w.trailing())
	require.NoError(t, err)
	require.Len(t, sps.ScalingMatrix, 8)
	assert.True(t, sps.ScalingMatrix[0].UseDefault)
	assert.Len(t, sps.ScalingMatrix[1].Values, 16)
	assert.Equal(t, uint8(16), sps.ScalingMatrix[1].Values[15])
	assert.False(t, sps.ScalingMatrix[2].Present)
	require.Len(t, sps.ScalingMatrix[6].Values, 64)
	assert.Equal(t, uint8(9), sps.ScalingMatrix[6].Values[0])
	assert.Equal(t, uint8(9), sps.ScalingMatrix[6].Values[63])
	assert.Equal(t, uint32(1), sps.ID)
}

func TestParseSPSRangeChecks(t *testing.T) {
	w := &bitWriter{}
	w.u(8, 66)
	w.u(8, 0)
	w.u(8, 30)
	w.ue(32) // seq_parameter_set_id beyond 31
	_, err := ParseSPS(w.trailing())
	assert.ErrorContains(t, err, "seq_parameter_set_id")

	w = &bitWriter{}
	w.u(8, 66)
	w.u(8, 0)
	w.u(8, 30)
	w.ue(0)
	w.ue(0)
	w.ue(3) // pic_order_cnt_type beyond 2
	_, err = ParseSPS(w.trailing())
	assert.ErrorContains(t, err, "pic_order_cnt_type")
}

func TestConstraintFlag(t *testing.T) {
	sps := &SeqParameterSet{ConstraintFlags: 0xC0}
	assert.True(t, sps.ConstraintFlag(0))
	assert.True(t, sps.ConstraintFlag(1))
	assert.False(t, sps.ConstraintFlag(2))
	assert.False(t, sps.ConstraintFlag(6))
}
