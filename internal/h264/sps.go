package h264

import (
	"fmt"
)

// ChromaFormat is chroma_format_idc
type ChromaFormat uint8

const (
	ChromaFormatMonochrome ChromaFormat = 0
	ChromaFormatYUV420     ChromaFormat = 1
	ChromaFormatYUV422     ChromaFormat = 2
	ChromaFormatYUV444     ChromaFormat = 3
)

func (c ChromaFormat) String() string {
	switch c {
	case ChromaFormatMonochrome:
		return "monochrome"
	case ChromaFormatYUV420:
		return "4:2:0"
	case ChromaFormatYUV422:
		return "4:2:2"
	case ChromaFormatYUV444:
		return "4:4:4"
	default:
		return fmt.Sprintf("reserved(%d)", uint8(c))
	}
}

// Profiles whose SPS carries the chroma format / bit depth block
var highProfiles = map[uint8]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true, 86: true,
	118: true, 128: true, 138: true, 139: true, 134: true, 135: true,
}

// ScalingList is one entry of a sequence scaling matrix
type ScalingList struct {
	Present    bool
	UseDefault bool
	Values     []uint8
}

// FrameCropping holds the frame_crop_*_offset values, in crop units
type FrameCropping struct {
	Left, Right, Top, Bottom uint32
}

// HRDParameters is hrd_parameters() (Annex E)
type HRDParameters struct {
	CpbCntMinus1       uint32
	BitRateScale       uint8
	CpbSizeScale       uint8
	BitRateValueMinus1 []uint32
	CpbSizeValueMinus1 []uint32
	CbrFlag            []bool

	InitialCpbRemovalDelayLengthMinus1 uint8
	CpbRemovalDelayLengthMinus1        uint8
	DpbOutputDelayLengthMinus1         uint8
	TimeOffsetLength                   uint8
}

// VUIParameters is vui_parameters() (Annex E). Absent groups are left zero.
type VUIParameters struct {
	AspectRatioInfoPresent bool
	AspectRatioIdc         uint8
	SarWidth               uint16
	SarHeight              uint16

	OverscanInfoPresent bool
	OverscanAppropriate bool

	VideoSignalTypePresent     bool
	VideoFormat                uint8
	VideoFullRange             bool
	ColourDescriptionPresent   bool
	ColourPrimaries            uint8
	TransferCharacteristics    uint8
	MatrixCoefficients         uint8
	ChromaLocInfoPresent       bool
	ChromaSampleLocTypeTop     uint32
	ChromaSampleLocTypeBottom  uint32
	TimingInfoPresent          bool
	NumUnitsInTick             uint32
	TimeScale                  uint32
	FixedFrameRate             bool
	NalHRD                     *HRDParameters
	VclHRD                     *HRDParameters
	LowDelayHRD                bool
	PicStructPresent           bool
	BitstreamRestriction       bool
	MotionVectorsOverPicBounds bool
	MaxBytesPerPicDenom        uint32
	MaxBitsPerMbDenom          uint32
	Log2MaxMvLengthHorizontal  uint32
	Log2MaxMvLengthVertical    uint32
	MaxNumReorderFrames        uint32
	MaxDecFrameBuffering       uint32
}

const extendedSAR = 255

// SeqParameterSet is a decoded seq_parameter_set_rbsp()
type SeqParameterSet struct {
	ProfileIdc      uint8
	ConstraintFlags uint8 // constraint_set0..5 flags and reserved_zero_2bits, as coded
	LevelIdc        uint8
	ID              uint32

	ChromaFormat            ChromaFormat
	SeparateColourPlane     bool
	BitDepthLumaMinus8      uint8
	BitDepthChromaMinus8    uint8
	QpprimeYZeroTransBypass bool
	ScalingMatrix           []ScalingList // nil unless seq_scaling_matrix_present_flag

	Log2MaxFrameNumMinus4 uint8

	PicOrderCntType             uint8
	Log2MaxPicOrderCntLsbMinus4 uint8   // type 0
	DeltaPicOrderAlwaysZero     bool    // type 1
	OffsetForNonRefPic          int32   // type 1
	OffsetForTopToBottomField   int32   // type 1
	OffsetForRefFrame           []int32 // type 1

	MaxNumRefFrames           uint32
	GapsInFrameNumAllowed     bool
	PicWidthInMbsMinus1       uint32
	PicHeightInMapUnitsMinus1 uint32
	FrameMbsOnly              bool
	MbAdaptiveFrameField      bool
	Direct8x8Inference        bool
	FrameCropping             *FrameCropping
	VUI                       *VUIParameters
}

// ConstraintFlag returns constraint_set<n>_flag
func (s *SeqParameterSet) ConstraintFlag(n int) bool {
	if n < 0 || n > 5 {
		return false
	}
	return s.ConstraintFlags&(0x80>>uint(n)) != 0
}

// ChromaArrayType is 0 for separately coded colour planes, chroma_format_idc otherwise
func (s *SeqParameterSet) ChromaArrayType() uint8 {
	if s.SeparateColourPlane {
		return 0
	}
	return uint8(s.ChromaFormat)
}

// PicWidthInMbs is the picture width in macroblocks
func (s *SeqParameterSet) PicWidthInMbs() uint64 {
	return uint64(s.PicWidthInMbsMinus1) + 1
}

// FrameHeightInMbs is the frame height in macroblocks
func (s *SeqParameterSet) FrameHeightInMbs() uint64 {
	h := uint64(s.PicHeightInMapUnitsMinus1) + 1
	if !s.FrameMbsOnly {
		h *= 2
	}
	return h
}

// FrameRate derives the frame rate from the VUI timing info, 0 if absent
func (s *SeqParameterSet) FrameRate() float64 {
	if s.VUI == nil || !s.VUI.TimingInfoPresent || s.VUI.NumUnitsInTick == 0 {
		return 0
	}
	return float64(s.VUI.TimeScale) / float64(2*uint64(s.VUI.NumUnitsInTick))
}

// DecodeSPS decodes a complete SPS NAL unit (header included, no start code)
func DecodeSPS(nal []byte) (*SeqParameterSet, error) {
	if len(nal) == 0 {
		return nil, fmt.Errorf("%w: empty unit", ErrNALHeader)
	}
	h, err := ParseHeader(nal[0])
	if err != nil {
		return nil, err
	}
	if h.Type() != UnitTypeSPS {
		return nil, fmt.Errorf("not an SPS unit: %s", h.Type())
	}
	return ParseSPS(Unescape(nal[1:]))
}

// ParseSPS decodes seq_parameter_set_rbsp() from an unescaped payload
func ParseSPS(rbsp []byte) (*SeqParameterSet, error) {
	r := newBitReader(rbsp)
	sps := &SeqParameterSet{ChromaFormat: ChromaFormatYUV420}

	v, err := r.u(8, "profile_idc")
	if err != nil {
		return nil, err
	}
	sps.ProfileIdc = uint8(v)
	if v, err = r.u(8, "constraint_flags"); err != nil {
		return nil, err
	}
	sps.ConstraintFlags = uint8(v)
	if v, err = r.u(8, "level_idc"); err != nil {
		return nil, err
	}
	sps.LevelIdc = uint8(v)
	if sps.ID, err = r.ueMax("seq_parameter_set_id", 31); err != nil {
		return nil, err
	}

	if highProfiles[sps.ProfileIdc] {
		if err = sps.parseChromaInfo(r); err != nil {
			return nil, err
		}
	}

	if v, err = r.ueMax("log2_max_frame_num_minus4", 12); err != nil {
		return nil, err
	}
	sps.Log2MaxFrameNumMinus4 = uint8(v)

	if err = sps.parsePicOrderCount(r); err != nil {
		return nil, err
	}

	if sps.MaxNumRefFrames, err = r.ueMax("max_num_ref_frames", 16); err != nil {
		return nil, err
	}
	if sps.GapsInFrameNumAllowed, err = r.flag("gaps_in_frame_num_value_allowed_flag"); err != nil {
		return nil, err
	}
	if sps.PicWidthInMbsMinus1, err = r.ue("pic_width_in_mbs_minus1"); err != nil {
		return nil, err
	}
	if sps.PicHeightInMapUnitsMinus1, err = r.ue("pic_height_in_map_units_minus1"); err != nil {
		return nil, err
	}
	if sps.FrameMbsOnly, err = r.flag("frame_mbs_only_flag"); err != nil {
		return nil, err
	}
	if !sps.FrameMbsOnly {
		if sps.MbAdaptiveFrameField, err = r.flag("mb_adaptive_frame_field_flag"); err != nil {
			return nil, err
		}
	}
	if sps.Direct8x8Inference, err = r.flag("direct_8x8_inference_flag"); err != nil {
		return nil, err
	}

	cropping, err := r.flag("frame_cropping_flag")
	if err != nil {
		return nil, err
	}
	if cropping {
		c := &FrameCropping{}
		for _, f := range []struct {
			dst  *uint32
			name string
		}{
			{&c.Left, "frame_crop_left_offset"},
			{&c.Right, "frame_crop_right_offset"},
			{&c.Top, "frame_crop_top_offset"},
			{&c.Bottom, "frame_crop_bottom_offset"},
		} {
			if *f.dst, err = r.ue(f.name); err != nil {
				return nil, err
			}
		}
		sps.FrameCropping = c
	}

	vuiPresent, err := r.flag("vui_parameters_present_flag")
	if err != nil {
		return nil, err
	}
	if vuiPresent {
		if sps.VUI, err = parseVUI(r); err != nil {
			return nil, fmt.Errorf("vui_parameters: %w", err)
		}
	}

	if err = r.finish(); err != nil {
		return nil, err
	}
	return sps, nil
}

func (sps *SeqParameterSet) parseChromaInfo(r *bitReader) error {
	v, err := r.ueMax("chroma_format_idc", 3)
	if err != nil {
		return err
	}
	sps.ChromaFormat = ChromaFormat(v)
	if sps.ChromaFormat == ChromaFormatYUV444 {
		if sps.SeparateColourPlane, err = r.flag("separate_colour_plane_flag"); err != nil {
			return err
		}
	}
	if v, err = r.ueMax("bit_depth_luma_minus8", 6); err != nil {
		return err
	}
	sps.BitDepthLumaMinus8 = uint8(v)
	if v, err = r.ueMax("bit_depth_chroma_minus8", 6); err != nil {
		return err
	}
	sps.BitDepthChromaMinus8 = uint8(v)
	if sps.QpprimeYZeroTransBypass, err = r.flag("qpprime_y_zero_transform_bypass_flag"); err != nil {
		return err
	}

	present, err := r.flag("seq_scaling_matrix_present_flag")
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	count := 8
	if sps.ChromaFormat == ChromaFormatYUV444 {
		count = 12
	}
	sps.ScalingMatrix = make([]ScalingList, count)
	for i := range sps.ScalingMatrix {
		listPresent, err := r.flag("seq_scaling_list_present_flag")
		if err != nil {
			return err
		}
		if !listPresent {
			continue
		}
		size := 16
		if i >= 6 {
			size = 64
		}
		if sps.ScalingMatrix[i], err = parseScalingList(r, size); err != nil {
			return fmt.Errorf("scaling_list[%d]: %w", i, err)
		}
	}
	return nil
}

// parseScalingList reads scaling_list() (7.3.2.1.1.1)
func parseScalingList(r *bitReader, size int) (ScalingList, error) {
	list := ScalingList{Present: true, Values: make([]uint8, size)}
	lastScale, nextScale := int32(8), int32(8)
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := r.seRange("delta_scale", -128, 127)
			if err != nil {
				return list, err
			}
			nextScale = (lastScale + delta + 256) % 256
			if j == 0 && nextScale == 0 {
				list.UseDefault = true
				list.Values = nil
				return list, nil
			}
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
		list.Values[j] = uint8(lastScale)
	}
	return list, nil
}

func (sps *SeqParameterSet) parsePicOrderCount(r *bitReader) error {
	v, err := r.ueMax("pic_order_cnt_type", 2)
	if err != nil {
		return err
	}
	sps.PicOrderCntType = uint8(v)

	switch sps.PicOrderCntType {
	case 0:
		if v, err = r.ueMax("log2_max_pic_order_cnt_lsb_minus4", 12); err != nil {
			return err
		}
		sps.Log2MaxPicOrderCntLsbMinus4 = uint8(v)
	case 1:
		if sps.DeltaPicOrderAlwaysZero, err = r.flag("delta_pic_order_always_zero_flag"); err != nil {
			return err
		}
		if sps.OffsetForNonRefPic, err = r.se("offset_for_non_ref_pic"); err != nil {
			return err
		}
		if sps.OffsetForTopToBottomField, err = r.se("offset_for_top_to_bottom_field"); err != nil {
			return err
		}
		n, err := r.ueMax("num_ref_frames_in_pic_order_cnt_cycle", 255)
		if err != nil {
			return err
		}
		sps.OffsetForRefFrame = make([]int32, n)
		for i := range sps.OffsetForRefFrame {
			if sps.OffsetForRefFrame[i], err = r.se("offset_for_ref_frame"); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseVUI(r *bitReader) (*VUIParameters, error) {
	vui := &VUIParameters{}
	var (
		v   uint32
		err error
	)

	if vui.AspectRatioInfoPresent, err = r.flag("aspect_ratio_info_present_flag"); err != nil {
		return nil, err
	}
	if vui.AspectRatioInfoPresent {
		if v, err = r.u(8, "aspect_ratio_idc"); err != nil {
			return nil, err
		}
		vui.AspectRatioIdc = uint8(v)
		if vui.AspectRatioIdc == extendedSAR {
			if v, err = r.u(16, "sar_width"); err != nil {
				return nil, err
			}
			vui.SarWidth = uint16(v)
			if v, err = r.u(16, "sar_height"); err != nil {
				return nil, err
			}
			vui.SarHeight = uint16(v)
		}
	}

	if vui.OverscanInfoPresent, err = r.flag("overscan_info_present_flag"); err != nil {
		return nil, err
	}
	if vui.OverscanInfoPresent {
		if vui.OverscanAppropriate, err = r.flag("overscan_appropriate_flag"); err != nil {
			return nil, err
		}
	}

	if vui.VideoSignalTypePresent, err = r.flag("video_signal_type_present_flag"); err != nil {
		return nil, err
	}
	if vui.VideoSignalTypePresent {
		if v, err = r.u(3, "video_format"); err != nil {
			return nil, err
		}
		vui.VideoFormat = uint8(v)
		if vui.VideoFullRange, err = r.flag("video_full_range_flag"); err != nil {
			return nil, err
		}
		if vui.ColourDescriptionPresent, err = r.flag("colour_description_present_flag"); err != nil {
			return nil, err
		}
		if vui.ColourDescriptionPresent {
			for _, f := range []struct {
				dst  *uint8
				name string
			}{
				{&vui.ColourPrimaries, "colour_primaries"},
				{&vui.TransferCharacteristics, "transfer_characteristics"},
				{&vui.MatrixCoefficients, "matrix_coefficients"},
			} {
				if v, err = r.u(8, f.name); err != nil {
					return nil, err
				}
				*f.dst = uint8(v)
			}
		}
	}

	if vui.ChromaLocInfoPresent, err = r.flag("chroma_loc_info_present_flag"); err != nil {
		return nil, err
	}
	if vui.ChromaLocInfoPresent {
		if vui.ChromaSampleLocTypeTop, err = r.ueMax("chroma_sample_loc_type_top_field", 5); err != nil {
			return nil, err
		}
		if vui.ChromaSampleLocTypeBottom, err = r.ueMax("chroma_sample_loc_type_bottom_field", 5); err != nil {
			return nil, err
		}
	}

	if vui.TimingInfoPresent, err = r.flag("timing_info_present_flag"); err != nil {
		return nil, err
	}
	if vui.TimingInfoPresent {
		if vui.NumUnitsInTick, err = r.u(32, "num_units_in_tick"); err != nil {
			return nil, err
		}
		if vui.TimeScale, err = r.u(32, "time_scale"); err != nil {
			return nil, err
		}
		if vui.FixedFrameRate, err = r.flag("fixed_frame_rate_flag"); err != nil {
			return nil, err
		}
	}

	nalHRD, err := r.flag("nal_hrd_parameters_present_flag")
	if err != nil {
		return nil, err
	}
	if nalHRD {
		if vui.NalHRD, err = parseHRD(r); err != nil {
			return nil, fmt.Errorf("nal hrd_parameters: %w", err)
		}
	}
	vclHRD, err := r.flag("vcl_hrd_parameters_present_flag")
	if err != nil {
		return nil, err
	}
	if vclHRD {
		if vui.VclHRD, err = parseHRD(r); err != nil {
			return nil, fmt.Errorf("vcl hrd_parameters: %w", err)
		}
	}
	if nalHRD || vclHRD {
		if vui.LowDelayHRD, err = r.flag("low_delay_hrd_flag"); err != nil {
			return nil, err
		}
	}

	if vui.PicStructPresent, err = r.flag("pic_struct_present_flag"); err != nil {
		return nil, err
	}
	if vui.BitstreamRestriction, err = r.flag("bitstream_restriction_flag"); err != nil {
		return nil, err
	}
	if vui.BitstreamRestriction {
		if vui.MotionVectorsOverPicBounds, err = r.flag("motion_vectors_over_pic_boundaries_flag"); err != nil {
			return nil, err
		}
		if vui.MaxBytesPerPicDenom, err = r.ueMax("max_bytes_per_pic_denom", 16); err != nil {
			return nil, err
		}
		if vui.MaxBitsPerMbDenom, err = r.ueMax("max_bits_per_mb_denom", 16); err != nil {
			return nil, err
		}
		if vui.Log2MaxMvLengthHorizontal, err = r.ueMax("log2_max_mv_length_horizontal", 16); err != nil {
			return nil, err
		}
		if vui.Log2MaxMvLengthVertical, err = r.ueMax("log2_max_mv_length_vertical", 16); err != nil {
			return nil, err
		}
		if vui.MaxNumReorderFrames, err = r.ue("max_num_reorder_frames"); err != nil {
			return nil, err
		}
		if vui.MaxDecFrameBuffering, err = r.ue("max_dec_frame_buffering"); err != nil {
			return nil, err
		}
	}
	return vui, nil
}

func parseHRD(r *bitReader) (*HRDParameters, error) {
	hrd := &HRDParameters{}
	var (
		v   uint32
		err error
	)
	if hrd.CpbCntMinus1, err = r.ueMax("cpb_cnt_minus1", 31); err != nil {
		return nil, err
	}
	if v, err = r.u(4, "bit_rate_scale"); err != nil {
		return nil, err
	}
	hrd.BitRateScale = uint8(v)
	if v, err = r.u(4, "cpb_size_scale"); err != nil {
		return nil, err
	}
	hrd.CpbSizeScale = uint8(v)

	n := int(hrd.CpbCntMinus1) + 1
	hrd.BitRateValueMinus1 = make([]uint32, n)
	hrd.CpbSizeValueMinus1 = make([]uint32, n)
	hrd.CbrFlag = make([]bool, n)
	for i := 0; i < n; i++ {
		if hrd.BitRateValueMinus1[i], err = r.ue("bit_rate_value_minus1"); err != nil {
			return nil, err
		}
		if hrd.CpbSizeValueMinus1[i], err = r.ue("cpb_size_value_minus1"); err != nil {
			return nil, err
		}
		if hrd.CbrFlag[i], err = r.flag("cbr_flag"); err != nil {
			return nil, err
		}
	}

	for _, f := range []struct {
		dst  *uint8
		name string
	}{
		{&hrd.InitialCpbRemovalDelayLengthMinus1, "initial_cpb_removal_delay_length_minus1"},
		{&hrd.CpbRemovalDelayLengthMinus1, "cpb_removal_delay_length_minus1"},
		{&hrd.DpbOutputDelayLengthMinus1, "dpb_output_delay_length_minus1"},
		{&hrd.TimeOffsetLength, "time_offset_length"},
	} {
		if v, err = r.u(5, f.name); err != nil {
			return nil, err
		}
		*f.dst = uint8(v)
	}
	return hrd, nil
}
