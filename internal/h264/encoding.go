package h264

import (
	"fmt"
	"math"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/gop-inspector/pkg/types"
)

// CodecString returns the RFC 6381 codec identifier of the stream, e.g. "avc1.64001F"
func (s *SeqParameterSet) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIdc, s.ConstraintFlags, s.LevelIdc)
}

// CropUnits returns CropUnitX and CropUnitY (Rec. H.264 7.4.2.1.1)
func (s *SeqParameterSet) CropUnits() (x, y uint64, err error) {
	frameMbsOnly := uint64(0)
	if s.FrameMbsOnly {
		frameMbsOnly = 1
	}
	if s.ChromaArrayType() == 0 {
		return 1, 2 - frameMbsOnly, nil
	}

	var subWidthC, subHeightC uint64
	switch s.ChromaFormat {
	case ChromaFormatYUV420:
		subWidthC, subHeightC = 2, 2
	case ChromaFormatYUV422:
		subWidthC, subHeightC = 2, 1
	case ChromaFormatYUV444:
		subWidthC, subHeightC = 1, 1
	default:
		return 0, 0, fmt.Errorf("no crop units for chroma format %s", s.ChromaFormat)
	}
	return subWidthC, subHeightC * (2 - frameMbsOnly), nil
}

// PixelDimensions returns the cropped frame size in luma samples
func (s *SeqParameterSet) PixelDimensions() (width, height uint64, err error) {
	width = s.PicWidthInMbs() * 16
	height = s.FrameHeightInMbs() * 16
	if s.FrameCropping == nil {
		return width, height, nil
	}

	cropX, cropY, err := s.CropUnits()
	if err != nil {
		return 0, 0, err
	}
	c := s.FrameCropping
	cropW := cropX * (uint64(c.Left) + uint64(c.Right))
	cropH := cropY * (uint64(c.Top) + uint64(c.Bottom))
	if cropW >= width {
		return 0, 0, fmt.Errorf("horizontal crop of %d samples leaves nothing of width %d", cropW, width)
	}
	if cropH >= height {
		return 0, 0, fmt.Errorf("vertical crop of %d samples leaves nothing of height %d", cropH, height)
	}
	return width - cropW, height - cropH, nil
}

// ChromaSubsampling maps the chroma format to the public subsampling mode
func (s *SeqParameterSet) ChromaSubsampling() (types.ChromaSubsamplingMode, error) {
	switch s.ChromaFormat {
	case ChromaFormatMonochrome:
		return types.ChromaMonochrome, nil
	case ChromaFormatYUV420:
		return types.ChromaYuv420, nil
	case ChromaFormatYUV422:
		return types.ChromaYuv422, nil
	case ChromaFormatYUV444:
		return types.ChromaYuv444, nil
	default:
		return 0, fmt.Errorf("reserved chroma_format_idc %d", uint8(s.ChromaFormat))
	}
}

// BitDepthLuma returns the luma sample bit depth
func (s *SeqParameterSet) BitDepthLuma() uint8 {
	return s.BitDepthLumaMinus8 + 8
}

// EncodingDetailsFromSPS derives the stream parameters carried by an SPS
func EncodingDetailsFromSPS(sps *SeqParameterSet) (types.VideoEncodingDetails, error) {
	width, height, err := sps.PixelDimensions()
	if err != nil {
		return types.VideoEncodingDetails{}, fmt.Errorf("invalid picture dimensions: %w", err)
	}
	if width > math.MaxUint16 || height > math.MaxUint16 {
		return types.VideoEncodingDetails{}, fmt.Errorf("picture dimensions %dx%d out of range", width, height)
	}

	chroma, err := sps.ChromaSubsampling()
	if err != nil {
		return types.VideoEncodingDetails{}, err
	}
	bitDepth := sps.BitDepthLuma()

	return types.VideoEncodingDetails{
		CodecString:       sps.CodecString(),
		CodedDimensions:   [2]uint16{uint16(width), uint16(height)},
		BitDepth:          &bitDepth,
		ChromaSubsampling: &chroma,
	}, nil
}
