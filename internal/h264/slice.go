package h264

import "fmt"

// SliceHeader holds the leading slice header fields that can be read without
// the active parameter sets
type SliceHeader struct {
	FirstMbInSlice uint32
	SliceType      uint32
	PPSID          uint32
}

// ParseSliceHeader reads the start of a slice header from a VCL NAL unit
// (header byte included, no start code)
func ParseSliceHeader(nal []byte) (SliceHeader, error) {
	hdr, err := NewNAL(nal).Header()
	if err != nil {
		return SliceHeader{}, err
	}
	if !hdr.Type().IsVCL() {
		return SliceHeader{}, fmt.Errorf("%w: %s is not a slice", ErrNALHeader, hdr.Type())
	}

	// only the first few bytes are needed
	head := nal[1:]
	if len(head) > 16 {
		head = head[:16]
	}
	r := newBitReader(Unescape(head))

	var sh SliceHeader
	if sh.FirstMbInSlice, err = r.ue("first_mb_in_slice"); err != nil {
		return SliceHeader{}, err
	}
	if sh.SliceType, err = r.ueMax("slice_type", 9); err != nil {
		return SliceHeader{}, err
	}
	if sh.PPSID, err = r.ueMax("pic_parameter_set_id", 255); err != nil {
		return SliceHeader{}, err
	}
	return sh, nil
}
