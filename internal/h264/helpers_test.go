package h264

import (
	mathbits "math/bits"
)

// Stream captured from a 64x64 High profile encode
var (
	testSPS = []byte{
		0x67, 0x64, 0x00, 0x0A, 0xAC, 0x72, 0x84, 0x44, 0x26, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xCA, 0x3C, 0x48, 0x96, 0x11, 0x80,
	}
	testIDR = []byte{
		0x65, 0x88, 0x84, 0x21, 0x43, 0x02, 0x4C, 0x82, 0x54, 0x2B, 0x8F, 0x2C, 0x8C, 0x54, 0x4A,
		0x92, 0x54, 0x2B, 0x8F, 0x2C, 0x8C, 0x54, 0x4A, 0x92,
	}
	// profile_idc zeroed: parses as Baseline and leaves data behind
	testBrokenSPS = []byte{
		0x67, 0x00, 0x00, 0x0A, 0xAC, 0x72, 0x84, 0x44, 0x26, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xCA, 0x3C, 0x48, 0x96, 0x11, 0x80,
	}
)

func annexB(units ...[]byte) []byte {
	var out []byte
	for i, u := range units {
		if i%2 == 0 {
			out = append(out, 0x00, 0x00, 0x00, 0x01)
		} else {
			out = append(out, 0x00, 0x00, 0x01)
		}
		out = append(out, u...)
	}
	return out
}

// bitWriter builds RBSP payloads for decoder tests
type bitWriter struct {
	buf []byte
	n   int
}

func (w *bitWriter) bit(b bool) {
	if w.n%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b {
		w.buf[len(w.buf)-1] |= 0x80 >> uint(w.n%8)
	}
	w.n++
}

func (w *bitWriter) u(n int, v uint64) {
	for i := n - 1; i >= 0; i-- {
		w.bit(v>>uint(i)&1 == 1)
	}
}

func (w *bitWriter) ue(v uint64) {
	x := v + 1
	n := mathbits.Len64(x)
	w.u(n-1, 0)
	w.u(n, x)
}

func (w *bitWriter) se(v int64) {
	if v > 0 {
		w.ue(uint64(2*v - 1))
	} else {
		w.ue(uint64(-2 * v))
	}
}

func (w *bitWriter) trailing() []byte {
	w.bit(true)
	for w.n%8 != 0 {
		w.bit(false)
	}
	return w.buf
}

// escape inserts emulation prevention bytes
func escape(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/2)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

type spsParams struct {
	profile, constraints, level uint8
	chromaFormat                uint64
	separateColourPlane         bool
	bitDepthLumaMinus8          uint64
	pocType                     uint64
	widthMbs, heightMapUnits    uint64
	frameMbsOnly                bool
	crop                        *[4]uint64 // left, right, top, bottom
}

// buildSPS encodes an SPS NAL unit (header included, escaped)
func buildSPS(p spsParams) []byte {
	w := &bitWriter{}
	w.u(8, uint64(p.profile))
	w.u(8, uint64(p.constraints))
	w.u(8, uint64(p.level))
	w.ue(0) // seq_parameter_set_id
	if highProfiles[p.profile] {
		w.ue(p.chromaFormat)
		if p.chromaFormat == 3 {
			w.bit(p.separateColourPlane)
		}
		w.ue(p.bitDepthLumaMinus8)
		w.ue(p.bitDepthLumaMinus8)
		w.bit(false) // qpprime_y_zero_transform_bypass_flag
		w.bit(false) // seq_scaling_matrix_present_flag
	}
	w.ue(0) // log2_max_frame_num_minus4
	w.ue(p.pocType)
	switch p.pocType {
	case 0:
		w.ue(2)
	case 1:
		w.bit(false)
		w.se(-1)
		w.se(2)
		w.ue(2)
		w.se(-3)
		w.se(7)
	}
	w.ue(1)      // max_num_ref_frames
	w.bit(false) // gaps_in_frame_num_value_allowed_flag
	w.ue(p.widthMbs - 1)
	w.ue(p.heightMapUnits - 1)
	w.bit(p.frameMbsOnly)
	if !p.frameMbsOnly {
		w.bit(false)
	}
	w.bit(true) // direct_8x8_inference_flag
	w.bit(p.crop != nil)
	if p.crop != nil {
		for _, c := range p.crop {
			w.ue(c)
		}
	}
	w.bit(false) // vui_parameters_present_flag
	return append([]byte{0x67}, escape(w.trailing())...)
}
