package h264

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	mathbits "math/bits"

	"github.com/nareix/joy4/utils/bits"
)

var (
	// ErrTruncated is returned when a syntax element extends past the end of the RBSP
	ErrTruncated = errors.New("rbsp: unexpected end of data")
	// ErrRemainingData is returned when data follows the last syntax element
	// of a structure other than rbsp_trailing_bits
	ErrRemainingData = errors.New("rbsp: remaining data after last syntax element")
)

// Unescape removes emulation prevention bytes (the 0x03 in 00 00 03)
func Unescape(data []byte) []byte {
	if bytes.Index(data, []byte{0x00, 0x00, 0x03}) < 0 {
		return data
	}
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b == 0x03 {
			zeros = 0
			continue
		}
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

// bitReader reads RBSP syntax elements. It keeps the bit position so that the
// trailing bits can be checked once the last element is read.
type bitReader struct {
	gr   *bits.GolombBitReader
	rbsp []byte
	pos  int
}

func newBitReader(rbsp []byte) *bitReader {
	return &bitReader{
		gr:   &bits.GolombBitReader{R: bytes.NewReader(rbsp)},
		rbsp: rbsp,
	}
}

func (r *bitReader) fail(name string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", name, ErrTruncated)
	}
	return fmt.Errorf("%s: %w", name, err)
}

// u reads an n-bit unsigned element, n <= 32
func (r *bitReader) u(n int, name string) (uint32, error) {
	v, err := r.gr.ReadBits(n)
	if err != nil {
		return 0, r.fail(name, err)
	}
	r.pos += n
	return uint32(v), nil
}

func (r *bitReader) flag(name string) (bool, error) {
	v, err := r.gr.ReadBit()
	if err != nil {
		return false, r.fail(name, err)
	}
	r.pos++
	return v == 1, nil
}

// ue reads an unsigned Exp-Golomb element
func (r *bitReader) ue(name string) (uint32, error) {
	v, err := r.gr.ReadExponentialGolombCode()
	if err != nil {
		return 0, r.fail(name, err)
	}
	r.pos += 2*mathbits.Len64(uint64(v)+1) - 1
	if v > 0xFFFFFFFE {
		return 0, fmt.Errorf("%s: exp-golomb value %d out of range", name, v)
	}
	return uint32(v), nil
}

// se reads a signed Exp-Golomb element
func (r *bitReader) se(name string) (int32, error) {
	k, err := r.ue(name)
	if err != nil {
		return 0, err
	}
	if k&1 == 1 {
		return int32((int64(k) + 1) / 2), nil
	}
	return int32(-(int64(k) / 2)), nil
}

// ueMax reads a ue(v) element and checks it against an inclusive upper bound
func (r *bitReader) ueMax(name string, max uint32) (uint32, error) {
	v, err := r.ue(name)
	if err != nil {
		return 0, err
	}
	if v > max {
		return 0, fmt.Errorf("%s: value %d out of range [0, %d]", name, v, max)
	}
	return v, nil
}

// seRange reads an se(v) element and checks it against an inclusive range
func (r *bitReader) seRange(name string, min, max int32) (int32, error) {
	v, err := r.se(name)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s: value %d out of range [%d, %d]", name, v, min, max)
	}
	return v, nil
}

// finish checks rbsp_trailing_bits: the stop bit must be the next bit read
// and only zero bits may follow it.
func (r *bitReader) finish() error {
	last := lastSetBit(r.rbsp)
	switch {
	case last < r.pos:
		return fmt.Errorf("rbsp_stop_one_bit: %w", ErrTruncated)
	case last > r.pos:
		return ErrRemainingData
	}
	return nil
}

// lastSetBit returns the bit index of the last 1 bit in data, or -1
func lastSetBit(data []byte) int {
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] != 0 {
			return i*8 + 7 - mathbits.TrailingZeros8(data[i])
		}
	}
	return -1
}
