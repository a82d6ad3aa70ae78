package buffer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"strconv"
)

var (
	// ErrInvalidSize is returned when a buffer or matrix is created with size 0
	// or with more than MaxSize values.
	ErrInvalidSize = errors.New("buffer: invalid size")
	// ErrParse is returned when an input stream is malformed or runs out of tokens.
	ErrParse = errors.New("buffer: parse error")
)

// floatSize is sizeof(float32) on the device side.
const floatSize = 4

// MaxSize is the largest logical size a buffer accepts. Its capacity is then
// at most 1<<31, which the kernels' u32 capacity parameter holds.
const MaxSize = 1 << 31

// RoundUpPow2 returns n if it is already a power of two, otherwise the next
// greater power of two. RoundUpPow2(1) == 1. n must be in [1, MaxSize].
func RoundUpPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// IsPow2 reports whether n is a positive power of two.
func IsPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Padded is a fixed-capacity float32 buffer. Its capacity is the smallest power
// of two >= its logical size; slots in [Len, Cap) hold the padding value.
//
// Device passes operate on the whole capacity, while only the logical span is
// ever read from input or written to output.
type Padded struct {
	size   int
	pad    float32
	values []float32
}

// NewPadded allocates a buffer of logical size n whose padding slots (and, until
// filled, logical slots) hold pad.
func NewPadded(n int, pad float32) (*Padded, error) {
	if n <= 0 || n > MaxSize {
		return nil, fmt.Errorf("%w: logical size %d not in [1, %d]", ErrInvalidSize, n, MaxSize)
	}
	capacity := RoundUpPow2(n)
	values := make([]float32, capacity)
	if pad != 0 {
		for i := range values {
			values[i] = pad
		}
	}
	return &Padded{size: n, pad: pad, values: values}, nil
}

// FromValues builds a buffer holding vals in its logical span.
func FromValues(vals []float32, pad float32) (*Padded, error) {
	b, err := NewPadded(len(vals), pad)
	if err != nil {
		return nil, err
	}
	copy(b.values, vals)
	return b, nil
}

func (b *Padded) Len() int       { return b.size }
func (b *Padded) Cap() int       { return len(b.values) }
func (b *Padded) Pad() float32   { return b.pad }
func (b *Padded) SizeBytes() int { return b.size * floatSize }

// CapacityBytes is the device allocation size.
func (b *Padded) CapacityBytes() int { return len(b.values) * floatSize }

// Raw exposes the full capacity region for transfers to and from a device.
func (b *Padded) Raw() []float32 { return b.values }

// Values returns the logical span. The slice aliases the buffer.
func (b *Padded) Values() []float32 { return b.values[:b.size] }

// Fill sets every logical slot to v; padding is left alone.
func (b *Padded) Fill(v float32) {
	for i := 0; i < b.size; i++ {
		b.values[i] = v
	}
}

// ResetPadding rewrites [Len, Cap) with the padding value, e.g. after a device
// round trip left arbitrary partial sums there.
func (b *Padded) ResetPadding() {
	for i := b.size; i < len(b.values); i++ {
		b.values[i] = b.pad
	}
}

// ReadValues fills [0, Len) in order from t. The padding region is untouched.
func (b *Padded) ReadValues(t *Tokens) error {
	for i := 0; i < b.size; i++ {
		v, err := t.Float()
		if err != nil {
			return fmt.Errorf("value %d of %d: %w", i, b.size, err)
		}
		b.values[i] = v
	}
	return nil
}

// WriteTo writes the logical span, space separated with three decimals and a
// trailing newline. It implements io.WriterTo.
func (b *Padded) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	appendRow(&buf, b.values[:b.size])
	buf.WriteByte('\n')
	return buf.WriteTo(w)
}

func (b *Padded) String() string {
	return fmt.Sprintf("Padded(len=%d cap=%d pad=%g)", b.size, len(b.values), b.pad)
}

func appendRow(buf *bytes.Buffer, row []float32) {
	scratch := make([]byte, 0, 24)
	for i, v := range row {
		if i > 0 {
			buf.WriteByte(' ')
		}
		scratch = strconv.AppendFloat(scratch[:0], float64(v), 'f', 3, 32)
		buf.Write(scratch)
	}
}
