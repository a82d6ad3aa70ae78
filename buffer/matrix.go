package buffer

import (
	"bytes"
	"fmt"
	"io"
)

// MaxMatrixSize bounds a matrix side so n*n stays within MaxSize.
const MaxMatrixSize = 1 << 15

// Matrix is a square row-major float32 matrix used as a convolution operand.
type Matrix struct {
	n      int
	values []float32
}

// NewMatrix allocates an n x n matrix with every cell set to fill.
func NewMatrix(n int, fill float32) (*Matrix, error) {
	if n <= 0 || n > MaxMatrixSize {
		return nil, fmt.Errorf("%w: matrix size %d not in [1, %d]", ErrInvalidSize, n, MaxMatrixSize)
	}
	values := make([]float32, n*n)
	if fill != 0 {
		for i := range values {
			values[i] = fill
		}
	}
	return &Matrix{n: n, values: values}, nil
}

// MatrixFrom wraps vals, which must hold exactly n*n cells.
func MatrixFrom(n int, vals []float32) (*Matrix, error) {
	if n <= 0 || n > MaxMatrixSize {
		return nil, fmt.Errorf("%w: matrix size %d not in [1, %d]", ErrInvalidSize, n, MaxMatrixSize)
	}
	if len(vals) != n*n {
		return nil, fmt.Errorf("%w: matrix %dx%d needs %d values, got %d", ErrInvalidSize, n, n, n*n, len(vals))
	}
	return &Matrix{n: n, values: vals}, nil
}

func (m *Matrix) Size() int           { return m.n }
func (m *Matrix) Raw() []float32      { return m.values }
func (m *Matrix) SizeBytes() int      { return len(m.values) * floatSize }
func (m *Matrix) At(i, j int) float32 { return m.values[i*m.n+j] }

// ReadValues fills the matrix in row order.
func (m *Matrix) ReadValues(t *Tokens) error {
	for i := range m.values {
		v, err := t.Float()
		if err != nil {
			return fmt.Errorf("cell (%d,%d): %w", i/m.n, i%m.n, err)
		}
		m.values[i] = v
	}
	return nil
}

// WriteTo writes one row per line with three decimals.
func (m *Matrix) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	for i := 0; i < m.n; i++ {
		appendRow(&buf, m.values[i*m.n:(i+1)*m.n])
		buf.WriteByte('\n')
	}
	return buf.WriteTo(w)
}
