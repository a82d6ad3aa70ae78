package buffer

import (
	"errors"
	"strings"
	"testing"
)

func TestMatrixReadWrite(t *testing.T) {
	m, err := NewMatrix(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.ReadValues(NewTokens(strings.NewReader("1 2\n3 4"))); err != nil {
		t.Fatal(err)
	}
	if m.At(1, 0) != 3 {
		t.Fatalf("At(1,0) = %v, want 3", m.At(1, 0))
	}
	var sb strings.Builder
	if _, err := m.WriteTo(&sb); err != nil {
		t.Fatal(err)
	}
	if want := "1.000 2.000\n3.000 4.000\n"; sb.String() != want {
		t.Fatalf("WriteTo = %q, want %q", sb.String(), want)
	}
}

func TestMatrixErrors(t *testing.T) {
	if _, err := NewMatrix(0, 0); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("NewMatrix(0) err = %v", err)
	}
	if _, err := NewMatrix(MaxMatrixSize+1, 0); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("NewMatrix(MaxMatrixSize+1) err = %v", err)
	}
	if _, err := MatrixFrom(1<<32, nil); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("MatrixFrom(1<<32) err = %v", err)
	}
	if _, err := MatrixFrom(2, []float32{1, 2, 3}); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("MatrixFrom short err = %v", err)
	}
	m, _ := NewMatrix(2, 0)
	if err := m.ReadValues(NewTokens(strings.NewReader("1 2 3"))); !errors.Is(err, ErrParse) {
		t.Fatalf("short matrix err = %v", err)
	}
}
