package buffer

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// Tokens reads whitespace-separated numbers from a stream. Sizes and values of
// one input file share a single Tokens so nothing is read ahead and lost.
type Tokens struct {
	sc  *bufio.Scanner
	pos int
}

func NewTokens(r io.Reader) *Tokens {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)
	return &Tokens{sc: sc}
}

func (t *Tokens) next() (string, error) {
	if !t.sc.Scan() {
		if err := t.sc.Err(); err != nil {
			return "", fmt.Errorf("%w: token %d: %v", ErrParse, t.pos, err)
		}
		return "", fmt.Errorf("%w: token %d: unexpected end of input", ErrParse, t.pos)
	}
	t.pos++
	return t.sc.Text(), nil
}

// Int reads a non-negative integer, e.g. a logical size.
func (t *Tokens) Int() (int, error) {
	tok, err := t.next()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: token %d: %q is not a size", ErrParse, t.pos-1, tok)
	}
	return n, nil
}

func (t *Tokens) Float() (float32, error) {
	tok, err := t.next()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(tok, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: token %d: %q is not a number", ErrParse, t.pos-1, tok)
	}
	return float32(v), nil
}
