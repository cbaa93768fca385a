// Package mask builds the boolean attention masks of the encoder-decoder.
//
// A Mask is four-dimensional, (batch, heads, query, key). Any dimension of
// size 1 broadcasts against the matching dimension of the attention scores,
// so a padding mask is (B,1,1,K) and a causal mask is (1,1,T,T). true marks a
// (query, key) pair that must not be attended to.
package mask

import (
	"fmt"

	"github.com/Jourdelune/transformer/utils"
)

type Mask struct {
	Shape [4]int
	data  []bool
}

// New returns an all-false mask of the given shape.
func New(shape [4]int) *Mask {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			panic(fmt.Sprintf("mask.New: non-positive dimension in %v", shape))
		}
		n *= d
	}
	return &Mask{Shape: shape, data: make([]bool, n)}
}

func (m *Mask) offset(b, h, i, j int) int {
	s := m.Shape
	if s[0] == 1 {
		b = 0
	}
	if s[1] == 1 {
		h = 0
	}
	if s[2] == 1 {
		i = 0
	}
	if s[3] == 1 {
		j = 0
	}
	return ((b*s[1]+h)*s[2]+i)*s[3] + j
}

// At reports whether (query i, key j) is disallowed for batch b, head h.
// Size-1 dimensions broadcast, so any index is valid along them.
func (m *Mask) At(b, h, i, j int) bool {
	return m.data[m.offset(b, h, i, j)]
}

func (m *Mask) Set(b, h, i, j int, v bool) {
	m.data[m.offset(b, h, i, j)] = v
}

// BroadcastsTo reports whether m can be read as a tensor of the target shape.
func (m *Mask) BroadcastsTo(target [4]int) bool {
	for d := range m.Shape {
		if m.Shape[d] != 1 && m.Shape[d] != target[d] {
			return false
		}
	}
	return true
}

// BroadcastShape is the shape two masks combine to: per dimension the sizes
// must match or one of them must be 1.
func BroadcastShape(a, b [4]int) ([4]int, error) {
	var out [4]int
	for d := range a {
		switch {
		case a[d] == b[d]:
			out[d] = a[d]
		case a[d] == 1:
			out[d] = b[d]
		case b[d] == 1:
			out[d] = a[d]
		default:
			return out, fmt.Errorf("cannot broadcast %v with %v (dim %d): %w", a, b, d, utils.ErrShapeMismatch)
		}
	}
	return out, nil
}

// Or combines two masks elementwise after broadcasting both to their common shape.
func Or(a, b *Mask) (*Mask, error) {
	shape, err := BroadcastShape(a.Shape, b.Shape)
	if err != nil {
		return nil, err
	}
	out := New(shape)
	for bi := 0; bi < shape[0]; bi++ {
		for h := 0; h < shape[1]; h++ {
			for i := 0; i < shape[2]; i++ {
				for j := 0; j < shape[3]; j++ {
					out.Set(bi, h, i, j, a.At(bi, h, i, j) || b.At(bi, h, i, j))
				}
			}
		}
	}
	return out, nil
}

// Padding marks every key position holding padID: shape (B,1,1,L).
func Padding(tokens [][]int, padID int) (*Mask, error) {
	b, l, err := dims(tokens)
	if err != nil {
		return nil, err
	}
	m := New([4]int{b, 1, 1, l})
	for bi, row := range tokens {
		for j, id := range row {
			if id == padID {
				m.Set(bi, 0, 0, j, true)
			}
		}
	}
	return m, nil
}

// Causal marks keys strictly after the query position: shape (1,1,n,n).
func Causal(n int) *Mask {
	m := New([4]int{1, 1, n, n})
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			m.Set(0, 0, i, j, true)
		}
	}
	return m
}

// Build derives the encoder/cross-attention mask (B,1,1,S) from src and the
// decoder self-attention mask (B,1,T,T) = padding(tgt) OR causal(T) from tgt.
func Build(src, tgt [][]int, padID int) (srcMask, tgtMask *Mask, err error) {
	if len(src) != len(tgt) {
		return nil, nil, fmt.Errorf("src batch %d != tgt batch %d: %w", len(src), len(tgt), utils.ErrShapeMismatch)
	}
	srcMask, err = Padding(src, padID)
	if err != nil {
		return nil, nil, fmt.Errorf("src: %w", err)
	}
	tgtPad, err := Padding(tgt, padID)
	if err != nil {
		return nil, nil, fmt.Errorf("tgt: %w", err)
	}
	tgtMask, err = Or(tgtPad, Causal(tgtPad.Shape[3]))
	if err != nil {
		return nil, nil, err
	}
	return srcMask, tgtMask, nil
}

func dims(tokens [][]int) (batch, length int, err error) {
	if len(tokens) == 0 || len(tokens[0]) == 0 {
		return 0, 0, fmt.Errorf("empty token batch: %w", utils.ErrShapeMismatch)
	}
	length = len(tokens[0])
	for i, row := range tokens {
		if len(row) != length {
			return 0, 0, fmt.Errorf("row %d has length %d, want %d: %w", i, len(row), length, utils.ErrShapeMismatch)
		}
	}
	return len(tokens), length, nil
}
