package transformer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/Jourdelune/transformer/utils"
)

// Hidden is a batch of activations, one (dModel x seqLen) matrix per batch
// element. Column t is the vector at position t.
type Hidden []*mat.Dense

// Dims reports the (batch, seqLen, dModel) view of h.
func (h Hidden) Dims() (batch, seqLen, dModel int) {
	if len(h) == 0 {
		return 0, 0, 0
	}
	dModel, seqLen = h[0].Dims()
	return len(h), seqLen, dModel
}

// check verifies h is non-empty, rectangular and dModel wide.
func (h Hidden) check(name string, dModel int) error {
	if len(h) == 0 {
		return fmt.Errorf("%s: empty batch: %w", name, utils.ErrShapeMismatch)
	}
	_, t0 := h[0].Dims()
	for b, x := range h {
		r, c := x.Dims()
		if r != dModel || c != t0 {
			return fmt.Errorf("%s: batch %d is (%d x %d), want (%d x %d): %w",
				name, b, r, c, dModel, t0, utils.ErrShapeMismatch)
		}
	}
	return nil
}

// Logits holds one (vocabSize x tgtLen) matrix per batch element.
type Logits []*mat.Dense

// Dims reports the (batch, tgtLen, vocabSize) view of l.
func (l Logits) Dims() (batch, tgtLen, vocab int) {
	if len(l) == 0 {
		return 0, 0, 0
	}
	vocab, tgtLen = l[0].Dims()
	return len(l), tgtLen, vocab
}

// At returns the logit of token v at position t of batch element b.
func (l Logits) At(b, t, v int) float64 {
	return l[b].At(v, t)
}

// Weights are post-softmax attention weights, indexed [batch][head], each (seqQ x seqK).
type Weights [][]*mat.Dense

// Trace collects the attention weights of every layer of one forward pass.
type Trace struct {
	EncoderSelf  []Weights
	DecoderSelf  []Weights
	DecoderCross []Weights
}
