package transformer

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/Jourdelune/transformer/utils"
)

// Embedding maps token ids to columns of Weight (dModel x vocabSize).
type Embedding struct {
	Weight *mat.Dense
}

func NewEmbedding(vocabSize, dModel int, src rand.Source) *Embedding {
	return &Embedding{Weight: mat.NewDense(dModel, vocabSize, utils.NormalArray(src, dModel*vocabSize))}
}

// Forward looks every id up. Rows of tokens must share one length.
func (e *Embedding) Forward(tokens [][]int) (Hidden, error) {
	dModel, vocab := e.Weight.Dims()
	if len(tokens) == 0 {
		return nil, fmt.Errorf("embedding: empty batch: %w", utils.ErrShapeMismatch)
	}
	T := len(tokens[0])
	out := make(Hidden, len(tokens))
	col := make([]float64, dModel)
	for b, row := range tokens {
		if len(row) != T {
			return nil, fmt.Errorf("embedding: row %d has length %d, want %d: %w", b, len(row), T, utils.ErrShapeMismatch)
		}
		x := mat.NewDense(dModel, T, nil)
		for t, id := range row {
			if id < 0 || id >= vocab {
				return nil, fmt.Errorf("embedding: token %d at (%d,%d) outside [0,%d): %w",
					id, b, t, vocab, utils.ErrIndexOutOfRange)
			}
			x.SetCol(t, mat.Col(col, id, e.Weight))
		}
		out[b] = x
	}
	return out, nil
}
