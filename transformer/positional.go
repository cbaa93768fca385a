package transformer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/Jourdelune/transformer/utils"
)

// PositionalEncoding holds the fixed sinusoidal table, stored (dModel x maxSeqLen)
// so that position t lines up with column t of a Hidden matrix.
//
//	PE(pos, 2k)   = sin(pos / 10000^(2k/dModel))
//	PE(pos, 2k+1) = cos(pos / 10000^(2k/dModel))
type PositionalEncoding struct {
	MaxSeqLen int
	DModel    int
	table     *mat.Dense
}

func NewPositionalEncoding(dModel, maxSeqLen int) *PositionalEncoding {
	pe := mat.NewDense(dModel, maxSeqLen, nil)
	for pos := 0; pos < maxSeqLen; pos++ {
		for i := 0; i < dModel; i += 2 {
			angle := float64(pos) / math.Pow(10000, float64(i)/float64(dModel))
			pe.Set(i, pos, math.Sin(angle))
			if i+1 < dModel {
				pe.Set(i+1, pos, math.Cos(angle))
			}
		}
	}
	return &PositionalEncoding{MaxSeqLen: maxSeqLen, DModel: dModel, table: pe}
}

// At returns PE[pos, i].
func (pe *PositionalEncoding) At(pos, i int) float64 {
	return pe.table.At(i, pos)
}

// Forward returns x + PE[0:seqLen] for every batch element.
func (pe *PositionalEncoding) Forward(x Hidden) (Hidden, error) {
	if err := x.check("positional encoding", pe.DModel); err != nil {
		return nil, err
	}
	_, T, _ := x.Dims()
	if T > pe.MaxSeqLen {
		return nil, fmt.Errorf("positional encoding: sequence length %d exceeds max_seq_len %d: %w",
			T, pe.MaxSeqLen, utils.ErrShapeMismatch)
	}
	window := pe.table.Slice(0, pe.DModel, 0, T)
	out := make(Hidden, len(x))
	for b := range x {
		out[b] = utils.Add(x[b], window)
	}
	return out, nil
}
