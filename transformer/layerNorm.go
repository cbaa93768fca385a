package transformer

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/Jourdelune/transformer/utils"
)

// LayerNorm normalises every column (position) over its dModel rows.
type LayerNorm struct {
	D     int
	Eps   float64
	Gamma *mat.Dense // (d x 1)
	Beta  *mat.Dense // (d x 1)
}

func NewLayerNorm(d int, eps float64) *LayerNorm {
	return &LayerNorm{
		D:     d,
		Eps:   eps,
		Gamma: utils.OnesLike(mat.NewDense(d, 1, nil)),
		Beta:  mat.NewDense(d, 1, nil),
	}
}

func (ln *LayerNorm) Forward(X *mat.Dense) *mat.Dense {
	d, T := X.Dims()
	if d != ln.D {
		panic("LayerNorm.Forward: row count does not match D")
	}
	out := mat.NewDense(d, T, nil)
	col := make([]float64, d)
	for t := 0; t < T; t++ {
		mat.Col(col, t, X)
		mu, v := stat.PopMeanVariance(col, nil)
		istd := 1.0 / math.Sqrt(v+ln.Eps)
		for i := 0; i < d; i++ {
			n := (col[i] - mu) * istd
			out.Set(i, t, ln.Gamma.At(i, 0)*n+ln.Beta.At(i, 0))
		}
	}
	return out
}

// ForwardBatch normalises each batch element.
func (ln *LayerNorm) ForwardBatch(x Hidden) Hidden {
	out := make(Hidden, len(x))
	for b := range x {
		out[b] = ln.Forward(x[b])
	}
	return out
}
