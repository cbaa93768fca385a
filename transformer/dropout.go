package transformer

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Jourdelune/transformer/utils"
)

// Dropout zeroes activations with probability Rate and rescales survivors by
// 1/(1-Rate). It is the identity unless training is switched on.
type Dropout struct {
	Rate     float64
	training atomic.Bool

	mu   sync.Mutex
	keep distuv.Bernoulli
}

func NewDropout(rate float64, src rand.Source) *Dropout {
	return &Dropout{Rate: rate, keep: distuv.Bernoulli{P: 1 - rate, Src: src}}
}

func (d *Dropout) SetTraining(on bool) { d.training.Store(on) }

func (d *Dropout) Training() bool { return d.training.Load() }

// Forward returns x itself when inactive; otherwise a fresh, masked copy.
func (d *Dropout) Forward(x Hidden) Hidden {
	if d == nil || !d.training.Load() || d.Rate == 0 {
		return x
	}
	scale := 1 / (1 - d.Rate)
	out := make(Hidden, len(x))
	d.mu.Lock()
	defer d.mu.Unlock()
	for b := range x {
		r, c := x[b].Dims()
		keep := mat.NewDense(r, c, nil)
		keep.Apply(func(i, j int, v float64) float64 { return d.keep.Rand() }, keep)
		out[b] = utils.Scale(scale, utils.Multiply(x[b], keep))
	}
	return out
}
