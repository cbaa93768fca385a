package utils

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// NewSource returns the deterministic source every weight and dropout draw comes from.
func NewSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// RandomArray draws size values from U(-1/sqrt(v), 1/sqrt(v)), v being the fan-in.
func RandomArray(src rand.Source, size int, v float64) []float64 {
	dist := distuv.Uniform{
		Min: -1 / math.Sqrt(v+1e-12),
		Max: 1 / math.Sqrt(v+1e-12),
		Src: src,
	}
	out := make([]float64, size)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

// NormalArray draws size values from N(0, 1).
func NormalArray(src rand.Source, size int) []float64 {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	out := make([]float64, size)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

func OnesLike(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	data := make([]float64, r*c)
	for i := range data {
		data[i] = 1
	}
	return mat.NewDense(r, c, data)
}

// ArgMaxCol returns the row index of the largest value in column j.
func ArgMaxCol(m mat.Matrix, j int) int {
	r, _ := m.Dims()
	best, bestV := 0, math.Inf(-1)
	for i := 0; i < r; i++ {
		if v := m.At(i, j); v > bestV {
			best, bestV = i, v
		}
	}
	return best
}
