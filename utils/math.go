package utils

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Matrix helpers shared by the layers. All of them allocate their output,
// so inputs are never written to.

// r = rows of matrix
// c = columns of matrix
// o = output
// m = matrix input number 1
// n = matrix input number 2

func Dot(m, n mat.Matrix) *mat.Dense {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Mul(m, n)
	return o
}

func Apply(fn func(i, j int, v float64) float64, m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Apply(fn, m)
	return o
}

func Scale(s float64, m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Scale(s, m)
	return o
}

func Multiply(m, n mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.MulElem(m, n)
	return o
}

func Add(m, n mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Add(m, n)
	return o
}

// AddBias adds the (r x 1) bias to every column of m.
func AddBias(m, bias *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	rb, cb := bias.Dims()
	if rb != r || cb != 1 {
		panic("addBias: bias must be (r x 1)")
	}
	out := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			out.Set(i, j, m.At(i, j)+bias.At(i, 0))
		}
	}
	return out
}

// RowSums returns per-row sums.
func RowSums(m *mat.Dense) []float64 {
	r, _ := m.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		out[i] = floats.Sum(m.RawRowView(i))
	}
	return out
}

// -------- Activations --------

func ReluApply(i, j int, x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// gelu(x) = 0.5 * x * (1 + tanh( sqrt(2/pi) * (x + 0.044715*x^3) ))
func GeluApply(i, j int, x float64) float64 {
	const k = 0.7978845608028654 // sqrt(2/pi)
	t := k * (x + 0.044715*x*x*x)
	return 0.5 * x * (1.0 + math.Tanh(t))
}

// ---------- Softmax ----------

// RowSoftmaxMaskedInPlace writes the row-wise softmax of m into dst, skipping
// every (i, j) for which masked reports true. Masked entries get exactly 0 and
// a row with no visible entry becomes all zeros. The max of the visible
// entries is subtracted before exponentiation. dst may alias m.
func RowSoftmaxMaskedInPlace(dst, m *mat.Dense, masked func(i, j int) bool) error {
	r, c := m.Dims()
	if dr, dc := dst.Dims(); dr != r || dc != c {
		panic("RowSoftmaxMaskedInPlace: dst shape mismatch")
	}
	for i := 0; i < r; i++ {
		src := m.RawRowView(i)
		row := dst.RawRowView(i)
		mx := math.Inf(-1)
		visible := false
		for j, v := range src {
			if masked != nil && masked(i, j) {
				continue
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("score (%d,%d) = %v: %w", i, j, v, ErrNumericInstability)
			}
			if v > mx {
				mx = v
			}
			visible = true
		}
		if !visible {
			for j := range row {
				row[j] = 0
			}
			continue
		}
		sum := 0.0
		for j := range row {
			if masked != nil && masked(i, j) {
				row[j] = 0
				continue
			}
			e := math.Exp(src[j] - mx)
			row[j] = e
			sum += e
		}
		floats.Scale(1/sum, row)
	}
	return nil
}

// RowSoftmax applies an unmasked softmax to each row.
func RowSoftmax(m *mat.Dense) (*mat.Dense, error) {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	if err := RowSoftmaxMaskedInPlace(out, m, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckFinite reports the first NaN or Inf in m.
func CheckFinite(name string, m *mat.Dense) error {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		if floats.HasNaN(row) {
			return fmt.Errorf("%s: NaN in row %d: %w", name, i, ErrNumericInstability)
		}
		for j, v := range row {
			if math.IsInf(v, 0) {
				return fmt.Errorf("%s: Inf at (%d,%d): %w", name, i, j, ErrNumericInstability)
			}
		}
	}
	return nil
}
