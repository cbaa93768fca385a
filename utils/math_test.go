package utils

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestRowSoftmaxMasked(t *testing.T) {
	scores := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		1000, 1001, -1000,
		5, 5, 5,
	})
	dst := mat.NewDense(3, 3, nil)
	masked := func(i, j int) bool { return j > i || (i == 2) }
	if err := RowSoftmaxMaskedInPlace(dst, scores, masked); err != nil {
		t.Fatal(err)
	}
	if got := dst.RawRowView(0); !floats.Equal(got, []float64{1, 0, 0}) {
		t.Errorf("row 0 = %v", got)
	}
	e := math.Exp(-1)
	want := []float64{e / (1 + e), 1 / (1 + e), 0}
	if got := dst.RawRowView(1); !floats.EqualApprox(got, want, 1e-12) {
		t.Errorf("row 1 = %v, want %v", got, want)
	}
	if got := dst.RawRowView(2); floats.Sum(got) != 0 {
		t.Errorf("fully masked row = %v, want zeros", got)
	}
}

func TestRowSoftmaxStable(t *testing.T) {
	m := mat.NewDense(1, 2, []float64{1e308, 1e308})
	out, err := RowSoftmax(m)
	if err != nil {
		t.Fatal(err)
	}
	if !floats.EqualApprox(out.RawRowView(0), []float64{0.5, 0.5}, 1e-12) {
		t.Fatalf("got %v", out.RawRowView(0))
	}
}

func TestRowSoftmaxNonFinite(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		m := mat.NewDense(1, 2, []float64{0, bad})
		if _, err := RowSoftmax(m); !errors.Is(err, ErrNumericInstability) {
			t.Errorf("%v: err = %v, want ErrNumericInstability", bad, err)
		}
	}
	// a masked NaN is never read
	m := mat.NewDense(1, 2, []float64{0, math.NaN()})
	dst := mat.NewDense(1, 2, nil)
	if err := RowSoftmaxMaskedInPlace(dst, m, func(i, j int) bool { return j == 1 }); err != nil {
		t.Fatalf("masked NaN reported: %v", err)
	}
}

func TestCheckFinite(t *testing.T) {
	if err := CheckFinite("ok", mat.NewDense(2, 2, []float64{1, 2, 3, 4})); err != nil {
		t.Fatal(err)
	}
	if err := CheckFinite("inf", mat.NewDense(1, 2, []float64{1, math.Inf(-1)})); !errors.Is(err, ErrNumericInstability) {
		t.Fatalf("err = %v", err)
	}
}

func TestAddBiasAndActivations(t *testing.T) {
	got := AddBias(mat.NewDense(2, 2, []float64{1, 2, 3, 4}), mat.NewDense(2, 1, []float64{10, -10}))
	if !mat.Equal(got, mat.NewDense(2, 2, []float64{11, 12, -7, -6})) {
		t.Fatalf("AddBias = %v", mat.Formatted(got))
	}
	if ReluApply(0, 0, -3) != 0 || ReluApply(0, 0, 2) != 2 {
		t.Error("relu")
	}
	if GeluApply(0, 0, 0) != 0 || math.Abs(GeluApply(0, 0, 3)-3) > 0.01 {
		t.Error("gelu")
	}
}

func TestRandomArrayDeterministic(t *testing.T) {
	a := RandomArray(NewSource(7), 100, 4)
	b := RandomArray(NewSource(7), 100, 4)
	if !floats.Equal(a, b) {
		t.Fatal("same seed, different draws")
	}
	if floats.Max(a) > 0.5 || floats.Min(a) < -0.5 {
		t.Fatalf("draws outside ±1/sqrt(4): [%g, %g]", floats.Min(a), floats.Max(a))
	}
}

func TestParallelFor(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 64} {
		var sum atomic.Int64
		seen := make([]int32, 50)
		ParallelFor(50, workers, func(i int) {
			atomic.AddInt32(&seen[i], 1)
			sum.Add(int64(i))
		})
		if sum.Load() != 49*50/2 {
			t.Errorf("workers=%d: sum %d", workers, sum.Load())
		}
		for i, n := range seen {
			if n != 1 {
				t.Errorf("workers=%d: index %d ran %d times", workers, i, n)
			}
		}
	}
}

func TestArgMaxCol(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{0, 9, 5, 1, 2, 3})
	if ArgMaxCol(m, 0) != 1 || ArgMaxCol(m, 1) != 0 {
		t.Fatal("ArgMaxCol")
	}
}
