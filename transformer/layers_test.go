package transformer

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/Jourdelune/transformer/mask"
	"github.com/Jourdelune/transformer/params"
	"github.com/Jourdelune/transformer/utils"
)

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func randomHidden(src uint64, batch, d, T int) Hidden {
	s := utils.NewSource(src)
	h := make(Hidden, batch)
	for b := range h {
		h[b] = mat.NewDense(d, T, utils.RandomArray(s, d*T, 1))
	}
	return h
}

func TestPositionalEncodingBaseCase(t *testing.T) {
	pe := NewPositionalEncoding(8, 50)
	for pos := 0; pos < 50; pos++ {
		if got, want := pe.At(pos, 0), math.Sin(float64(pos)); math.Abs(got-want) > 1e-12 {
			t.Errorf("PE[%d,0] = %g, want %g", pos, got, want)
		}
		if got, want := pe.At(pos, 1), math.Cos(float64(pos)); math.Abs(got-want) > 1e-12 {
			t.Errorf("PE[%d,1] = %g, want %g", pos, got, want)
		}
	}
	// k=1 of dModel 8: pos / 10000^(2/8)
	if got, want := pe.At(3, 2), math.Sin(3/math.Pow(10000, 0.25)); math.Abs(got-want) > 1e-12 {
		t.Errorf("PE[3,2] = %g, want %g", got, want)
	}
}

func TestPositionalEncodingOddWidth(t *testing.T) {
	pe := NewPositionalEncoding(5, 3)
	if got, want := pe.At(2, 4), math.Sin(2/math.Pow(10000, 4.0/5)); math.Abs(got-want) > 1e-12 {
		t.Fatalf("PE[2,4] = %g, want %g", got, want)
	}
}

func TestPositionalEncodingForward(t *testing.T) {
	pe := NewPositionalEncoding(4, 3)
	x := Hidden{mat.NewDense(4, 2, nil), mat.NewDense(4, 2, nil)}
	out, err := pe.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	for b := range out {
		for pos := 0; pos < 2; pos++ {
			for i := 0; i < 4; i++ {
				if out[b].At(i, pos) != pe.At(pos, i) {
					t.Fatalf("batch %d (%d,%d) = %g", b, pos, i, out[b].At(i, pos))
				}
			}
		}
	}
	if x[0].At(0, 1) != 0 {
		t.Fatal("input was modified")
	}
	if _, err := pe.Forward(Hidden{mat.NewDense(4, 4, nil)}); !errors.Is(err, utils.ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestEmbeddingLookup(t *testing.T) {
	e := NewEmbedding(6, 3, utils.NewSource(1))
	out, err := e.Forward([][]int{{5, 0, 5}})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if out[0].At(i, 0) != e.Weight.At(i, 5) || out[0].At(i, 1) != e.Weight.At(i, 0) {
			t.Fatalf("row %d does not match the embedding column", i)
		}
	}
	if !floats.Equal(mat.Col(nil, 0, out[0]), mat.Col(nil, 2, out[0])) {
		t.Fatal("same id gave different vectors")
	}
	if _, err := e.Forward([][]int{{6}}); !errors.Is(err, utils.ErrIndexOutOfRange) {
		t.Fatalf("err = %v, want ErrIndexOutOfRange", err)
	}
}

func TestAttentionMatchesHandComputation(t *testing.T) {
	attn, err := NewAttention(2, 1, utils.NewSource(1), 1)
	if err != nil {
		t.Fatal(err)
	}
	attn.Wquery[0], attn.Wkey[0], attn.Wvalue[0], attn.Woutput = identity(2), identity(2), identity(2), identity(2)

	// columns are positions: x0=(1,0), x1=(0,1), x2=(1,1)
	x := Hidden{mat.NewDense(2, 3, []float64{
		1, 0, 1,
		0, 1, 1,
	})}
	out, w, err := attn.Forward(x, x, mask.Causal(3))
	if err != nil {
		t.Fatal(err)
	}

	s := 1 / math.Sqrt2
	// query 1 sees keys 0,1 with scores x1·x0=0, x1·x1=1
	e0, e1 := math.Exp(0*s), math.Exp(1*s)
	want := []float64{e0 / (e0 + e1), e1 / (e0 + e1), 0}
	if got := w[0][0].RawRowView(1); !floats.EqualApprox(got, want, 1e-12) {
		t.Fatalf("weights row 1 = %v, want %v", got, want)
	}
	if w[0][0].At(0, 0) != 1 {
		t.Fatalf("query 0 must put all weight on key 0, got %v", w[0][0].RawRowView(0))
	}
	// output = weighted sum of value columns
	wantOut := []float64{want[0], want[1]}
	if got := mat.Col(nil, 1, out[0]); !floats.EqualApprox(got, wantOut, 1e-12) {
		t.Fatalf("output col 1 = %v, want %v", got, wantOut)
	}
}

func TestAttentionShapeFollowsQuery(t *testing.T) {
	attn, err := NewAttention(8, 4, utils.NewSource(2), 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, Tk := range []int{1, 3, 7} {
		q := randomHidden(3, 2, 8, 4)
		kv := randomHidden(4, 2, 8, Tk)
		out, w, err := attn.Forward(q, kv, nil)
		if err != nil {
			t.Fatal(err)
		}
		if b, T, d := out.Dims(); b != 2 || T != 4 || d != 8 {
			t.Errorf("Tk=%d: out dims (%d,%d,%d), want (2,4,8)", Tk, b, T, d)
		}
		if r, c := w[1][3].Dims(); r != 4 || c != Tk {
			t.Errorf("Tk=%d: weight dims (%d,%d)", Tk, r, c)
		}
	}
}

func TestAttentionRejectsBadMask(t *testing.T) {
	attn, _ := NewAttention(4, 2, utils.NewSource(2), 1)
	x := randomHidden(1, 1, 4, 3)
	_, _, err := attn.Forward(x, x, mask.Causal(4))
	if !errors.Is(err, utils.ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
	_, _, err = attn.Forward(x, randomHidden(1, 2, 4, 3), nil)
	if !errors.Is(err, utils.ErrShapeMismatch) {
		t.Fatalf("batch mismatch err = %v", err)
	}
	if _, err := NewAttention(10, 3, utils.NewSource(1), 1); !errors.Is(err, utils.ErrConfiguration) {
		t.Fatalf("NewAttention(10,3) err = %v", err)
	}
}

func TestAttentionFullyMaskedRow(t *testing.T) {
	attn, _ := NewAttention(4, 2, utils.NewSource(5), 1)
	x := randomHidden(6, 1, 4, 2)
	m, _ := mask.Padding([][]int{{1, 1}}, 1)
	out, w, err := attn.Forward(x, x, m)
	if err != nil {
		t.Fatal(err)
	}
	for h := range w[0] {
		if floats.Sum(w[0][h].RawRowView(0)) != 0 {
			t.Errorf("head %d: fully masked row has weight", h)
		}
	}
	if err := utils.CheckFinite("out", out[0]); err != nil {
		t.Fatal(err)
	}
}

func TestLayerNormColumns(t *testing.T) {
	ln := NewLayerNorm(6, 1e-5)
	x := randomHidden(7, 1, 6, 4)[0]
	y := ln.Forward(x)
	for tt := 0; tt < 4; tt++ {
		mu, v := stat.PopMeanVariance(mat.Col(nil, tt, y), nil)
		if math.Abs(mu) > 1e-9 || math.Abs(v-1) > 1e-3 {
			t.Errorf("col %d mean %g var %g", tt, mu, v)
		}
	}
}

func TestMLPReLU(t *testing.T) {
	mlp := NewMLP(2, 3, "relu", utils.NewSource(1))
	mlp.HiddenWeights = mat.NewDense(3, 2, []float64{1, 0, -1, 0, 0, 1})
	mlp.HiddenBias = mat.NewDense(3, 1, []float64{0, 0, 0.5})
	mlp.OutputWeights = mat.NewDense(2, 3, []float64{1, 1, 0, 0, 0, 1})
	mlp.OutputBias = mat.NewDense(2, 1, []float64{0, 1})

	out := mlp.Forward(Hidden{mat.NewDense(2, 2, []float64{2, -2, 1, -3})})
	// col 0: x=(2,1) h=relu(2,-2,1.5)=(2,0,1.5) -> (2, 2.5)
	// col 1: x=(-2,-3) h=relu(-2,2,-2.5)=(0,2,0) -> (2, 1)
	want := mat.NewDense(2, 2, []float64{2, 2, 2.5, 1})
	if !mat.EqualApprox(out[0], want, 1e-12) {
		t.Fatalf("got %v, want %v", mat.Formatted(out[0]), mat.Formatted(want))
	}
}

func TestMLPGelu(t *testing.T) {
	relu := NewMLP(4, 8, "relu", utils.NewSource(9))
	gelu := NewMLP(4, 8, "gelu", utils.NewSource(9))
	x := randomHidden(1, 1, 4, 3)
	if mat.EqualApprox(relu.Forward(x)[0], gelu.Forward(x)[0], 1e-12) {
		t.Fatal("activation choice has no effect")
	}
}

func TestSingleEncoderLayerMatchesComposition(t *testing.T) {
	m := newSmall(t, func(c *params.Config) { c.NumLayers = 1 })
	src := [][]int{{2, 3, 4, 1, 1}}
	srcMask, _ := mask.Padding(src, 1)
	x, err := m.embed(src)
	if err != nil {
		t.Fatal(err)
	}

	got, _, err := m.Encoder.Forward(x, srcMask)
	if err != nil {
		t.Fatal(err)
	}

	l := m.Encoder.Layers[0]
	a, _, err := l.SelfAttn.Forward(x, x, srcMask)
	if err != nil {
		t.Fatal(err)
	}
	x1 := l.Ln1.Forward(utils.Add(x[0], a[0]))
	f := l.Mlp.Forward(Hidden{x1})
	want := l.Ln2.Forward(utils.Add(x1, f[0]))

	if !mat.EqualApprox(got[0], want, 1e-12) {
		t.Fatal("encoder output differs from attention+norm, ffn+norm composition")
	}
}

func TestSingleDecoderLayerMatchesComposition(t *testing.T) {
	m := newSmall(t, func(c *params.Config) { c.NumLayers = 1 })
	src := [][]int{{2, 3, 4, 1, 1}}
	tgt := [][]int{{2, 5, 1, 1, 1}}
	srcMask, tgtMask, err := mask.Build(src, tgt, 1)
	if err != nil {
		t.Fatal(err)
	}
	xs, _ := m.embed(src)
	enc, _, err := m.Encoder.Forward(xs, srcMask)
	if err != nil {
		t.Fatal(err)
	}
	y, _ := m.embed(tgt)

	got, _, _, err := m.Decoder.Forward(y, enc, tgtMask, srcMask)
	if err != nil {
		t.Fatal(err)
	}

	l := m.Decoder.Layers[0]
	s, _, _ := l.SelfAttn.Forward(y, y, tgtMask)
	y1 := Hidden{l.Ln1.Forward(utils.Add(y[0], s[0]))}
	c, _, _ := l.CrossAttn.Forward(y1, enc, srcMask)
	y2 := Hidden{l.Ln2.Forward(utils.Add(y1[0], c[0]))}
	f := l.Mlp.Forward(y2)
	y3 := Hidden{l.Ln3.Forward(utils.Add(y2[0], f[0]))}
	want := m.Decoder.Project(y3)

	if !mat.EqualApprox(got[0], want[0], 1e-12) {
		t.Fatal("decoder logits differ from the manual composition")
	}
}
