package transformer

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/Jourdelune/transformer/mask"
	"github.com/Jourdelune/transformer/utils"
)

// Attention is multi-head scaled dot-product attention. Each head h projects
// with its own (dHead x dModel) matrices; head outputs are stacked row-wise
// and re-projected by Woutput.
type Attention struct {
	H       int
	DModel  int
	DHead   int
	Wquery  []*mat.Dense
	Wkey    []*mat.Dense
	Wvalue  []*mat.Dense
	Woutput *mat.Dense

	workers int
}

func NewAttention(dModel, nHeads int, src rand.Source, workers int) (*Attention, error) {
	if nHeads <= 0 || dModel%nHeads != 0 {
		return nil, fmt.Errorf("dModel %d must be divisible by nHeads %d: %w", dModel, nHeads, utils.ErrConfiguration)
	}
	dHead := dModel / nHeads
	attn := &Attention{
		H:       nHeads,
		DModel:  dModel,
		DHead:   dHead,
		Wquery:  make([]*mat.Dense, nHeads),
		Wkey:    make([]*mat.Dense, nHeads),
		Wvalue:  make([]*mat.Dense, nHeads),
		workers: workers,
	}
	for h := 0; h < nHeads; h++ {
		attn.Wquery[h] = mat.NewDense(dHead, dModel, utils.RandomArray(src, dHead*dModel, float64(dModel)))
		attn.Wkey[h] = mat.NewDense(dHead, dModel, utils.RandomArray(src, dHead*dModel, float64(dModel)))
		attn.Wvalue[h] = mat.NewDense(dHead, dModel, utils.RandomArray(src, dHead*dModel, float64(dModel)))
	}
	attn.Woutput = mat.NewDense(dModel, dModel, utils.RandomArray(src, dModel*dModel, float64(dModel)))
	return attn, nil
}

// Forward attends from q to kv. m may be nil; otherwise it must broadcast to
// (batch, H, seqQ, seqK). The result has q's shape; the weights are returned
// per batch element and head.
func (attn *Attention) Forward(q, kv Hidden, m *mask.Mask) (Hidden, Weights, error) {
	if err := q.check("attention query", attn.DModel); err != nil {
		return nil, nil, err
	}
	if err := kv.check("attention key/value", attn.DModel); err != nil {
		return nil, nil, err
	}
	B, Tq, _ := q.Dims()
	Bk, Tk, _ := kv.Dims()
	if B != Bk {
		return nil, nil, fmt.Errorf("attention: query batch %d != key batch %d: %w", B, Bk, utils.ErrShapeMismatch)
	}
	if m != nil && !m.BroadcastsTo([4]int{B, attn.H, Tq, Tk}) {
		return nil, nil, fmt.Errorf("attention: mask %v does not broadcast to %v: %w",
			m.Shape, [4]int{B, attn.H, Tq, Tk}, utils.ErrShapeMismatch)
	}

	rescale := 1.0 / math.Sqrt(float64(attn.DHead))
	headsCat := make([]*mat.Dense, B)
	weights := make(Weights, B)
	for b := 0; b < B; b++ {
		headsCat[b] = mat.NewDense(attn.DModel, Tq, nil)
		weights[b] = make([]*mat.Dense, attn.H)
	}
	errs := make([]error, B*attn.H)

	work := func(task int) {
		b, h := task/attn.H, task%attn.H
		Q := utils.Dot(attn.Wquery[h], q[b]) // (dHead x Tq)
		K := utils.Dot(attn.Wkey[h], kv[b])  // (dHead x Tk)
		V := utils.Dot(attn.Wvalue[h], kv[b])
		// S = (Q^T K)/sqrt(dHead)
		S := utils.Dot(Q.T(), K)
		S.Scale(rescale, S)
		var masked func(i, j int) bool
		if m != nil {
			masked = func(i, j int) bool { return m.At(b, h, i, j) }
		}
		A := mat.NewDense(Tq, Tk, nil)
		if err := utils.RowSoftmaxMaskedInPlace(A, S, masked); err != nil {
			errs[task] = fmt.Errorf("attention batch %d head %d: %w", b, h, err)
			return
		}
		weights[b][h] = A
		// O = V * A^T, written into this head's rows
		O := utils.Dot(V, A.T())
		base := h * attn.DHead
		headsCat[b].Slice(base, base+attn.DHead, 0, Tq).(*mat.Dense).Copy(O)
	}
	utils.ParallelFor(B*attn.H, attn.workers, work)
	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}

	if utils.Debug {
		rs := utils.RowSums(weights[0][0])
		mn, mx := rs[0], rs[0]
		for _, v := range rs {
			mn = math.Min(mn, v)
			mx = math.Max(mx, v)
		}
		utils.Debugf("Attn: head0 A row-sum min/max = %.4f/%.4f (Tq=%d Tk=%d)", mn, mx, Tq, Tk)
	}

	out := make(Hidden, B)
	for b := 0; b < B; b++ {
		out[b] = utils.Dot(attn.Woutput, headsCat[b])
	}
	return out, weights, nil
}

func (attn *Attention) params(prefix string) []Param {
	var ps []Param
	for h := 0; h < attn.H; h++ {
		ps = append(ps,
			Param{fmt.Sprintf("%s.query.%d", prefix, h), attn.Wquery[h]},
			Param{fmt.Sprintf("%s.key.%d", prefix, h), attn.Wkey[h]},
			Param{fmt.Sprintf("%s.value.%d", prefix, h), attn.Wvalue[h]},
		)
	}
	return append(ps, Param{prefix + ".output", attn.Woutput})
}
