package transformer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/Jourdelune/transformer/mask"
	"github.com/Jourdelune/transformer/utils"
)

type DecoderLayer struct {
	SelfAttn  *Attention
	CrossAttn *Attention
	Mlp       *MLP
	Ln1       *LayerNorm
	Ln2       *LayerNorm
	Ln3       *LayerNorm

	drop *Dropout
}

// Forward runs masked self-attention (tgtMask), cross-attention over enc
// (srcMask only) and the feed-forward block.
func (l *DecoderLayer) Forward(x, enc Hidden, tgtMask, srcMask *mask.Mask) (Hidden, Weights, Weights, error) {
	selfOut, selfW, err := l.SelfAttn.Forward(x, x, tgtMask)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("self-attention: %w", err)
	}
	x = addNorm(l.Ln1, l.drop, x, selfOut)

	crossOut, crossW, err := l.CrossAttn.Forward(x, enc, srcMask)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cross-attention: %w", err)
	}
	x = addNorm(l.Ln2, l.drop, x, crossOut)

	x = addNorm(l.Ln3, l.drop, x, l.Mlp.Forward(x))
	return x, selfW, crossW, nil
}

func (l *DecoderLayer) params(prefix string) []Param {
	ps := l.SelfAttn.params(prefix + ".self_attn")
	ps = append(ps, l.CrossAttn.params(prefix+".cross_attn")...)
	ps = append(ps, l.Mlp.params(prefix+".ffn")...)
	ps = append(ps, l.Ln1.params(prefix+".norm1")...)
	ps = append(ps, l.Ln2.params(prefix+".norm2")...)
	return append(ps, l.Ln3.params(prefix+".norm3")...)
}

// Decoder is a stack of DecoderLayers followed by the dModel -> vocab projection.
type Decoder struct {
	Layers         []*DecoderLayer
	Projection     *mat.Dense // (vocab x dModel)
	ProjectionBias *mat.Dense // (vocab x 1)
}

// Forward decodes x against the encoder output and returns raw logits plus
// the self- and cross-attention weights of every layer.
func (d *Decoder) Forward(x, enc Hidden, tgtMask, srcMask *mask.Mask) (Logits, []Weights, []Weights, error) {
	selfTrace := make([]Weights, 0, len(d.Layers))
	crossTrace := make([]Weights, 0, len(d.Layers))
	for i, layer := range d.Layers {
		var (
			selfW, crossW Weights
			err           error
		)
		x, selfW, crossW, err = layer.Forward(x, enc, tgtMask, srcMask)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("decoder layer %d: %w", i, err)
		}
		selfTrace = append(selfTrace, selfW)
		crossTrace = append(crossTrace, crossW)
	}
	return d.Project(x), selfTrace, crossTrace, nil
}

// Project maps every position to vocabulary logits.
func (d *Decoder) Project(x Hidden) Logits {
	out := make(Logits, len(x))
	for b := range x {
		out[b] = utils.AddBias(utils.Dot(d.Projection, x[b]), d.ProjectionBias)
	}
	return out
}

func (d *Decoder) params(prefix string) []Param {
	var ps []Param
	for i, l := range d.Layers {
		ps = append(ps, l.params(fmt.Sprintf("%s.layers.%d", prefix, i))...)
	}
	return append(ps,
		Param{prefix + ".projection.weight", d.Projection},
		Param{prefix + ".projection.bias", d.ProjectionBias},
	)
}
