package transformer

import (
	"fmt"

	"github.com/Jourdelune/transformer/mask"
	"github.com/Jourdelune/transformer/utils"
)

// addNorm is the post-norm residual step: ln(x + drop(y)).
func addNorm(ln *LayerNorm, drop *Dropout, x, y Hidden) Hidden {
	y = drop.Forward(y)
	sum := make(Hidden, len(x))
	for b := range x {
		sum[b] = utils.Add(x[b], y[b])
	}
	return ln.ForwardBatch(sum)
}

type EncoderLayer struct {
	SelfAttn *Attention
	Mlp      *MLP
	Ln1      *LayerNorm
	Ln2      *LayerNorm

	drop *Dropout
}

// Forward runs self-attention then the feed-forward block, each followed by
// dropout, residual add and LayerNorm.
func (l *EncoderLayer) Forward(x Hidden, srcMask *mask.Mask) (Hidden, Weights, error) {
	attnOut, w, err := l.SelfAttn.Forward(x, x, srcMask)
	if err != nil {
		return nil, nil, err
	}
	x = addNorm(l.Ln1, l.drop, x, attnOut)
	x = addNorm(l.Ln2, l.drop, x, l.Mlp.Forward(x))
	return x, w, nil
}

func (l *EncoderLayer) params(prefix string) []Param {
	ps := l.SelfAttn.params(prefix + ".self_attn")
	ps = append(ps, l.Mlp.params(prefix+".ffn")...)
	ps = append(ps, l.Ln1.params(prefix+".norm1")...)
	return append(ps, l.Ln2.params(prefix+".norm2")...)
}

// Encoder is a stack of independently parameterised EncoderLayers.
type Encoder struct {
	Layers []*EncoderLayer
}

func (e *Encoder) Forward(x Hidden, srcMask *mask.Mask) (Hidden, []Weights, error) {
	trace := make([]Weights, 0, len(e.Layers))
	for i, layer := range e.Layers {
		var (
			w   Weights
			err error
		)
		x, w, err = layer.Forward(x, srcMask)
		if err != nil {
			return nil, nil, fmt.Errorf("encoder layer %d: %w", i, err)
		}
		trace = append(trace, w)
	}
	return x, trace, nil
}

func (e *Encoder) params(prefix string) []Param {
	var ps []Param
	for i, l := range e.Layers {
		ps = append(ps, l.params(fmt.Sprintf("%s.layers.%d", prefix, i))...)
	}
	return ps
}
