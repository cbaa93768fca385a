// Package transformer is the forward core of an encoder-decoder Transformer.
//
// All activations are gonum matrices laid out (dModel x seqLen) per batch
// element. Construction validates the configuration and draws every weight
// from a seeded source, so two models built from one Config are identical.
// Forward keeps no state between calls and may run concurrently on one model
// while its parameters are not being replaced.
package transformer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/Jourdelune/transformer/backend"
	"github.com/Jourdelune/transformer/mask"
	"github.com/Jourdelune/transformer/params"
	"github.com/Jourdelune/transformer/utils"
)

type Transformer struct {
	Config    params.Config
	Embedding *Embedding
	PosEnc    *PositionalEncoding
	Encoder   *Encoder
	Decoder   *Decoder

	drop    *Dropout
	backend backend.Backend
}

// New validates cfg, selects the compute backend and initialises all weights.
func New(cfg params.Config) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	be, err := backend.Lookup(cfg.Device, cfg.Workers)
	if err != nil {
		return nil, err
	}
	if err := be.Use(); err != nil {
		return nil, err
	}

	src := utils.NewSource(cfg.Seed)
	drop := NewDropout(cfg.DropoutRate, utils.NewSource(cfg.Seed+1))

	t := &Transformer{
		Config:    cfg,
		Embedding: NewEmbedding(cfg.VocabSize, cfg.DModel, src),
		PosEnc:    NewPositionalEncoding(cfg.DModel, cfg.MaxSeqLen),
		Encoder:   &Encoder{Layers: make([]*EncoderLayer, cfg.NumLayers)},
		Decoder:   &Decoder{Layers: make([]*DecoderLayer, cfg.NumLayers)},
		drop:      drop,
		backend:   be,
	}

	for i := range cfg.NumLayers {
		selfAttn, err := NewAttention(cfg.DModel, cfg.NumHeads, src, be.Workers)
		if err != nil {
			return nil, err
		}
		t.Encoder.Layers[i] = &EncoderLayer{
			SelfAttn: selfAttn,
			Mlp:      NewMLP(cfg.DModel, cfg.DFFN, cfg.Activation, src),
			Ln1:      NewLayerNorm(cfg.DModel, cfg.LayerNormEps),
			Ln2:      NewLayerNorm(cfg.DModel, cfg.LayerNormEps),
			drop:     drop,
		}
	}
	for i := range cfg.NumLayers {
		selfAttn, err := NewAttention(cfg.DModel, cfg.NumHeads, src, be.Workers)
		if err != nil {
			return nil, err
		}
		crossAttn, err := NewAttention(cfg.DModel, cfg.NumHeads, src, be.Workers)
		if err != nil {
			return nil, err
		}
		t.Decoder.Layers[i] = &DecoderLayer{
			SelfAttn:  selfAttn,
			CrossAttn: crossAttn,
			Mlp:       NewMLP(cfg.DModel, cfg.DFFN, cfg.Activation, src),
			Ln1:       NewLayerNorm(cfg.DModel, cfg.LayerNormEps),
			Ln2:       NewLayerNorm(cfg.DModel, cfg.LayerNormEps),
			Ln3:       NewLayerNorm(cfg.DModel, cfg.LayerNormEps),
			drop:      drop,
		}
	}
	t.Decoder.Projection = mat.NewDense(cfg.VocabSize, cfg.DModel,
		utils.RandomArray(src, cfg.VocabSize*cfg.DModel, float64(cfg.DModel)))
	t.Decoder.ProjectionBias = mat.NewDense(cfg.VocabSize, 1, nil)

	utils.Debugf("transformer: vocab=%d dModel=%d layers=%d heads=%d dFFN=%d maxSeqLen=%d device=%s",
		cfg.VocabSize, cfg.DModel, cfg.NumLayers, cfg.NumHeads, cfg.DFFN, cfg.MaxSeqLen, be.Name)
	return t, nil
}

// SetTraining switches dropout on or off. Models start in inference mode.
func (t *Transformer) SetTraining(on bool) { t.drop.SetTraining(on) }

// Backend reports the compute backend the model was built for.
func (t *Transformer) Backend() backend.Backend { return t.backend }

// Forward maps src (batch, srcLen) and tgt (batch, tgtLen) token ids to raw
// logits of shape (batch, tgtLen, vocabSize).
func (t *Transformer) Forward(src, tgt [][]int) (Logits, error) {
	logits, _, err := t.ForwardTrace(src, tgt)
	return logits, err
}

// ForwardTrace is Forward that also returns every layer's attention weights.
func (t *Transformer) ForwardTrace(src, tgt [][]int) (Logits, *Trace, error) {
	if err := t.checkLengths("src", src); err != nil {
		return nil, nil, err
	}
	if err := t.checkLengths("tgt", tgt); err != nil {
		return nil, nil, err
	}
	srcMask, tgtMask, err := mask.Build(src, tgt, t.Config.PadID)
	if err != nil {
		return nil, nil, err
	}

	x, err := t.embed(src)
	if err != nil {
		return nil, nil, fmt.Errorf("src: %w", err)
	}
	encOut, encTrace, err := t.Encoder.Forward(x, srcMask)
	if err != nil {
		return nil, nil, err
	}

	y, err := t.embed(tgt)
	if err != nil {
		return nil, nil, fmt.Errorf("tgt: %w", err)
	}
	logits, selfTrace, crossTrace, err := t.Decoder.Forward(y, encOut, tgtMask, srcMask)
	if err != nil {
		return nil, nil, err
	}
	for b := range logits {
		if err := utils.CheckFinite(fmt.Sprintf("logits[%d]", b), logits[b]); err != nil {
			return nil, nil, err
		}
	}
	return logits, &Trace{EncoderSelf: encTrace, DecoderSelf: selfTrace, DecoderCross: crossTrace}, nil
}

// embed = dropout(posenc(embedding(tokens))).
func (t *Transformer) embed(tokens [][]int) (Hidden, error) {
	x, err := t.Embedding.Forward(tokens)
	if err != nil {
		return nil, err
	}
	x, err = t.PosEnc.Forward(x)
	if err != nil {
		return nil, err
	}
	return t.drop.Forward(x), nil
}

func (t *Transformer) checkLengths(name string, tokens [][]int) error {
	if len(tokens) == 0 {
		return fmt.Errorf("%s: empty batch: %w", name, utils.ErrShapeMismatch)
	}
	for b, row := range tokens {
		if len(row) == 0 || len(row) > t.Config.MaxSeqLen {
			return fmt.Errorf("%s: row %d has length %d, want 1..%d: %w",
				name, b, len(row), t.Config.MaxSeqLen, utils.ErrShapeMismatch)
		}
	}
	return nil
}
