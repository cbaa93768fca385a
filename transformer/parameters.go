package transformer

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/Jourdelune/transformer/utils"
)

// Param is one named weight tensor owned by the model. Value is the live
// matrix, not a copy.
type Param struct {
	Name  string
	Value *mat.Dense
}

func (ln *LayerNorm) params(prefix string) []Param {
	return []Param{
		{prefix + ".gamma", ln.Gamma},
		{prefix + ".beta", ln.Beta},
	}
}

// Params lists every learned tensor in a stable order.
func (t *Transformer) Params() []Param {
	ps := []Param{{"embedding.weight", t.Embedding.Weight}}
	ps = append(ps, t.Encoder.params("encoder")...)
	return append(ps, t.Decoder.params("decoder")...)
}

// LoadParams copies values into the model's tensors. Every name the model owns
// must be present with a matching shape, and no unknown name may appear.
// It must not run concurrently with Forward.
func (t *Transformer) LoadParams(values map[string]*mat.Dense) error {
	own := t.Params()
	known := make(map[string]bool, len(own))
	for _, p := range own {
		known[p.Name] = true
		v, ok := values[p.Name]
		if !ok || v == nil {
			return fmt.Errorf("LoadParams: missing %q: %w", p.Name, utils.ErrShapeMismatch)
		}
		r, c := p.Value.Dims()
		vr, vc := v.Dims()
		if r != vr || c != vc {
			return fmt.Errorf("LoadParams: %q is (%d x %d), model has (%d x %d): %w",
				p.Name, vr, vc, r, c, utils.ErrShapeMismatch)
		}
	}
	var unknown []string
	for name := range values {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("LoadParams: unknown tensors %v: %w", unknown, utils.ErrShapeMismatch)
	}
	for _, p := range own {
		p.Value.Copy(values[p.Name])
	}
	return nil
}
