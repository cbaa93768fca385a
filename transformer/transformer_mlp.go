package transformer

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/Jourdelune/transformer/utils"
)

// MLP is the position-wise feed-forward block: Outputs·act(Hidden·x + b1) + b2.
type MLP struct {
	Inputs, Hiddens, Outputs  int
	HiddenWeights, HiddenBias *mat.Dense
	OutputWeights, OutputBias *mat.Dense

	activation func(i, j int, v float64) float64
}

func NewMLP(dModel, hidden int, activation string, src rand.Source) *MLP {
	act := utils.ReluApply
	if activation == "gelu" {
		act = utils.GeluApply
	}
	return &MLP{
		Inputs:        dModel,
		Hiddens:       hidden,
		Outputs:       dModel,
		HiddenWeights: mat.NewDense(hidden, dModel, utils.RandomArray(src, dModel*hidden, float64(dModel))),
		HiddenBias:    mat.NewDense(hidden, 1, nil),
		OutputWeights: mat.NewDense(dModel, hidden, utils.RandomArray(src, hidden*dModel, float64(hidden))),
		OutputBias:    mat.NewDense(dModel, 1, nil),
		activation:    act,
	}
}

func (mlp *MLP) forward(X *mat.Dense) *mat.Dense {
	hiddenLin := utils.Dot(mlp.HiddenWeights, X)              // (h x T)
	hiddenWithBias := utils.AddBias(hiddenLin, mlp.HiddenBias) // (h x T)
	hiddenOutputs := utils.Apply(mlp.activation, hiddenWithBias)
	finalLin := utils.Dot(mlp.OutputWeights, hiddenOutputs) // (d x T)
	return utils.AddBias(finalLin, mlp.OutputBias)
}

// Forward applies the block to every position of every batch element.
func (mlp *MLP) Forward(x Hidden) Hidden {
	out := make(Hidden, len(x))
	for b := range x {
		out[b] = mlp.forward(x[b])
	}
	return out
}

func (mlp *MLP) params(prefix string) []Param {
	return []Param{
		{prefix + ".hidden.weight", mlp.HiddenWeights},
		{prefix + ".hidden.bias", mlp.HiddenBias},
		{prefix + ".output.weight", mlp.OutputWeights},
		{prefix + ".output.bias", mlp.OutputBias},
	}
}
