package transformer

import (
	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/layernorm"
)

var _ nn.Model = &FeedForward{}

// expansionFactor fixes the hidden width of the position-wise block at four
// times the embedding size.
const expansionFactor = 4

// FeedForward is the position-wise block: pre-norm, a gated expansion and a
// projection back to the embedding size.
type FeedForward struct {
	nn.BaseModel
	HiddenDimension int
	Dropout         float64
	Norm            *layernorm.Model
	Expand          *linear.Model
	Project         *linear.Model
}

func NewFeedForward(embeddingDimension int, dropout float64) *FeedForward {
	hidden := expansionFactor * embeddingDimension
	return &FeedForward{
		HiddenDimension: hidden,
		Dropout:         dropout,
		Norm:            layernorm.New(embeddingDimension),
		Expand:          linear.New(embeddingDimension, 2*hidden),
		Project:         linear.New(hidden, embeddingDimension),
	}
}

func (m *FeedForward) Init(generator *rand.LockedRand) {
	gain := initializers.Gain(ag.OpIdentity)
	initializers.XavierUniform(m.Expand.W.Value(), gain, generator)
	initializers.XavierUniform(m.Project.W.Value(), gain, generator)
	initializers.Ones(m.Norm.W.Value())
}

func (m *FeedForward) Forward(xs ...ag.Node) []ag.Node {
	g := m.Graph()
	expanded := m.Expand.Forward(m.Norm.Forward(xs...)...)
	out := make([]ag.Node, len(xs))
	for i, x := range expanded {
		gated := geglu(g, 2*m.HiddenDimension, x)
		if m.Mode() == nn.Training && m.Dropout > 0 {
			gated = g.Dropout(gated, mat.Float(m.Dropout))
		}
		out[i] = m.Project.Forward(gated)[0]
	}
	return out
}

// geglu halves x into value and gate, activating the gate.
// "GLU Variants Improve Transformer" - https://arxiv.org/abs/2002.05202
func geglu(g *ag.Graph, dim int, x ag.Node) ag.Node {
	half := dim / 2
	value := g.View(x, 0, 0, half, 1)
	gate := g.View(x, half, 0, half, 1)
	return g.Prod(value, g.GELU(gate))
}
