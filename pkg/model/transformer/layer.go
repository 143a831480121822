package transformer

import (
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
)

var _ nn.Model = &Layer{}

// Layer is one transformer block: self-attention and the position-wise
// feed-forward, each behind a residual connection, followed by the
// distribution perturbation.
type Layer struct {
	nn.BaseModel
	Attention    *Attention
	FeedForward  *FeedForward
	Perturbation *DistributionUncertainty
}

func NewLayer(c Config, rnd *rand.LockedRand) *Layer {
	return &Layer{
		Attention:    NewAttention(c.EmbeddingDimension, c.NumHeads, c.HeadDimension, c.AttentionDropout),
		FeedForward:  NewFeedForward(c.EmbeddingDimension, c.FeedForwardDropout),
		Perturbation: NewDistributionUncertainty(c.EmbeddingDimension, c.PerturbationProbability, c.Epsilon, rnd),
	}
}

func (m *Layer) Init(generator *rand.LockedRand) {
	m.Attention.Init(generator)
	m.FeedForward.Init(generator)
}

// Forward runs the block over a whole batch. Examples stay independent
// through attention and feed-forward; only the final perturbation looks
// across the batch. Attention distributions, indexed [example][head], are
// collected on request.
func (m *Layer) Forward(batch [][]ag.Node, collectWeights bool) ([][]ag.Node, [][]ag.Node) {
	g := m.Graph()
	out := make([][]ag.Node, len(batch))
	var weights [][]ag.Node
	if collectWeights {
		weights = make([][]ag.Node, len(batch))
	}
	for i, tokens := range batch {
		attended, w := m.Attention.Forward(tokens)
		if collectWeights {
			weights[i] = w
		}
		residual := make([]ag.Node, len(tokens))
		for t := range tokens {
			residual[t] = g.Add(attended[t], tokens[t])
		}
		transformed := m.FeedForward.Forward(residual...)
		for t := range residual {
			residual[t] = g.Add(transformed[t], residual[t])
		}
		out[i] = residual
	}
	return m.Perturbation.Forward(out), weights
}
