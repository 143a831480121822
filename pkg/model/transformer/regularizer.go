package transformer

import (
	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
)

var _ nn.Model = &DistributionUncertainty{}

// DistributionUncertainty is an implementation of:
// "Uncertainty Modeling for Out-of-Distribution Generalization" - https://arxiv.org/abs/2202.03958
//
// During training it occasionally re-samples each example's feature
// statistics from their cross-batch distributions, simulating domain shift.
// At inference time it is the identity.
type DistributionUncertainty struct {
	nn.BaseModel
	EmbeddingDimension int
	Probability        float64
	Eps                float64
	Rand               *rand.LockedRand
}

func NewDistributionUncertainty(embeddingDimension int, probability, eps float64, rnd *rand.LockedRand) *DistributionUncertainty {
	return &DistributionUncertainty{
		EmbeddingDimension: embeddingDimension,
		Probability:        probability,
		Eps:                eps,
		Rand:               rnd,
	}
}

// Forward perturbs a whole batch of token sequences at once, or returns it
// untouched. The gate draws once per batch; a Probability of zero consumes
// no randomness at all. Batches of less than two examples pass through
// since they carry no cross-batch statistics.
func (m *DistributionUncertainty) Forward(batch [][]ag.Node) [][]ag.Node {
	if m.Mode() != nn.Training || m.Probability <= 0 || len(batch) < 2 {
		return batch
	}
	if float64(m.Rand.Float()) > m.Probability {
		return batch
	}
	g := m.Graph()

	means := make([]ag.Node, len(batch))
	stds := make([]ag.Node, len(batch))
	for i, tokens := range batch {
		means[i], stds[i] = m.meanStd(tokens)
	}
	_, meanUncertainty := m.meanStd(means)
	_, stdUncertainty := m.meanStd(stds)

	out := make([][]ag.Node, len(batch))
	for i, tokens := range batch {
		beta := g.Add(means[i], g.Prod(m.noise(), meanUncertainty))
		gamma := g.Add(stds[i], g.Prod(m.noise(), stdUncertainty))
		perturbed := make([]ag.Node, len(tokens))
		for t, x := range tokens {
			normalized := g.Div(g.Sub(x, means[i]), stds[i])
			perturbed[t] = g.Add(g.Prod(normalized, gamma), beta)
		}
		out[i] = perturbed
	}
	return out
}

// meanStd returns the element-wise mean and standard deviation of xs,
// using the unbiased variance with Eps added before the square root.
func (m *DistributionUncertainty) meanStd(xs []ag.Node) (ag.Node, ag.Node) {
	g := m.Graph()
	var sum ag.Node
	for _, x := range xs {
		sum = g.Add(sum, x)
	}
	mean := g.DivScalar(sum, g.Constant(mat.Float(len(xs))))
	var squares ag.Node
	for _, x := range xs {
		squares = g.Add(squares, g.Square(g.Sub(x, mean)))
	}
	variance := g.DivScalar(squares, g.Constant(mat.Float(len(xs)-1)))
	return mean, g.Sqrt(g.AddScalar(variance, g.Constant(mat.Float(m.Eps))))
}

// noise draws a fresh standard normal vector, sized after the embeddings.
func (m *DistributionUncertainty) noise() ag.Node {
	v := mat.NewEmptyVecDense(m.EmbeddingDimension)
	initializers.Normal(v, 0, 1, m.Rand)
	return m.Graph().NewVariable(v, false)
}
