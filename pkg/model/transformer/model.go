package transformer

import (
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
)

var _ nn.Model = &Model{}

type Config struct {
	EmbeddingDimension      int
	Depth                   int
	NumHeads                int
	HeadDimension           int
	AttentionDropout        float64
	FeedForwardDropout      float64
	PerturbationProbability float64
	Epsilon                 float64
}

// Model is a stack of identical transformer layers. All layers share one
// random generator for their perturbation gates and noise.
type Model struct {
	nn.BaseModel
	Config
	Layers []*Layer
}

func New(c Config, rnd *rand.LockedRand) *Model {
	layers := make([]*Layer, c.Depth)
	for i := range layers {
		layers[i] = NewLayer(c, rnd)
	}
	return &Model{
		Config: c,
		Layers: layers,
	}
}

func (m *Model) Init(generator *rand.LockedRand) {
	for _, layer := range m.Layers {
		layer.Init(generator)
	}
}

// Forward encodes a batch of token sequences. When collectWeights is set it
// also returns every attention distribution, indexed [layer][example][head];
// otherwise the second return is nil and no collection work is done.
func (m *Model) Forward(batch [][]ag.Node, collectWeights bool) ([][]ag.Node, [][][]ag.Node) {
	var weights [][][]ag.Node
	if collectWeights {
		weights = make([][][]ag.Node, len(m.Layers))
	}
	for i, layer := range m.Layers {
		var w [][]ag.Node
		batch, w = layer.Forward(batch, collectWeights)
		if collectWeights {
			weights[i] = w
		}
	}
	return batch, weights
}
