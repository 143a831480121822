package transformer

import (
	"math"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/layernorm"
)

var _ nn.Model = &Attention{}

// Attention is pre-norm multi-head self-attention over one token sequence.
// Every token attends to every other; there is no masking.
type Attention struct {
	nn.BaseModel
	NumHeads      int
	HeadDimension int
	Dropout       float64
	Norm          *layernorm.Model
	QKV           *linear.Model
	Output        *linear.Model
}

func NewAttention(embeddingDimension, numHeads, headDimension int, dropout float64) *Attention {
	inner := numHeads * headDimension
	return &Attention{
		NumHeads:      numHeads,
		HeadDimension: headDimension,
		Dropout:       dropout,
		Norm:          layernorm.New(embeddingDimension),
		QKV:           linear.New(embeddingDimension, 3*inner, linear.BiasGrad(false)),
		Output:        linear.New(inner, embeddingDimension, linear.BiasGrad(false)),
	}
}

func (m *Attention) Init(generator *rand.LockedRand) {
	gain := initializers.Gain(ag.OpIdentity)
	initializers.XavierUniform(m.QKV.W.Value(), gain, generator)
	initializers.XavierUniform(m.Output.W.Value(), gain, generator)
	initializers.Ones(m.Norm.W.Value())
}

// Forward returns the attended tokens together with each head's attention
// distribution, a (tokens x tokens) matrix whose rows are post-softmax.
// Dropout, when active, applies to the mixing weights only; the returned
// distributions are kept intact.
func (m *Attention) Forward(xs []ag.Node) ([]ag.Node, []ag.Node) {
	g := m.Graph()
	projected := m.QKV.Forward(m.Norm.Forward(xs...)...)

	inner := m.NumHeads * m.HeadDimension
	scale := g.Constant(mat.Float(1.0 / math.Sqrt(float64(m.HeadDimension))))

	headOutputs := make([][]ag.Node, len(xs))
	for t := range headOutputs {
		headOutputs[t] = make([]ag.Node, m.NumHeads)
	}
	weights := make([]ag.Node, m.NumHeads)

	for h := 0; h < m.NumHeads; h++ {
		offset := h * m.HeadDimension
		queries := make([]ag.Node, len(xs))
		keys := make([]ag.Node, len(xs))
		values := make([]ag.Node, len(xs))
		for t, p := range projected {
			queries[t] = g.View(p, offset, 0, m.HeadDimension, 1)
			keys[t] = g.View(p, inner+offset, 0, m.HeadDimension, 1)
			values[t] = g.View(p, 2*inner+offset, 0, m.HeadDimension, 1)
		}

		scores := g.Mul(g.ProdScalar(g.Stack(queries...), scale), g.T(g.Stack(keys...)))
		rows := make([]ag.Node, len(xs))
		for t := range rows {
			rows[t] = g.Softmax(g.T(g.RowView(scores, t)))
		}
		attention := g.Stack(rows...)
		weights[h] = attention

		mixing := attention
		if m.Mode() == nn.Training && m.Dropout > 0 {
			mixing = g.Dropout(mixing, mat.Float(m.Dropout))
		}
		mixed := g.Mul(mixing, g.Stack(values...))
		for t := range xs {
			headOutputs[t][h] = g.T(g.RowView(mixed, t))
		}
	}

	out := make([]ag.Node, len(xs))
	for t := range xs {
		out[t] = m.Output.Forward(g.Concat(headOutputs[t]...))[0]
	}
	return out, weights
}
