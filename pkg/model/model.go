package model

import (
	"fmt"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/layernorm"

	"tabformer/pkg/model/transformer"
)

var _ nn.Model = &Model{}

// Model is an implementation of the FT-Transformer from:
// "Revisiting Deep Learning Models for Tabular Data" - https://arxiv.org/abs/2106.11959
// regularized during training with the feature-statistics perturbation of:
// "Uncertainty Modeling for Out-of-Distribution Generalization" - https://arxiv.org/abs/2202.03958
//
// Every feature column becomes one embedding token; a class token is
// prepended and its final-layer state feeds the output head. The model must
// be reified on a graph before calling Forward.
type Model struct {
	nn.BaseModel
	Config
	CategoricalEmbedder *CategoricalEmbedder
	NumericalEmbedder   *NumericalEmbedder
	ClassToken          nn.Param
	Transformer         *transformer.Model
	OutputNorm          *layernorm.Model
	OutputLayer         *linear.Model
}

// Input is one batch of rows. Categorical holds per-row category codes in
// column order; Continuous holds per-row column vectors of the continuous
// values. A side with no configured columns may be left nil.
type Input struct {
	Categorical [][]int
	Continuous  []mat.Matrix
}

// Output carries one logits vector per row. Attention is only populated by
// ForwardWithAttention and is indexed [layer][row][head].
type Output struct {
	Logits    []ag.Node
	Attention [][][]ag.Node
}

// InputError reports a batch the model cannot evaluate. Sample is -1 when
// the batch is malformed as a whole.
type InputError struct {
	Sample int
	Reason string
}

func (e *InputError) Error() string {
	if e.Sample < 0 {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input: sample %d: %s", e.Sample, e.Reason)
}

// New builds a model from config, or fails with a *ConfigError. The random
// generator drives the perturbation gates and noise at training time and is
// shared by all layers.
func New(config Config, rnd *rand.LockedRand) (*Model, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Model{
		Config:              config,
		CategoricalEmbedder: NewCategoricalEmbedder(config.Categories, config.NumSpecialTokens, config.EmbeddingDimension),
		NumericalEmbedder:   NewNumericalEmbedder(config.NumContinuous, config.EmbeddingDimension),
		ClassToken:          nn.NewParam(mat.NewEmptyVecDense(config.EmbeddingDimension)),
		Transformer: transformer.New(transformer.Config{
			EmbeddingDimension:      config.EmbeddingDimension,
			Depth:                   config.Depth,
			NumHeads:                config.NumHeads,
			HeadDimension:           config.HeadDimension,
			AttentionDropout:        config.AttentionDropout,
			FeedForwardDropout:      config.FeedForwardDropout,
			PerturbationProbability: config.PerturbationProbability,
			Epsilon:                 config.Epsilon,
		}, rnd),
		OutputNorm:  layernorm.New(config.EmbeddingDimension),
		OutputLayer: linear.New(config.EmbeddingDimension, config.OutputDimension),
	}, nil
}

func (m *Model) Init(generator *rand.LockedRand) {
	m.CategoricalEmbedder.Init(generator)
	m.NumericalEmbedder.Init(generator)
	initializers.Normal(m.ClassToken.Value(), 0, 1, generator)
	m.Transformer.Init(generator)
	initializers.Ones(m.OutputNorm.W.Value())
	initializers.XavierUniform(m.OutputLayer.W.Value(), initializers.Gain(ag.OpIdentity), generator)
}

// Forward computes logits for a batch of rows.
func (m *Model) Forward(input Input) (*Output, error) {
	return m.forward(input, false)
}

// ForwardWithAttention computes logits and additionally collects every
// attention distribution of the pass.
func (m *Model) ForwardWithAttention(input Input) (*Output, error) {
	return m.forward(input, true)
}

func (m *Model) forward(input Input, collectWeights bool) (*Output, error) {
	batchSize, err := m.validate(input)
	if err != nil {
		return nil, err
	}

	batch := make([][]ag.Node, batchSize)
	for i := 0; i < batchSize; i++ {
		tokens := make([]ag.Node, 0, m.NumTokens())
		tokens = append(tokens, m.ClassToken)
		if len(m.Categories) > 0 {
			categorical, err := m.CategoricalEmbedder.Encode(input.Categorical[i])
			if err != nil {
				return nil, &InputError{Sample: i, Reason: err.Error()}
			}
			tokens = append(tokens, categorical...)
		}
		if m.NumContinuous > 0 {
			tokens = append(tokens, m.NumericalEmbedder.Encode(input.Continuous[i])...)
		}
		batch[i] = tokens
	}

	encoded, attention := m.Transformer.Forward(batch, collectWeights)

	g := m.Graph()
	logits := make([]ag.Node, batchSize)
	for i, tokens := range encoded {
		pooled := m.OutputNorm.Forward(tokens[0])[0]
		logits[i] = m.OutputLayer.Forward(g.ReLU(pooled))[0]
	}
	return &Output{Logits: logits, Attention: attention}, nil
}

func (m *Model) validate(input Input) (int, error) {
	batchSize := len(input.Categorical)
	if len(m.Categories) == 0 {
		batchSize = len(input.Continuous)
	}
	if batchSize == 0 {
		return 0, &InputError{Sample: -1, Reason: "empty batch"}
	}
	if len(m.Categories) > 0 && m.NumContinuous > 0 && len(input.Continuous) != batchSize {
		return 0, &InputError{Sample: -1, Reason: fmt.Sprintf(
			"batch has %d categorical rows but %d continuous rows", batchSize, len(input.Continuous))}
	}
	for i := 0; i < batchSize; i++ {
		if len(m.Categories) > 0 && len(input.Categorical[i]) != len(m.Categories) {
			return 0, &InputError{Sample: i, Reason: fmt.Sprintf(
				"row has %d categorical features, model expects %d", len(input.Categorical[i]), len(m.Categories))}
		}
		if m.NumContinuous > 0 && (input.Continuous[i] == nil || input.Continuous[i].Rows() != m.NumContinuous) {
			rows := 0
			if input.Continuous[i] != nil {
				rows = input.Continuous[i].Rows()
			}
			return 0, &InputError{Sample: i, Reason: fmt.Sprintf(
				"row has %d continuous features, model expects %d", rows, m.NumContinuous)}
		}
	}
	return batchSize, nil
}
