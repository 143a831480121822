package pkg

import (
	"fmt"

	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/rs/zerolog/log"

	"tabformer/pkg/model"
)

// Describe reports the architecture implied by config without running it:
// the token layout, the category offsets and per-component parameter counts.
func Describe(config model.Config) error {
	m, err := model.New(config, rand.NewLockedRand(0))
	if err != nil {
		return fmt.Errorf("error building model: %w", err)
	}

	log.Info().
		Int("Tokens", m.NumTokens()).
		Int("CategoricalColumns", len(config.Categories)).
		Int("ContinuousColumns", config.NumContinuous).
		Ints("CategoryOffsets", m.CategoricalEmbedder.Offsets).
		Msg("")

	total := 0
	for _, component := range parameterSizes(m) {
		log.Info().Str("Component", component.name).Int("Parameters", component.count).Msg("")
		total += component.count
	}
	log.Info().Int("TotalParameters", total).Msg("")
	return nil
}

type componentSize struct {
	name  string
	count int
}

func parameterSizes(m *model.Model) []componentSize {
	sizes := []componentSize{
		{"CategoryEmbeddings", paramSize(m.CategoricalEmbedder.Table)},
		{"NumericalEmbedder", paramSize(m.NumericalEmbedder.W) + paramSize(m.NumericalEmbedder.B)},
		{"ClassToken", paramSize(m.ClassToken)},
	}
	for i, layer := range m.Transformer.Layers {
		count := paramSize(layer.Attention.QKV.W) + paramSize(layer.Attention.QKV.B) +
			paramSize(layer.Attention.Output.W) + paramSize(layer.Attention.Output.B) +
			paramSize(layer.Attention.Norm.W) + paramSize(layer.Attention.Norm.B) +
			paramSize(layer.FeedForward.Expand.W) + paramSize(layer.FeedForward.Expand.B) +
			paramSize(layer.FeedForward.Project.W) + paramSize(layer.FeedForward.Project.B) +
			paramSize(layer.FeedForward.Norm.W) + paramSize(layer.FeedForward.Norm.B)
		sizes = append(sizes, componentSize{fmt.Sprintf("Layer%d", i), count})
	}
	return append(sizes,
		componentSize{"OutputNorm", paramSize(m.OutputNorm.W) + paramSize(m.OutputNorm.B)},
		componentSize{"OutputLayer", paramSize(m.OutputLayer.W) + paramSize(m.OutputLayer.B)},
	)
}

func paramSize(p nn.Param) int {
	return p.Value().Rows() * p.Value().Columns()
}
