package model

import (
	"errors"
	"testing"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/stretchr/testify/require"
)

const testBatchSize = 4

func TestModel_Forward(t *testing.T) {

	tests := []struct {
		categories      []int
		numContinuous   int
		depth           int
		numHeads        int
		outputDimension int
	}{
		{
			categories:      []int{2, 3},
			numContinuous:   2,
			depth:           2,
			numHeads:        2,
			outputDimension: 1,
		},
		{
			categories:      nil,
			numContinuous:   3,
			depth:           1,
			numHeads:        4,
			outputDimension: 2,
		},
		{
			categories:      []int{4},
			numContinuous:   0,
			depth:           3,
			numHeads:        1,
			outputDimension: 3,
		},
	}

	for _, tt := range tests {
		config := validConfig()
		config.Categories = tt.categories
		config.NumContinuous = tt.numContinuous
		config.Depth = tt.depth
		config.NumHeads = tt.numHeads
		config.OutputDimension = tt.outputDimension

		rndGen := rand.NewLockedRand(42)
		m, err := New(config, rndGen)
		require.NoError(t, err)
		m.Init(rndGen)

		g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
		proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, m).(*Model)

		result, err := proc.Forward(testInput(config, testBatchSize))
		require.NoError(t, err)
		require.Equal(t, testBatchSize, len(result.Logits))
		for _, logits := range result.Logits {
			require.Equal(t, tt.outputDimension, logits.Value().Rows())
			require.Equal(t, 1, logits.Value().Columns())
		}
		require.Nil(t, result.Attention)
	}

}

func TestModel_ForwardWithAttention(t *testing.T) {

	config := validConfig()
	rndGen := rand.NewLockedRand(42)
	m, err := New(config, rndGen)
	require.NoError(t, err)
	m.Init(rndGen)

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, m).(*Model)

	result, err := proc.ForwardWithAttention(testInput(config, testBatchSize))
	require.NoError(t, err)
	require.Equal(t, config.Depth, len(result.Attention))
	for _, samples := range result.Attention {
		require.Equal(t, testBatchSize, len(samples))
		for _, heads := range samples {
			require.Equal(t, config.NumHeads, len(heads))
			for _, attention := range heads {
				requireAttentionDistribution(t, attention.Value(), config.NumTokens())
			}
		}
	}

}

// Every row of an attention matrix is a probability distribution over the
// keys: non-negative and summing to one.
func requireAttentionDistribution(t *testing.T, attention mat.Matrix, numTokens int) {
	require.Equal(t, numTokens, attention.Rows())
	require.Equal(t, numTokens, attention.Columns())
	for q := 0; q < attention.Rows(); q++ {
		sum := 0.0
		for k := 0; k < attention.Columns(); k++ {
			w := float64(attention.At(q, k))
			require.GreaterOrEqual(t, w, 0.0)
			sum += w
		}
		require.InDelta(t, 1.0, sum, 1e-4)
	}
}

func TestModel_New_Errors(t *testing.T) {

	badConfigs := []func(*Config){
		func(c *Config) { c.Categories = []int{2, 0} },
		func(c *Config) { c.Categories = nil; c.NumContinuous = 0 },
		func(c *Config) { c.Depth = -1 },
	}

	for _, mutate := range badConfigs {
		config := validConfig()
		mutate(&config)
		_, err := New(config, rand.NewLockedRand(42))
		require.Error(t, err)
		var configErr *ConfigError
		require.True(t, errors.As(err, &configErr))
	}

}

func TestModel_Forward_InputErrors(t *testing.T) {

	config := validConfig()
	rndGen := rand.NewLockedRand(42)
	m, err := New(config, rndGen)
	require.NoError(t, err)
	m.Init(rndGen)

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, m).(*Model)

	good := testInput(config, 2)

	tests := []func(Input) Input{
		// empty batch
		func(Input) Input { return Input{} },
		// categorical width mismatch
		func(in Input) Input {
			in.Categorical = [][]int{{0}, {0}}
			return in
		},
		// continuous width mismatch
		func(in Input) Input {
			in.Continuous = []mat.Matrix{mat.NewEmptyVecDense(1), mat.NewEmptyVecDense(1)}
			return in
		},
		// mismatched batch sides
		func(in Input) Input {
			in.Continuous = in.Continuous[:1]
			return in
		},
		// out-of-range category code
		func(in Input) Input {
			in.Categorical = [][]int{{0, 3}, {0, 0}}
			return in
		},
	}

	for _, corrupt := range tests {
		_, err := proc.Forward(corrupt(good))
		require.Error(t, err)
		var inputErr *InputError
		require.True(t, errors.As(err, &inputErr))
	}

}

// Two inference passes over the same parameters and inputs must agree
// exactly: nothing random is active outside of training mode.
func TestModel_Forward_Deterministic(t *testing.T) {

	config := Config{
		Categories:         []int{2, 2},
		NumContinuous:      1,
		EmbeddingDimension: 8,
		Depth:              1,
		NumHeads:           2,
		HeadDimension:      4,
		OutputDimension:    1,
		NumSpecialTokens:   2,
		Epsilon:            1e-6,
	}
	rndGen := rand.NewLockedRand(42)
	m, err := New(config, rndGen)
	require.NoError(t, err)
	m.Init(rndGen)

	input := Input{}
	for i := 0; i < testBatchSize; i++ {
		input.Categorical = append(input.Categorical, []int{0, 0})
		input.Continuous = append(input.Continuous, mat.NewInitVecDense(1, 1.0))
	}

	run := func() [][]float32 {
		g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
		defer g.Clear()
		proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, m).(*Model)
		result, err := proc.Forward(input)
		require.NoError(t, err)
		require.Equal(t, testBatchSize, len(result.Logits))
		logits := make([][]float32, len(result.Logits))
		for i, l := range result.Logits {
			require.Equal(t, 1, l.Value().Rows())
			logits[i] = append([]float32{}, l.Value().Data()...)
		}
		return logits
	}

	require.Equal(t, run(), run())

}

// Swapping two continuous columns together with their embedding parameters
// relocates their tokens but leaves the class-token logits unchanged: each
// column is an independent affine map.
func TestModel_ContinuousColumnPermutation(t *testing.T) {

	config := validConfig()
	buildModel := func() *Model {
		rndGen := rand.NewLockedRand(42)
		m, err := New(config, rndGen)
		require.NoError(t, err)
		m.Init(rndGen)
		return m
	}

	original := buildModel()
	permuted := buildModel()
	swapRows(permuted.NumericalEmbedder.W.Value(), 0, 1)
	swapRows(permuted.NumericalEmbedder.B.Value(), 0, 1)

	input := testInput(config, testBatchSize)
	swappedInput := testInput(config, testBatchSize)
	for _, values := range swappedInput.Continuous {
		v0, v1 := values.At(0, 0), values.At(1, 0)
		values.Set(0, 0, v1)
		values.Set(1, 0, v0)
	}

	forward := func(m *Model, in Input) []ag.Node {
		g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
		proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, m).(*Model)
		result, err := proc.Forward(in)
		require.NoError(t, err)
		return result.Logits
	}

	originalLogits := forward(original, input)
	permutedLogits := forward(permuted, swappedInput)
	require.Equal(t, len(originalLogits), len(permutedLogits))
	for i := range originalLogits {
		a, b := originalLogits[i].Value().Data(), permutedLogits[i].Value().Data()
		require.Equal(t, len(a), len(b))
		for j := range a {
			require.InDelta(t, a[j], b[j], 1e-4)
		}
	}

}

func swapRows(m mat.Matrix, r1, r2 int) {
	for c := 0; c < m.Columns(); c++ {
		v1, v2 := m.At(r1, c), m.At(r2, c)
		m.Set(r1, c, v2)
		m.Set(r2, c, v1)
	}
}

func testInput(config Config, batchSize int) Input {
	input := Input{}
	for i := 0; i < batchSize; i++ {
		if len(config.Categories) > 0 {
			codes := make([]int, len(config.Categories))
			for j, cardinality := range config.Categories {
				codes[j] = (i + j) % cardinality
			}
			input.Categorical = append(input.Categorical, codes)
		}
		if config.NumContinuous > 0 {
			values := mat.NewEmptyVecDense(config.NumContinuous)
			for j := 0; j < config.NumContinuous; j++ {
				values.Set(j, 0, mat.Float(i+j)/10)
			}
			input.Continuous = append(input.Continuous, values)
		}
	}
	return input
}
