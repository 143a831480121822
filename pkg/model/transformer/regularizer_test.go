package transformer

import (
	"testing"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/stretchr/testify/require"
)

func testBatch(g *ag.Graph, batchSize, numTokens, dim int) [][]ag.Node {
	batch := make([][]ag.Node, batchSize)
	for i := range batch {
		batch[i] = make([]ag.Node, numTokens)
		for t := range batch[i] {
			v := mat.NewEmptyVecDense(dim)
			for j := 0; j < dim; j++ {
				v.Set(j, 0, mat.Float(i*numTokens+t+j)/7)
			}
			batch[i][t] = g.NewVariable(v, false)
		}
	}
	return batch
}

func TestDistributionUncertainty_Identity(t *testing.T) {

	tests := []struct {
		probability float64
		mode        nn.ProcessingMode
		batchSize   int
	}{
		{probability: 1.0, mode: nn.Inference, batchSize: 3}, // not training
		{probability: 0.0, mode: nn.Training, batchSize: 3},  // never triggers
		{probability: 1.0, mode: nn.Training, batchSize: 1},  // no cross-batch statistics
	}

	for _, tt := range tests {
		m := NewDistributionUncertainty(4, tt.probability, 1e-6, rand.NewLockedRand(42))
		g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
		proc := nn.Reify(nn.Context{Graph: g, Mode: tt.mode}, m).(*DistributionUncertainty)

		batch := testBatch(g, tt.batchSize, 2, 4)
		out := proc.Forward(batch)

		require.Equal(t, len(batch), len(out))
		for i := range batch {
			for j := range batch[i] {
				// the very same nodes, not equal copies
				require.True(t, out[i][j] == batch[i][j])
			}
		}
	}

}

func TestDistributionUncertainty_Perturbation(t *testing.T) {

	run := func() [][]float32 {
		m := NewDistributionUncertainty(4, 1.0, 1e-6, rand.NewLockedRand(7))
		g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
		defer g.Clear()
		proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Training}, m).(*DistributionUncertainty)

		batch := testBatch(g, 3, 2, 4)
		out := proc.Forward(batch)
		require.Equal(t, len(batch), len(out))

		var flattened [][]float32
		for i := range out {
			require.Equal(t, len(batch[i]), len(out[i]))
			for j := range out[i] {
				require.False(t, out[i][j] == batch[i][j])
				require.Equal(t, 4, out[i][j].Value().Rows())
				flattened = append(flattened, append([]float32{}, out[i][j].Value().Data()...))
			}
		}
		return flattened
	}

	// same seeds, same perturbation
	require.Equal(t, run(), run())

}
