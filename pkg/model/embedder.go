package model

import (
	"fmt"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
)

// categoryOffsets places each categorical column inside the shared
// embedding table: the special ids come first, then every column's codes in
// column order. Column i translates code k to row offsets[i]+k.
func categoryOffsets(categories []int, numSpecialTokens int) []int {
	offsets := make([]int, len(categories))
	next := numSpecialTokens
	for i, cardinality := range categories {
		offsets[i] = next
		next += cardinality
	}
	return offsets
}

var _ nn.Model = &CategoricalEmbedder{}

// CategoricalEmbedder looks categorical codes up in one table shared by all
// columns, disambiguated by per-column offsets. With no categorical columns
// the table is empty.
type CategoricalEmbedder struct {
	nn.BaseModel
	Cardinalities []int
	Offsets       []int
	Table         nn.Param
}

func NewCategoricalEmbedder(categories []int, numSpecialTokens, embeddingDimension int) *CategoricalEmbedder {
	rows := 0
	if len(categories) > 0 {
		rows = numSpecialTokens
		for _, cardinality := range categories {
			rows += cardinality
		}
	}
	return &CategoricalEmbedder{
		Cardinalities: categories,
		Offsets:       categoryOffsets(categories, numSpecialTokens),
		Table:         nn.NewParam(mat.NewEmptyDense(rows, embeddingDimension)),
	}
}

func (m *CategoricalEmbedder) Init(generator *rand.LockedRand) {
	initializers.Normal(m.Table.Value(), 0, 1, generator)
}

// Encode returns one embedding per categorical column. Codes outside their
// column's range are an error.
func (m *CategoricalEmbedder) Encode(codes []int) ([]ag.Node, error) {
	g := m.Graph()
	tokens := make([]ag.Node, len(codes))
	for i, code := range codes {
		if code < 0 || code >= m.Cardinalities[i] {
			return nil, fmt.Errorf("categorical column %d: code %d out of range [0, %d)", i, code, m.Cardinalities[i])
		}
		tokens[i] = g.T(g.RowView(m.Table, m.Offsets[i]+code))
	}
	return tokens, nil
}

var _ nn.Model = &NumericalEmbedder{}

// NumericalEmbedder turns each continuous column into an embedding through
// its own affine map: value*W[column] + B[column].
type NumericalEmbedder struct {
	nn.BaseModel
	W nn.Param
	B nn.Param
}

func NewNumericalEmbedder(numColumns, embeddingDimension int) *NumericalEmbedder {
	return &NumericalEmbedder{
		W: nn.NewParam(mat.NewEmptyDense(numColumns, embeddingDimension)),
		B: nn.NewParam(mat.NewEmptyDense(numColumns, embeddingDimension)),
	}
}

func (m *NumericalEmbedder) Init(generator *rand.LockedRand) {
	initializers.Normal(m.W.Value(), 0, 1, generator)
	initializers.Normal(m.B.Value(), 0, 1, generator)
}

// Encode returns one embedding per continuous column. The raw values enter
// the graph as constants.
func (m *NumericalEmbedder) Encode(values mat.Matrix) []ag.Node {
	g := m.Graph()
	tokens := make([]ag.Node, values.Rows())
	for i := range tokens {
		w := g.T(g.RowView(m.W, i))
		b := g.T(g.RowView(m.B, i))
		tokens[i] = g.Add(g.ProdScalar(w, g.Constant(values.At(i, 0))), b)
	}
	return tokens
}
