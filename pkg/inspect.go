package pkg

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"tabformer/pkg/model"
)

type InspectParameters struct {
	BatchSize        int
	RndSeed          uint64
	Training         bool
	OutputFile       string
	AttentionMapFile string
}

// Inspect builds and initializes a model from config, runs it on a
// synthetic batch drawn from the same seed and reports logits and attention
// statistics. With Training set the pass goes through the dropout and
// perturbation paths instead of the inference ones.
func Inspect(config model.Config, params InspectParameters) error {
	if params.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size %d", params.BatchSize)
	}
	rndGen := rand.NewLockedRand(params.RndSeed)
	m, err := model.New(config, rndGen)
	if err != nil {
		return fmt.Errorf("error building model: %w", err)
	}
	m.Init(rndGen)

	input := syntheticInput(config, params.BatchSize, rndGen)

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(params.RndSeed)))
	defer g.Clear()
	mode := nn.Inference
	if params.Training {
		mode = nn.Training
	}
	proc := nn.Reify(nn.Context{Graph: g, Mode: mode}, m).(*model.Model)

	result, err := proc.ForwardWithAttention(input)
	if err != nil {
		return fmt.Errorf("error running forward pass: %w", err)
	}

	logLogits(result)
	logAttentionEntropy(result)

	if err := writeLogits(result, params.OutputFile); err != nil {
		return err
	}
	return writeAttentionMap(result, params.AttentionMapFile)
}

// syntheticInput draws a uniform batch: category codes across each column's
// range, continuous values in [-1, 1).
func syntheticInput(config model.Config, batchSize int, rndGen *rand.LockedRand) model.Input {
	input := model.Input{}
	for i := 0; i < batchSize; i++ {
		if len(config.Categories) > 0 {
			codes := make([]int, len(config.Categories))
			for j, cardinality := range config.Categories {
				code := int(rndGen.Float() * mat.Float(cardinality))
				if code >= cardinality {
					code = cardinality - 1
				}
				codes[j] = code
			}
			input.Categorical = append(input.Categorical, codes)
		}
		if config.NumContinuous > 0 {
			values := mat.NewEmptyVecDense(config.NumContinuous)
			for j := 0; j < config.NumContinuous; j++ {
				values.Set(j, 0, 2*rndGen.Float()-1)
			}
			input.Continuous = append(input.Continuous, values)
		}
	}
	return input
}

func logLogits(result *model.Output) {
	values := make([]float64, 0, len(result.Logits))
	for i, logits := range result.Logits {
		row := make([]float64, 0, logits.Value().Rows())
		for _, v := range logits.Value().Data() {
			row = append(row, float64(v))
		}
		log.Debug().Int("Sample", i).Floats64("Logits", row).Msg("")
		values = append(values, row...)
	}
	log.Info().Int("Samples", len(result.Logits)).
		Float64("LogitMean", stat.Mean(values, nil)).
		Float64("LogitStdDev", stat.StdDev(values, nil)).
		Msg("")
}

// logAttentionEntropy summarizes how sharply each layer attends: the
// entropy of every post-softmax row, aggregated per layer.
func logAttentionEntropy(result *model.Output) {
	for layer, samples := range result.Attention {
		var entropies []float64
		for _, heads := range samples {
			for _, attention := range heads {
				entropies = append(entropies, rowEntropies(attention.Value())...)
			}
		}
		log.Info().Int("Layer", layer).
			Float64("AttentionEntropyMean", stat.Mean(entropies, nil)).
			Float64("AttentionEntropyStdDev", stat.StdDev(entropies, nil)).
			Msg("")
	}
}

func rowEntropies(attention mat.Matrix) []float64 {
	result := make([]float64, attention.Rows())
	for i := 0; i < attention.Rows(); i++ {
		entropy := 0.0
		for j := 0; j < attention.Columns(); j++ {
			p := float64(attention.At(i, j))
			if p > 0 {
				entropy -= p * math.Log(p)
			}
		}
		result[i] = entropy
	}
	return result
}

func writeLogits(result *model.Output, fileName string) error {
	if fileName == "" {
		return nil
	}
	outputFile, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("error creating output file %s: %w", fileName, err)
	}
	defer outputFile.Close()

	writer := csv.NewWriter(outputFile)
	for i, logits := range result.Logits {
		record := []string{strconv.Itoa(i)}
		for _, v := range logits.Value().Data() {
			record = append(record, strconv.FormatFloat(float64(v), 'f', 5, 32))
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("error writing output file %s: %w", fileName, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// writeAttentionMap dumps every attention weight of the pass as
// layer,sample,head,query,key,weight rows.
func writeAttentionMap(result *model.Output, fileName string) error {
	if fileName == "" {
		return nil
	}
	outputFile, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("error creating attention map file %s: %w", fileName, err)
	}
	defer outputFile.Close()

	writer := csv.NewWriter(outputFile)
	if err := writer.Write([]string{"layer", "sample", "head", "query", "key", "weight"}); err != nil {
		return fmt.Errorf("error writing attention map file %s: %w", fileName, err)
	}
	for layer, samples := range result.Attention {
		for sample, heads := range samples {
			for head, attention := range heads {
				value := attention.Value()
				for q := 0; q < value.Rows(); q++ {
					for k := 0; k < value.Columns(); k++ {
						record := []string{
							strconv.Itoa(layer),
							strconv.Itoa(sample),
							strconv.Itoa(head),
							strconv.Itoa(q),
							strconv.Itoa(k),
							strconv.FormatFloat(float64(value.At(q, k)), 'f', 5, 32),
						}
						if err := writer.Write(record); err != nil {
							return fmt.Errorf("error writing attention map file %s: %w", fileName, err)
						}
					}
				}
			}
		}
	}
	writer.Flush()
	return writer.Error()
}
