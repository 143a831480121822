package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tabformer/pkg"
	"tabformer/pkg/model"

	"github.com/spf13/cobra"
)

func DescribeCommand() *cobra.Command {
	var config model.Config

	var cmd = &cobra.Command{
		Use:   "describe -c categories [-n numContinuous]",
		Short: "Reports the architecture implied by the given configuration: token layout, category offsets and parameter counts",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pkg.Describe(config)
		},
	}

	addModelFlags(cmd, &config)

	return cmd
}

func InspectCommand() *cobra.Command {
	var config model.Config
	var params pkg.InspectParameters

	var cmd = &cobra.Command{
		Use:   "inspect -c categories [-n numContinuous] [-o outputFile] [-a attentionMapFile]",
		Short: "Runs a randomly initialized model on a synthetic batch and reports logits and attention statistics",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pkg.Inspect(config, params)
		},
	}

	addModelFlags(cmd, &config)
	cmd.Flags().IntVarP(&params.BatchSize, "batch-size", "b", 8, "batch size of the synthetic input")
	cmd.Flags().Uint64VarP(&params.RndSeed, "random-seed", "x", 42, "random seed")
	cmd.Flags().BoolVarP(&params.Training, "training", "t", false, "run the forward pass in training mode")
	cmd.Flags().StringVarP(&params.OutputFile, "output", "o", "", "name of logits output file (optional)")
	cmd.Flags().StringVarP(&params.AttentionMapFile, "attentionMap", "a", "", "name of attention map output file (optional)")

	return cmd
}

func addModelFlags(cmd *cobra.Command, config *model.Config) {
	cmd.Flags().IntSliceVarP(&config.Categories, "categories", "c", nil, "cardinality of each categorical column")
	cmd.Flags().IntVarP(&config.NumContinuous, "continuous-columns", "n", 0, "number of continuous columns")
	cmd.Flags().IntVarP(&config.EmbeddingDimension, "embedding-dimension", "d", 32, "embedding dimension of each token")
	cmd.Flags().IntVarP(&config.Depth, "depth", "s", 6, "number of transformer layers")
	cmd.Flags().IntVarP(&config.NumHeads, "num-heads", "", 8, "number of attention heads")
	cmd.Flags().IntVarP(&config.HeadDimension, "head-dimension", "", 16, "dimension of each attention head")
	cmd.Flags().IntVarP(&config.OutputDimension, "output-dimension", "k", 1, "output dimension of the logits head")
	cmd.Flags().IntVarP(&config.NumSpecialTokens, "special-tokens", "", 2, "number of reserved special category ids")
	cmd.Flags().Float64VarP(&config.AttentionDropout, "attention-dropout", "", 0.0, "probability of attention dropout")
	cmd.Flags().Float64VarP(&config.FeedForwardDropout, "feed-forward-dropout", "", 0.0, "probability of feed-forward dropout")
	cmd.Flags().Float64VarP(&config.PerturbationProbability, "perturbation-probability", "p", 0.0, "probability of perturbing the feature statistics of a training batch")
	cmd.Flags().Float64VarP(&config.Epsilon, "epsilon", "", 1e-6, "numerical stability constant of the perturbation statistics")
}

var logLevel string
var logFormat string

func main() {

	Main := &cobra.Command{Use: "tabformer", PersistentPreRun: setupLogging}

	Main.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Logging level: info error or debug")
	Main.PersistentFlags().StringVarP(&logFormat, "log-format", "", "pretty", "Logging format: pretty or json")

	Main.AddCommand(DescribeCommand())
	Main.AddCommand(InspectCommand())

	if err := Main.Execute(); err != nil {
		panic(err)
	}
}

func setupLogging(cmd *cobra.Command, args []string) {

	switch logLevel {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		panic("Invalid logging level specified")
	}

	switch logFormat {
	case "pretty":
		setupPrettyLogging()
	case "json":
	default:
		panic("Invalid log format specified")

	}

}

func setupPrettyLogging() {
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	writer.FormatFieldValue = func(i interface{}) string {
		switch v := i.(type) {
		case json.Number:
			val, _ := v.Float64()
			return fmt.Sprintf("%.3f", val)
		default:
			return fmt.Sprintf("%s", i)
		}

	}
	log.Logger = log.Output(writer)

}
