package model

import "fmt"

// Config describes the shape of a feature-tokenizing transformer. There are
// no implicit defaults: every field is validated as given.
type Config struct {
	// Categories holds the cardinality of each categorical column, in
	// column order. Codes of column i must lie in [0, Categories[i]).
	Categories []int
	// NumContinuous is the number of continuous columns.
	NumContinuous int

	EmbeddingDimension int
	Depth              int
	NumHeads           int
	HeadDimension      int
	OutputDimension    int

	// NumSpecialTokens reserves leading rows of the embedding table for
	// out-of-vocabulary ids such as padding or unknown values.
	NumSpecialTokens int

	AttentionDropout        float64
	FeedForwardDropout      float64
	PerturbationProbability float64
	Epsilon                 float64
}

// ConfigError reports a configuration a model cannot be built from.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid model configuration: %s: %s", e.Field, e.Reason)
}

func (c Config) Validate() error {
	for i, cardinality := range c.Categories {
		if cardinality <= 0 {
			return &ConfigError{Field: "Categories", Reason: fmt.Sprintf("column %d has cardinality %d, want > 0", i, cardinality)}
		}
	}
	if c.NumContinuous < 0 {
		return &ConfigError{Field: "NumContinuous", Reason: "must not be negative"}
	}
	if len(c.Categories)+c.NumContinuous == 0 {
		return &ConfigError{Field: "Categories", Reason: "model needs at least one categorical or continuous column"}
	}
	if c.NumSpecialTokens < 0 {
		return &ConfigError{Field: "NumSpecialTokens", Reason: "must not be negative"}
	}
	positive := []struct {
		field string
		value int
	}{
		{"EmbeddingDimension", c.EmbeddingDimension},
		{"Depth", c.Depth},
		{"NumHeads", c.NumHeads},
		{"HeadDimension", c.HeadDimension},
		{"OutputDimension", c.OutputDimension},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &ConfigError{Field: p.field, Reason: "must be positive"}
		}
	}
	if c.AttentionDropout < 0 || c.AttentionDropout >= 1 {
		return &ConfigError{Field: "AttentionDropout", Reason: "must lie in [0, 1)"}
	}
	if c.FeedForwardDropout < 0 || c.FeedForwardDropout >= 1 {
		return &ConfigError{Field: "FeedForwardDropout", Reason: "must lie in [0, 1)"}
	}
	if c.PerturbationProbability < 0 || c.PerturbationProbability > 1 {
		return &ConfigError{Field: "PerturbationProbability", Reason: "must lie in [0, 1]"}
	}
	if c.Epsilon <= 0 {
		return &ConfigError{Field: "Epsilon", Reason: "must be positive"}
	}
	return nil
}

// NumTokens is the length of every token sequence the model builds: the
// class token plus one token per feature column.
func (c Config) NumTokens() int {
	return 1 + len(c.Categories) + c.NumContinuous
}
