package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Categories:         []int{2, 3},
		NumContinuous:      2,
		EmbeddingDimension: 8,
		Depth:              2,
		NumHeads:           2,
		HeadDimension:      4,
		OutputDimension:    1,
		NumSpecialTokens:   2,
		Epsilon:            1e-6,
	}
}

func TestConfig_Validate(t *testing.T) {

	tests := []struct {
		mutate func(*Config)
		field  string
	}{
		{func(c *Config) { c.Categories = []int{2, 0, 3} }, "Categories"},
		{func(c *Config) { c.Categories = []int{-1} }, "Categories"},
		{func(c *Config) { c.Categories = nil; c.NumContinuous = 0 }, "Categories"},
		{func(c *Config) { c.NumContinuous = -1 }, "NumContinuous"},
		{func(c *Config) { c.NumSpecialTokens = -1 }, "NumSpecialTokens"},
		{func(c *Config) { c.EmbeddingDimension = 0 }, "EmbeddingDimension"},
		{func(c *Config) { c.Depth = 0 }, "Depth"},
		{func(c *Config) { c.NumHeads = -2 }, "NumHeads"},
		{func(c *Config) { c.HeadDimension = 0 }, "HeadDimension"},
		{func(c *Config) { c.OutputDimension = 0 }, "OutputDimension"},
		{func(c *Config) { c.AttentionDropout = 1.0 }, "AttentionDropout"},
		{func(c *Config) { c.FeedForwardDropout = -0.1 }, "FeedForwardDropout"},
		{func(c *Config) { c.PerturbationProbability = 1.5 }, "PerturbationProbability"},
		{func(c *Config) { c.Epsilon = 0 }, "Epsilon"},
	}

	require.NoError(t, validConfig().Validate())

	for _, tt := range tests {
		config := validConfig()
		tt.mutate(&config)
		err := config.Validate()
		require.Error(t, err)
		configErr, ok := err.(*ConfigError)
		require.True(t, ok)
		require.Equal(t, tt.field, configErr.Field)
	}

}

func TestConfig_Validate_ColumnlessSides(t *testing.T) {

	onlyCategorical := validConfig()
	onlyCategorical.NumContinuous = 0
	require.NoError(t, onlyCategorical.Validate())

	onlyContinuous := validConfig()
	onlyContinuous.Categories = nil
	require.NoError(t, onlyContinuous.Validate())

}

func TestConfig_NumTokens(t *testing.T) {

	config := validConfig()
	require.Equal(t, 1+2+2, config.NumTokens())

	config.Categories = nil
	config.NumContinuous = 3
	require.Equal(t, 4, config.NumTokens())

}
