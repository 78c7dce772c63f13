package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationConfig_Defaults(t *testing.T) {
	cfg := DefaultGenerationConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.005, cfg.FraudRatio)
	assert.Equal(t, 30*time.Minute, cfg.SessionGap)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Len(t, cfg.FraudWeights, 28)
	assert.Len(t, cfg.BenignWeights, 11)
}

func TestGenerationConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GenerationConfig)
		field  string
	}{
		{"zero population", func(c *GenerationConfig) { c.Population = 0 }, "population"},
		{"negative population", func(c *GenerationConfig) { c.Population = -5 }, "population"},
		{"ratio above one", func(c *GenerationConfig) { c.FraudRatio = 1.2 }, "fraudRatio"},
		{"negative ratio", func(c *GenerationConfig) { c.FraudRatio = -0.1 }, "fraudRatio"},
		{"negative weight", func(c *GenerationConfig) { c.FraudWeights = map[string]float64{"smash_grab": -1} }, "fraudWeights.smash_grab"},
		{"all weights zero", func(c *GenerationConfig) { c.BenignWeights = map[string]float64{"casual_browser": 0} }, "benignWeights"},
		{"min above max", func(c *GenerationConfig) {
			c.Patterns = map[string]PatternParams{"smash_grab": {Counts: map[string]Range{"messages": {Min: 10, Max: 5}}}}
		}, "patterns.smash_grab.counts.messages"},
		{"negative count", func(c *GenerationConfig) {
			c.Patterns = map[string]PatternParams{"smash_grab": {Counts: map[string]Range{"messages": {Min: -1, Max: 5}}}}
		}, "patterns.smash_grab.counts.messages"},
		{"ratio out of range", func(c *GenerationConfig) {
			c.Patterns = map[string]PatternParams{"fake_account": {Ratios: map[string]float64{"change_name": 2}}}
		}, "patterns.fake_account.ratios.change_name"},
		{"population mix", func(c *GenerationConfig) { c.Mix.TwoFactor = 1.5 }, "populationMix.twoFactor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultGenerationConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestPatternParams_Lookup(t *testing.T) {
	p := PatternParams{
		Counts: map[string]Range{"messages": {Min: 1, Max: 2}},
		Ratios: map[string]float64{"close": 0.25},
	}
	assert.Equal(t, Range{Min: 1, Max: 2}, p.Count("messages", Range{Min: 80, Max: 200}))
	assert.Equal(t, Range{Min: 80, Max: 200}, p.Count("other", Range{Min: 80, Max: 200}))
	assert.Equal(t, 0.25, p.Ratio("close", 1))
	assert.Equal(t, 0.5, p.Ratio("missing", 0.5))
	assert.True(t, p.Flag("keep_open", true))
}

func TestGenerationConfig_Window(t *testing.T) {
	cfg := DefaultGenerationConfig()
	cfg.Now = t0
	start, end := cfg.Window()
	assert.Equal(t, t0, end)
	assert.Equal(t, t0.AddDate(0, 0, -30), start)
}
