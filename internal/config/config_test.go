package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calibrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "entropy", cfg.Engine)
	assert.Equal(t, 100, cfg.MinObservations)
	assert.Equal(t, 0.05, cfg.Tolerance)
	assert.Equal(t, "weight", cfg.Microdata.WeightColumn)
	assert.Equal(t, "adjusted_gross_income", cfg.Microdata.Covariate)
	assert.Equal(t, "returns", cfg.Targets.CountVariable)
	assert.Equal(t, "agi", cfg.Targets.AmountVariable)
	assert.Equal(t, 0.2, cfg.Entropy.MinRatio)
	assert.Equal(t, 5.0, cfg.Entropy.MaxRatio)
	assert.Equal(t, 0.5, cfg.Raking.Damping)
	assert.Equal(t, 500, cfg.Descent.Epochs)
	assert.Equal(t, "auto", cfg.Descent.Backend)
	assert.False(t, cfg.Filer.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
engine: descent
tolerance: 0.1
microdata:
  weightColumn: s006
  covariate: agi
  geographyColumn: state_fips
targets:
  period: "2021"
  source: irs-soi
descent:
  epochs: 200
  backend: lbfgs
filer:
  enabled: true
  rules:
    - column: agi
      greaterThan: 13850
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "descent", cfg.Engine)
	assert.Equal(t, 0.1, cfg.Tolerance)
	assert.Equal(t, "s006", cfg.Microdata.WeightColumn)
	assert.Equal(t, "state_fips", cfg.Microdata.GeographyColumn)
	assert.Equal(t, "2021", cfg.Targets.Period)
	assert.Equal(t, 200, cfg.Descent.Epochs)
	assert.Equal(t, "lbfgs", cfg.Descent.Backend)
	// Untouched sections keep their defaults.
	assert.Equal(t, 0.3, cfg.Descent.LearningRate)
	assert.Equal(t, 1.25, cfg.Raking.RatioMax)
	require.Len(t, cfg.Filer.Rules, 1)
	assert.Equal(t, "agi", cfg.Filer.Rules[0].Column)
	assert.Equal(t, 13850.0, cfg.Filer.Rules[0].GreaterThan)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown engine", func(c *Config) { c.Engine = "simplex" }},
		{"negative minObservations", func(c *Config) { c.MinObservations = -1 }},
		{"tolerance too large", func(c *Config) { c.Tolerance = 1.5 }},
		{"missing weight column", func(c *Config) { c.Microdata.WeightColumn = "" }},
		{"missing covariate", func(c *Config) { c.Microdata.Covariate = "" }},
		{"entropy minRatio above one", func(c *Config) { c.Entropy.MinRatio = 1.5 }},
		{"entropy maxRatio below one", func(c *Config) { c.Entropy.MaxRatio = 0.5 }},
		{"zero entropy iterations", func(c *Config) { c.Entropy.MaxIterations = 0 }},
		{"raking damping zero", func(c *Config) { c.Raking.Damping = 0 }},
		{"raking ratioMin above one", func(c *Config) { c.Raking.RatioMin = 1.1 }},
		{"raking ratioMax below one", func(c *Config) { c.Raking.RatioMax = 0.9 }},
		{"raking maxAdjustment below one", func(c *Config) { c.Raking.MaxAdjustment = 0.5 }},
		{"zero raking iterations", func(c *Config) { c.Raking.MaxIterations = 0 }},
		{"zero epochs", func(c *Config) { c.Descent.Epochs = 0 }},
		{"negative learning rate", func(c *Config) { c.Descent.LearningRate = -0.1 }},
		{"unknown backend", func(c *Config) { c.Descent.Backend = "tensor" }},
		{"filer enabled without rules", func(c *Config) { c.Filer.Enabled = true }},
		{"filer rule without column", func(c *Config) {
			c.Filer.Rules = []FilerRule{{GreaterThan: 1}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSolverConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Tolerance = 0.02

	sc := cfg.SolverConfig()
	assert.Equal(t, 0.2, sc.Entropy.MinRatio)
	assert.Equal(t, 0.02, sc.Entropy.TargetTolerance)
	assert.Equal(t, 0.02, sc.Raking.Tolerance)
	assert.Equal(t, 0.02, sc.Descent.TargetTolerance)
	assert.Equal(t, 500, sc.Descent.Epochs)
}
