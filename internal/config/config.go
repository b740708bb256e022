// Package config loads and validates calibrator configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/microdata-io/weight-calibrator/pkg/solver"
)

// MicrodataConfig names the columns of the microdata table.
type MicrodataConfig struct {
	// WeightColumn holds the initial survey weight.
	WeightColumn string `mapstructure:"weightColumn"`

	// Covariate is the numeric column used for bracketing, e.g.
	// "adjusted_gross_income".
	Covariate string `mapstructure:"covariate"`

	// GeographyColumn holds per-record geographic codes; optional, required
	// only for sub-national targets.
	GeographyColumn string `mapstructure:"geographyColumn"`
}

// TargetsConfig selects which targets to calibrate against.
type TargetsConfig struct {
	Period string `mapstructure:"period"`
	Source string `mapstructure:"source"`

	// CountVariable and AmountVariable name the target variables carrying
	// per-bracket counts and amounts.
	CountVariable  string `mapstructure:"countVariable"`
	AmountVariable string `mapstructure:"amountVariable"`
}

// EntropySettings configures the entropy engine.
type EntropySettings struct {
	MinRatio      float64 `mapstructure:"minRatio"`
	MaxRatio      float64 `mapstructure:"maxRatio"`
	MaxIterations int     `mapstructure:"maxIterations"`
}

// RakingSettings configures the raking engine.
type RakingSettings struct {
	MaxIterations int     `mapstructure:"maxIterations"`
	Damping       float64 `mapstructure:"damping"`
	RatioMin      float64 `mapstructure:"ratioMin"`
	RatioMax      float64 `mapstructure:"ratioMax"`
	MaxAdjustment float64 `mapstructure:"maxAdjustment"`
}

// DescentSettings configures the gradient-descent engine.
type DescentSettings struct {
	Epochs       int     `mapstructure:"epochs"`
	LearningRate float64 `mapstructure:"learningRate"`
	Backend      string  `mapstructure:"backend"`
}

// FilerRule keeps a record when the named column exceeds the threshold.
type FilerRule struct {
	Column      string  `mapstructure:"column"`
	GreaterThan float64 `mapstructure:"greaterThan"`
}

// FilerConfig optionally restricts calibration to likely filers before
// building constraints. A record is kept when any rule matches.
type FilerConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Rules   []FilerRule `mapstructure:"rules"`
}

// Config is the full calibrator configuration.
type Config struct {
	Engine   string `mapstructure:"engine"`
	LogLevel string `mapstructure:"logLevel"`

	// MinObservations is the constraint builder's bracket floor.
	MinObservations int `mapstructure:"minObservations"`

	// Tolerance is the allowed fractional deviation per constraint.
	Tolerance float64 `mapstructure:"tolerance"`

	Microdata MicrodataConfig `mapstructure:"microdata"`
	Targets   TargetsConfig   `mapstructure:"targets"`
	Entropy   EntropySettings `mapstructure:"entropy"`
	Raking    RakingSettings  `mapstructure:"raking"`
	Descent   DescentSettings `mapstructure:"descent"`
	Filer     FilerConfig     `mapstructure:"filer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine", "entropy")
	v.SetDefault("logLevel", "info")
	v.SetDefault("minObservations", 100)
	v.SetDefault("tolerance", 0.05)
	v.SetDefault("microdata.weightColumn", "weight")
	v.SetDefault("microdata.covariate", "adjusted_gross_income")
	v.SetDefault("targets.countVariable", "returns")
	v.SetDefault("targets.amountVariable", "agi")
	v.SetDefault("entropy.minRatio", 0.2)
	v.SetDefault("entropy.maxRatio", 5.0)
	v.SetDefault("entropy.maxIterations", 200)
	v.SetDefault("raking.maxIterations", 100)
	v.SetDefault("raking.damping", 0.5)
	v.SetDefault("raking.ratioMin", 0.8)
	v.SetDefault("raking.ratioMax", 1.25)
	v.SetDefault("raking.maxAdjustment", 3.0)
	v.SetDefault("descent.epochs", 500)
	v.SetDefault("descent.learningRate", 0.3)
	v.SetDefault("descent.backend", "auto")
}

// Load reads configuration from the given file (optional) with environment
// overrides under the CALIBRATOR_ prefix, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CALIBRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for invalid configuration values.
func (c *Config) Validate() error {
	if _, err := solver.ParseStrategy(c.Engine); err != nil {
		return err
	}
	if c.MinObservations < 0 {
		return fmt.Errorf("minObservations must be >= 0, got %d", c.MinObservations)
	}
	if c.Tolerance <= 0 || c.Tolerance >= 1 {
		return fmt.Errorf("tolerance must be between 0 and 1, got %.4f", c.Tolerance)
	}
	if c.Microdata.WeightColumn == "" {
		return fmt.Errorf("microdata.weightColumn is required")
	}
	if c.Microdata.Covariate == "" {
		return fmt.Errorf("microdata.covariate is required")
	}
	if c.Entropy.MinRatio <= 0 || c.Entropy.MinRatio > 1 {
		return fmt.Errorf("entropy.minRatio must be in (0, 1], got %.2f", c.Entropy.MinRatio)
	}
	if c.Entropy.MaxRatio < 1 {
		return fmt.Errorf("entropy.maxRatio must be >= 1, got %.2f", c.Entropy.MaxRatio)
	}
	if c.Entropy.MaxIterations <= 0 {
		return fmt.Errorf("entropy.maxIterations must be > 0, got %d", c.Entropy.MaxIterations)
	}
	if c.Raking.Damping <= 0 || c.Raking.Damping > 1 {
		return fmt.Errorf("raking.damping must be in (0, 1], got %.2f", c.Raking.Damping)
	}
	if c.Raking.RatioMin <= 0 || c.Raking.RatioMin >= 1 {
		return fmt.Errorf("raking.ratioMin must be in (0, 1), got %.2f", c.Raking.RatioMin)
	}
	if c.Raking.RatioMax <= 1 {
		return fmt.Errorf("raking.ratioMax must be > 1, got %.2f", c.Raking.RatioMax)
	}
	if c.Raking.MaxAdjustment <= 1 {
		return fmt.Errorf("raking.maxAdjustment must be > 1, got %.2f", c.Raking.MaxAdjustment)
	}
	if c.Raking.MaxIterations <= 0 {
		return fmt.Errorf("raking.maxIterations must be > 0, got %d", c.Raking.MaxIterations)
	}
	if c.Descent.Epochs <= 0 {
		return fmt.Errorf("descent.epochs must be > 0, got %d", c.Descent.Epochs)
	}
	if c.Descent.LearningRate <= 0 {
		return fmt.Errorf("descent.learningRate must be > 0, got %.4f", c.Descent.LearningRate)
	}
	switch solver.BackendKind(c.Descent.Backend) {
	case solver.BackendAuto, solver.BackendAdam, solver.BackendLBFGS:
	default:
		return fmt.Errorf("descent.backend must be auto, adam or lbfgs, got %q", c.Descent.Backend)
	}
	if c.Filer.Enabled && len(c.Filer.Rules) == 0 {
		return fmt.Errorf("filer.enabled requires at least one rule")
	}
	for i, r := range c.Filer.Rules {
		if r.Column == "" {
			return fmt.Errorf("filer.rules[%d].column is required", i)
		}
	}
	return nil
}

// SolverConfig maps the loaded settings onto the engine configuration.
func (c *Config) SolverConfig() solver.Config {
	return solver.Config{
		Entropy: solver.EntropyConfig{
			MinRatio:        c.Entropy.MinRatio,
			MaxRatio:        c.Entropy.MaxRatio,
			MaxIterations:   c.Entropy.MaxIterations,
			TargetTolerance: c.Tolerance,
		},
		Raking: solver.RakingConfig{
			MaxIterations: c.Raking.MaxIterations,
			Damping:       c.Raking.Damping,
			RatioMin:      c.Raking.RatioMin,
			RatioMax:      c.Raking.RatioMax,
			MaxAdjustment: c.Raking.MaxAdjustment,
			Tolerance:     c.Tolerance,
		},
		Descent: solver.DescentConfig{
			Epochs:          c.Descent.Epochs,
			LearningRate:    c.Descent.LearningRate,
			Backend:         solver.BackendKind(c.Descent.Backend),
			TargetTolerance: c.Tolerance,
		},
	}
}
