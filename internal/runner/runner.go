// Package runner orchestrates one calibration run: load microdata, load
// targets, build constraints, calibrate, report, write back.
package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/microdata-io/weight-calibrator/internal/config"
	"github.com/microdata-io/weight-calibrator/internal/microdata"
	"github.com/microdata-io/weight-calibrator/internal/targets"
	"github.com/microdata-io/weight-calibrator/pkg/constraints"
	"github.com/microdata-io/weight-calibrator/pkg/core"
	"github.com/microdata-io/weight-calibrator/pkg/solver"
)

// worstOffenders caps how many constraints the post-run report logs.
const worstOffenders = 10

// Params collects everything one run needs.
type Params struct {
	Config *config.Config

	// InputPath is the microdata CSV. OutputPath is optional: when empty the
	// run reports diagnostics without writing weights back.
	InputPath  string
	OutputPath string

	Store    targets.Store
	Brackets *constraints.BracketTable

	Logger *zap.Logger
}

func (p Params) validate() error {
	if p.Config == nil {
		return fmt.Errorf("runner: config is required")
	}
	if p.InputPath == "" {
		return fmt.Errorf("runner: input path is required")
	}
	if p.Store == nil {
		return fmt.Errorf("runner: target store is required")
	}
	if p.Brackets == nil {
		return fmt.Errorf("runner: bracket table is required")
	}
	return nil
}

// Run executes a full calibration and returns its result. Non-convergence is
// reported through the result, not as an error.
func Run(ctx context.Context, p Params) (*core.CalibrationResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := p.Config

	strategy, err := solver.ParseStrategy(cfg.Engine)
	if err != nil {
		return nil, err
	}

	table, err := readMicrodata(cfg, p.InputPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded microdata",
		zap.String("path", p.InputPath),
		zap.Int("records", table.Len()))

	if cfg.Filer.Enabled {
		table, err = applyFilerRules(table, cfg.Filer)
		if err != nil {
			return nil, err
		}
		logger.Info("Applied filer rules", zap.Int("records", table.Len()))
	}
	if table.Len() == 0 {
		return nil, fmt.Errorf("no microdata records left to calibrate")
	}

	loaded, err := p.Store.Load(ctx, targets.Filter{
		Period: cfg.Targets.Period,
		Source: cfg.Targets.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("loading targets from %s: %w", p.Store.Name(), err)
	}
	logger.Info("Loaded targets",
		zap.String("store", p.Store.Name()),
		zap.Int("targets", len(loaded)))

	cs, err := buildConstraints(strategy, table, loaded, p.Brackets, cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, fmt.Errorf("no usable constraints: check targets, brackets and minObservations")
	}

	solverCfg := cfg.SolverConfig()
	solverCfg.Logger = logger
	engine, err := solver.New(strategy, solverCfg)
	if err != nil {
		return nil, err
	}

	result, err := engine.Calibrate(table.Weights, cs)
	if err != nil {
		return nil, err
	}
	report(logger, strategy, result)

	if p.OutputPath != "" {
		if err := table.WriteCalibrated(p.OutputPath, result); err != nil {
			return nil, err
		}
		logger.Info("Wrote calibrated microdata", zap.String("path", p.OutputPath))
	}
	return result, nil
}

func readMicrodata(cfg *config.Config, path string) (*microdata.Table, error) {
	numeric := []string{cfg.Microdata.Covariate}
	seen := map[string]bool{cfg.Microdata.Covariate: true}
	for _, r := range cfg.Filer.Rules {
		if !seen[r.Column] {
			numeric = append(numeric, r.Column)
			seen[r.Column] = true
		}
	}
	var strings []string
	if cfg.Microdata.GeographyColumn != "" {
		strings = append(strings, cfg.Microdata.GeographyColumn)
	}
	return microdata.ReadCSV(path, microdata.ReadSpec{
		WeightColumn:   cfg.Microdata.WeightColumn,
		NumericColumns: numeric,
		StringColumns:  strings,
	})
}

// applyFilerRules keeps records matching at least one rule.
func applyFilerRules(table *microdata.Table, filer config.FilerConfig) (*microdata.Table, error) {
	keep := make([]bool, table.Len())
	for _, rule := range filer.Rules {
		col, err := table.Column(rule.Column)
		if err != nil {
			return nil, fmt.Errorf("filer rule: %w", err)
		}
		for i, v := range col {
			if v > rule.GreaterThan {
				keep[i] = true
			}
		}
	}
	return table.Filter(keep)
}

func buildConstraints(strategy solver.Strategy, table *microdata.Table, loaded []core.Target, brackets *constraints.BracketTable, cfg *config.Config, logger *zap.Logger) ([]core.Constraint, error) {
	covariate, err := table.Column(cfg.Microdata.Covariate)
	if err != nil {
		return nil, err
	}
	opts := constraints.Options{
		MinObservations: cfg.MinObservations,
		Tolerance:       cfg.Tolerance,
		Logger:          logger,
	}

	if strategy == solver.DescentStrategy {
		var geography []string
		if cfg.Microdata.GeographyColumn != "" {
			geography, err = table.StringColumn(cfg.Microdata.GeographyColumn)
			if err != nil {
				return nil, err
			}
		}
		return constraints.BuildGrouped(covariate, geography, brackets, loaded, opts)
	}

	// The entropy and raking engines consume national per-bracket targets.
	set := constraints.TargetSet{
		CountVariable:  cfg.Targets.CountVariable,
		AmountVariable: cfg.Targets.AmountVariable,
		Counts:         map[string]float64{},
		Amounts:        map[string]float64{},
	}
	for _, t := range loaded {
		if t.GeographicID != "US" || t.Bracket == "all" {
			continue
		}
		switch t.Variable {
		case cfg.Targets.CountVariable:
			set.Counts[t.Bracket] = t.Value
		case cfg.Targets.AmountVariable:
			set.Amounts[t.Bracket] = t.Value
		}
	}
	return constraints.Build(covariate, brackets, set, opts), nil
}

func report(logger *zap.Logger, strategy solver.Strategy, result *core.CalibrationResult) {
	logger.Info("Calibration finished",
		zap.String("engine", strategy.String()),
		zap.Bool("success", result.Success),
		zap.String("message", result.Message),
		zap.Int("iterations", result.Iterations),
		zap.Float64("divergence", result.Divergence),
		zap.Float64("maxRelErrorBefore", core.MaxAbsError(result.Before)),
		zap.Float64("maxRelErrorAfter", core.MaxAbsError(result.After)))

	after := append([]core.Diagnostic{}, result.After...)
	core.SortByAbsError(after)
	if len(after) > worstOffenders {
		after = after[:worstOffenders]
	}
	for _, d := range after {
		logger.Info("Constraint residual",
			zap.String("variable", d.Variable),
			zap.Float64("target", d.Target),
			zap.Float64("achieved", d.Achieved),
			zap.Float64("relError", d.RelError))
	}
}
