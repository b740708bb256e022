// Command calibrator adjusts survey microdata weights so that weighted
// totals reproduce administrative targets.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/microdata-io/weight-calibrator/internal/config"
	"github.com/microdata-io/weight-calibrator/internal/logging"
	"github.com/microdata-io/weight-calibrator/internal/runner"
	"github.com/microdata-io/weight-calibrator/internal/targets"
	"github.com/microdata-io/weight-calibrator/pkg/constraints"
)

type flags struct {
	configPath   string
	inputPath    string
	outputPath   string
	targetsPath  string
	bracketsPath string
	engine       string
	logLevel     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:          "calibrator",
		Short:        "Survey weight calibration against administrative targets",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "path to calibrator config YAML")
	root.PersistentFlags().StringVar(&f.targetsPath, "targets", "", "target store: a YAML asset or a SQLite database")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(newCalibrateCmd(&f))
	root.AddCommand(newTargetsCmd(&f))
	return root
}

func newCalibrateCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Run one calibration over a microdata CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return calibrate(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.inputPath, "input", "", "microdata CSV to calibrate (required)")
	cmd.Flags().StringVar(&f.outputPath, "output", "", "where to write calibrated microdata; omit for a dry run")
	cmd.Flags().StringVar(&f.bracketsPath, "brackets", "configs/agi_brackets.yaml", "bracket table asset")
	cmd.Flags().StringVar(&f.engine, "engine", "", "engine override: entropy, raking or descent")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newTargetsCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Inspect a target store",
	}
	var period, geo string
	list := &cobra.Command{
		Use:   "list",
		Short: "List targets in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(f.targetsPath)
			if err != nil {
				return err
			}
			defer store.Close()
			loaded, err := store.Load(cmd.Context(), targets.Filter{Period: period, GeographicID: geo})
			if err != nil {
				return err
			}
			for _, t := range loaded {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%g\t%s\n",
					t.GeographicID, t.Variable, t.Bracket, t.Period, t.Value, t.Type)
			}
			return nil
		},
	}
	list.Flags().StringVar(&period, "period", "", "filter by period")
	list.Flags().StringVar(&geo, "geo", "", "filter by geographic identifier")
	cmd.AddCommand(list)
	return cmd
}

func calibrate(ctx context.Context, f *flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.engine != "" {
		cfg.Engine = f.engine
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if f.targetsPath == "" {
		return fmt.Errorf("--targets is required")
	}
	store, err := openStore(f.targetsPath)
	if err != nil {
		return err
	}
	defer store.Close()

	brackets, err := constraints.LoadBracketTable(f.bracketsPath)
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, runner.Params{
		Config:     cfg,
		InputPath:  f.inputPath,
		OutputPath: f.outputPath,
		Store:      store,
		Brackets:   brackets,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if !result.Success {
		logger.Warn("Calibration did not fully converge",
			zap.String("message", result.Message))
		return fmt.Errorf("calibration failed: %s", result.Message)
	}
	return nil
}

// openStore picks the store implementation from the path extension.
func openStore(path string) (targets.Store, error) {
	switch {
	case strings.HasSuffix(path, ".db"), strings.HasSuffix(path, ".sqlite"):
		return targets.OpenSQLite(path)
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return targets.NewFileStore(path), nil
	default:
		return nil, fmt.Errorf("unrecognized target store %q: want .yaml or .sqlite", path)
	}
}
