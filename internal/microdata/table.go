// Package microdata reads and writes the survey microdata table used by
// calibration: one row per record with a weight column and named numeric
// covariates. Storage is CSV; the calibration core never sees the file
// format.
package microdata

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/microdata-io/weight-calibrator/pkg/core"
)

// ReadSpec names the columns to pull out of the CSV.
type ReadSpec struct {
	// WeightColumn holds the initial survey weight. Required.
	WeightColumn string

	// NumericColumns are parsed as float64 covariates.
	NumericColumns []string

	// StringColumns are kept verbatim (e.g. state FIPS codes).
	StringColumns []string
}

// Table is an in-memory microdata table. Raw rows are retained so that
// writing results preserves every input column.
type Table struct {
	Weights []float64
	Numeric map[string][]float64
	Strings map[string][]string

	header []string
	rows   [][]string
}

// Len returns the record count.
func (t *Table) Len() int { return len(t.Weights) }

// Column returns a named numeric covariate.
func (t *Table) Column(name string) ([]float64, error) {
	col, ok := t.Numeric[name]
	if !ok {
		return nil, fmt.Errorf("no numeric column %q", name)
	}
	return col, nil
}

// StringColumn returns a named string column.
func (t *Table) StringColumn(name string) ([]string, error) {
	col, ok := t.Strings[name]
	if !ok {
		return nil, fmt.Errorf("no string column %q", name)
	}
	return col, nil
}

// ReadCSV loads a microdata table. Empty numeric cells read as 0; any other
// cell that fails to parse as a number is an error.
func ReadCSV(path string, spec ReadSpec) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening microdata: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading microdata %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("microdata %s has no data rows", path)
	}

	header := records[0]
	rows := records[1:]
	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[name] = i
	}

	need := append([]string{spec.WeightColumn}, spec.NumericColumns...)
	need = append(need, spec.StringColumns...)
	for _, name := range need {
		if _, ok := colIdx[name]; !ok {
			return nil, fmt.Errorf("microdata %s missing column %q", path, name)
		}
	}

	parse := func(row []string, col string, rowNum int) (float64, error) {
		cell := row[colIdx[col]]
		if cell == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return 0, fmt.Errorf("row %d column %q: %w", rowNum, col, err)
		}
		return v, nil
	}

	t := &Table{
		Weights: make([]float64, len(rows)),
		Numeric: make(map[string][]float64, len(spec.NumericColumns)),
		Strings: make(map[string][]string, len(spec.StringColumns)),
		header:  header,
		rows:    rows,
	}
	for _, name := range spec.NumericColumns {
		t.Numeric[name] = make([]float64, len(rows))
	}
	for _, name := range spec.StringColumns {
		t.Strings[name] = make([]string, len(rows))
	}

	for i, row := range rows {
		if len(row) != len(header) {
			return nil, fmt.Errorf("microdata %s row %d has %d cells, want %d", path, i+2, len(row), len(header))
		}
		w, err := parse(row, spec.WeightColumn, i+2)
		if err != nil {
			return nil, err
		}
		t.Weights[i] = w
		for _, name := range spec.NumericColumns {
			v, err := parse(row, name, i+2)
			if err != nil {
				return nil, err
			}
			t.Numeric[name][i] = v
		}
		for _, name := range spec.StringColumns {
			t.Strings[name][i] = row[colIdx[name]]
		}
	}
	return t, nil
}

// Filter returns a new table holding only rows where keep is true.
func (t *Table) Filter(keep []bool) (*Table, error) {
	if len(keep) != t.Len() {
		return nil, fmt.Errorf("filter mask length %d does not match %d rows", len(keep), t.Len())
	}
	out := &Table{
		Numeric: make(map[string][]float64, len(t.Numeric)),
		Strings: make(map[string][]string, len(t.Strings)),
		header:  t.header,
	}
	for name := range t.Numeric {
		out.Numeric[name] = nil
	}
	for name := range t.Strings {
		out.Strings[name] = nil
	}
	for i, k := range keep {
		if !k {
			continue
		}
		out.Weights = append(out.Weights, t.Weights[i])
		out.rows = append(out.rows, t.rows[i])
		for name := range t.Numeric {
			out.Numeric[name] = append(out.Numeric[name], t.Numeric[name][i])
		}
		for name := range t.Strings {
			out.Strings[name] = append(out.Strings[name], t.Strings[name][i])
		}
	}
	return out, nil
}

// WriteCalibrated writes the table back out with three appended columns:
// original_weight, calibrated_weight and weight_adjustment. The input file
// is never modified; the caller chose calibration's write-back explicitly.
func (t *Table) WriteCalibrated(path string, result *core.CalibrationResult) error {
	if len(result.CalibratedWeights) != t.Len() {
		return fmt.Errorf("result has %d weights, table has %d rows", len(result.CalibratedWeights), t.Len())
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append(append([]string{}, t.header...),
		"original_weight", "calibrated_weight", "weight_adjustment")
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, row := range t.rows {
		out := append(append([]string{}, row...),
			formatFloat(result.OriginalWeights[i]),
			formatFloat(result.CalibratedWeights[i]),
			formatFloat(result.AdjustmentFactors[i]))
		if err := w.Write(out); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
