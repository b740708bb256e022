package constraints

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Bracket is one half-open covariate interval [Low, High). A nil Low means
// unbounded below, a nil High means unbounded above. The Zero bracket
// collects records whose covariate is exactly zero or undefined (NaN) and is
// tested before any range test.
type Bracket struct {
	Name string   `yaml:"name"`
	Low  *float64 `yaml:"low,omitempty"`
	High *float64 `yaml:"high,omitempty"`
	Zero bool     `yaml:"zero,omitempty"`
}

// BracketTable is a versioned, mutually-exclusive and collectively-exhaustive
// partition of a covariate. Tables ship as data assets (see configs/) so the
// bracket boundaries can change without recompilation.
type BracketTable struct {
	Version   string    `yaml:"version"`
	Covariate string    `yaml:"covariate"`
	Brackets  []Bracket `yaml:"brackets"`
}

// LoadBracketTable reads and validates a bracket table asset.
func LoadBracketTable(path string) (*BracketTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bracket table: %w", err)
	}
	var table BracketTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("parsing bracket table %s: %w", path, err)
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("bracket table %s: %w", path, err)
	}
	return &table, nil
}

// Validate checks that the range brackets tile the whole real line with no
// gaps or overlaps, so that Assign is total and deterministic.
func (t *BracketTable) Validate() error {
	if len(t.Brackets) == 0 {
		return fmt.Errorf("bracket table has no brackets")
	}

	seen := make(map[string]bool, len(t.Brackets))
	zeros := 0
	var ranges []Bracket
	for _, b := range t.Brackets {
		if b.Name == "" {
			return fmt.Errorf("bracket with empty name")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate bracket name %q", b.Name)
		}
		seen[b.Name] = true
		if b.Zero {
			zeros++
			continue
		}
		ranges = append(ranges, b)
	}
	if zeros > 1 {
		return fmt.Errorf("at most one zero bracket allowed, got %d", zeros)
	}
	if len(ranges) == 0 {
		return fmt.Errorf("no range brackets")
	}

	if ranges[0].Low != nil {
		return fmt.Errorf("first range bracket %q must be unbounded below", ranges[0].Name)
	}
	if ranges[len(ranges)-1].High != nil {
		return fmt.Errorf("last range bracket %q must be unbounded above", ranges[len(ranges)-1].Name)
	}
	for i := 0; i < len(ranges)-1; i++ {
		cur, next := ranges[i], ranges[i+1]
		if cur.High == nil || next.Low == nil {
			return fmt.Errorf("interior bracket %q or %q unbounded", cur.Name, next.Name)
		}
		if *cur.High != *next.Low {
			return fmt.Errorf("brackets %q and %q do not tile: high %g != low %g",
				cur.Name, next.Name, *cur.High, *next.Low)
		}
	}
	return nil
}

// Assign returns the label of the single bracket containing v. The zero
// bracket, when present, claims exact zeros and NaN before any range test.
func (t *BracketTable) Assign(v float64) string {
	for _, b := range t.Brackets {
		if b.Zero {
			if v == 0 || math.IsNaN(v) {
				return b.Name
			}
			continue
		}
		low := math.Inf(-1)
		if b.Low != nil {
			low = *b.Low
		}
		high := math.Inf(1)
		if b.High != nil {
			high = *b.High
		}
		if v >= low && v < high {
			return b.Name
		}
	}
	// Unreachable for a validated table.
	return ""
}

// AssignAll labels every value; the result has exactly one label per record.
func (t *BracketTable) AssignAll(values []float64) []string {
	labels := make([]string, len(values))
	for i, v := range values {
		labels[i] = t.Assign(v)
	}
	return labels
}
