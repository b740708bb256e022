/*
Copyright 2025 The weight-calibrator Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package targets

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/microdata-io/weight-calibrator/pkg/core"
)

// TargetAsset is the on-disk YAML layout of a versioned target table.
// Assets carry their source and default period so individual entries stay
// terse.
type TargetAsset struct {
	Version string        `yaml:"version"`
	Source  string        `yaml:"source"`
	Period  string        `yaml:"period"`
	Targets []core.Target `yaml:"targets"`
}

// FileStore reads targets from a YAML asset file.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore over the given asset path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Name implements Store.
func (s *FileStore) Name() string { return "file" }

// Load implements Store. Targets keep their file order.
func (s *FileStore) Load(ctx context.Context, f Filter) ([]core.Target, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading target asset: %w", err)
	}
	var asset TargetAsset
	if err := yaml.Unmarshal(raw, &asset); err != nil {
		return nil, fmt.Errorf("parsing target asset %s: %w", s.path, err)
	}

	if f.Source != "" && asset.Source != "" && f.Source != asset.Source {
		return nil, nil
	}

	var out []core.Target
	for _, t := range asset.Targets {
		if t.Period == "" {
			t.Period = asset.Period
		}
		if f.Period != "" && t.Period != f.Period {
			continue
		}
		if f.GeographicID != "" && t.GeographicID != f.GeographicID {
			continue
		}
		if t.Name == "" {
			t.Name = fmt.Sprintf("%s/%s/%s", t.GeographicID, t.Variable, t.Bracket)
		}
		out = append(out, t)
	}
	return out, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
