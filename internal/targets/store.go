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

// Package targets provides pluggable read access to administrative target
// collections. Calibration is agnostic to where targets live; the two
// shipped sources are a normalized SQLite database and a flat YAML asset.
package targets

import (
	"context"

	"github.com/microdata-io/weight-calibrator/pkg/core"
)

// Filter narrows a Load to a reference period, source and/or geography.
// Zero-valued fields match everything.
type Filter struct {
	// Period is the reference period, e.g. "2021".
	Period string

	// Source is the administrative source label, e.g. "irs-soi".
	Source string

	// GeographicID restricts to one geography, e.g. "US" or "06".
	GeographicID string
}

// Store is the interface for pluggable target sources.
type Store interface {
	// Name returns the unique name of this source (e.g. "sqlite", "file").
	Name() string

	// Load returns the targets matching the filter, in a stable order.
	Load(ctx context.Context, f Filter) ([]core.Target, error)

	// Close releases any underlying resources.
	Close() error
}
