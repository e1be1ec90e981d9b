// Package metrics implements the record processor pool (spec.md §4.5)
// and the value-based metric registry DESIGN NOTES §9 calls for:
// "represent metrics as values, not classes". A RecordSpec extracts one
// metric from a parsed response plus its raw timing record; a
// DerivedSpec names its dependencies and is resolved later by the
// aggregator via topological sort.
package metrics

import (
	"fmt"

	"github.com/aiperf-core/genaiperf/internal/model"
)

// Tokenizer is the minimal counting contract the record processor needs
// from the external tokenizer plugin (spec.md §1 keeps the tokenizer
// itself out of scope; this is the interface boundary). May be nil, in
// which case token-count metrics fall back to server-reported usage.
type Tokenizer interface {
	Count(text string) int
}

// RecordSpec is one per-request metric extractor.
type RecordSpec struct {
	Tag     string
	Unit    string
	Extract func(parsed *model.ParsedResponse, raw *model.RawRequestRecord, tok Tokenizer, preferServerUsage bool) (model.MetricValue, bool)
}

// DerivedContext is what a DerivedSpec's Compute function can read:
// already-resolved aggregate/derived values by tag, plus the run's
// sealed-record totals the aggregator maintains directly.
type DerivedContext struct {
	Values          map[string]float64
	CompletedCount  int
	GoodCount       int
	TotalOutputTokens int64
	DurationSeconds float64
}

// DerivedSpec is a metric computed from other metrics at finalisation,
// never stored per-record (spec.md §4.6 "derived metrics... not stored").
type DerivedSpec struct {
	Tag       string
	Unit      string
	DependsOn []string
	Compute   func(ctx DerivedContext) float64
}

// Registry holds the full set of record and derived metric specs for a
// run.
type Registry struct {
	record  []RecordSpec
	derived map[string]DerivedSpec
}

// NewRegistry builds the registry with the built-in base metrics
// (spec.md §4.5) plus the built-in derived metrics (spec.md §4.6).
func NewRegistry() *Registry {
	r := &Registry{derived: make(map[string]DerivedSpec)}
	for _, spec := range baseRecordSpecs() {
		r.record = append(r.record, spec)
	}
	for _, spec := range baseDerivedSpecs() {
		r.derived[spec.Tag] = spec
	}
	return r
}

// RecordSpecs returns every registered per-record extractor.
func (r *Registry) RecordSpecs() []RecordSpec { return r.record }

// RegisterDerived adds or overrides a derived metric.
func (r *Registry) RegisterDerived(spec DerivedSpec) { r.derived[spec.Tag] = spec }

// ResolveDerived topologically sorts and computes every registered
// derived metric against ctx, returning tag→value.
func (r *Registry) ResolveDerived(ctx DerivedContext) (map[string]float64, error) {
	resolved := make(map[string]float64, len(r.derived))
	for k, v := range ctx.Values {
		resolved[k] = v
	}

	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(tag string) error
	visit = func(tag string) error {
		if visited[tag] {
			return nil
		}
		spec, ok := r.derived[tag]
		if !ok {
			return nil // not a derived metric; assumed already in ctx.Values
		}
		if visiting[tag] {
			return fmt.Errorf("metrics: cycle detected resolving derived metric %q", tag)
		}
		visiting[tag] = true
		for _, dep := range spec.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[tag] = false
		ctx.Values = resolved
		resolved[tag] = spec.Compute(ctx)
		visited[tag] = true
		return nil
	}

	for tag := range r.derived {
		if err := visit(tag); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}
