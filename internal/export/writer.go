package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.yaml.in/yaml/v4"

	"github.com/aiperf-core/genaiperf/internal/aggregator"
	"github.com/aiperf-core/genaiperf/internal/config"
)

// Writer renders every artifact under artifactDir/runName. A fresh Writer
// is constructed per run; it holds no state beyond its target directory.
type Writer struct {
	dir string
}

// New resolves and creates the run's artifact directory.
func New(artifactDir, runName string) (*Writer, error) {
	dir := filepath.Join(artifactDir, runName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create artifact dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

func (w *Writer) path(name string) string { return filepath.Join(w.dir, name) }

// WriteInputs renders inputs.json. Callers must pass sessions in a stable
// order (conversation generation order) for the determinism property
// spec.md §8 requires.
func (w *Writer) WriteInputs(doc InputsDocument) error {
	return writeJSON(w.path("inputs.json"), doc, false)
}

// WriteRecords renders profile_export.jsonl, one RecordExport per line, in
// the order records is given (Collector.Records sorts by x_request_id).
func (w *Writer) WriteRecords(records []RecordExport) error {
	f, err := os.Create(w.path("profile_export.jsonl"))
	if err != nil {
		return fmt.Errorf("export: create profile_export.jsonl: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("export: encode record %s: %w", r.Metadata.XRequestID, err)
		}
	}
	return nil
}

// WriteAggregate renders profile_export_aiperf.json, profile_export_aiperf.csv,
// and (if cfg.SliceDurationSec > 0) the timeslice artifacts. An additional
// profile_export_aiperf.yaml convenience rendering is always written,
// mirroring the teacher's BenchmarkResult Json()/Yaml() pair.
func (w *Writer) WriteAggregate(cfg *config.Config, runName string, result aggregator.Result) error {
	report := NewAggregateReport(runName, cfg, result)

	if err := writeJSON(w.path("profile_export_aiperf.json"), report, true); err != nil {
		return err
	}
	if err := writeYAML(w.path("profile_export_aiperf.yaml"), report); err != nil {
		return err
	}
	if err := writeStatCSV(w.path("profile_export_aiperf.csv"), report.Rows()); err != nil {
		return err
	}

	if cfg.SliceDurationSec <= 0 || len(result.Timeslices) == 0 {
		return nil
	}
	if err := writeJSON(w.path("profile_export_aiperf_timeslices.json"), result.Timeslices, true); err != nil {
		return err
	}
	return writeTimesliceCSV(w.path("profile_export_aiperf_timeslices.csv"), TimesliceRows(result.Timeslices))
}

func writeJSON(path string, v any, indent bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("export: encode %s: %w", path, err)
	}
	return nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("export: marshal yaml %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	return nil
}

func writeStatCSV(path string, rows []StatRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	if err := cw.Write([]string{"Metric", "Unit", "Stat", "Value"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Metric, r.Unit, r.Stat, strconv.FormatFloat(r.Value, 'g', -1, 64)}); err != nil {
			return err
		}
	}
	return cw.Error()
}

func writeTimesliceCSV(path string, rows []TimesliceRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	if err := cw.Write([]string{"Timeslice", "Metric", "Unit", "Stat", "Value"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			strconv.Itoa(r.Timeslice), r.Metric, r.Unit, r.Stat, strconv.FormatFloat(r.Value, 'g', -1, 64),
		}); err != nil {
			return err
		}
	}
	return cw.Error()
}
