// Package output places trace files and the run summary in an output directory.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"wintrace/internal/engine"
	"wintrace/internal/trace"
)

// Dir is an output directory for one traced run.
type Dir struct {
	Path string
}

// Prepare creates the directory if needed.
func Prepare(path string) (Dir, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return Dir{}, fmt.Errorf("output: mkdir %s: %w", path, err)
	}
	return Dir{Path: path}, nil
}

// Sink creates the sink file for one trace kind. It has the signature of
// trace.SinkFactory.
func (d Dir) Sink(k trace.Kind) (*trace.Sink, error) {
	return trace.CreateSink(filepath.Join(d.Path, k.FileName()))
}

// Summary is the machine-readable record of one run, written to summary.json.
type Summary struct {
	Target   string            `json:"target"`
	Arch     string            `json:"arch"`
	ExitCode int               `json:"exit_code"`
	Window   string            `json:"window"`
	Opens    int               `json:"window_opens"`
	Depth    int               `json:"final_depth"`
	Stats    engine.Stats      `json:"stats"`
	Files    map[string]string `json:"files"`
	Routines int               `json:"tallied_routines,omitempty"`
}

// WriteSummaryJSON writes s to summary.json.
func (d Dir) WriteSummaryJSON(s Summary) error {
	return writeJSON(filepath.Join(d.Path, "summary.json"), s)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
