// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/xen2raw/pkg/types"
)

// Report describes one conversion for later reference.
type Report struct {
	Input       string  `json:"input" yaml:"input"`
	Output      string  `json:"output" yaml:"output"`
	ConvertedAt string  `json:"converted_at" yaml:"converted_at"`
	Summary     Summary `json:"summary" yaml:"summary"`
	Error       string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewReport builds a report for a finished conversion. convErr, if not
// nil, is recorded as the failure.
func NewReport(inPath, outPath string, sum Summary, convErr error) Report {
	r := Report{
		Input:       inPath,
		Output:      outPath,
		ConvertedAt: time.Now().UTC().Format(time.RFC3339),
		Summary:     sum,
	}
	if convErr != nil {
		r.Error = convErr.Error()
	}
	return r
}

// Encode writes v to w as YAML or JSON.
func Encode(w io.Writer, v any, format types.ReportFormat) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case types.ReportJSON:
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	case types.ReportYAML, "":
		data, err = yaml.Marshal(v)
	default:
		return errUnknownFormat(format)
	}
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", format, err)
	}
	_, err = w.Write(data)
	return err
}

// WriteReport writes r to path in the given format.
func WriteReport(path string, r Report, format types.ReportFormat) error {
	if err := CheckFormat(format); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report %s: %w", path, err)
	}
	if err := Encode(f, r, format); err != nil {
		f.Close()
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return f.Close()
}

// CheckFormat rejects report formats other than yaml and json.
func CheckFormat(format types.ReportFormat) error {
	switch format {
	case types.ReportYAML, types.ReportJSON, "":
		return nil
	}
	return errUnknownFormat(format)
}

func errUnknownFormat(format types.ReportFormat) error {
	return fmt.Errorf("unknown report format %q (want yaml or json)", format)
}
