// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ReportFormat selects the encoding of the conversion report.
type ReportFormat string

const (
	ReportYAML ReportFormat = "yaml"
	ReportJSON ReportFormat = "json"
)

// DefaultZeroChunkSize bounds a single zero-fill write (1 MiB).
const DefaultZeroChunkSize = 1 << 20

// ConversionConfig holds settings for a dump-to-raw conversion.
type ConversionConfig struct {
	// ReportPath, when set, receives a report of the conversion.
	ReportPath string `json:"report" yaml:"report"`

	// ReportFormat selects yaml or json for the report (default yaml).
	ReportFormat ReportFormat `json:"report_format" yaml:"report_format"`

	// IndexPath, when set, receives a SQLite frame index of the dump.
	IndexPath string `json:"index" yaml:"index"`

	// ZeroChunkSize is the largest zero-fill write issued at once
	// (default DefaultZeroChunkSize).
	ZeroChunkSize int `json:"zero_chunk_size" yaml:"zero_chunk_size"`

	// LogLevel is a logrus level name (default "info").
	LogLevel string `json:"log_level" yaml:"log_level"`
}
