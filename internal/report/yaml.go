package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/kbuildgo/internal/engine"
	"gopkg.in/yaml.v3"
)

// Document is the YAML form of a build report.
type Document struct {
	BuildID     string         `yaml:"build_id"`
	Started     time.Time      `yaml:"started"`
	Duration    string         `yaml:"duration"`
	DryRun      bool           `yaml:"dry_run,omitempty"`
	Invocations int            `yaml:"invocations"`
	Counts      map[string]int `yaml:"counts"`
	Units       []UnitDocument `yaml:"units"`
}

// UnitDocument is one unit of a Document.
type UnitDocument struct {
	Unit        string `yaml:"unit"`
	Kind        string `yaml:"kind"`
	Status      string `yaml:"status"`
	Reason      string `yaml:"reason,omitempty"`
	Fingerprint string `yaml:"fingerprint,omitempty"`
	Duration    string `yaml:"duration,omitempty"`
	Error       string `yaml:"error,omitempty"`
	Diagnostic  string `yaml:"diagnostic,omitempty"`
}

// NewDocument converts an engine report.
func NewDocument(r *engine.Report) Document {
	doc := Document{
		BuildID:     r.BuildID,
		Started:     r.Started.UTC(),
		Duration:    r.Duration().Round(time.Millisecond).String(),
		DryRun:      r.DryRun,
		Invocations: r.Invocations,
		Counts:      make(map[string]int),
	}
	for _, u := range r.Units {
		doc.Counts[u.Status.String()]++
		ud := UnitDocument{
			Unit:        u.Unit,
			Kind:        string(u.Kind),
			Status:      u.Status.String(),
			Reason:      u.Reason,
			Fingerprint: u.Fingerprint,
		}
		if u.Duration > 0 {
			ud.Duration = u.Duration.Round(time.Millisecond).String()
		}
		if u.Err != nil {
			ud.Error = u.Err.Error()
			ud.Diagnostic = u.Err.Diagnostic
		}
		doc.Units = append(doc.Units, ud)
	}
	return doc
}

// WriteYAML encodes r to w.
func WriteYAML(w io.Writer, r *engine.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewDocument(r)); err != nil {
		return fmt.Errorf("encoding build report: %w", err)
	}
	return enc.Close()
}

// SaveYAML writes r to path, creating parent directories.
func SaveYAML(path string, r *engine.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create build report: %w", err)
	}
	if err := WriteYAML(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LoadYAML reads a report written by SaveYAML.
func LoadYAML(path string) (Document, error) {
	var doc Document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("failed to read build report: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to parse build report %s: %w", path, err)
	}
	return doc, nil
}
