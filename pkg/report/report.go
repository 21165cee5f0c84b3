// Package report persists the per-run grading report.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xhad/grader/internal/models"
	"github.com/xhad/grader/internal/types"
	"github.com/xhad/grader/pkg/logger"
)

// DefaultPath is where the report lands when no path is configured.
var DefaultPath = filepath.Join("output", "latest_report.json")

// Encode renders a report the way it is persisted: indented, no HTML escaping.
func Encode(r models.Report) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return buf.Bytes(), nil
}

// FileWriter overwrites one fixed path on every run. Concurrent runs
// sharing a path leave the last complete report in place.
type FileWriter struct {
	path string
}

func NewFileWriter(path string) *FileWriter {
	if path == "" {
		path = DefaultPath
	}
	return &FileWriter{path: path}
}

func (w *FileWriter) Write(_ context.Context, _ string, r models.Report) (string, error) {
	data, err := Encode(r)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	// Each write stages its own sibling temp file so readers never see a
	// partial report and concurrent writers never share one.
	tmp, err := os.CreateTemp(filepath.Dir(w.path), filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp report: %w", err)
	}
	if err := writeAndClose(tmp, data); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("replace report: %w", err)
	}
	return w.path, nil
}

func writeAndClose(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Mirrored writes to primary and then to each mirror. Only the primary's
// failure is returned; mirror failures are logged.
type Mirrored struct {
	primary types.ReportWriter
	mirrors []types.ReportWriter
	log     logger.Logger
}

func NewMirrored(primary types.ReportWriter, log logger.Logger, mirrors ...types.ReportWriter) *Mirrored {
	if log == nil {
		log = logger.NewNop()
	}
	return &Mirrored{primary: primary, mirrors: mirrors, log: log}
}

func (m *Mirrored) Write(ctx context.Context, runID string, r models.Report) (string, error) {
	path, err := m.primary.Write(ctx, runID, r)
	if err != nil {
		return "", err
	}
	for _, mirror := range m.mirrors {
		location, err := mirror.Write(ctx, runID, r)
		if err != nil {
			m.log.Warn("report", "Mirror write failed", map[string]interface{}{
				"run_id": runID,
				"error":  err.Error(),
			})
			continue
		}
		m.log.Info("report", "Report mirrored", map[string]interface{}{
			"run_id":   runID,
			"location": location,
		})
	}
	return path, nil
}
