package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

// WriteArtifacts persists the report into dir as report.json, report.md and
// report.html. Each file is written atomically (temp file then rename) so a
// reader never sees a half-written report. Best effort: the error is for the
// caller's log, it never changes the run outcome.
func WriteArtifacts(dir string, r *pipeline.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, "report.json"), append(data, '\n')); err != nil {
		return err
	}

	if err := writeAtomic(filepath.Join(dir, "report.md"), []byte(Markdown(r))); err != nil {
		return err
	}

	page, err := HTML(r)
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, "report.html"), page)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", filepath.Base(path), err)
	}
	return nil
}
