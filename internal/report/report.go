// Package report renders suite results to the console, markdown, HTML, JSON
// and Prometheus textfile metrics.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Vayra-9/uiprobe/internal/config"
	"github.com/Vayra-9/uiprobe/internal/models"
)

// File names inside the report directory
const (
	MarkdownFile = "TEST_REPORT.md"
	HTMLFile     = "index.html"
	JSONFile     = "report.json"
)

type jsonReport struct {
	ID         string       `json:"id"`
	Status     string       `json:"status"`
	BaseURL    string       `json:"baseUrl,omitempty"`
	Engine     string       `json:"engine,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Passed     int          `json:"passed"`
	Failed     int          `json:"failed"`
	Results    []jsonResult `json:"results"`
}

type jsonResult struct {
	models.RunSummary
	Source     string                   `json:"source,omitempty"`
	Screenshot string                   `json:"screenshot,omitempty"`
	Video      string                   `json:"video,omitempty"`
	Tolerated  int                      `json:"tolerated,omitempty"`
	Steps      []jsonStep               `json:"steps"`
	Assertions []models.AssertionResult `json:"assertions"`
}

type jsonStep struct {
	Index      int    `json:"index"`
	Action     string `json:"action"`
	Status     string `json:"status"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// JSON encodes r for machine consumption
func JSON(r models.Report) ([]byte, error) {
	passed, failed := r.Counts()
	out := jsonReport{
		ID:         r.ID,
		Status:     string(r.Status()),
		BaseURL:    r.BaseURL,
		Engine:     r.Engine,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Passed:     passed,
		Failed:     failed,
		Results:    make([]jsonResult, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		jr := jsonResult{
			RunSummary: res.Summary(),
			Source:     res.Source,
			Screenshot: res.Screenshot,
			Video:      res.Video,
			Tolerated:  res.Tolerated,
			Steps:      make([]jsonStep, 0, len(res.Steps)),
			Assertions: append([]models.AssertionResult{}, res.Assertions...),
		}
		for _, s := range res.Steps {
			jr.Steps = append(jr.Steps, jsonStep{
				Index:      s.Index,
				Action:     s.Action,
				Status:     string(s.Status),
				DurationMS: s.Duration.Milliseconds(),
				Error:      s.Error,
			})
		}
		out.Results = append(out.Results, jr)
	}
	return json.MarshalIndent(out, "", "  ")
}

// Write emits every format enabled in cfg. Console output goes to stdout;
// files are written below cfg.Dir. It returns the paths of the files written.
func Write(cfg config.ReportConfig, r models.Report, stdout io.Writer) ([]string, error) {
	if cfg.Enabled(config.FormatConsole) {
		NewConsole(stdout).Print(r)
	}

	var written []string
	needsDir := cfg.Enabled(config.FormatMarkdown) || cfg.Enabled(config.FormatHTML) || cfg.Enabled(config.FormatJSON)
	if needsDir {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create report dir: %w", err)
		}
	}

	title := cfg.Title
	if title == "" {
		title = "Test Report"
	}
	md := Markdown(title, r)

	write := func(name string, data []byte) error {
		path := filepath.Join(cfg.Dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("could not write %s: %w", name, err)
		}
		written = append(written, path)
		return nil
	}

	if cfg.Enabled(config.FormatMarkdown) {
		if err := write(MarkdownFile, []byte(md)); err != nil {
			return written, err
		}
	}
	if cfg.Enabled(config.FormatHTML) {
		page, err := HTML(title, md)
		if err != nil {
			return written, err
		}
		if err := write(HTMLFile, page); err != nil {
			return written, err
		}
	}
	if cfg.Enabled(config.FormatJSON) {
		data, err := JSON(r)
		if err != nil {
			return written, fmt.Errorf("could not encode report: %w", err)
		}
		if err := write(JSONFile, data); err != nil {
			return written, err
		}
	}

	if cfg.MetricsFile != "" {
		if dir := filepath.Dir(cfg.MetricsFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return written, fmt.Errorf("could not create metrics dir: %w", err)
			}
		}
		if err := WriteMetrics(cfg.MetricsFile, r); err != nil {
			return written, err
		}
		written = append(written, cfg.MetricsFile)
	}
	return written, nil
}
