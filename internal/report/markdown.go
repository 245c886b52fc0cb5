package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/Vayra-9/uiprobe/internal/models"
)

// Markdown renders the report as the TEST_REPORT.md document: verdict and
// date, one line per scenario, then a section per failure.
func Markdown(title string, r models.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Result:** %s\n\n", r.Status())
	fmt.Fprintf(&b, "**Date:** %s\n\n", r.StartedAt.UTC().Format(time.RFC3339))
	if r.BaseURL != "" {
		fmt.Fprintf(&b, "**Target:** %s (%s)\n\n", r.BaseURL, r.Engine)
	}

	passed, failed := r.Counts()
	fmt.Fprintf(&b, "%d passed, %d failed in %s\n\n", passed, failed, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))

	for _, res := range r.Results {
		line := fmt.Sprintf("- **%s** %s (%s)", res.Outcome, res.Label(), res.Duration.Round(time.Millisecond))
		if res.Attempts > 1 {
			line += fmt.Sprintf(", %d attempts", res.Attempts)
		}
		b.WriteString(line + "\n")
	}

	var failures []models.RunResult
	for _, res := range r.Results {
		if !res.Passed() {
			failures = append(failures, res)
		}
	}
	if len(failures) == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, "\n## Failures (%d)\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(&b, "\n### %s\n\n", f.Label())
		if f.ErrorKind != "" {
			fmt.Fprintf(&b, "*%s*\n\n", f.ErrorKind)
		}
		if f.Error != "" {
			fmt.Fprintf(&b, "```\n%s\n```\n", f.Error)
		}
		if rows := stepRows(f.Steps); rows != "" {
			b.WriteString("\n| # | Step | Status | Error |\n|---|---|---|---|\n")
			b.WriteString(rows)
		}
		for _, a := range f.FailedAssertions() {
			fmt.Fprintf(&b, "\n- %s\n", cell(a.Summary()))
			if a.Diff != "" {
				fmt.Fprintf(&b, "\n```diff\n%s\n```\n", strings.TrimRight(a.Diff, "\n"))
			}
		}
		if f.Screenshot != "" {
			fmt.Fprintf(&b, "\nScreenshot: `%s`\n", f.Screenshot)
		}
		if f.Video != "" {
			fmt.Fprintf(&b, "\nVideo: `%s`\n", f.Video)
		}
	}
	return b.String()
}

// stepRows lists the steps that did not simply succeed
func stepRows(steps []models.StepResult) string {
	var b strings.Builder
	for _, s := range steps {
		if s.Status == models.StepOK {
			continue
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s |\n", s.Index+1, cell(s.Action), s.Status, cell(s.Error))
	}
	return b.String()
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

const htmlPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; }
pre { background: #f4f4f4; padding: .75rem; overflow-x: auto; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ddd; padding: .25rem .5rem; }
</style>
</head>
<body>
%s
</body>
</html>
`

// HTML renders markdown into a standalone page
func HTML(title, markdown string) ([]byte, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithXHTML()),
	)
	var body bytes.Buffer
	if err := md.Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return []byte(fmt.Sprintf(htmlPage, escapeTitle(title), body.String())), nil
}

func escapeTitle(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
