package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Vayra-9/uiprobe/internal/models"
)

// Console prints a list report with coloured verdicts
type Console struct {
	out io.Writer

	passStyle lipgloss.Style
	failStyle lipgloss.Style
	warnStyle lipgloss.Style
	dimStyle  lipgloss.Style
	boldStyle lipgloss.Style
}

// NewConsole creates a console reporter writing to out
func NewConsole(out io.Writer) *Console {
	return &Console{
		out: out,
		passStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"}).
			Bold(true),
		failStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).
			Bold(true),
		warnStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"}),
		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}),
		boldStyle: lipgloss.NewStyle().Bold(true),
	}
}

func (c *Console) verdict(o models.Outcome) string {
	if o == models.OutcomePassed {
		return c.passStyle.Render(string(models.OutcomePassed))
	}
	return c.failStyle.Render(string(models.OutcomeFailed))
}

// Print writes one line per scenario, details for each failure and a summary
func (c *Console) Print(r models.Report) {
	for _, res := range r.Results {
		line := fmt.Sprintf("%s %s %s", c.verdict(res.Outcome), res.Label(),
			c.dimStyle.Render(fmt.Sprintf("(%s)", res.Duration.Round(time.Millisecond))))
		if res.Attempts > 1 {
			line += c.dimStyle.Render(fmt.Sprintf(" [%d attempts]", res.Attempts))
		}
		if res.Tolerated > 0 {
			line += c.warnStyle.Render(fmt.Sprintf(" %d step(s) tolerated", res.Tolerated))
		}
		fmt.Fprintln(c.out, line)

		if res.Passed() {
			for _, a := range res.FailedAssertions() {
				fmt.Fprintf(c.out, "    %s %s\n", c.warnStyle.Render("warning"), a.Summary())
			}
			continue
		}
		if res.ErrorKind != "" {
			fmt.Fprintf(c.out, "    %s %s\n", c.failStyle.Render(res.ErrorKind), firstLine(res.Error))
		}
		for _, a := range res.FailedAssertions() {
			style := c.failStyle
			if !a.Blocking() {
				style = c.warnStyle
			}
			fmt.Fprintf(c.out, "    %s %s\n", style.Render("x"), a.Summary())
			if a.Diff != "" {
				fmt.Fprintln(c.out, c.dimStyle.Render(indent(a.Diff, "      ")))
			}
		}
		if res.Screenshot != "" {
			fmt.Fprintf(c.out, "    %s\n", c.dimStyle.Render("screenshot: "+res.Screenshot))
		}
		if res.Video != "" {
			fmt.Fprintf(c.out, "    %s\n", c.dimStyle.Render("video: "+res.Video))
		}
	}

	passed, failed := r.Counts()
	fmt.Fprintf(c.out, "\n%s %s\n", c.boldStyle.Render("Result:"), c.verdict(r.Status()))
	fmt.Fprintf(c.out, "%d passed, %d failed\n", passed, failed)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
