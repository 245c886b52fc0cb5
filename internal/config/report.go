package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Report formats
const (
	FormatConsole  = "console"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatJSON     = "json"
)

// ReportConfig controls where and how results are written
type ReportConfig struct {
	Dir         string   `mapstructure:"dir"`
	Formats     []string `mapstructure:"formats"`
	MetricsFile string   `mapstructure:"metrics_file"`
	Title       string   `mapstructure:"title"`
}

func setReportDefaults(v *viper.Viper) {
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.formats", []string{FormatConsole, FormatMarkdown, FormatHTML, FormatJSON})
	v.SetDefault("report.metrics_file", "")
	v.SetDefault("report.title", "VAYRA E2E Test Report")
}

// Validate checks formats are known
func (c ReportConfig) Validate() error {
	for _, f := range c.Formats {
		switch f {
		case FormatConsole, FormatMarkdown, FormatHTML, FormatJSON:
		default:
			return fmt.Errorf("unknown report format %q", f)
		}
	}
	return nil
}

// Enabled reports whether format f was requested
func (c ReportConfig) Enabled(f string) bool {
	for _, x := range c.Formats {
		if x == f {
			return true
		}
	}
	return false
}
