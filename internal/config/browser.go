package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Supported automation engines
const (
	EnginePlaywright = "playwright"
	EngineChromedp   = "chromedp"
)

// BrowserConfig controls how the browser process and its context are launched
type BrowserConfig struct {
	Engine            string        `mapstructure:"engine"`
	Headless          bool          `mapstructure:"headless"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
	Args              []string      `mapstructure:"args"`
	NoSandbox         bool          `mapstructure:"no_sandbox"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout"`
}

func setBrowserDefaults(v *viper.Viper) {
	v.SetDefault("browser.engine", EnginePlaywright)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 720)
	v.SetDefault("browser.args", []string{
		"--disable-dev-shm-usage",
		"--ipc=host",
		"--single-process",
	})
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.default_timeout", 5*time.Second)
	v.SetDefault("browser.navigation_timeout", 10*time.Second)
	v.SetDefault("browser.launch_timeout", 30*time.Second)
}

// Validate checks engine and dimensions
func (c BrowserConfig) Validate() error {
	switch c.Engine {
	case EnginePlaywright, EngineChromedp:
	default:
		return fmt.Errorf("unknown engine %q (want %s or %s)", c.Engine, EnginePlaywright, EngineChromedp)
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		return fmt.Errorf("window size must be positive, got %dx%d", c.WindowWidth, c.WindowHeight)
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be positive")
	}
	if c.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be positive")
	}
	return nil
}

// LaunchArgs returns the command line flags for the browser process
func (c BrowserConfig) LaunchArgs() []string {
	args := append([]string{}, c.Args...)
	args = append(args, fmt.Sprintf("--window-size=%d,%d", c.WindowWidth, c.WindowHeight))
	if c.NoSandbox {
		args = append(args, "--no-sandbox")
	}
	return args
}
