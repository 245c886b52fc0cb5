package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Assertion policies
const (
	PolicyCollectAll = "collect_all"
	PolicyFailFast   = "fail_fast"
)

// RunConfig controls scenario execution
type RunConfig struct {
	AssertionPolicy     string `mapstructure:"assertion_policy"`
	AssertAfterAbort    bool   `mapstructure:"assert_after_abort"`
	Retries             int    `mapstructure:"retries"`
	Workers             int    `mapstructure:"workers"`
	ScreenshotOnFailure bool   `mapstructure:"screenshot_on_failure"`
	ArtifactsDir        string `mapstructure:"artifacts_dir"`
	ScenarioDir         string `mapstructure:"scenario_dir"`

	// Profiles are the context profiles a scenario runs under unless it
	// names its own
	Profiles []string `mapstructure:"profiles"`
	// Video is one of VideoOff, VideoOn or VideoRetainOnFailure
	Video    string   `mapstructure:"video"`
}

func setRunDefaults(v *viper.Viper) {
	v.SetDefault("run.assertion_policy", PolicyCollectAll)
	v.SetDefault("run.assert_after_abort", false)
	v.SetDefault("run.retries", 1)
	v.SetDefault("run.workers", 1)
	v.SetDefault("run.screenshot_on_failure", true)
	v.SetDefault("run.artifacts_dir", "test-results")
	v.SetDefault("run.scenario_dir", "scenarios")
	v.SetDefault("run.profiles", []string{ProfileDesktop})
	v.SetDefault("run.video", VideoRetainOnFailure)
}

// Validate checks policy and bounds
func (c RunConfig) Validate() error {
	switch c.AssertionPolicy {
	case PolicyCollectAll, PolicyFailFast:
	default:
		return fmt.Errorf("unknown assertion_policy %q", c.AssertionPolicy)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	switch c.Video {
	case "", VideoOff, VideoOn, VideoRetainOnFailure:
	default:
		return fmt.Errorf("unknown video mode %q", c.Video)
	}
	return nil
}
