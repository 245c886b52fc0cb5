package config

import (
	"fmt"
	"net/url"

	"github.com/spf13/viper"
)

// DefaultBaseURL is where the application under test is served in development
const DefaultBaseURL = "http://localhost:5174"

// TargetConfig describes the application under test
type TargetConfig struct {
	BaseURL      string            `mapstructure:"base_url"`
	Email        string            `mapstructure:"email"`
	Password     string            `mapstructure:"password"`
	ExtraHeaders map[string]string `mapstructure:"extra_headers"`
}

func setTargetDefaults(v *viper.Viper) {
	v.SetDefault("target.base_url", DefaultBaseURL)
	v.SetDefault("target.extra_headers", map[string]string{
		"X-Test-Environment": "playwright",
	})
}

// Validate checks the base URL is absolute
func (c TargetConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url must be http or https, got %q", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url must include a host, got %q", c.BaseURL)
	}
	return nil
}

// Vars returns the substitution variables scenarios may reference as ${NAME}
func (c TargetConfig) Vars() map[string]string {
	return map[string]string{
		"BASE_URL": c.BaseURL,
		"EMAIL":    c.Email,
		"PASSWORD": c.Password,
	}
}
