package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. UIPROBE_BROWSER_HEADLESS
const EnvPrefix = "UIPROBE"

// Config is the root configuration of the runner
type Config struct {
	Target   TargetConfig   `mapstructure:"target"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Run      RunConfig      `mapstructure:"run"`
	Report   ReportConfig   `mapstructure:"report"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Server   ServerConfig   `mapstructure:"server"`
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Profiles adds or overrides named context profiles
	Profiles map[string]ProfileConfig `mapstructure:"profiles"`
}

// SetDefaults registers every default value on v
func SetDefaults(v *viper.Viper) {
	setTargetDefaults(v)
	setBrowserDefaults(v)
	setRunDefaults(v)
	setReportDefaults(v)
	setLoggerDefaults(v)
	setServerDefaults(v)
}

// NewViper returns a viper instance with defaults, env bindings and the
// optional config file applied. A missing config file is not an error.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("uiprobe")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy variable names used by existing CI jobs and compose files
	_ = v.BindEnv("target.base_url", EnvPrefix+"_TARGET_BASE_URL", "E2E_BASE_URL", "BASE_URL")
	_ = v.BindEnv("target.email", EnvPrefix+"_TARGET_EMAIL", "E2E_EMAIL")
	_ = v.BindEnv("target.password", EnvPrefix+"_TARGET_PASSWORD", "E2E_PASSWORD")
	_ = v.BindEnv("browser.headless", EnvPrefix+"_BROWSER_HEADLESS", "HEADLESS")
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("postgres.user", "POSTGRES_USER")
	_ = v.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("postgres.database", "POSTGRES_DB")
	_ = v.BindEnv("postgres.host", "POSTGRES_HOSTNAME")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Target.Validate(); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	if err := c.Run.Validate(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if err := c.Report.Validate(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	for name, p := range c.Profiles {
		if p.Name == "" {
			p.Name = name
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profiles: %w", err)
		}
	}
	if _, err := c.ResolveProfiles(c.Run.Profiles); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
