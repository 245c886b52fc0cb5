package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// GIVEN no config file and no overrides

	// WHEN
	v, err := NewViper("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	// THEN
	assert.Equal(t, DefaultBaseURL, cfg.Target.BaseURL)
	assert.Equal(t, EnginePlaywright, cfg.Browser.Engine)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1280, cfg.Browser.WindowWidth)
	assert.Equal(t, 720, cfg.Browser.WindowHeight)
	assert.Equal(t, 5*time.Second, cfg.Browser.DefaultTimeout)
	assert.Equal(t, 10*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, PolicyCollectAll, cfg.Run.AssertionPolicy)
	assert.Equal(t, 1, cfg.Run.Retries)
	assert.Equal(t, "9323", cfg.Server.Port)
	assert.Contains(t, cfg.Browser.Args, "--disable-dev-shm-usage")
	assert.False(t, cfg.Postgres.Enabled())
	assert.Equal(t, []string{ProfileDesktop}, cfg.Run.Profiles)
	assert.Equal(t, VideoRetainOnFailure, cfg.Run.Video)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	// GIVEN
	t.Setenv("E2E_BASE_URL", "http://localhost:3000")
	t.Setenv("UIPROBE_BROWSER_ENGINE", "chromedp")
	t.Setenv("HEADLESS", "false")
	t.Setenv("UIPROBE_RUN_WORKERS", "4")

	// WHEN
	v, err := NewViper("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	// THEN
	assert.Equal(t, "http://localhost:3000", cfg.Target.BaseURL)
	assert.Equal(t, EngineChromedp, cfg.Browser.Engine)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 4, cfg.Run.Workers)
}

func TestLoad_ConfigFile(t *testing.T) {
	// GIVEN
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := `
target:
  base_url: https://staging.example.com
browser:
  window_width: 390
  window_height: 844
  default_timeout: 2s
run:
  assertion_policy: fail_fast
  retries: 0
  profiles: [desktop, tablet]
  video: "off"
profiles:
  tablet:
    viewport_width: 820
    viewport_height: 1180
    device_scale_factor: 2
    has_touch: true
    color_scheme: dark
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// WHEN
	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	// THEN
	assert.Equal(t, "https://staging.example.com", cfg.Target.BaseURL)
	assert.Equal(t, 390, cfg.Browser.WindowWidth)
	assert.Equal(t, 2*time.Second, cfg.Browser.DefaultTimeout)
	assert.Equal(t, PolicyFailFast, cfg.Run.AssertionPolicy)
	assert.Equal(t, 0, cfg.Run.Retries)
	assert.Equal(t, VideoOff, cfg.Run.Video)

	profiles, err := cfg.ResolveProfiles(cfg.Run.Profiles)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, ProfileDesktop, profiles[0].Name)
	assert.Equal(t, ProfileConfig{
		Name:              "tablet",
		ViewportWidth:     820,
		ViewportHeight:    1180,
		DeviceScaleFactor: 2,
		HasTouch:          true,
		ColorScheme:       "dark",
	}, profiles[1])
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Target: TargetConfig{BaseURL: "http://localhost:5174"},
			Browser: BrowserConfig{
				Engine:            EnginePlaywright,
				WindowWidth:       1280,
				WindowHeight:      720,
				DefaultTimeout:    time.Second,
				NavigationTimeout: time.Second,
			},
			Run:    RunConfig{AssertionPolicy: PolicyCollectAll, Workers: 1},
			Report: ReportConfig{Formats: []string{FormatConsole}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "relative base url", mutate: func(c *Config) { c.Target.BaseURL = "/app" }, wantErr: true},
		{name: "ftp base url", mutate: func(c *Config) { c.Target.BaseURL = "ftp://host" }, wantErr: true},
		{name: "unknown engine", mutate: func(c *Config) { c.Browser.Engine = "selenium" }, wantErr: true},
		{name: "zero window", mutate: func(c *Config) { c.Browser.WindowWidth = 0 }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.Browser.DefaultTimeout = 0 }, wantErr: true},
		{name: "unknown policy", mutate: func(c *Config) { c.Run.AssertionPolicy = "some" }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.Run.Retries = -1 }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.Run.Workers = 0 }, wantErr: true},
		{name: "unknown format", mutate: func(c *Config) { c.Report.Formats = []string{"pdf"} }, wantErr: true},
		{name: "builtin profiles", mutate: func(c *Config) { c.Run.Profiles = []string{ProfileDesktop, ProfileMobile} }},
		{name: "unknown profile", mutate: func(c *Config) { c.Run.Profiles = []string{"watch"} }, wantErr: true},
		{name: "unknown video mode", mutate: func(c *Config) { c.Run.Video = "sometimes" }, wantErr: true},
		{name: "unknown color scheme", mutate: func(c *Config) {
			c.Profiles = map[string]ProfileConfig{"night": {ColorScheme: "sepia"}}
		}, wantErr: true},
		{name: "unknown reduced motion", mutate: func(c *Config) {
			c.Profiles = map[string]ProfileConfig{"calm": {ReducedMotion: "less"}}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Profile(t *testing.T) {
	cfg := &Config{Profiles: map[string]ProfileConfig{
		ProfileMobile: {ViewportWidth: 412, ViewportHeight: 915, IsMobile: true},
	}}

	mobile, err := cfg.Profile(ProfileMobile)
	require.NoError(t, err)
	assert.Equal(t, ProfileMobile, mobile.Name)
	assert.Equal(t, 412, mobile.ViewportWidth, "configured profiles shadow built-ins")

	desktop, err := cfg.Profile(ProfileDesktop)
	require.NoError(t, err)
	assert.Zero(t, desktop.ViewportWidth, "desktop keeps the window size")

	_, err = cfg.Profile("watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "desktop")
	assert.Equal(t, 3.0, BuiltinProfiles()[ProfileMobile].DeviceScaleFactor)
}

func TestBrowserConfig_LaunchArgs(t *testing.T) {
	cfg := BrowserConfig{
		Args:         []string{"--disable-dev-shm-usage"},
		WindowWidth:  1280,
		WindowHeight: 720,
		NoSandbox:    true,
	}

	args := cfg.LaunchArgs()

	assert.Equal(t, []string{"--disable-dev-shm-usage", "--window-size=1280,720", "--no-sandbox"}, args)
	assert.Equal(t, []string{"--disable-dev-shm-usage"}, cfg.Args, "LaunchArgs must not mutate configured args")
}

func TestLoadPostgresConfig(t *testing.T) {
	env := map[string]string{
		"POSTGRES_USER":     "runner",
		"POSTGRES_PASSWORD": "secret",
		"POSTGRES_DB":       "runs",
		"POSTGRES_HOSTNAME": "db",
	}

	cfg, err := LoadPostgresConfig(func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "host=db user=runner password=secret dbname=runs sslmode=disable", cfg.ConnectionString())

	delete(env, "POSTGRES_DB")
	_, err = LoadPostgresConfig(func(k string) string { return env[k] })
	assert.EqualError(t, err, "POSTGRES_DB is required")
}
