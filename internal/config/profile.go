package config

import (
	"fmt"
	"sort"
)

// Built-in context profiles
const (
	ProfileDesktop = "desktop"
	ProfileMobile  = "mobile"
)

// Video recording modes
const (
	VideoOff             = "off"
	VideoOn              = "on"
	VideoRetainOnFailure = "retain-on-failure"
)

// ProfileConfig describes the device a browser context emulates. Zero values
// keep the engine's own defaults; a zero viewport falls back to the browser
// window size.
type ProfileConfig struct {
	Name              string  `mapstructure:"name"`
	ViewportWidth     int     `mapstructure:"viewport_width"`
	ViewportHeight    int     `mapstructure:"viewport_height"`
	DeviceScaleFactor float64 `mapstructure:"device_scale_factor"`
	IsMobile          bool    `mapstructure:"is_mobile"`
	HasTouch          bool    `mapstructure:"has_touch"`
	UserAgent         string  `mapstructure:"user_agent"`

	// ReducedMotion is "reduce", "no-preference" or empty
	ReducedMotion string `mapstructure:"reduced_motion"`
	// ColorScheme is "light", "dark", "no-preference" or empty
	ColorScheme   string `mapstructure:"color_scheme"`
}

// BuiltinProfiles returns the profiles available without configuration. The
// mobile profile matches an iPhone 13.
func BuiltinProfiles() map[string]ProfileConfig {
	return map[string]ProfileConfig{
		ProfileDesktop: {Name: ProfileDesktop, DeviceScaleFactor: 1},
		ProfileMobile: {
			Name:              ProfileMobile,
			ViewportWidth:     390,
			ViewportHeight:    664,
			DeviceScaleFactor: 3,
			IsMobile:          true,
			HasTouch:          true,
			UserAgent:         "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/604.1",
		},
	}
}

// Validate checks the enumerated fields
func (p ProfileConfig) Validate() error {
	if p.ViewportWidth < 0 || p.ViewportHeight < 0 {
		return fmt.Errorf("profile %s: viewport must not be negative", p.Name)
	}
	if p.DeviceScaleFactor < 0 {
		return fmt.Errorf("profile %s: device_scale_factor must not be negative", p.Name)
	}
	switch p.ReducedMotion {
	case "", "reduce", "no-preference":
	default:
		return fmt.Errorf("profile %s: unknown reduced_motion %q", p.Name, p.ReducedMotion)
	}
	switch p.ColorScheme {
	case "", "light", "dark", "no-preference":
	default:
		return fmt.Errorf("profile %s: unknown color_scheme %q", p.Name, p.ColorScheme)
	}
	return nil
}

// Profile looks a profile up by name. Profiles defined in the configuration
// shadow the built-in ones.
func (c *Config) Profile(name string) (ProfileConfig, error) {
	if p, ok := c.Profiles[name]; ok {
		if p.Name == "" {
			p.Name = name
		}
		return p, nil
	}
	if p, ok := BuiltinProfiles()[name]; ok {
		return p, nil
	}
	return ProfileConfig{}, fmt.Errorf("unknown profile %q (known: %v)", name, c.profileNames())
}

// ResolveProfiles looks up every name, in order
func (c *Config) ResolveProfiles(names []string) ([]ProfileConfig, error) {
	out := make([]ProfileConfig, 0, len(names))
	for _, name := range names {
		p, err := c.Profile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *Config) profileNames() []string {
	seen := map[string]bool{}
	for name := range BuiltinProfiles() {
		seen[name] = true
	}
	for name := range c.Profiles {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
