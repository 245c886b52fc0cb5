package browser

import (
	"testing"

	"github.com/chromedp/cdproto/emulation"
	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mobileOptions() ContextOptions {
	return ContextOptions{
		ViewportWidth:     390,
		ViewportHeight:    664,
		DeviceScaleFactor: 3,
		IsMobile:          true,
		HasTouch:          true,
		UserAgent:         "Mozilla/5.0 (iPhone)",
		ReducedMotion:     "reduce",
		ColorScheme:       "dark",
		VideoDir:          "test-results/videos",
	}
}

func TestApplyProfile(t *testing.T) {
	// GIVEN
	options := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 390, Height: 664},
	}

	// WHEN
	applyProfile(&options, mobileOptions())

	// THEN
	require.NotNil(t, options.DeviceScaleFactor)
	assert.Equal(t, 3.0, *options.DeviceScaleFactor)
	require.NotNil(t, options.IsMobile)
	assert.True(t, *options.IsMobile)
	require.NotNil(t, options.HasTouch)
	assert.True(t, *options.HasTouch)
	require.NotNil(t, options.UserAgent)
	assert.Equal(t, "Mozilla/5.0 (iPhone)", *options.UserAgent)
	assert.Equal(t, playwright.ReducedMotionReduce, options.ReducedMotion)
	assert.Equal(t, playwright.ColorSchemeDark, options.ColorScheme)
	require.NotNil(t, options.RecordVideo)
	assert.Equal(t, "test-results/videos", options.RecordVideo.Dir)
	assert.Equal(t, &playwright.Size{Width: 390, Height: 664}, options.RecordVideo.Size)
}

func TestApplyProfile_DesktopKeepsEngineDefaults(t *testing.T) {
	var options playwright.BrowserNewContextOptions

	applyProfile(&options, ContextOptions{ViewportWidth: 1280, ViewportHeight: 720})

	assert.Nil(t, options.DeviceScaleFactor)
	assert.Nil(t, options.IsMobile)
	assert.Nil(t, options.UserAgent)
	assert.Nil(t, options.ReducedMotion)
	assert.Nil(t, options.ColorScheme)
	assert.Nil(t, options.RecordVideo)
}

func TestEmulationActions(t *testing.T) {
	// WHEN
	actions := emulationActions(mobileOptions())

	// THEN
	require.Len(t, actions, 4)
	metrics, ok := actions[0].(*emulation.SetDeviceMetricsOverrideParams)
	require.True(t, ok)
	assert.Equal(t, int64(390), metrics.Width)
	assert.Equal(t, int64(664), metrics.Height)
	assert.Equal(t, 3.0, metrics.DeviceScaleFactor)
	assert.True(t, metrics.Mobile)

	touch, ok := actions[1].(*emulation.SetTouchEmulationEnabledParams)
	require.True(t, ok)
	assert.True(t, touch.Enabled)

	ua, ok := actions[2].(*emulation.SetUserAgentOverrideParams)
	require.True(t, ok)
	assert.Equal(t, "Mozilla/5.0 (iPhone)", ua.UserAgent)

	media, ok := actions[3].(*emulation.SetEmulatedMediaParams)
	require.True(t, ok)
	assert.Equal(t, []*emulation.MediaFeature{
		{Name: "prefers-reduced-motion", Value: "reduce"},
		{Name: "prefers-color-scheme", Value: "dark"},
	}, media.Features)
}

func TestEmulationActions_ViewportOnly(t *testing.T) {
	actions := emulationActions(ContextOptions{ViewportWidth: 1280, ViewportHeight: 720})

	require.Len(t, actions, 1)
	metrics := actions[0].(*emulation.SetDeviceMetricsOverrideParams)
	assert.Equal(t, 1.0, metrics.DeviceScaleFactor)
	assert.False(t, metrics.Mobile)
}
