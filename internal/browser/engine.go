package browser

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Vayra-9/uiprobe/internal/config"
)

// NewEngine returns the engine configured by name
func NewEngine(name string, logger *zap.Logger) (Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch name {
	case config.EnginePlaywright, "":
		return NewPlaywrightEngine(logger.Named("playwright")), nil
	case config.EngineChromedp:
		return NewChromedpEngine(logger.Named("chromedp")), nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", name)
	}
}
