package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/Vayra-9/uiprobe/internal/actions"
	"github.com/Vayra-9/uiprobe/internal/assertions"
	"github.com/Vayra-9/uiprobe/internal/browser"
	"github.com/Vayra-9/uiprobe/internal/config"
	"github.com/Vayra-9/uiprobe/internal/database"
	"github.com/Vayra-9/uiprobe/internal/models"
	"github.com/Vayra-9/uiprobe/internal/report"
	"github.com/Vayra-9/uiprobe/internal/repository"
	"github.com/Vayra-9/uiprobe/internal/scenario"
	"github.com/Vayra-9/uiprobe/internal/services"
)

// Process exit codes of the run command
const (
	ExitPassed = 0
	ExitFailed = 1
	ExitSetup  = 2
)

// ErrNoScenarios is returned by RunSuite when there is nothing to run
var ErrNoScenarios = errors.New("no scenarios to run")

// RunDependencies holds everything a suite run needs
type RunDependencies struct {
	Config *config.Config
	// Engine overrides the engine named in Config.Browser.Engine
	Engine browser.Engine
	Store  services.ResultStore
	Logger *zap.Logger
	Stdout io.Writer
}

// RunOutput is the result of RunSuite
type RunOutput struct {
	Report   models.Report
	Written  []string
	ExitCode int
}

func (d RunDependencies) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// BuildRunService wires the session manager, action executor and assertion
// evaluator into a run service. The returned manager must be shut down once
// the suite is over.
func BuildRunService(deps RunDependencies) (services.RunService, *browser.Manager, error) {
	cfg := deps.Config
	logger := deps.logger()

	engine := deps.Engine
	if engine == nil {
		var err error
		engine, err = browser.NewEngine(cfg.Browser.Engine, logger)
		if err != nil {
			return nil, nil, err
		}
	}
	manager := browser.NewManager(engine, cfg.Browser, cfg.Target, logger)

	executor, err := actions.NewExecutor(actions.Options{
		BaseURL:           cfg.Target.BaseURL,
		Vars:              cfg.Target.Vars(),
		DefaultTimeout:    cfg.Browser.DefaultTimeout,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		ArtifactsDir:      cfg.Run.ArtifactsDir,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create action executor: %w", err)
	}

	evaluator := assertions.NewEvaluator(assertions.Options{
		Policy:  cfg.Run.AssertionPolicy,
		Timeout: cfg.Browser.DefaultTimeout,
	}, executor, logger)

	svc := services.NewRunService(manager, executor, evaluator, deps.Store, services.Options{
		Retries:             cfg.Run.Retries,
		Workers:             cfg.Run.Workers,
		AssertAfterAbort:    cfg.Run.AssertAfterAbort,
		ScreenshotOnFailure: cfg.Run.ScreenshotOnFailure,
		ArtifactsDir:        cfg.Run.ArtifactsDir,
		Video:               cfg.Run.Video,
		BaseURL:             cfg.Target.BaseURL,
		Engine:              engine.Name(),
	}, logger)
	return svc, manager, nil
}

// RunSuite executes scenarios once per context profile, writes the configured
// reports and computes the process exit code. On error the returned ExitCode is still the one the
// process should exit with.
func RunSuite(ctx context.Context, deps RunDependencies, scenarios []*scenario.Scenario) (RunOutput, error) {
	if len(scenarios) == 0 {
		return RunOutput{ExitCode: ExitCode(models.Report{})}, ErrNoScenarios
	}
	logger := deps.logger()
	stdout := deps.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	scenarios, err := scenario.ExpandProfiles(scenarios, deps.Config)
	if err != nil {
		return RunOutput{ExitCode: ExitSetup}, err
	}

	svc, manager, err := BuildRunService(deps)
	if err != nil {
		return RunOutput{ExitCode: ExitSetup}, err
	}

	rep := svc.RunSuite(ctx, scenarios)
	if err := manager.Shutdown(); err != nil {
		logger.Warn("leaked sessions did not close cleanly", zap.Error(err))
	}

	out := RunOutput{Report: rep, ExitCode: ExitCode(rep)}
	out.Written, err = report.Write(deps.Config.Report, rep, stdout)
	if err != nil {
		out.ExitCode = ExitSetup
		return out, fmt.Errorf("failed to write report: %w", err)
	}
	for _, path := range out.Written {
		logger.Debug("report written", zap.String("path", path))
	}
	return out, nil
}

// ExitCode maps a report to the process exit code. A suite where any run
// could not even start its browser exits with ExitSetup. An empty suite
// exits with ExitFailed.
func ExitCode(r models.Report) int {
	code := ExitPassed
	for _, res := range r.Results {
		if res.Passed() {
			continue
		}
		if res.ErrorKind == models.ErrorKind(models.ErrEnvironmentSetup) {
			return ExitSetup
		}
		code = ExitFailed
	}
	if len(r.Results) == 0 {
		return ExitFailed
	}
	return code
}

// OpenHistory connects to the run history database and applies the schema.
// It returns nil values when no database is configured.
func OpenHistory(ctx context.Context, cfg *config.PostgresConfig, logger *zap.Logger) (*sql.DB, *repository.RunRepository, error) {
	if !cfg.Enabled() {
		return nil, nil, nil
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := database.RunMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, repository.NewRunRepository(db), nil
}
