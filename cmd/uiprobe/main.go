package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Vayra-9/uiprobe/internal/browser"
	internalcli "github.com/Vayra-9/uiprobe/internal/cli"
	"github.com/Vayra-9/uiprobe/internal/config"
	"github.com/Vayra-9/uiprobe/internal/handlers"
	"github.com/Vayra-9/uiprobe/internal/observability"
	"github.com/Vayra-9/uiprobe/internal/scenario"
)

var version = "0.1.0"

// flagKeys maps command line flags to the configuration keys they override
var flagKeys = map[string]string{
	"base-url":   "target.base_url",
	"engine":     "browser.engine",
	"headless":   "browser.headless",
	"workers":    "run.workers",
	"retries":    "run.retries",
	"policy":     "run.assertion_policy",
	"report-dir": "report.dir",
	"video":      "run.video",
	"port":       "server.port",
	"log-level":  "logger.level",
}

var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the config file (default ./uiprobe.yaml)",
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "debug, info, warn or error",
	},
}

var runFlags = []cli.Flag{
	&cli.StringFlag{Name: "base-url", Usage: "URL of the application under test"},
	&cli.StringFlag{Name: "engine", Usage: "browser engine: playwright or chromedp"},
	&cli.BoolFlag{Name: "headless", Usage: "run the browser without a window", Value: true},
	&cli.IntFlag{Name: "workers", Usage: "number of scenarios run in parallel"},
	&cli.IntFlag{Name: "retries", Usage: "extra attempts for a failed scenario"},
	&cli.StringFlag{Name: "policy", Usage: "assertion policy: collect_all or fail_fast"},
	&cli.StringFlag{Name: "report-dir", Usage: "directory for the markdown, HTML and JSON reports"},
	&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "only run scenarios with this tag (repeatable)"},
	&cli.StringSliceFlag{Name: "profile", Aliases: []string{"p"}, Usage: "context profile for scenarios that name none (repeatable)"},
	&cli.StringFlag{Name: "video", Usage: "video recording: off, on or retain-on-failure"},
}

// loadConfig reads the config file and environment, then applies any flag
// that was set explicitly
func loadConfig(c *cli.Context) (*config.Config, error) {
	v, err := config.NewViper(c.String("config"))
	if err != nil {
		return nil, err
	}
	applyFlags(c, v)
	return config.Load(v)
}

func applyFlags(c *cli.Context, v *viper.Viper) {
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			v.Set(key, c.Value(flag))
		}
	}
	if c.IsSet("profile") {
		v.Set("run.profiles", c.StringSlice("profile"))
	}
}

// setupLogger builds the process logger from cfg
func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	observability.SetLogger(logger)
	return logger, nil
}

// loadScenarios reads the scenarios named on the command line, or the
// configured scenario directory when none are
func loadScenarios(c *cli.Context, cfg *config.Config) ([]*scenario.Scenario, error) {
	paths := c.Args().Slice()
	if len(paths) == 0 {
		paths = []string{cfg.Run.ScenarioDir}
	}
	scenarios, err := scenario.LoadPaths(paths...)
	if err != nil {
		return nil, err
	}
	return scenario.Filter(scenarios, c.StringSlice("tag")), nil
}

// RunCommand returns the run command
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run scenarios against the application and write the report",
		ArgsUsage: "[scenario files or directories]",
		Flags:     runFlags,
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err, internalcli.ExitSetup)
			}
			logger, err := setupLogger(cfg)
			if err != nil {
				return cli.Exit(err, internalcli.ExitSetup)
			}
			defer observability.Sync()

			scenarios, err := loadScenarios(c, cfg)
			if err != nil {
				return cli.Exit(err, internalcli.ExitSetup)
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps := internalcli.RunDependencies{
				Config: cfg,
				Logger: logger,
				Stdout: c.App.Writer,
			}
			db, repo, err := internalcli.OpenHistory(ctx, &cfg.Postgres, logger)
			if err != nil {
				// history is optional; a run never fails because of it
				logger.Warn("run history disabled", zap.Error(err))
			}
			if db != nil {
				defer db.Close()
				deps.Store = repo
			}

			logger.Info("starting suite",
				zap.Int("scenarios", len(scenarios)),
				zap.String("base_url", cfg.Target.BaseURL),
				zap.String("engine", cfg.Browser.Engine))

			out, err := internalcli.RunSuite(ctx, deps, scenarios)
			if errors.Is(err, internalcli.ErrNoScenarios) {
				return cli.Exit(fmt.Sprintf("no scenarios match tags %v", c.StringSlice("tag")), out.ExitCode)
			}
			if err != nil {
				return cli.Exit(err, out.ExitCode)
			}
			if out.ExitCode != internalcli.ExitPassed {
				return cli.Exit("", out.ExitCode)
			}
			return nil
		},
	}
}

// ValidateCommand returns the validate command
func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check scenario files without starting a browser",
		ArgsUsage: "[scenario files or directories]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "only list scenarios with this tag"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			scenarios, err := loadScenarios(c, cfg)
			if err != nil {
				return err
			}
			if _, err := scenario.ExpandProfiles(scenarios, cfg); err != nil {
				return err
			}
			for _, sc := range scenarios {
				profiles := sc.Profiles
				if len(profiles) == 0 {
					profiles = cfg.Run.Profiles
				}
				fmt.Fprintf(c.App.Writer, "%-30s %d steps, %d assertions %v  %s\n",
					sc.Name, len(sc.Steps), len(sc.Assertions), profiles, sc.Source)
			}
			fmt.Fprintf(c.App.Writer, "%d scenario(s) OK\n", len(scenarios))
			return nil
		},
	}
}

// ServeCommand returns the command serving the last report and run history
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "show-report",
		Usage: "Serve the last HTML report and, when a database is configured, the run history",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "report-dir", Usage: "directory holding index.html"},
			&cli.StringFlag{Name: "port", Usage: "port to listen on"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer observability.Sync()

			deps := internalcli.ServerDependencies{
				ServerConfig:  cfg.Server,
				Logger:        logger,
				ReportHandler: handlers.NewReportHandler(cfg.Report.Dir),
			}

			db, repo, err := internalcli.OpenHistory(context.Background(), &cfg.Postgres, logger)
			if err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			if db != nil {
				defer db.Close()
				logger.Info("connected to run history database")

				runsHandler, err := handlers.NewRunsHandler("templates/runs.html", cfg.Report.Title, repo, logger)
				if err != nil {
					return fmt.Errorf("failed to create runs handler: %w", err)
				}
				deps.RunsHandler = runsHandler
				deps.RunsAPIHandler = handlers.NewRunsAPIHandler(repo, logger)
			}

			return internalcli.RunServe(deps)
		},
	}
}

// InstallCommand returns the command downloading the playwright driver and browsers
func InstallCommand() *cli.Command {
	return &cli.Command{
		Name:  "install",
		Usage: "Download the Playwright driver and Chromium",
		Action: func(c *cli.Context) error {
			if err := browser.InstallPlaywright(); err != nil {
				return fmt.Errorf("failed to install playwright: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "playwright installed")
			return nil
		},
	}
}

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}

	app := &cli.App{
		Name:    "uiprobe",
		Usage:   "Scripted browser checks for web applications",
		Version: version,
		Flags:   globalFlags,
		Commands: []*cli.Command{
			RunCommand(),
			ValidateCommand(),
			ServeCommand(),
			InstallCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(internalcli.ExitFailed)
	}
}
