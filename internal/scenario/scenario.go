// Package scenario loads scripted test scenarios from YAML files.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Vayra-9/uiprobe/internal/config"
	"github.com/Vayra-9/uiprobe/internal/models"
)

// Settle timeouts for the steps generated by an "open" prelude
const (
	openLoadTimeout   = 3 * time.Second
	openFramesTimeout = 3 * time.Second
)

var ErrNoScenarios = errors.New("no scenarios found")

// Scenario is one scripted run: a sequence of actions followed by assertions
type Scenario struct {
	Name        string
	Description string
	Source      string
	Tags        []string
	Policy      string
	Steps       []models.ActionStep
	Assertions  []models.Assertion

	// Profiles names the context profiles to run under; empty means the
	// configured defaults
	Profiles []string
	// Profile is the context profile this copy runs under, set by
	// ExpandProfiles
	Profile  config.ProfileConfig
}

type fileSpec struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Tags        []string        `yaml:"tags"`
	Policy      string          `yaml:"policy"`
	Profiles    []string        `yaml:"profiles"`
	Open        string          `yaml:"open"`
	Steps       []stepSpec      `yaml:"steps"`
	Assertions  []assertionSpec `yaml:"assertions"`
}

type stepSpec struct {
	Action    string `yaml:"action"`
	Target    string `yaml:"target"`
	Value     string `yaml:"value"`
	URL       string `yaml:"url"`
	WaitUntil string `yaml:"wait_until"`
	State     string `yaml:"state"`
	Duration  string `yaml:"duration"`
	Timeout   string `yaml:"timeout"`
	Optional  bool   `yaml:"optional"`
}

type assertionSpec struct {
	Check       string `yaml:"check"`
	Description string `yaml:"description"`
	Selector    string `yaml:"selector"`
	Expected    string `yaml:"expected"`
	Property    string `yaml:"property"`
	Key         string `yaml:"key"`
	URL         string `yaml:"url"`
	Script      string `yaml:"script"`
	Min         *int   `yaml:"min"`
	Max         *int   `yaml:"max"`
	Severity    string `yaml:"severity"`
}

// Parse decodes a scenario document. Unknown fields are rejected.
func Parse(data []byte, source string) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var spec fileSpec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	sc := &Scenario{
		Name:        spec.Name,
		Description: spec.Description,
		Source:      source,
		Tags:        spec.Tags,
		Policy:      spec.Policy,
		Profiles:    spec.Profiles,
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	}
	if spec.Open != "" {
		sc.Steps = append(sc.Steps, OpenSteps(spec.Open)...)
	}
	for i, s := range spec.Steps {
		step, err := s.toStep()
		if err != nil {
			return nil, fmt.Errorf("%s: step %d: %w", source, i+1, err)
		}
		sc.Steps = append(sc.Steps, step)
	}
	for _, a := range spec.Assertions {
		sc.Assertions = append(sc.Assertions, a.toAssertion())
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return sc, nil
}

// OpenSteps returns the navigation prelude for path: a critical navigation
// that only waits for the response to commit, then non-critical waits for the
// DOM and for every sub-frame to settle
func OpenSteps(path string) []models.ActionStep {
	return []models.ActionStep{
		{Kind: models.ActionNavigate, URL: path, WaitUntil: models.LoadStateCommit, Required: true},
		{Kind: models.ActionWaitLoad, WaitUntil: models.LoadStateDOMContentLoaded, Timeout: openLoadTimeout},
		{Kind: models.ActionWaitFrames, WaitUntil: models.LoadStateDOMContentLoaded, Timeout: openFramesTimeout},
	}
}

func (s stepSpec) toStep() (models.ActionStep, error) {
	step := models.ActionStep{
		Kind:      models.ActionKind(s.Action),
		Target:    s.Target,
		Value:     s.Value,
		URL:       s.URL,
		WaitUntil: models.LoadState(s.WaitUntil),
		State:     models.ElementState(s.State),
		Required:  !s.Optional,
	}
	var err error
	if step.Duration, err = parseDuration(s.Duration); err != nil {
		return step, fmt.Errorf("duration: %w", err)
	}
	if step.Timeout, err = parseDuration(s.Timeout); err != nil {
		return step, fmt.Errorf("timeout: %w", err)
	}
	return step, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func (a assertionSpec) toAssertion() models.Assertion {
	return models.Assertion{
		Kind:        models.AssertionKind(a.Check),
		Description: a.Description,
		Selector:    a.Selector,
		Expected:    a.Expected,
		Property:    a.Property,
		Key:         a.Key,
		URL:         a.URL,
		Script:      a.Script,
		Min:         a.Min,
		Max:         a.Max,
		Severity:    models.Severity(a.Severity),
	}
}

// Validate checks every step and assertion
func (s *Scenario) Validate() error {
	var errs []error
	if len(s.Steps) == 0 {
		errs = append(errs, errors.New("scenario has no steps"))
	}
	switch s.Policy {
	case "", config.PolicyCollectAll, config.PolicyFailFast:
	default:
		errs = append(errs, fmt.Errorf("unknown policy %q", s.Policy))
	}
	for i, step := range s.Steps {
		if err := step.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d: %w", i+1, err))
		}
		switch step.WaitUntil {
		case "", models.LoadStateCommit, models.LoadStateDOMContentLoaded, models.LoadStateLoad, models.LoadStateNetworkIdle:
		default:
			errs = append(errs, fmt.Errorf("step %d: unknown load state %q", i+1, step.WaitUntil))
		}
		switch step.State {
		case "", models.ElementVisible, models.ElementHidden, models.ElementAttached, models.ElementDetached:
		default:
			errs = append(errs, fmt.Errorf("step %d: unknown element state %q", i+1, step.State))
		}
	}
	for i, a := range s.Assertions {
		if err := a.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("assertion %d: %w", i+1, err))
		}
		switch a.Severity {
		case "", models.SeverityError, models.SeverityWarning:
		default:
			errs = append(errs, fmt.Errorf("assertion %d: unknown severity %q", i+1, a.Severity))
		}
	}
	return errors.Join(errs...)
}

// HasTag reports whether the scenario carries tag
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Load reads one scenario file
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read scenario: %w", err)
	}
	return Parse(data, path)
}

// LoadPaths loads scenario files and every *.yaml or *.yml file below the
// given directories, in lexical order. All files are read; every error is
// reported.
func LoadPaths(paths ...string) ([]*Scenario, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("could not read scenario path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch filepath.Ext(path) {
			case ".yaml", ".yml":
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("could not scan %s: %w", p, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, ErrNoScenarios
	}

	var scenarios []*Scenario
	var errs []error
	names := map[string]string{}
	for _, f := range files {
		sc, err := Load(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, ok := names[sc.Name]; ok {
			errs = append(errs, fmt.Errorf("%s: scenario %q already defined in %s", f, sc.Name, prev))
			continue
		}
		names[sc.Name] = f
		scenarios = append(scenarios, sc)
	}
	return scenarios, errors.Join(errs...)
}

// Filter keeps the scenarios carrying any of tags, or all when tags is empty
func Filter(scenarios []*Scenario, tags []string) []*Scenario {
	if len(tags) == 0 {
		return scenarios
	}
	var out []*Scenario
	for _, sc := range scenarios {
		for _, tag := range tags {
			if sc.HasTag(tag) {
				out = append(out, sc)
				break
			}
		}
	}
	return out
}

// ExpandProfiles returns one copy of each scenario per context profile it
// runs under: the profiles it names, or cfg.Run.Profiles when it names none.
// Copies share steps and assertions.
func ExpandProfiles(scenarios []*Scenario, cfg *config.Config) ([]*Scenario, error) {
	var out []*Scenario
	var errs []error
	for _, sc := range scenarios {
		names := sc.Profiles
		if len(names) == 0 {
			names = cfg.Run.Profiles
		}
		if len(names) == 0 {
			out = append(out, sc)
			continue
		}
		profiles, err := cfg.ResolveProfiles(names)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sc.Name, err))
			continue
		}
		for _, p := range profiles {
			c := *sc
			c.Profile = p
			out = append(out, &c)
		}
	}
	return out, errors.Join(errs...)
}

// Label names the scenario together with its profile when it has one
func (s *Scenario) Label() string {
	if s.Profile.Name == "" {
		return s.Name
	}
	return s.Name + " [" + s.Profile.Name + "]"
}
