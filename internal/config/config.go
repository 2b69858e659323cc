// Package config holds the challengeflow configuration: solver credentials,
// resolver timing, the logical-position layout, capture, browser, journal and
// logging settings. A Config value is passed explicitly to every component.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all challengeflow configuration.
type Config struct {
	Solver   SolverConfig   `yaml:"solver"`
	Resolver ResolverConfig `yaml:"resolver"`
	Layout   LayoutConfig   `yaml:"layout"`
	Capture  CaptureConfig  `yaml:"capture"`
	Browser  BrowserConfig  `yaml:"browser"`
	Journal  JournalConfig  `yaml:"journal"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SolverConfig configures the external grid-selection solving service.
type SolverConfig struct {
	BaseURL       string `yaml:"base_url"`
	ClientKey     string `yaml:"client_key"`
	SubmitTimeout string `yaml:"submit_timeout"`
	PollTimeout   string `yaml:"poll_timeout"`
	PollInitial   string `yaml:"poll_initial"` // first wait between result polls
	PollMax       string `yaml:"poll_max"`     // cap for the doubling wait
}

// ResolverConfig configures the resolution state machine.
type ResolverConfig struct {
	MaxAttempts        int    `yaml:"max_attempts"`
	PresenceChecks     int    `yaml:"presence_checks"`
	PresenceInterval   string `yaml:"presence_interval"`
	MonitorInterval    string `yaml:"monitor_interval"`
	MonitorMaxDuration string `yaml:"monitor_max_duration"` // empty or 0 = unbounded
	ActionPause        string `yaml:"action_pause"`         // wait after verify/try-again taps
	CompletePause      string `yaml:"complete_pause"`       // wait after "verification complete"
	SettleMin          string `yaml:"settle_min"`
	SettleMax          string `yaml:"settle_max"`
	CaptureBeforeTap   bool   `yaml:"capture_before_tap"`
	WaitForChallenge   string `yaml:"wait_for_challenge"` // poll interval before a session starts
}

// Point is a screen coordinate in CSS pixels.
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// LayoutConfig maps logical positions onto the screen.
type LayoutConfig struct {
	PresenceSelector string  `yaml:"presence_selector"`
	Verify           Point   `yaml:"verify"`
	TryAgain         Point   `yaml:"try_again"`
	Refresh          Point   `yaml:"refresh"`
	Cells            []Point `yaml:"cells"`
}

// Region is a capture rectangle. When Relative is true the values are
// fractions of the screen size, otherwise absolute pixels.
type Region struct {
	X        float64 `yaml:"x"`
	Y        float64 `yaml:"y"`
	Width    float64 `yaml:"width"`
	Height   float64 `yaml:"height"`
	Relative bool    `yaml:"relative"`
}

// CaptureConfig configures the snapshot pipeline.
type CaptureConfig struct {
	Region       Region `yaml:"region"`
	Quality      int    `yaml:"quality"`
	MinQuality   int    `yaml:"min_quality"`
	QualityStep  int    `yaml:"quality_step"`
	TargetSizeKB int    `yaml:"target_size_kb"`
	OCRBinary    string `yaml:"ocr_binary"`
	OCRLanguage  string `yaml:"ocr_language"`
	OCRTimeout   string `yaml:"ocr_timeout"`
}

// BrowserConfig configures the go-rod backed ports.
type BrowserConfig struct {
	DebuggerURL    string `yaml:"debugger_url"` // attach instead of launching
	Headless       bool   `yaml:"headless"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
	StartURL       string `yaml:"start_url"`
	ActionTimeout  string `yaml:"action_timeout"`
}

// JournalConfig configures the session journal.
type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DatabasePath  string `yaml:"database_path"`
	SnapshotDir   string `yaml:"snapshot_dir"`
	KeepSnapshots bool   `yaml:"keep_snapshots"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Solver: SolverConfig{
			BaseURL:       "https://api.2captcha.com",
			SubmitTimeout: "200s",
			PollTimeout:   "60s",
			PollInitial:   "5s",
			PollMax:       "60s",
		},
		Resolver: ResolverConfig{
			MaxAttempts:      5,
			PresenceChecks:   3,
			PresenceInterval: "5s",
			MonitorInterval:  "3s",
			ActionPause:      "3s",
			CompletePause:    "5s",
			SettleMin:        "3s",
			SettleMax:        "5s",
			WaitForChallenge: "5s",
		},
		Layout: LayoutConfig{
			PresenceSelector: `[aria-label="Let's verify you're a human"]`,
			Verify:           Point{X: 209, Y: 502},
			TryAgain:         Point{X: 212, Y: 554},
			Refresh:          Point{X: 302, Y: 602},
			Cells: []Point{
				{X: 109, Y: 413}, {X: 208, Y: 420}, {X: 300, Y: 423},
				{X: 114, Y: 514}, {X: 202, Y: 516}, {X: 311, Y: 511},
			},
		},
		Capture: CaptureConfig{
			Region:       Region{X: 96, Y: 643, Width: 636, Height: 652},
			Quality:      85,
			MinQuality:   50,
			QualityStep:  5,
			TargetSizeKB: 300,
			OCRBinary:    "tesseract",
			OCRLanguage:  "eng",
			OCRTimeout:   "30s",
		},
		Browser: BrowserConfig{
			Headless:       false,
			ViewportWidth:  430,
			ViewportHeight: 932,
			ActionTimeout:  "15s",
		},
		Journal: JournalConfig{
			Enabled:      true,
			DatabasePath: "data/journal.db",
			SnapshotDir:  "data/snapshots",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Dir:    "logs",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("SOLVER_CLIENT_KEY"); key != "" {
		c.Solver.ClientKey = key
	}
	if url := os.Getenv("SOLVER_BASE_URL"); url != "" {
		c.Solver.BaseURL = url
	}
	if url := os.Getenv("BROWSER_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if path := os.Getenv("CHALLENGEFLOW_JOURNAL"); path != "" {
		c.Journal.DatabasePath = path
	}
}

// Validate reports configuration that cannot run a session.
func (c *Config) Validate() error {
	var errs []error
	if c.Solver.ClientKey == "" {
		errs = append(errs, errors.New("solver.client_key is required (or set SOLVER_CLIENT_KEY)"))
	}
	if c.Solver.BaseURL == "" {
		errs = append(errs, errors.New("solver.base_url is required"))
	}
	if c.Resolver.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("resolver.max_attempts must be >= 1, got %d", c.Resolver.MaxAttempts))
	}
	if c.Resolver.PresenceChecks < 1 {
		errs = append(errs, fmt.Errorf("resolver.presence_checks must be >= 1, got %d", c.Resolver.PresenceChecks))
	}
	if len(c.Layout.Cells) == 0 {
		errs = append(errs, errors.New("layout.cells must list at least one cell"))
	}
	if c.Layout.PresenceSelector == "" {
		errs = append(errs, errors.New("layout.presence_selector is required"))
	}
	if c.SettleMax() < c.SettleMin() {
		errs = append(errs, fmt.Errorf("resolver.settle_max (%s) is below settle_min (%s)", c.SettleMax(), c.SettleMin()))
	}
	for field, v := range map[string]string{
		"solver.submit_timeout":         c.Solver.SubmitTimeout,
		"solver.poll_timeout":           c.Solver.PollTimeout,
		"solver.poll_initial":           c.Solver.PollInitial,
		"solver.poll_max":               c.Solver.PollMax,
		"resolver.presence_interval":    c.Resolver.PresenceInterval,
		"resolver.monitor_interval":     c.Resolver.MonitorInterval,
		"resolver.monitor_max_duration": c.Resolver.MonitorMaxDuration,
		"resolver.action_pause":         c.Resolver.ActionPause,
		"resolver.complete_pause":       c.Resolver.CompletePause,
		"resolver.settle_min":           c.Resolver.SettleMin,
		"resolver.settle_max":           c.Resolver.SettleMax,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}
	return errors.Join(errs...)
}

// CellCount returns the number of selectable grid cells.
func (c *Config) CellCount() int { return len(c.Layout.Cells) }

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetSubmitTimeout returns the createTask request timeout.
func (c *Config) GetSubmitTimeout() time.Duration {
	return parseDuration(c.Solver.SubmitTimeout, 200*time.Second)
}

// GetPollTimeout returns the getTaskResult request timeout.
func (c *Config) GetPollTimeout() time.Duration {
	return parseDuration(c.Solver.PollTimeout, 60*time.Second)
}

// GetPollInitial returns the first wait between result polls.
func (c *Config) GetPollInitial() time.Duration {
	return parseDuration(c.Solver.PollInitial, 5*time.Second)
}

// GetPollMax returns the cap for result poll waits.
func (c *Config) GetPollMax() time.Duration {
	return parseDuration(c.Solver.PollMax, 60*time.Second)
}

// PresenceInterval returns the wait between absence checks.
func (c *Config) PresenceInterval() time.Duration {
	return parseDuration(c.Resolver.PresenceInterval, 5*time.Second)
}

// MonitorInterval returns the continuous-monitoring observation interval.
func (c *Config) MonitorInterval() time.Duration {
	return parseDuration(c.Resolver.MonitorInterval, 3*time.Second)
}

// MonitorMaxDuration returns the monitoring cap; zero means unbounded.
func (c *Config) MonitorMaxDuration() time.Duration {
	return parseDuration(c.Resolver.MonitorMaxDuration, 0)
}

// ActionPause returns the wait after tapping verify or try-again.
func (c *Config) ActionPause() time.Duration {
	return parseDuration(c.Resolver.ActionPause, 3*time.Second)
}

// CompletePause returns the wait after "verification complete".
func (c *Config) CompletePause() time.Duration {
	return parseDuration(c.Resolver.CompletePause, 5*time.Second)
}

// SettleMin returns the lower bound of the post-tap settle window.
func (c *Config) SettleMin() time.Duration {
	return parseDuration(c.Resolver.SettleMin, 3*time.Second)
}

// SettleMax returns the upper bound of the post-tap settle window.
func (c *Config) SettleMax() time.Duration {
	return parseDuration(c.Resolver.SettleMax, 5*time.Second)
}

// WaitForChallenge returns the poll interval used before a session starts.
func (c *Config) WaitForChallenge() time.Duration {
	return parseDuration(c.Resolver.WaitForChallenge, 5*time.Second)
}

// OCRTimeout returns the per-image OCR timeout.
func (c *Config) OCRTimeout() time.Duration {
	return parseDuration(c.Capture.OCRTimeout, 30*time.Second)
}

// ActionTimeout returns the per-action browser timeout.
func (c *Config) ActionTimeout() time.Duration {
	return parseDuration(c.Browser.ActionTimeout, 15*time.Second)
}
