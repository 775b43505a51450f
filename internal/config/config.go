// internal/config/config.go
//
// This package handles configuration and the .erf directory structure.
// Every project that runs erf gets a .erf/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ErfDir is the name of the directory we create in each project
	ErfDir = ".erf"

	// DefaultStageThreshold is the probability a stage must exceed to count as reached.
	DefaultStageThreshold = 0.6
	// DefaultDebounce is the quiet period the monitor waits after a file write.
	DefaultDebounce = 500 * time.Millisecond

	defaultLogLevel = "info"
)

const defaultProjectConfigYAML = `# erf project configuration
version: 1

assessment:
  # A stage counts as reached when its probability is strictly above this value.
  stage_threshold: 0.6

# Extra indicator words and meta-emotion regexes layered on top of the built-in lexicon.
lexicon:
  extra_positive: []
  extra_negative: []
  extra_meta_patterns: []

monitor:
  debounce: 500ms

bridge:
  enabled: true
  host: 127.0.0.1
  port: 8765
  # Largest accepted POST /events body.
  max_body_bytes: 1048576
  read_timeout: 15s
  write_timeout: 15s
  idle_timeout: 60s

logging:
  level: info
  json: false
`

// AssessmentConfig tunes the aggregate assessment.
type AssessmentConfig struct {
	StageThreshold float64 `yaml:"stage_threshold"`
}

// LexiconConfig extends the built-in valence lexicon.
type LexiconConfig struct {
	ExtraPositive     []string `yaml:"extra_positive,omitempty"`
	ExtraNegative     []string `yaml:"extra_negative,omitempty"`
	ExtraMetaPatterns []string `yaml:"extra_meta_patterns,omitempty"`
}

// MonitorConfig captures background monitoring preferences.
type MonitorConfig struct {
	Debounce string `yaml:"debounce"`
}

// BridgeConfig mirrors the bridge block in config.yaml. Zero values mean
// the eventbridge defaults; env overrides are applied by that package.
type BridgeConfig struct {
	Enabled      *bool  `yaml:"enabled,omitempty"`
	Host         string `yaml:"host,omitempty"`
	Port         int    `yaml:"port,omitempty"`
	MaxBodyBytes int64  `yaml:"max_body_bytes,omitempty"`
	ReadTimeout  string `yaml:"read_timeout,omitempty"`
	WriteTimeout string `yaml:"write_timeout,omitempty"`
	IdleTimeout  string `yaml:"idle_timeout,omitempty"`
}

// Timeouts returns the parsed read, write and idle timeouts. Unset values
// are zero. Call after validation.
func (b BridgeConfig) Timeouts() (read, write, idle time.Duration) {
	parse := func(v string) time.Duration {
		d, _ := time.ParseDuration(v)
		return d
	}
	return parse(b.ReadTimeout), parse(b.WriteTimeout), parse(b.IdleTimeout)
}

// CheckBridgeAddress validates a bind host and port. Port 0 means the
// default port.
func CheckBridgeAddress(host string, port int) error {
	if strings.ContainsAny(host, " \t/") {
		return fmt.Errorf("bridge host %q must be a bare hostname or IP", host)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("bridge port out of range: %d", port)
	}
	return nil
}

func (b BridgeConfig) validate() error {
	if err := CheckBridgeAddress(b.Host, b.Port); err != nil {
		return err
	}
	if b.MaxBodyBytes < 0 {
		return fmt.Errorf("bridge.max_body_bytes must not be negative")
	}
	timeouts := []struct{ name, value string }{
		{"read_timeout", b.ReadTimeout},
		{"write_timeout", b.WriteTimeout},
		{"idle_timeout", b.IdleTimeout},
	}
	for _, tm := range timeouts {
		if tm.value == "" {
			continue
		}
		if d, err := time.ParseDuration(tm.value); err != nil {
			return fmt.Errorf("bridge.%s: %w", tm.name, err)
		} else if d <= 0 {
			return fmt.Errorf("bridge.%s must be positive", tm.name)
		}
	}
	return nil
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ProjectConfig models .erf/config.yaml.
type ProjectConfig struct {
	Version    int              `yaml:"version"`
	Assessment AssessmentConfig `yaml:"assessment"`
	Lexicon    LexiconConfig    `yaml:"lexicon"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Config holds the runtime configuration for erf.
type Config struct {
	// ProjectDir is the directory erf operates in
	ProjectDir string

	// ErfProjectDir is ProjectDir/.erf
	ErfProjectDir string

	Project ProjectConfig
}

// ResolveProjectDir returns ERF_HOME when set, otherwise fallback.
func ResolveProjectDir(fallback string) string {
	if home := strings.TrimSpace(os.Getenv("ERF_HOME")); home != "" {
		return filepath.Clean(home)
	}
	return fallback
}

// InitDir creates the .erf directory structure in the given project directory.
//
// Structure created:
// .erf/
// ├── config.yaml
// ├── logs/      <- erf.log (zap) and journal.log
// ├── state/     <- history.db
// └── reports/   <- persisted assessment documents
func InitDir(projectDir string) error {
	erfDir := filepath.Join(projectDir, ErfDir)
	dirs := []string{
		filepath.Join(erfDir, "logs"),
		filepath.Join(erfDir, "state"),
		filepath.Join(erfDir, "reports"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureProjectConfig(filepath.Join(erfDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings.
// A missing config.yaml yields the defaults.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:    projectDir,
		ErfProjectDir: filepath.Join(projectDir, ErfDir),
		Project:       defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.ErfProjectDir, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.ErfProjectDir, "state")
}

// ReportsDir returns the directory holding persisted report documents
func (c *Config) ReportsDir() string {
	return filepath.Join(c.ErfProjectDir, "reports")
}

// JournalPath returns the human-readable journal file.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "journal.log")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ErfProjectDir, "config.yaml")
}

// StageThreshold returns the configured stage threshold.
func (c *Config) StageThreshold() float64 {
	return c.Project.Assessment.StageThreshold
}

// MonitorDebounce returns the parsed monitor debounce interval.
func (c *Config) MonitorDebounce() time.Duration {
	d, err := time.ParseDuration(c.Project.Monitor.Debounce)
	if err != nil || d <= 0 {
		return DefaultDebounce
	}
	return d
}

// SetStageThreshold updates the threshold and persists it to .erf/config.yaml.
func (c *Config) SetStageThreshold(value float64) error {
	if value <= 0 || value >= 1 {
		return fmt.Errorf("config: stage threshold must be between 0 and 1 (exclusive), got %v", value)
	}
	previous := c.Project.Assessment.StageThreshold
	c.Project.Assessment.StageThreshold = value
	if err := c.saveProjectConfig(); err != nil {
		c.Project.Assessment.StageThreshold = previous
		return err
	}
	return nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Assessment.StageThreshold == 0 {
		pc.Assessment.StageThreshold = DefaultStageThreshold
	}
	if strings.TrimSpace(pc.Monitor.Debounce) == "" {
		pc.Monitor.Debounce = DefaultDebounce.String()
	}
	if strings.TrimSpace(pc.Logging.Level) == "" {
		pc.Logging.Level = defaultLogLevel
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Lexicon.ExtraPositive = normalizeWords(pc.Lexicon.ExtraPositive)
	pc.Lexicon.ExtraNegative = normalizeWords(pc.Lexicon.ExtraNegative)
	patterns := pc.Lexicon.ExtraMetaPatterns[:0]
	for _, p := range pc.Lexicon.ExtraMetaPatterns {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	pc.Lexicon.ExtraMetaPatterns = patterns
	pc.Monitor.Debounce = strings.TrimSpace(pc.Monitor.Debounce)
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
	pc.Bridge.ReadTimeout = strings.TrimSpace(pc.Bridge.ReadTimeout)
	pc.Bridge.WriteTimeout = strings.TrimSpace(pc.Bridge.WriteTimeout)
	pc.Bridge.IdleTimeout = strings.TrimSpace(pc.Bridge.IdleTimeout)
	pc.Logging.Level = strings.ToLower(strings.TrimSpace(pc.Logging.Level))
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if t := pc.Assessment.StageThreshold; t <= 0 || t >= 1 {
		return fmt.Errorf("assessment.stage_threshold must be between 0 and 1 (exclusive), got %v", t)
	}
	for i, p := range pc.Lexicon.ExtraMetaPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("lexicon.extra_meta_patterns[%d]: %w", i, err)
		}
	}
	if d, err := time.ParseDuration(pc.Monitor.Debounce); err != nil {
		return fmt.Errorf("monitor.debounce: %w", err)
	} else if d <= 0 {
		return fmt.Errorf("monitor.debounce must be positive")
	}
	if err := pc.Bridge.validate(); err != nil {
		return err
	}
	switch pc.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}

func normalizeWords(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.ErfProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure erf dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
