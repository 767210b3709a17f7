// Package config manages the emitrack configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/facturaelec/emitrack/internal/emission"
)

// Environment overrides for the endpoints.
const (
	EnvAPIURL    = "EMITRACK_API_URL"
	EnvSocketURL = "EMITRACK_SOCKET_URL"
)

// Config is the on-disk configuration.
type Config struct {
	APIURL           string        `yaml:"api_url"`
	SocketURL        string        `yaml:"socket_url"`
	SubmitPath       string        `yaml:"submit_path"`
	StatusType       string        `yaml:"status_type"`
	RejectRegression bool          `yaml:"reject_regression"`
	Timeouts         TimeoutConfig `yaml:"timeouts"`
	Keywords         KeywordTable  `yaml:"keywords"`
	Sandbox          SandboxConfig `yaml:"sandbox"`

	path string
}

// TimeoutConfig holds durations as strings ("10s", "1m").
type TimeoutConfig struct {
	HTTP      Duration `yaml:"http"`
	Registrar Duration `yaml:"registrar"`
	Start     Duration `yaml:"start"`
	Emit      Duration `yaml:"emit"`
}

// KeywordTable is the versioned classifier table.
type KeywordTable struct {
	Version string        `yaml:"version"`
	Rules   []KeywordRule `yaml:"rules"`
}

// KeywordRule maps a keyword (or status code) to a stage name or index.
type KeywordRule struct {
	Keyword string `yaml:"keyword,omitempty"`
	Code    string `yaml:"code,omitempty"`
	Stage   string `yaml:"stage"`
}

// SandboxConfig configures `emitrack sandbox`.
type SandboxConfig struct {
	Addr      string   `yaml:"addr"`
	StepDelay Duration `yaml:"step_delay"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	rules := make([]KeywordRule, 0, len(emission.DefaultRules()))
	for _, r := range emission.DefaultRules() {
		rules = append(rules, KeywordRule{Keyword: r.Keyword, Code: r.Code, Stage: strings.ToLower(r.Stage.String())})
	}

	return &Config{
		APIURL:     "http://localhost:3000/api",
		SocketURL:  "ws://localhost:3000/ws",
		SubmitPath: "comprobante/simular-emision",
		StatusType: emission.StatusMessageType,
		Timeouts: TimeoutConfig{
			HTTP:      Duration(30 * time.Second),
			Registrar: Duration(10 * time.Second),
			Start:     Duration(15 * time.Second),
			Emit:      Duration(2 * time.Minute),
		},
		Keywords: KeywordTable{
			Version: emission.DefaultTableVersion,
			Rules:   rules,
		},
		Sandbox: SandboxConfig{
			Addr:      "127.0.0.1:3000",
			StepDelay: Duration(1500 * time.Millisecond),
		},
	}
}

// ConfigPath returns $XDG_CONFIG_HOME/emitrack/config.yaml, falling back to
// ~/.config/emitrack/config.yaml.
func ConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "emitrack", "config.yaml")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "emitrack", "config.yaml")
	}
	return filepath.Join(homeDir, ".config", "emitrack", "config.yaml")
}

// Load reads the config at ConfigPath.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config at path. A missing file yields defaults.
// Environment overrides are applied and the result is validated.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Path returns the file this config was loaded from.
func (c *Config) Path() string {
	if c.path == "" {
		return ConfigPath()
	}
	return c.path
}

// Save writes the config back to Path.
func (c *Config) Save() error {
	path := c.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		c.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSocketURL)); v != "" {
		c.SocketURL = v
	}
}

// Validate checks endpoints, durations and the keyword table.
func (c *Config) Validate() error {
	if err := checkURL("api_url", c.APIURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("socket_url", c.SocketURL, "ws", "wss"); err != nil {
		return err
	}
	for name, d := range map[string]Duration{
		"timeouts.http":      c.Timeouts.HTTP,
		"timeouts.registrar": c.Timeouts.Registrar,
		"timeouts.start":     c.Timeouts.Start,
		"timeouts.emit":      c.Timeouts.Emit,
		"sandbox.step_delay": c.Sandbox.StepDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if _, err := c.Classifier(); err != nil {
		return err
	}
	return nil
}

// Classifier builds the classifier described by the keyword table.
func (c *Config) Classifier() (*emission.Classifier, error) {
	rules := make([]emission.Rule, 0, len(c.Keywords.Rules))
	for i, r := range c.Keywords.Rules {
		stage, err := emission.ParseStage(r.Stage)
		if err != nil {
			return nil, fmt.Errorf("keywords.rules[%d]: %w", i, err)
		}
		if strings.TrimSpace(r.Keyword) == "" && r.Keyword != "" {
			return nil, fmt.Errorf("keywords.rules[%d]: keyword is blank", i)
		}
		rules = append(rules, emission.Rule{Keyword: r.Keyword, Code: r.Code, Stage: stage})
	}

	version := c.Keywords.Version
	if version == "" {
		version = "unversioned"
	}
	classifier, err := emission.NewClassifier(c.StatusType, version, rules)
	if err != nil {
		return nil, fmt.Errorf("keywords: %w", err)
	}
	return classifier, nil
}

func checkURL(field, raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s %q: expected %s URL", field, raw, strings.Join(schemes, " or "))
}
