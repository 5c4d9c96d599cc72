package blockview

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// DefaultBlock is the sentinel name of a renderer's main output block.
const DefaultBlock = "__main__"

// ValidFileExtensions are the template file extensions an FSSource resolves.
var ValidFileExtensions = []string{".blade", ".tmpl", ".html", ".gohtml", ".hbs"}

// Config holds configuration for an Engine and the renderers it creates.
type Config struct {
	// Delimiters are applied in order; the first pair splits the raw source,
	// later pairs only split the literal text left over.
	Delimiters []Delimiters `validate:"required,min=1,dive"`
	// Concurrency bounds how many placeholders of one block Finish waits on at once.
	Concurrency int `validate:"min=1"`
	// PlaceholderTimeout fails placeholders whose producer runs longer. Zero disables it.
	PlaceholderTimeout time.Duration `validate:"min=0"`
	// ContextLines is the number of source lines shown around a failing line.
	ContextLines int
	// DiagnosticLimit caps the length of the message a failed compile prints.
	DiagnosticLimit int
	// Extensions are the file extensions an engine's FSSource tries and that
	// template names may carry.
	Extensions []string
	// BladeDirectives enables @extends, @section, @yield, @push, @stack,
	// @include and {{ expr }} on top of the code delimiters.
	BladeDirectives bool
	Logger          *slog.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		Delimiters: []Delimiters{
			{Open: "<%", Close: "%>"},
			{Open: "{%", Close: "%}"},
		},
		Concurrency:     8,
		ContextLines:    3,
		DiagnosticLimit: 200,
		Extensions:      ValidFileExtensions,
		Logger:          slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
}

type fileConfig struct {
	Delimiters         []Delimiters `yaml:"delimiters" toml:"delimiters"`
	Concurrency        int          `yaml:"concurrency" toml:"concurrency"`
	PlaceholderTimeout string       `yaml:"placeholder_timeout" toml:"placeholder_timeout"`
	ContextLines       int          `yaml:"context_lines" toml:"context_lines"`
	DiagnosticLimit    int          `yaml:"diagnostic_limit" toml:"diagnostic_limit"`
	Extensions         []string     `yaml:"extensions" toml:"extensions"`
	BladeDirectives    bool         `yaml:"blade_directives" toml:"blade_directives"`
	LogLevel           string       `yaml:"log_level" toml:"log_level"`
}

// LoadConfig reads a YAML config file, or a TOML one when path ends in
// ".toml". Missing keys keep their defaults.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	parse := ParseConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		parse = ParseConfigTOML
	}
	cfg, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML config on top of DefaultConfig.
func ParseConfig(raw []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, err
	}
	return fc.apply()
}

// ParseConfigTOML decodes TOML config on top of DefaultConfig.
func ParseConfigTOML(raw []byte) (*Config, error) {
	var fc fileConfig
	if err := toml.Unmarshal(raw, &fc); err != nil {
		return nil, err
	}
	return fc.apply()
}

func (fc fileConfig) apply() (*Config, error) {
	cfg := DefaultConfig()
	if len(fc.Delimiters) > 0 {
		cfg.Delimiters = fc.Delimiters
	}
	if fc.Concurrency > 0 {
		cfg.Concurrency = fc.Concurrency
	}
	if fc.PlaceholderTimeout != "" {
		d, err := time.ParseDuration(fc.PlaceholderTimeout)
		if err != nil {
			return nil, fmt.Errorf("placeholder_timeout: %w", err)
		}
		cfg.PlaceholderTimeout = d
	}
	if fc.ContextLines > 0 {
		cfg.ContextLines = fc.ContextLines
	}
	if fc.DiagnosticLimit > 0 {
		cfg.DiagnosticLimit = fc.DiagnosticLimit
	}
	if len(fc.Extensions) > 0 {
		cfg.Extensions = fc.Extensions
	}
	cfg.BladeDirectives = fc.BladeDirectives
	if fc.LogLevel != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(fc.LogLevel)); err != nil {
			return nil, fmt.Errorf("log_level: %w", err)
		}
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return cfg, cfg.Validate()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// withDefaults fills zero fields so a partially built Config is usable.
func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if len(out.Delimiters) == 0 {
		out.Delimiters = def.Delimiters
	}
	if out.Concurrency < 1 {
		out.Concurrency = def.Concurrency
	}
	if out.ContextLines <= 0 {
		out.ContextLines = def.ContextLines
	}
	if out.DiagnosticLimit <= 0 {
		out.DiagnosticLimit = def.DiagnosticLimit
	}
	if len(out.Extensions) == 0 {
		out.Extensions = def.Extensions
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	return &out
}
