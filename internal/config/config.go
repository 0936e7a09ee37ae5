// Package config loads codemodctl settings from .codemodctl.yaml, a .env file
// and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"codemodctl/internal/engine"
)

// FileName is the configuration file looked up in the workspace root.
const FileName = ".codemodctl.yaml"

// ErrInvalid marks configuration values that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// EngineConfig describes the external codemod engine.
type EngineConfig struct {
	Command        string        `yaml:"command"`
	PiranhaCommand string        `yaml:"piranha_command"`
	Args           []string      `yaml:"args"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	QueueLimit     int           `yaml:"queue_limit"`
}

// RunConfig holds the per-run engine settings.
type RunConfig struct {
	Include   []string `yaml:"include"`
	Exclude   []string `yaml:"exclude"`
	Threads   int      `yaml:"threads"`
	FileLimit int      `yaml:"file_limit"`
	Format    bool     `yaml:"format"`
	Cache     bool     `yaml:"cache"`
}

type Config struct {
	Engine           EngineConfig `yaml:"engine"`
	Run              RunConfig    `yaml:"run"`
	StateDir         string       `yaml:"state_dir"`
	CaseDataDir      string       `yaml:"case_data_dir"`
	LogMode          string       `yaml:"log_mode"`
	ReportBase       string       `yaml:"report_base"`
	SnippetCacheSize int          `yaml:"snippet_cache_size"`
	Listen           string       `yaml:"listen"`
}

// Default returns the configuration used when nothing is set.
func Default(workspace string) Config {
	caseDir := ".codemod"
	if home, err := os.UserHomeDir(); err == nil {
		caseDir = filepath.Join(home, ".codemod")
	}
	return Config{
		Engine: EngineConfig{
			Command:     "codemod",
			IdleTimeout: engine.DefaultIdleTimeout,
		},
		Run: RunConfig{
			Include: []string{"**/*.{js,jsx,ts,tsx,cjs,mjs}"},
			Exclude: []string{"**/node_modules/**/*.*"},
			Threads: 4,
			Format:  true,
			Cache:   true,
		},
		StateDir:         filepath.Join(workspace, ".codemodctl"),
		CaseDataDir:      caseDir,
		LogMode:          "dev",
		ReportBase:       "https://codemod.studio",
		SnippetCacheSize: 256,
		Listen:           "127.0.0.1:7420",
	}
}

// Load reads the configuration of workspace. Missing files are not an error.
func Load(workspace string) (Config, error) {
	cfg := Default(workspace)

	data, err := os.ReadFile(filepath.Join(workspace, FileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("reading %s: %w", FileName, err)
	}

	dotenv, err := godotenv.Read(filepath.Join(workspace, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("reading .env: %w", err)
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("CODEMOD_ENGINE"); ok {
		c.Engine.Command = v
	}
	if v, ok := lookup("CODEMOD_IDLE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: CODEMOD_IDLE_TIMEOUT: %v", ErrInvalid, err)
		}
		c.Engine.IdleTimeout = d
	}
	if v, ok := lookup("CODEMOD_QUEUE_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: CODEMOD_QUEUE_LIMIT: %v", ErrInvalid, err)
		}
		c.Engine.QueueLimit = n
	}
	if v, ok := lookup("CODEMOD_STATE_DIR"); ok {
		c.StateDir = v
	}
	if v, ok := lookup("CODEMOD_CASE_DIR"); ok {
		c.CaseDataDir = v
	}
	if v, ok := lookup("CODEMOD_LOG_MODE"); ok {
		c.LogMode = v
	}
	return nil
}

// Validate checks values that would otherwise fail at run time.
func (c Config) Validate() error {
	if c.Engine.Command == "" {
		return fmt.Errorf("%w: engine command is empty", ErrInvalid)
	}
	if c.Engine.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle timeout must be positive", ErrInvalid)
	}
	if c.Engine.QueueLimit < 0 {
		return fmt.Errorf("%w: queue limit must not be negative", ErrInvalid)
	}
	if c.Run.Threads < 0 || c.Run.FileLimit < 0 {
		return fmt.Errorf("%w: threads and file limit must not be negative", ErrInvalid)
	}
	for _, p := range append(append([]string(nil), c.Run.Include...), c.Run.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: bad glob %q", ErrInvalid, p)
		}
	}
	return nil
}

// EngineOptions converts the configuration for the orchestrator.
func (c Config) EngineOptions() engine.Options {
	return engine.Options{
		Command:        c.Engine.Command,
		PiranhaCommand: c.Engine.PiranhaCommand,
		IdleTimeout:    c.Engine.IdleTimeout,
		QueueLimit:     c.Engine.QueueLimit,
		Settings: engine.Settings{
			IncludePatterns: c.Run.Include,
			ExcludePatterns: c.Run.Exclude,
			ThreadCount:     c.Run.Threads,
			FileLimit:       c.Run.FileLimit,
			Format:          c.Run.Format,
			Cache:           c.Run.Cache,
			ExtraArgs:       c.Engine.Args,
		},
	}
}
