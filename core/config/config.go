// Package config holds the synchronization configuration: where files come
// from, where they go, and which of them are in scope.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/adalundhe/rsyncwatch/core/match"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "rsync.config.yaml"

const envPrefix = "RSYNCWATCH_"

var (
	// ErrConfigNotFound indicates the config file does not exist.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigAlreadyExists indicates init would overwrite an existing config file.
	ErrConfigAlreadyExists = errors.New("config file already exists")

	// ErrInvalidConfig indicates the loaded configuration violates an invariant.
	ErrInvalidConfig = errors.New("invalid config")
)

type Config struct {
	Source      string         `yaml:"source"`
	Destination string         `yaml:"destination"`
	Glob        string         `yaml:"glob"`
	Ignore      []string       `yaml:"ignore"`
	SSH         string         `yaml:"ssh"`
	Gitignore   bool           `yaml:"gitignore"`
	Debounce    time.Duration  `yaml:"debounce"`
	Transfer    TransferConfig `yaml:"transfer"`
}

type TransferConfig struct {
	Program    string        `yaml:"program"`
	Flags      []string      `yaml:"flags"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

func DefaultConfig() *Config {
	return &Config{
		Source:      "",
		Destination: "",
		Glob:        "**/*",
		Ignore:      []string{},
		SSH:         "",
		Debounce:    100 * time.Millisecond,
		Transfer: TransferConfig{
			Program:    "rsync",
			Flags:      []string{"-R", "-a", "-z", "-P", "--delete", "--delete-missing-args"},
			Retries:    0,
			RetryDelay: 500 * time.Millisecond,
		},
	}
}

// DestinationAddress returns "<ssh>:<destination>" for remote targets and the
// destination path unchanged for local ones.
func (c *Config) DestinationAddress() string {
	if c.SSH == "" {
		return c.Destination
	}
	return c.SSH + ":" + c.Destination
}

// IsRemote reports whether the destination lives on another host.
func (c *Config) IsRemote() bool {
	return c.SSH != ""
}

// Clone returns a copy that shares no slices with c.
func (c *Config) Clone() *Config {
	out := *c
	out.Ignore = slices.Clone(c.Ignore)
	out.Transfer.Flags = slices.Clone(c.Transfer.Flags)
	return &out
}

// Equal compares two configurations field by field. Nil and empty lists are
// considered equal.
func (c *Config) Equal(other *Config) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Source == other.Source &&
		c.Destination == other.Destination &&
		c.Glob == other.Glob &&
		slices.Equal(c.Ignore, other.Ignore) &&
		c.SSH == other.SSH &&
		c.Gitignore == other.Gitignore &&
		c.Debounce == other.Debounce &&
		c.Transfer.Program == other.Transfer.Program &&
		slices.Equal(c.Transfer.Flags, other.Transfer.Flags) &&
		c.Transfer.Retries == other.Transfer.Retries &&
		c.Transfer.RetryDelay == other.Transfer.RetryDelay
}

// Validate checks the invariants a run depends on. Pattern syntax is checked
// here so a bad glob fails before any watching begins.
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("%w: source is empty", ErrInvalidConfig)
	}
	info, err := os.Stat(c.Source)
	if err != nil {
		return fmt.Errorf("%w: source %s: %w", ErrInvalidConfig, c.Source, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: source %s is not a directory", ErrInvalidConfig, c.Source)
	}
	if c.Destination == "" {
		return fmt.Errorf("%w: destination is empty", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Glob) == "" {
		return fmt.Errorf("%w: glob is empty", ErrInvalidConfig)
	}
	if c.Transfer.Program == "" {
		return fmt.Errorf("%w: transfer program is empty", ErrInvalidConfig)
	}
	if c.Transfer.Retries < 0 {
		return fmt.Errorf("%w: transfer retries must not be negative", ErrInvalidConfig)
	}
	if _, err := match.Compile(c.Glob, c.Ignore); err != nil {
		return err
	}
	return nil
}

// Exists reports whether a config file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load reads the YAML file at path on top of a copy of defaults. Keys present
// in the file replace the default value; absent keys keep it. Nested mappings
// such as transfer are merged key by key, lists are replaced whole. An empty
// transfer.flags list counts as unset.
func Load(path string, defaults *Config) (*Config, error) {
	if defaults == nil {
		defaults = DefaultConfig()
	}
	cfg := defaults.Clone()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	// an empty flag list would drop -R and the deletion flags
	if len(cfg.Transfer.Flags) == 0 {
		cfg.Transfer.Flags = slices.Clone(defaults.Transfer.Flags)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, replacing any existing file.
func Save(path string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Marshal renders cfg in the on-disk format.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// Init creates a new config file at path. It refuses to overwrite.
func Init(path string, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return fmt.Errorf("%w: %s", ErrConfigAlreadyExists, path)
	}
	if err != nil {
		return fmt.Errorf("create config %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// ApplyEnvironment overrides cfg with RSYNCWATCH_* variables when set.
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(envPrefix + "SOURCE"); v != "" {
		cfg.Source = v
	}
	if v := os.Getenv(envPrefix + "DESTINATION"); v != "" {
		cfg.Destination = v
	}
	if v := os.Getenv(envPrefix + "GLOB"); v != "" {
		cfg.Glob = v
	}
	if v := os.Getenv(envPrefix + "SSH"); v != "" {
		cfg.SSH = v
	}
	if v := os.Getenv(envPrefix + "DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Debounce = d
		}
	}
	if v := os.Getenv(envPrefix + "TRANSFER_PROGRAM"); v != "" {
		cfg.Transfer.Program = v
	}
	if v := os.Getenv(envPrefix + "GITIGNORE"); v != "" {
		cfg.Gitignore = strings.ToLower(v) == "true"
	}
}
