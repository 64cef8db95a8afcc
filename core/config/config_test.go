package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adalundhe/rsyncwatch/core/match"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "**/*", cfg.Glob)
	assert.Empty(t, cfg.Ignore)
	assert.Equal(t, 100*time.Millisecond, cfg.Debounce)
	assert.Equal(t, "rsync", cfg.Transfer.Program)
	assert.Contains(t, cfg.Transfer.Flags, "-R")
	assert.Contains(t, cfg.Transfer.Flags, "--delete")
}

func TestDestinationAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"remote", Config{SSH: "user@host", Destination: "/test/mydir/"}, "user@host:/test/mydir/"},
		{"local", Config{Destination: "/test/mydir/"}, "/test/mydir/"},
		{"relative local", Config{Destination: "out"}, "out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DestinationAddress())
			assert.Equal(t, tt.cfg.SSH != "", tt.cfg.IsRemote())
		})
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
source: src
destination: /var/www/
ignore:
  - node_modules/**/*
debounce: 250ms
transfer:
  retries: 2
`)

	cfg, err := Load(path, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, "src", cfg.Source)
	assert.Equal(t, "/var/www/", cfg.Destination)
	assert.Equal(t, "**/*", cfg.Glob, "absent key keeps default")
	assert.Equal(t, []string{"node_modules/**/*"}, cfg.Ignore)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 2, cfg.Transfer.Retries)
	assert.Equal(t, "rsync", cfg.Transfer.Program)
}

func TestLoadTransferKeysMergeAndEmptyFlagsKeepDefaults(t *testing.T) {
	path := writeConfigFile(t, `transfer:
  retries: 1
  flags: []
`)

	cfg, err := Load(path, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Transfer.Retries)
	assert.Equal(t, "rsync", cfg.Transfer.Program)
	assert.Equal(t, DefaultConfig().Transfer.Flags, cfg.Transfer.Flags)
}

func TestLoadTransferFlagsReplaceDefault(t *testing.T) {
	path := writeConfigFile(t, "transfer:\n  flags: ['-R', '-a']\n")

	cfg, err := Load(path, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"-R", "-a"}, cfg.Transfer.Flags)
}

func TestLoadIgnoreListReplacesDefault(t *testing.T) {
	defaults := DefaultConfig()
	defaults.Ignore = []string{"*.tmp", "*.swp"}
	path := writeConfigFile(t, "ignore: ['*.log']\n")

	cfg, err := Load(path, defaults)
	require.NoError(t, err)

	assert.Equal(t, []string{"*.log"}, cfg.Ignore)
	assert.Equal(t, []string{"*.tmp", "*.swp"}, defaults.Ignore, "defaults must not be mutated")
}

func TestLoadNilDefaults(t *testing.T) {
	path := writeConfigFile(t, "destination: out\n")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "**/*", cfg.Glob)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), DefaultConfig())

	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfigFile(t, "ignore: [unterminated\n")

	_, err := Load(path, DefaultConfig())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrConfigNotFound)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	original := &Config{
		Source:      "xyz",
		Destination: "qwe",
		Glob:        "**/*",
		Ignore:      []string{"node_modules/**/*"},
		SSH:         "user@host",
		Gitignore:   true,
		Debounce:    75 * time.Millisecond,
		Transfer: TransferConfig{
			Program:    "rsync",
			Flags:      []string{"-R", "-a"},
			Retries:    1,
			RetryDelay: time.Second,
		},
	}
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, Save(path, original))
	loaded, err := Load(path, DefaultConfig())
	require.NoError(t, err)

	assert.True(t, original.Equal(loaded), "loaded %+v, want %+v", loaded, original)

	first, err := Marshal(original)
	require.NoError(t, err)
	second, err := Marshal(loaded)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestInitCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)

	require.NoError(t, Init(path, nil))
	assert.True(t, Exists(path))

	cfg, err := Load(path, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, cfg.Equal(DefaultConfig()))
}

func TestInitRefusesExistingFile(t *testing.T) {
	path := writeConfigFile(t, "source: keep-me\n")

	err := Init(path, DefaultConfig())
	assert.ErrorIs(t, err, ErrConfigAlreadyExists)

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "source: keep-me\n", string(data))
}

func TestExists(t *testing.T) {
	assert.False(t, Exists(filepath.Join(t.TempDir(), "nope")))
	assert.True(t, Exists(writeConfigFile(t, "")))
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Source = dir
		cfg.Destination = "/tmp/out/"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{"empty source", func(c *Config) { c.Source = "" }, ErrInvalidConfig},
		{"missing source", func(c *Config) { c.Source = filepath.Join(dir, "missing") }, ErrInvalidConfig},
		{"source is file", func(c *Config) { c.Source = file }, ErrInvalidConfig},
		{"empty destination", func(c *Config) { c.Destination = "" }, ErrInvalidConfig},
		{"empty glob", func(c *Config) { c.Glob = "  " }, ErrInvalidConfig},
		{"empty program", func(c *Config) { c.Transfer.Program = "" }, ErrInvalidConfig},
		{"negative retries", func(c *Config) { c.Transfer.Retries = -1 }, ErrInvalidConfig},
		{"bad glob", func(c *Config) { c.Glob = "[invalid" }, match.ErrInvalidPattern},
		{"bad ignore", func(c *Config) { c.Ignore = []string{"ok/**", "*.(js|ts"} }, match.ErrInvalidPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.target)
		})
	}
}

func TestApplyEnvironment(t *testing.T) {
	t.Setenv("RSYNCWATCH_SOURCE", "env-src")
	t.Setenv("RSYNCWATCH_SSH", "deploy@box")
	t.Setenv("RSYNCWATCH_DEBOUNCE", "2s")
	t.Setenv("RSYNCWATCH_TRANSFER_PROGRAM", "/usr/local/bin/rsync")
	t.Setenv("RSYNCWATCH_GITIGNORE", "TRUE")

	cfg := DefaultConfig()
	ApplyEnvironment(cfg)

	assert.Equal(t, "env-src", cfg.Source)
	assert.Equal(t, "deploy@box", cfg.SSH)
	assert.Equal(t, 2*time.Second, cfg.Debounce)
	assert.Equal(t, "/usr/local/bin/rsync", cfg.Transfer.Program)
	assert.True(t, cfg.Gitignore)
	assert.Equal(t, "**/*", cfg.Glob)
}

func TestApplyEnvironmentIgnoresBadDuration(t *testing.T) {
	t.Setenv("RSYNCWATCH_DEBOUNCE", "soon")

	cfg := DefaultConfig()
	ApplyEnvironment(cfg)

	assert.Equal(t, 100*time.Millisecond, cfg.Debounce)
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ignore = []string{"a"}

	clone := cfg.Clone()
	clone.Ignore[0] = "b"
	clone.Transfer.Flags[0] = "-v"

	assert.Equal(t, "a", cfg.Ignore[0])
	assert.Equal(t, "-R", cfg.Transfer.Flags[0])
}

func TestEqualTreatsNilAndEmptyListsAlike(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	a.Ignore = nil
	b.Ignore = []string{}

	assert.True(t, a.Equal(b))
	b.Ignore = []string{"x"}
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(nil))
}
