package cmd

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/adalundhe/rsyncwatch/core/config"
	"github.com/adalundhe/rsyncwatch/core/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func execute(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func scenarioSource(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"test.js", "myDir/index.js", "node_modules/file.js"} {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}
	return root
}

func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.DefaultFileName)
	require.NoError(t, config.Save(path, cfg))
	return path
}

func scenarioConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Source = scenarioSource(t)
	cfg.Destination = t.TempDir()
	cfg.Ignore = []string{"node_modules/**/*"}
	return cfg
}

// =============================================================================
// Definition
// =============================================================================

func TestRootCmd_Definition(t *testing.T) {
	root := newRootCmd()
	assert.Equal(t, "rsyncwatch", root.Use)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["init"])
	assert.True(t, names["version"])

	flags := root.PersistentFlags()
	require.NotNil(t, flags.Lookup("config"))
	assert.Equal(t, config.DefaultFileName, flags.Lookup("config").DefValue)
	for _, name := range []string{"source", "destination", "glob", "ignore", "ssh", "gitignore", "debounce", "log-level", "log-format", "dry-run"} {
		assert.NotNil(t, flags.Lookup(name), name)
	}
}

// =============================================================================
// Init
// =============================================================================

func TestInit_CreatesAndRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.DefaultFileName)

	stdout, _, err := execute(t, context.Background(), "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Created "+path)

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.True(t, cfg.Equal(config.DefaultConfig()))

	_, _, err = execute(t, context.Background(), "init", "--config", path)
	assert.ErrorIs(t, err, config.ErrConfigAlreadyExists)
}

func TestInit_SeedsFromFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.DefaultFileName)

	_, _, err := execute(t, context.Background(), "init", "--config", path,
		"--source", "./src", "--destination", "/var/www/app/", "--ssh", "user@host",
		"--ignore", "node_modules/**/*,*.log")
	require.NoError(t, err)

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "./src", cfg.Source)
	assert.Equal(t, "user@host:/var/www/app/", cfg.DestinationAddress())
	assert.Equal(t, []string{"node_modules/**/*", "*.log"}, cfg.Ignore)
	assert.Equal(t, "**/*", cfg.Glob)
}

func TestInit_DryRunWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.DefaultFileName)

	stdout, _, err := execute(t, context.Background(), "init", "--config", path, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, stdout, "glob:")
	assert.Contains(t, stdout, "**/*")
	assert.False(t, config.Exists(path))
}

// =============================================================================
// Run
// =============================================================================

func TestRun_MissingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.DefaultFileName)

	_, _, err := execute(t, context.Background(), "--config", path)
	assert.ErrorIs(t, err, config.ErrConfigNotFound)
	assert.Contains(t, err.Error(), "rsyncwatch init")
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := scenarioConfig(t)
	cfg.Source = filepath.Join(t.TempDir(), "missing")
	path := writeConfig(t, cfg)

	_, _, err := execute(t, context.Background(), "run", "--config", path)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRun_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, scenarioConfig(t))

	_, _, err := execute(t, context.Background(), "--config", path, "--log-level", "loud")
	assert.ErrorIs(t, err, logging.ErrInvalidLevel)
}

func TestRun_DryRunListsMatches(t *testing.T) {
	path := writeConfig(t, scenarioConfig(t))

	stdout, _, err := execute(t, context.Background(), "--config", path, "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, "myDir/index.js\ntest.js\n", stdout)
}

func TestRun_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, scenarioConfig(t))

	stdout, _, err := execute(t, context.Background(), "run", "--config", path, "--dry-run", "--glob", "*.js")
	require.NoError(t, err)
	assert.Equal(t, "test.js\n", stdout)
}

func TestRun_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, scenarioConfig(t))
	t.Setenv("RSYNCWATCH_GLOB", "myDir/*")

	stdout, _, err := execute(t, context.Background(), "--config", path, "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, "myDir/index.js\n", stdout)
}

func TestRun_StopsOnCancel(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}

	cfg := scenarioConfig(t)
	cfg.Transfer.Program = "true"
	path := writeConfig(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		stderr string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		_, stderr, err := execute(t, ctx, "--config", path, "--log-format", "json")
		done <- outcome{stderr, err}
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Contains(t, out.stderr, `"msg":"initial sync"`)
		assert.Contains(t, out.stderr, `"msg":"stopped"`)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

// =============================================================================
// Version
// =============================================================================

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "rsyncwatch ")

	version = "v1.2.3"
	defer func() { version = "" }()
	stdout, _, err = execute(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Equal(t, "rsyncwatch v1.2.3\n", stdout)
}
