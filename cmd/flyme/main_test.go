// ABOUTME: Tests for flyme command helpers
// ABOUTME: Covers config path resolution, log levels and interactive setup answers

package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/flyme/internal/config"
	"github.com/2389/flyme/internal/shutdown"
)

func TestGetConfigPath(t *testing.T) {
	t.Run("explicit env var", func(t *testing.T) {
		t.Setenv("FLYME_CONFIG", "/etc/flyme.yaml")
		path, explicit := getConfigPath()
		assert.Equal(t, "/etc/flyme.yaml", path)
		assert.True(t, explicit)
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("FLYME_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		path, explicit := getConfigPath()
		assert.Equal(t, filepath.Join("/xdg", "flyme", "config.toml"), path)
		assert.False(t, explicit)
	})

	t.Run("home directory", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("FLYME_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", home)
		path, _ := getConfigPath()
		assert.Equal(t, filepath.Join(home, ".config", "flyme", "config.toml"), path)
	})
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FLYME_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Empty(t, resolveConfigPath(), "missing default file means env-only config")

	path := filepath.Join(dir, "flyme", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`transport = "slack"`), 0o600))
	assert.Equal(t, path, resolveConfigPath())

	t.Setenv("FLYME_CONFIG", filepath.Join(dir, "missing.toml"))
	assert.Equal(t, filepath.Join(dir, "missing.toml"), resolveConfigPath())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func testPrompter(answers ...string) *prompter {
	color.NoColor = true
	return &prompter{
		reader: bufio.NewReader(strings.NewReader(strings.Join(answers, "\n") + "\n")),
		green:  color.New(color.FgGreen),
	}
}

func TestBuildInitConfig_SlackDefaults(t *testing.T) {
	// Accept every default.
	cfg := buildInitConfig(testPrompter("", "", "", "", "", "", "", ""))

	assert.Equal(t, config.TransportSlack, cfg.Transport)
	assert.Equal(t, "${SLACK_BOT_TOKEN}", cfg.Slack.BotToken)
	assert.Equal(t, "${SLACK_APP_TOKEN}", cfg.Slack.AppToken)
	assert.Equal(t, "${OPENAI_API_KEY}", cfg.Agent.APIKey)
	assert.Empty(t, cfg.Agent.BaseURL)
	assert.Empty(t, cfg.Ops.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestBuildInitConfig_Matrix(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	cfg := buildInitConfig(testPrompter(
		"matrix",
		"https://matrix.example.org",
		"flyme",
		"hunter2",
		"EsTc recovery key",
		"",
		"sk-test",
		"",
		"gpt-4o-mini",
		":9090",
		"/var/lib/flyme/ledger.db",
	))

	assert.Equal(t, config.TransportMatrix, cfg.Transport)
	assert.Equal(t, "https://matrix.example.org", cfg.Matrix.Homeserver)
	assert.Equal(t, "flyme", cfg.Matrix.Username)
	assert.Equal(t, "hunter2", cfg.Matrix.Password)
	assert.Equal(t, "EsTc recovery key", cfg.Matrix.RecoveryKey)
	assert.Equal(t, filepath.Join("/data", "flyme"), cfg.Matrix.DataDir)
	assert.Equal(t, "sk-test", cfg.Agent.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Agent.Model)
	assert.Equal(t, ":9090", cfg.Ops.Addr)
	assert.Equal(t, "/var/lib/flyme/ledger.db", cfg.Ledger.Path)
}

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flyme.toml")
	t.Setenv("FLYME_CONFIG", path)
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	t.Setenv("SLACK_APP_TOKEN", "xapp-test")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	color.NoColor = true

	answers := strings.Repeat("\n", 8)
	require.NoError(t, runInit(strings.NewReader(answers)))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "xoxb-test", cfg.Slack.BotToken)
	assert.Equal(t, "sk-test", cfg.Agent.APIKey)
}

func TestRunInit_KeepsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flyme.toml")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o600))
	t.Setenv("FLYME_CONFIG", path)
	color.NoColor = true

	require.NoError(t, runInit(strings.NewReader("n\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Agent.APIKey = "sk-test"
	cfg.Slack.BotToken = "xoxb-test"
	cfg.Slack.AppToken = "xapp-test"
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "ledger.db")
	return cfg
}

func TestBuildApp_FailureReleasesResources(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Ops.Addr = busy.Addr().String()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := shutdown.New(logger)

	_, err = buildApp(context.Background(), cfg, coord, logger)
	require.ErrorContains(t, err, "starting ops server")

	// The ledger and dedupe sweep opened before the failure are released.
	require.NoError(t, coord.Shutdown(context.Background()))
	assert.Equal(t, shutdown.StateDone, coord.State())
}

func TestBuildApp_WiresRouter(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := shutdown.New(logger)

	a, err := buildApp(context.Background(), cfg, coord, logger)
	require.NoError(t, err)
	require.NotNil(t, a.router)
	require.NotNil(t, a.chat)

	require.NoError(t, coord.Shutdown(context.Background()))
}

func TestDrainBudget(t *testing.T) {
	assert.Zero(t, drainBudget(0), "no agent timeout means no drain bound")
	assert.Equal(t, 40*time.Second, drainBudget(30*time.Second))
}
